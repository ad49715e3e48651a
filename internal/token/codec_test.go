package token

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/edupass/internal/clock"
	"github.com/smallbiznis/edupass/internal/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestCodec(t *testing.T, spec string) (*Codec, *clock.FakeClock) {
	t.Helper()
	ring, err := ParseKeyring(spec)
	require.NoError(t, err)
	clk := clock.NewFakeClock(baseTime)
	return NewCodec(ring, clk, "edupass"), clk
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	codec, _ := newTestCodec(t, "v1=0123456789abcdef0123")
	sessionID := snowflake.ID(77)

	issued, err := codec.Issue(Claims{
		SubjectKind: SubjectStudent,
		SubjectID:   snowflake.ID(42),
		SessionID:   &sessionID,
		IssuerID:    "staff-1",
	}, 24*time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Claims.TokenID)
	assert.Equal(t, baseTime, issued.Claims.IssuedAt)
	assert.Equal(t, baseTime.Add(24*time.Hour), issued.Claims.ExpiresAt)

	claims, err := codec.Verify(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.Claims, claims)
}

func TestIssueRejectsInvalidInput(t *testing.T) {
	codec, _ := newTestCodec(t, "0123456789abcdef0123")

	_, err := codec.Issue(Claims{SubjectKind: SubjectStudent, SubjectID: 1}, 0)
	assert.True(t, errkind.Is(err, errkind.Invalid))

	_, err = codec.Issue(Claims{SubjectKind: "teacher", SubjectID: 1}, time.Hour)
	assert.True(t, errkind.Is(err, errkind.Invalid))

	_, err = codec.Issue(Claims{SubjectKind: SubjectGroupSession}, time.Hour)
	assert.True(t, errkind.Is(err, errkind.Invalid))
}

func TestVerifyExpiry(t *testing.T) {
	codec, clk := newTestCodec(t, "0123456789abcdef0123")

	issued, err := codec.Issue(Claims{SubjectKind: SubjectGroupSession, SubjectID: 9}, 4*time.Hour)
	require.NoError(t, err)

	clk.Advance(4*time.Hour - time.Second)
	_, err = codec.Verify(issued.Token)
	require.NoError(t, err)

	clk.Advance(time.Second)
	_, err = codec.Verify(issued.Token)
	assert.Equal(t, errkind.Expired, errkind.KindOf(err))
}

func TestVerifyBadSignature(t *testing.T) {
	codec, _ := newTestCodec(t, "0123456789abcdef0123")
	other, _ := newTestCodec(t, "fedcba9876543210fedc")

	issued, err := other.Issue(Claims{SubjectKind: SubjectStudent, SubjectID: 5}, time.Hour)
	require.NoError(t, err)

	_, err = codec.Verify(issued.Token)
	assert.Equal(t, errkind.BadSignature, errkind.KindOf(err))

	good, err := codec.Issue(Claims{SubjectKind: SubjectStudent, SubjectID: 5}, time.Hour)
	require.NoError(t, err)
	parts := strings.Split(good.Token, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	_, err = codec.Verify(tampered)
	assert.Equal(t, errkind.BadSignature, errkind.KindOf(err))
}

func TestVerifyMalformed(t *testing.T) {
	codec, _ := newTestCodec(t, "0123456789abcdef0123")

	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		_, err := codec.Verify(raw)
		assert.Equal(t, errkind.Malformed, errkind.KindOf(err), raw)
	}
}

func TestVerifyRejectsUnknownSubjectKind(t *testing.T) {
	secret := []byte("0123456789abcdef0123")
	codec, _ := newTestCodec(t, string(secret))

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, wireClaims{
		Kind: "teacher",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "edupass",
			Subject:   "12",
			ID:        "01HZY",
			IssuedAt:  jwt.NewNumericDate(baseTime),
			ExpiresAt: jwt.NewNumericDate(baseTime.Add(time.Hour)),
		},
	})
	raw, err := tok.SignedString(secret)
	require.NoError(t, err)

	_, err = codec.Verify(raw)
	assert.Equal(t, errkind.Malformed, errkind.KindOf(err))
}

func TestVerifyAcceptsRotatedKeys(t *testing.T) {
	old, _ := newTestCodec(t, "v1=0123456789abcdef0123")
	issued, err := old.Issue(Claims{SubjectKind: SubjectStudent, SubjectID: 3}, time.Hour)
	require.NoError(t, err)

	rotated, _ := newTestCodec(t, "v2=ffffffffffffffffffff,v1=0123456789abcdef0123")
	claims, err := rotated.Verify(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(3), claims.SubjectID)

	fresh, err := rotated.Issue(Claims{SubjectKind: SubjectStudent, SubjectID: 3}, time.Hour)
	require.NoError(t, err)
	_, err = old.Verify(fresh.Token)
	assert.Equal(t, errkind.BadSignature, errkind.KindOf(err))
}

func TestParseKeyring(t *testing.T) {
	ring, err := ParseKeyring("v2=0123456789abcdef0123, v1=fedcba9876543210fedc")
	require.NoError(t, err)
	assert.Equal(t, []string{"v2", "v1"}, ring.IDs())

	_, err = ParseKeyring("")
	assert.Error(t, err)
	_, err = ParseKeyring("v1=short")
	assert.Error(t, err)
	_, err = ParseKeyring("v1=0123456789abcdef0123,v1=fedcba9876543210fedc")
	assert.Error(t, err)
	_, err = ParseKeyring("=0123456789abcdef0123")
	assert.Error(t, err)
}
