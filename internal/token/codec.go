package token

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/edupass/internal/clock"
	"github.com/smallbiznis/edupass/internal/errkind"
)

// Codec signs and verifies attendance tokens. It performs no I/O.
type Codec struct {
	keyring *Keyring
	clock   clock.Clock
	issuer  string
}

func NewCodec(keyring *Keyring, clk clock.Clock, issuer string) *Codec {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = "edupass"
	}
	return &Codec{
		keyring: keyring,
		clock:   clk,
		issuer:  issuer,
	}
}

// Issue signs claims valid for ttl from now. TokenID, IssuedAt and ExpiresAt
// on the input are ignored and filled by the codec.
func (c *Codec) Issue(claims Claims, ttl time.Duration) (Issued, error) {
	if ttl <= 0 {
		return Issued{}, errkind.New(errkind.Invalid, "token ttl must be positive")
	}
	if !claims.SubjectKind.Valid() {
		return Issued{}, errkind.New(errkind.Invalid, "unknown subject kind")
	}
	if claims.SubjectID == 0 {
		return Issued{}, errkind.New(errkind.Invalid, "subject id is required")
	}

	now := c.clock.Now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl).Truncate(time.Second)
	if !expiresAt.After(now) {
		expiresAt = now.Add(time.Second)
	}

	claims.TokenID = ulid.Make().String()
	claims.IssuedAt = now
	claims.ExpiresAt = expiresAt

	wire := wireClaims{
		Kind:     string(claims.SubjectKind),
		IssuedBy: claims.IssuerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   claims.SubjectID.String(),
			ID:        claims.TokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if claims.SessionID != nil {
		wire.SessionID = claims.SessionID.String()
	}

	key := c.keyring.signing()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, wire)
	tok.Header["kid"] = key.ID

	signed, err := tok.SignedString(key.Secret)
	if err != nil {
		return Issued{}, errkind.Wrap(errkind.Internal, err, "sign token")
	}
	return Issued{Token: signed, Claims: claims}, nil
}

// Verify checks the signature against every configured key, then expiry
// against the codec clock, and decodes the claims.
func (c *Codec) Verify(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, errkind.New(errkind.Malformed, "token is empty")
	}

	wire, err := c.parse(raw)
	if err != nil {
		return Claims{}, classify(err)
	}

	return decode(wire)
}

// parse tries the key named by the kid header first and then every other key
// in the ring; a token is accepted if any of them verifies the signature.
func (c *Codec) parse(raw string) (wireClaims, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(raw, &wireClaims{})
	if err != nil {
		return wireClaims{}, err
	}
	kid, _ := unverified.Header["kid"].(string)

	var lastErr error
	for _, secret := range c.keyring.candidates(kid) {
		var wire wireClaims
		_, err := jwt.ParseWithClaims(raw, &wire,
			func(*jwt.Token) (any, error) { return secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(c.clock.Now),
			jwt.WithExpirationRequired(),
			jwt.WithIssuer(c.issuer),
		)
		if err == nil {
			return wire, nil
		}
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return wireClaims{}, err
		}
		lastErr = err
	}
	return wireClaims{}, lastErr
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return errkind.Wrap(errkind.Malformed, err, "token malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return errkind.Wrap(errkind.BadSignature, err, "token signature invalid")
	case errors.Is(err, jwt.ErrTokenExpired):
		return errkind.Wrap(errkind.Expired, err, "token expired")
	default:
		return errkind.Wrap(errkind.Malformed, err, "token claims invalid")
	}
}

func decode(wire wireClaims) (Claims, error) {
	kind := SubjectKind(wire.Kind)
	if !kind.Valid() {
		return Claims{}, errkind.New(errkind.Malformed, "unknown subject kind")
	}
	subjectID, err := snowflake.ParseString(wire.Subject)
	if err != nil || subjectID == 0 {
		return Claims{}, errkind.New(errkind.Malformed, "invalid subject")
	}
	if wire.IssuedAt == nil || wire.ExpiresAt == nil {
		return Claims{}, errkind.New(errkind.Malformed, "missing timestamps")
	}
	if !wire.ExpiresAt.After(wire.IssuedAt.Time) {
		return Claims{}, errkind.New(errkind.Malformed, "expiry precedes issuance")
	}
	if strings.TrimSpace(wire.ID) == "" {
		return Claims{}, errkind.New(errkind.Malformed, "missing token id")
	}

	claims := Claims{
		TokenID:     wire.ID,
		SubjectKind: kind,
		SubjectID:   subjectID,
		IssuerID:    wire.IssuedBy,
		IssuedAt:    wire.IssuedAt.Time.UTC(),
		ExpiresAt:   wire.ExpiresAt.Time.UTC(),
	}
	if wire.SessionID != "" {
		sessionID, err := snowflake.ParseString(wire.SessionID)
		if err != nil || sessionID == 0 {
			return Claims{}, errkind.New(errkind.Malformed, "invalid session id")
		}
		claims.SessionID = &sessionID
	}
	return claims, nil
}
