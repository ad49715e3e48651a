package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/edupass/internal/clock"
	"github.com/smallbiznis/edupass/internal/errkind"
	"github.com/smallbiznis/edupass/internal/events"
	sessionrepo "github.com/smallbiznis/edupass/internal/groupsession/repository"
	studentrepo "github.com/smallbiznis/edupass/internal/student/repository"
	"github.com/smallbiznis/edupass/internal/studenttoken/domain"
	"github.com/smallbiznis/edupass/internal/studenttoken/repository"
	"github.com/smallbiznis/edupass/internal/studenttoken/service"
	"github.com/smallbiznis/edupass/internal/testkit"
	"github.com/smallbiznis/edupass/internal/token"
	"github.com/smallbiznis/edupass/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	svc    domain.Service
	clock  *clock.FakeClock
	codec  *token.Codec
	events *events.InMemory
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t)
	clk := clock.NewFakeClock(dbtest.FixtureTime)
	codec := testkit.Codec(t, clk)
	queue := events.NewInMemory(8)
	t.Cleanup(queue.Close)

	svc := service.New(service.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       testkit.Node(t),
		Clock:       clk,
		Policy:      testkit.Policy(),
		Authz:       testkit.Authz(t),
		Codec:       codec,
		Repo:        repository.Provide(),
		StudentRepo: studentrepo.Provide(),
		SessionRepo: sessionrepo.Provide(),
		Events:      queue,
	})
	return fixture{db: db, svc: svc, clock: clk, codec: codec, events: queue}
}

func TestIssueStudentToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dbtest.Student(t, f.db, 100, "Ada", 3)

	res, err := f.svc.Issue(ctx, testkit.Secretary, domain.IssueRequest{StudentID: "100"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", res.StudentName)
	assert.Equal(t, int64(3), res.CreditsRemaining)
	assert.Equal(t, dbtest.FixtureTime.Add(24*time.Hour), res.ExpiresAt)

	claims, err := f.codec.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, token.SubjectStudent, claims.SubjectKind)
	assert.Equal(t, int64(100), claims.SubjectID.Int64())
	assert.Nil(t, claims.SessionID)

	hash := domain.HashToken(res.Token)
	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "student_tokens", "token_hash = ? AND used = ?", hash, false))
	assert.Zero(t, dbtest.Count(t, f.db, "student_tokens", "token_hash = ?", res.Token))
	assert.Len(t, f.events.Drain(), 1)
}

func TestIssueBoundToSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dbtest.Student(t, f.db, 100, "Ada", 1)
	require.NoError(t, f.db.Exec(`INSERT INTO group_sessions (id, group_id, session_date, start_time, status, created_at, updated_at)
		VALUES (500, 10, '2025-01-06', '09:00', 'scheduled', ?, ?)`, dbtest.FixtureTime, dbtest.FixtureTime).Error)

	res, err := f.svc.Issue(ctx, testkit.Teacher, domain.IssueRequest{StudentID: "100", SessionID: "500"})
	require.NoError(t, err)
	claims, err := f.codec.Verify(res.Token)
	require.NoError(t, err)
	require.NotNil(t, claims.SessionID)
	assert.Equal(t, int64(500), claims.SessionID.Int64())

	_, err = f.svc.Issue(ctx, testkit.Teacher, domain.IssueRequest{StudentID: "100", SessionID: "501"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestIssueRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dbtest.Student(t, f.db, 100, "Broke", 0)
	dbtest.Student(t, f.db, 101, "Gone", 5)
	require.NoError(t, f.db.Exec(`UPDATE students SET status = 'inactive' WHERE id = 101`).Error)

	cases := []struct {
		name string
		req  domain.IssueRequest
		kind errkind.Kind
	}{
		{name: "no credit", req: domain.IssueRequest{StudentID: "100"}, kind: errkind.InsufficientCredit},
		{name: "inactive", req: domain.IssueRequest{StudentID: "101"}, kind: errkind.Invalid},
		{name: "unknown", req: domain.IssueRequest{StudentID: "999"}, kind: errkind.NotFound},
		{name: "bad id", req: domain.IssueRequest{StudentID: "nope"}, kind: errkind.Invalid},
		{name: "bad session", req: domain.IssueRequest{StudentID: "101", SessionID: "x"}, kind: errkind.Invalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Issue(ctx, testkit.Secretary, tc.req)
			assert.Equal(t, tc.kind, errkind.KindOf(err))
		})
	}

	_, err := f.svc.Issue(ctx, testkit.StudentActor(100), domain.IssueRequest{StudentID: "100"})
	assert.Equal(t, errkind.Forbidden, errkind.KindOf(err))

	assert.Zero(t, dbtest.Count(t, f.db, "student_tokens", ""))
}
