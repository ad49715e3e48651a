package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/edupass/internal/clock"
	"github.com/smallbiznis/edupass/internal/errkind"
	"github.com/smallbiznis/edupass/internal/events"
	grouprepo "github.com/smallbiznis/edupass/internal/group/repository"
	"github.com/smallbiznis/edupass/internal/groupsession/domain"
	"github.com/smallbiznis/edupass/internal/groupsession/repository"
	"github.com/smallbiznis/edupass/internal/groupsession/service"
	"github.com/smallbiznis/edupass/internal/testkit"
	"github.com/smallbiznis/edupass/internal/token"
	"github.com/smallbiznis/edupass/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeLocker struct {
	mu       sync.Mutex
	locked   []string
	released []string
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = append(l.locked, key)
	return "lock-token", true, nil
}

func (l *fakeLocker) Release(_ context.Context, key, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, key)
	return nil
}

type fixture struct {
	db     *gorm.DB
	svc    domain.Service
	clock  *clock.FakeClock
	codec  *token.Codec
	events *events.InMemory
	locker *fakeLocker
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t)
	clk := clock.NewFakeClock(dbtest.FixtureTime)
	codec := testkit.Codec(t, clk)
	queue := events.NewInMemory(16)
	t.Cleanup(queue.Close)
	locker := &fakeLocker{}

	svc := service.New(service.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     testkit.Node(t),
		Clock:     clk,
		Policy:    testkit.Policy(),
		Authz:     testkit.Authz(t),
		Codec:     codec,
		Repo:      repository.Provide(),
		GroupRepo: grouprepo.Provide(),
		Events:    queue,
		Locker:    locker,
	})

	dbtest.Group(t, db, 10, "algebra-a", 20)
	return fixture{db: db, svc: svc, clock: clk, codec: codec, events: queue, locker: locker}
}

var slot = domain.StartRequest{GroupID: "10", SessionDate: "2025-01-06", StartTime: "09:00", Notes: "chapter 3"}

func TestStartIssuesSessionToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Start(ctx, testkit.Teacher, slot)
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.Equal(t, domain.StatusActive, res.Session.Status)
	assert.Equal(t, "chapter 3", res.Session.Notes)
	assert.Equal(t, dbtest.FixtureTime.Add(4*time.Hour), res.ExpiresAt)

	claims, err := f.codec.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, token.SubjectGroupSession, claims.SubjectKind)
	assert.Equal(t, res.Session.ID, claims.SubjectID)
	assert.Equal(t, testkit.Teacher.ID, claims.IssuerID)

	published := f.events.Drain()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeSessionStarted, published[0].Type)
	assert.Equal(t, []string{"session:start:10:2025-01-06:09:00"}, f.locker.locked)
	assert.Equal(t, f.locker.locked, f.locker.released)
}

func TestStartReusesOpenWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Start(ctx, testkit.Teacher, slot)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	second, err := f.svc.Start(ctx, testkit.Admin, domain.StartRequest{GroupID: "10", SessionDate: "2025-01-06", StartTime: "9:00"})
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)
	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "group_sessions", ""))
	assert.Len(t, f.events.Drain(), 1)
}

func TestStartReopensElapsedWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Start(ctx, testkit.Teacher, slot)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Hour)
	_, err = f.codec.Verify(first.Token)
	assert.Equal(t, errkind.Expired, errkind.KindOf(err))

	again, err := f.svc.Start(ctx, testkit.Teacher, slot)
	require.NoError(t, err)
	assert.False(t, again.Reused)
	assert.Equal(t, first.Session.ID, again.Session.ID)
	assert.Equal(t, f.clock.Now().Add(4*time.Hour), again.ExpiresAt)
}

func TestStartRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.db.Exec(`INSERT INTO study_groups (id, name, slug, subject, max_students, status, created_at, updated_at)
		VALUES (11, 'old', 'old', '', 10, 'inactive', ?, ?)`, dbtest.FixtureTime, dbtest.FixtureTime).Error

	cases := []struct {
		name string
		req  domain.StartRequest
		kind errkind.Kind
	}{
		{"bad group id", domain.StartRequest{GroupID: "x", SessionDate: "2025-01-06", StartTime: "09:00"}, errkind.Invalid},
		{"bad date", domain.StartRequest{GroupID: "10", SessionDate: "06/01/2025", StartTime: "09:00"}, errkind.Invalid},
		{"bad time", domain.StartRequest{GroupID: "10", SessionDate: "2025-01-06", StartTime: "25:00"}, errkind.Invalid},
		{"unknown group", domain.StartRequest{GroupID: "99", SessionDate: "2025-01-06", StartTime: "09:00"}, errkind.NotFound},
		{"inactive group", domain.StartRequest{GroupID: "11", SessionDate: "2025-01-06", StartTime: "09:00"}, errkind.Invalid},
	}
	teacher := testkit.AssignedTo(testkit.Teacher, 10, 11, 99)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Start(ctx, teacher, tc.req)
			assert.Equal(t, tc.kind, errkind.KindOf(err))
		})
	}

	_, err := f.svc.Start(ctx, testkit.StudentActor(1), slot)
	assert.Equal(t, errkind.Forbidden, errkind.KindOf(err))
	assert.Zero(t, dbtest.Count(t, f.db, "group_sessions", ""))
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	started, err := f.svc.Start(ctx, testkit.Teacher, slot)
	require.NoError(t, err)
	id := started.Session.ID.String()

	_, err = f.svc.Complete(ctx, testkit.Secretary, id)
	assert.Equal(t, errkind.Forbidden, errkind.KindOf(err))

	done, err := f.svc.Complete(ctx, testkit.Teacher, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)

	again, err := f.svc.Complete(ctx, testkit.Teacher, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, again.Status)

	_, err = f.svc.Cancel(ctx, testkit.Teacher, id)
	assert.Equal(t, errkind.SessionInactive, errkind.KindOf(err))

	_, err = f.svc.Start(ctx, testkit.Teacher, slot)
	assert.Equal(t, errkind.SessionInactive, errkind.KindOf(err))

	got, err := f.svc.Get(ctx, testkit.Secretary, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)

	_, err = f.svc.Get(ctx, testkit.Secretary, "12345")
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))
}

func TestStaffAreScopedToAssignedGroups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	outsider := testkit.AssignedTo(testkit.Teacher, 11)

	_, err := f.svc.Start(ctx, outsider, slot)
	assert.Equal(t, errkind.Forbidden, errkind.KindOf(err))
	assert.Zero(t, dbtest.Count(t, f.db, "group_sessions", ""))

	started, err := f.svc.Start(ctx, testkit.Admin, slot)
	require.NoError(t, err)
	id := started.Session.ID.String()

	_, err = f.svc.Get(ctx, outsider, id)
	assert.Equal(t, errkind.Forbidden, errkind.KindOf(err))

	_, err = f.svc.Cancel(ctx, outsider, id)
	assert.Equal(t, errkind.Forbidden, errkind.KindOf(err))
	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "group_sessions", "status = ?", "active"))

	done, err := f.svc.Complete(ctx, testkit.Teacher, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
}
