package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/clock"
	"github.com/smallbiznis/edupass/internal/config"
	creditdomain "github.com/smallbiznis/edupass/internal/credit/domain"
	creditrepo "github.com/smallbiznis/edupass/internal/credit/repository"
	creditservice "github.com/smallbiznis/edupass/internal/credit/service"
	"github.com/smallbiznis/edupass/internal/errkind"
	"github.com/smallbiznis/edupass/internal/events"
	grouprepo "github.com/smallbiznis/edupass/internal/group/repository"
	sessiondomain "github.com/smallbiznis/edupass/internal/groupsession/domain"
	sessionrepo "github.com/smallbiznis/edupass/internal/groupsession/repository"
	sessionservice "github.com/smallbiznis/edupass/internal/groupsession/service"
	"github.com/smallbiznis/edupass/internal/redemption/domain"
	"github.com/smallbiznis/edupass/internal/redemption/service"
	studentrepo "github.com/smallbiznis/edupass/internal/student/repository"
	tokendomain "github.com/smallbiznis/edupass/internal/studenttoken/domain"
	tokenrepo "github.com/smallbiznis/edupass/internal/studenttoken/repository"
	tokenservice "github.com/smallbiznis/edupass/internal/studenttoken/service"
	"github.com/smallbiznis/edupass/internal/testkit"
	"github.com/smallbiznis/edupass/internal/token"
	"github.com/smallbiznis/edupass/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	groupID   = 10
	adaID     = 100
	benID     = 101
	strangeID = 102
)

type fixture struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	codec    *token.Codec
	events   *events.InMemory
	engine   domain.Service
	credit   creditdomain.Service
	tokens   tokendomain.Service
	sessions sessiondomain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t)
	clk := clock.NewFakeClock(dbtest.FixtureTime)
	codec := testkit.Codec(t, clk)
	node := testkit.Node(t)
	authz := testkit.Authz(t)
	policy := testkit.Policy()
	queue := events.NewInMemory(64)
	t.Cleanup(queue.Close)
	log := zap.NewNop()

	credit := creditservice.New(creditservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Policy:      policy,
		Authz:       authz,
		Repo:        creditrepo.Provide(),
		StudentRepo: studentrepo.Provide(),
		Events:      queue,
	})
	tokens := tokenservice.New(tokenservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Policy:      policy,
		Authz:       authz,
		Codec:       codec,
		Repo:        tokenrepo.Provide(),
		StudentRepo: studentrepo.Provide(),
		SessionRepo: sessionrepo.Provide(),
		Events:      queue,
	})
	sessions := sessionservice.New(sessionservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     clk,
		Policy:    policy,
		Authz:     authz,
		Codec:     codec,
		Repo:      sessionrepo.Provide(),
		GroupRepo: grouprepo.Provide(),
		Events:    queue,
	})
	engine := service.New(service.Params{
		DB:          db,
		Log:         log,
		Clock:       clk,
		Policy:      policy,
		Authz:       authz,
		Codec:       codec,
		Credit:      credit,
		SessionRepo: sessionrepo.Provide(),
		StudentRepo: studentrepo.Provide(),
		GroupRepo:   grouprepo.Provide(),
		TokenRepo:   tokenrepo.Provide(),
		Events:      queue,
	})

	dbtest.Group(t, db, groupID, "algebra-a", 20)
	dbtest.Student(t, db, adaID, "Ada", 0)
	dbtest.Student(t, db, benID, "Ben", 0)
	dbtest.Student(t, db, strangeID, "Stranger", 0)
	dbtest.Enroll(t, db, 1, groupID, adaID)
	dbtest.Enroll(t, db, 2, groupID, benID)

	return fixture{
		db:       db,
		clock:    clk,
		codec:    codec,
		events:   queue,
		engine:   engine,
		credit:   credit,
		tokens:   tokens,
		sessions: sessions,
	}
}

// newEngine builds a second engine over the fixture's store with its own
// policy and event sink.
func (f fixture) newEngine(t *testing.T, policy config.Policy, pub events.Publisher) domain.Service {
	t.Helper()
	return service.New(service.Params{
		DB:          f.db,
		Log:         zap.NewNop(),
		Clock:       f.clock,
		Policy:      config.NewStaticPolicyHolder(policy),
		Authz:       testkit.Authz(t),
		Codec:       f.codec,
		Credit:      f.credit,
		SessionRepo: sessionrepo.Provide(),
		StudentRepo: studentrepo.Provide(),
		GroupRepo:   grouprepo.Provide(),
		TokenRepo:   tokenrepo.Provide(),
		Events:      pub,
	})
}

func (f fixture) pay(t *testing.T, studentID int64, credits int64) {
	t.Helper()
	_, err := f.credit.ApplyPayment(context.Background(), testkit.Secretary, creditdomain.PaymentRequest{
		StudentID:    snowflake.ID(studentID).String(),
		Amount:       credits * 50000,
		CreditsAdded: credits,
	})
	require.NoError(t, err)
}

func (f fixture) start(t *testing.T, at string) sessiondomain.StartResponse {
	t.Helper()
	res, err := f.sessions.Start(context.Background(), testkit.Teacher, sessiondomain.StartRequest{
		GroupID:     snowflake.ID(groupID).String(),
		SessionDate: "2025-01-06",
		StartTime:   at,
	})
	require.NoError(t, err)
	return res
}

func (f fixture) studentToken(t *testing.T, studentID int64) string {
	t.Helper()
	res, err := f.tokens.Issue(context.Background(), testkit.Secretary, tokendomain.IssueRequest{
		StudentID: snowflake.ID(studentID).String(),
	})
	require.NoError(t, err)
	return res.Token
}

func (f fixture) balance(t *testing.T, studentID int64) int64 {
	t.Helper()
	var balance int64
	require.NoError(t, f.db.Raw(`SELECT credit_balance FROM students WHERE id = ?`, studentID).Scan(&balance).Error)
	return balance
}

func (f fixture) assertConsistent(t *testing.T, studentID int64) {
	t.Helper()
	recon, err := f.credit.Reconcile(context.Background(), testkit.Admin, snowflake.ID(studentID).String())
	require.NoError(t, err)
	assert.True(t, recon.Consistent, "ledger drifted: %+v", recon)
}

func TestRedeemStudentTokenScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pay(t, adaID, 2)
	f.pay(t, adaID, 3)
	require.Equal(t, int64(5), f.balance(t, adaID))

	session := f.start(t, "09:00")
	raw := f.studentToken(t, adaID)

	res, err := f.engine.Redeem(ctx, testkit.Teacher, domain.RedeemRequest{Token: raw, GroupSessionID: session.Session.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, int64(adaID), res.StudentID.Int64())
	assert.Equal(t, int64(4), res.CreditsRemaining)
	assert.Equal(t, token.SubjectStudent, res.TokenKind)
	assert.Equal(t, int64(-1), res.Attendance.CreditDelta)
	require.NotNil(t, res.Attendance.TokenID)

	_, err = f.engine.Redeem(ctx, testkit.Teacher, domain.RedeemRequest{Token: raw, GroupSessionID: session.Session.ID.String()})
	assert.ErrorIs(t, err, domain.ErrAlreadyUsed)

	assert.Equal(t, int64(4), f.balance(t, adaID))
	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "attendance_records", "student_id = ?", adaID))
	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "student_tokens", "used = ?", true))
	f.assertConsistent(t, adaID)
}

func TestRedeemSessionTokenTwiceIsAlreadyAttended(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pay(t, adaID, 3)
	session := f.start(t, "09:00")
	req := domain.RedeemRequest{Token: session.Token, GroupSessionID: session.Session.ID.String()}

	res, err := f.engine.Redeem(ctx, testkit.StudentActor(adaID), req)
	require.NoError(t, err)
	assert.Equal(t, token.SubjectGroupSession, res.TokenKind)
	assert.Equal(t, int64(2), res.CreditsRemaining)
	assert.Nil(t, res.Attendance.TokenID)

	_, err = f.engine.Redeem(ctx, testkit.StudentActor(adaID), req)
	assert.ErrorIs(t, err, creditdomain.ErrAlreadyAttended)
	assert.Equal(t, int64(2), f.balance(t, adaID))

	other, err := f.engine.Redeem(ctx, testkit.StudentActor(benID), req)
	assert.Equal(t, errkind.InsufficientCredit, errkind.KindOf(err))
	assert.Zero(t, other.StudentID)
	f.assertConsistent(t, adaID)
}

func TestConcurrentRedemptionWithSingleCredit(t *testing.T) {
	f := newFixture(t)
	f.pay(t, adaID, 1)
	morning := f.start(t, "09:00")
	noon := f.start(t, "12:00")
	first := f.studentToken(t, adaID)
	second := f.studentToken(t, adaID)

	reqs := []domain.RedeemRequest{
		{Token: first, GroupSessionID: morning.Session.ID.String()},
		{Token: second, GroupSessionID: noon.Session.ID.String()},
	}
	errs := make([]error, len(reqs))
	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Redeem(context.Background(), testkit.Teacher, reqs[i])
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errkind.Is(err, errkind.InsufficientCredit):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.Zero(t, f.balance(t, adaID))
	assert.Equal(t, int64(1), dbtest.Count(t, f.db, "attendance_records", "student_id = ?", adaID))
	f.assertConsistent(t, adaID)
}

func TestRedeemRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pay(t, adaID, 5)
	f.pay(t, strangeID, 5)
	session := f.start(t, "09:00")
	other := f.start(t, "15:00")
	sid := session.Session.ID.String()

	adaToken := f.studentToken(t, adaID)
	strangerToken := f.studentToken(t, strangeID)
	parts := strings.Split(adaToken, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	boundID := other.Session.ID
	bound, err := f.codec.Issue(token.Claims{SubjectKind: token.SubjectStudent, SubjectID: adaID, SessionID: &boundID}, time.Hour)
	require.NoError(t, err)
	unstored, err := f.codec.Issue(token.Claims{SubjectKind: token.SubjectStudent, SubjectID: adaID}, time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name string
		req  domain.RedeemRequest
		kind errkind.Kind
	}{
		{name: "bad session id", req: domain.RedeemRequest{Token: adaToken, GroupSessionID: "x"}, kind: errkind.Invalid},
		{name: "garbage token", req: domain.RedeemRequest{Token: "not-a-token", GroupSessionID: sid}, kind: errkind.Malformed},
		{name: "tampered token", req: domain.RedeemRequest{Token: tampered, GroupSessionID: sid}, kind: errkind.BadSignature},
		{name: "token bound to another session", req: domain.RedeemRequest{Token: bound.Token, GroupSessionID: sid}, kind: errkind.Invalid},
		{name: "session token for another session", req: domain.RedeemRequest{Token: other.Token, GroupSessionID: sid}, kind: errkind.Invalid},
		{name: "token never stored", req: domain.RedeemRequest{Token: unstored.Token, GroupSessionID: sid}, kind: errkind.UnknownToken},
		{name: "student not enrolled", req: domain.RedeemRequest{Token: strangerToken, GroupSessionID: sid}, kind: errkind.NotEnrolled},
		{name: "unknown session", req: domain.RedeemRequest{Token: adaToken, GroupSessionID: "77"}, kind: errkind.NotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Redeem(ctx, testkit.Teacher, tc.req)
			assert.Equal(t, tc.kind, errkind.KindOf(err), "%v", err)
		})
	}

	_, err = f.engine.Redeem(ctx, testkit.StudentActor(adaID), domain.RedeemRequest{Token: adaToken, GroupSessionID: sid})
	assert.Equal(t, errkind.Forbidden, errkind.KindOf(err))
	_, err = f.engine.Redeem(ctx, testkit.Teacher, domain.RedeemRequest{Token: session.Token, GroupSessionID: sid})
	assert.Equal(t, errkind.Forbidden, errkind.KindOf(err))

	assert.Equal(t, int64(5), f.balance(t, adaID))
	assert.Zero(t, dbtest.Count(t, f.db, "attendance_records", ""))
	assert.Zero(t, dbtest.Count(t, f.db, "student_tokens", "used = ?", true))
}

func TestRedeemExpiredAndClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pay(t, adaID, 5)
	session := f.start(t, "09:00")
	raw := f.studentToken(t, adaID)

	f.clock.Advance(25 * time.Hour)
	_, err := f.engine.Redeem(ctx, testkit.Teacher, domain.RedeemRequest{Token: raw, GroupSessionID: session.Session.ID.String()})
	assert.Equal(t, errkind.Expired, errkind.KindOf(err))

	fresh := f.studentToken(t, adaID)
	_, err = f.sessions.Cancel(ctx, testkit.Teacher, session.Session.ID.String())
	require.NoError(t, err)
	_, err = f.engine.Redeem(ctx, testkit.Teacher, domain.RedeemRequest{Token: fresh, GroupSessionID: session.Session.ID.String()})
	assert.Equal(t, errkind.SessionInactive, errkind.KindOf(err))

	assert.Equal(t, int64(5), f.balance(t, adaID))
}

func TestRedeemCommitsDespiteCallerCancellation(t *testing.T) {
	f := newFixture(t)
	f.pay(t, adaID, 1)
	session := f.start(t, "09:00")
	raw := f.studentToken(t, adaID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.engine.Redeem(ctx, testkit.Teacher, domain.RedeemRequest{Token: raw, GroupSessionID: session.Session.ID.String()})
	require.NoError(t, err)
	assert.Zero(t, res.CreditsRemaining)

	var recorded int
	for _, evt := range f.events.Drain() {
		if evt.Type == events.TypeAttendanceRecorded {
			recorded++
		}
	}
	assert.Equal(t, 1, recorded)
	f.assertConsistent(t, adaID)
}

func TestRedeemCommitTimeoutRollsBack(t *testing.T) {
	f := newFixture(t)
	f.pay(t, adaID, 2)
	session := f.start(t, "09:00")
	raw := f.studentToken(t, adaID)

	// Hold the attendance insert until the commit deadline has passed.
	require.NoError(t, f.db.Callback().Raw().Before("gorm:raw").Register("test:stall_attendance", func(d *gorm.DB) {
		if !strings.Contains(d.Statement.SQL.String(), "INSERT INTO attendance_records") {
			return
		}
		select {
		case <-d.Statement.Context.Done():
		case <-time.After(5 * time.Second):
		}
	}))

	policy := config.DefaultPolicy()
	policy.CommitTimeout = 50 * time.Millisecond
	policy.MaxCommitRetries = 0
	engine := f.newEngine(t, policy, f.events)

	_, err := engine.Redeem(context.Background(), testkit.Teacher, domain.RedeemRequest{
		Token:          raw,
		GroupSessionID: session.Session.ID.String(),
	})
	require.Error(t, err)
	assert.Equal(t, errkind.Internal, errkind.KindOf(err))

	require.NoError(t, f.db.Callback().Raw().Remove("test:stall_attendance"))
	assert.Equal(t, int64(2), f.balance(t, adaID))
	assert.Zero(t, dbtest.Count(t, f.db, "attendance_records", ""))
	assert.Zero(t, dbtest.Count(t, f.db, "student_tokens", "used = ?", true))
	f.assertConsistent(t, adaID)
}

func TestRedeemRequiresGroupAssignment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pay(t, adaID, 2)
	session := f.start(t, "09:00")
	raw := f.studentToken(t, adaID)
	req := domain.RedeemRequest{Token: raw, GroupSessionID: session.Session.ID.String()}

	_, err := f.engine.Redeem(ctx, testkit.AssignedTo(testkit.Teacher, groupID+1), req)
	assert.Equal(t, errkind.Forbidden, errkind.KindOf(err))
	assert.Equal(t, int64(2), f.balance(t, adaID))
	assert.Zero(t, dbtest.Count(t, f.db, "student_tokens", "used = ?", true))

	res, err := f.engine.Redeem(ctx, testkit.Admin, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.CreditsRemaining)
}
