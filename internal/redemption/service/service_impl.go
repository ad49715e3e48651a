package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/authorization"
	"github.com/smallbiznis/edupass/internal/clock"
	"github.com/smallbiznis/edupass/internal/config"
	creditdomain "github.com/smallbiznis/edupass/internal/credit/domain"
	"github.com/smallbiznis/edupass/internal/errkind"
	"github.com/smallbiznis/edupass/internal/events"
	groupdomain "github.com/smallbiznis/edupass/internal/group/domain"
	sessiondomain "github.com/smallbiznis/edupass/internal/groupsession/domain"
	"github.com/smallbiznis/edupass/internal/observability/metrics"
	"github.com/smallbiznis/edupass/internal/redemption/domain"
	studentdomain "github.com/smallbiznis/edupass/internal/student/domain"
	tokendomain "github.com/smallbiznis/edupass/internal/studenttoken/domain"
	"github.com/smallbiznis/edupass/internal/token"
	"github.com/smallbiznis/edupass/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const outcomeSuccess = "success"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Policy      *config.PolicyHolder
	Authz       authorization.Service
	Codec       *token.Codec
	Credit      creditdomain.Service
	SessionRepo sessiondomain.Repository
	StudentRepo studentdomain.Repository
	GroupRepo   groupdomain.Repository
	TokenRepo   tokendomain.Repository
	Events      events.Publisher
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	policy      *config.PolicyHolder
	authz       authorization.Service
	codec       *token.Codec
	credit      creditdomain.Service
	sessionRepo sessiondomain.Repository
	studentRepo studentdomain.Repository
	groupRepo   groupdomain.Repository
	tokenRepo   tokendomain.Repository
	events      events.Publisher
	metrics     *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("redemption.service"),
		clock:       p.Clock,
		policy:      p.Policy,
		authz:       p.Authz,
		codec:       p.Codec,
		credit:      p.Credit,
		sessionRepo: p.SessionRepo,
		studentRepo: p.StudentRepo,
		groupRepo:   p.GroupRepo,
		tokenRepo:   p.TokenRepo,
		events:      p.Events,
		metrics:     p.Metrics,
	}
}

// subject is who is checking in, resolved from the verified token.
type subject struct {
	kind      token.SubjectKind
	studentID snowflake.ID
	tokenHash string
}

func (s *Service) Redeem(ctx context.Context, actor authorization.Actor, req domain.RedeemRequest) (domain.Result, error) {
	start := time.Now()
	res, kind, err := s.redeem(ctx, actor, req)

	outcome := outcomeSuccess
	if err != nil {
		outcome = string(errkind.KindOf(err))
	}
	s.metrics.RecordRedemption(ctx, string(kind), outcome, time.Since(start))
	if err != nil {
		s.log.Info("redemption rejected",
			zap.String("token_kind", string(kind)),
			zap.String("outcome", outcome),
			zap.String("group_session_id", strings.TrimSpace(req.GroupSessionID)),
			zap.String("actor_id", actor.ID),
		)
		return domain.Result{}, err
	}
	return res, nil
}

func (s *Service) redeem(ctx context.Context, actor authorization.Actor, req domain.RedeemRequest) (domain.Result, token.SubjectKind, error) {
	sessionID, err := snowflake.ParseString(strings.TrimSpace(req.GroupSessionID))
	if err != nil || sessionID == 0 {
		return domain.Result{}, "", domain.ErrInvalidSessionID
	}

	claims, err := s.codec.Verify(req.Token)
	if err != nil {
		return domain.Result{}, "", err
	}

	sub, err := s.resolve(ctx, actor, claims, sessionID, req.Token)
	if err != nil {
		return domain.Result{}, claims.SubjectKind, err
	}

	policy := s.policy.Get()
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), policy.CommitTimeout)
	defer cancel()

	var deduction creditdomain.DeductionResult
	err = db.RetryOnConflict(commitCtx, db.RetryPolicy{
		MaxRetries: policy.MaxCommitRetries,
		Backoff:    policy.RetryBackoff,
		OnRetry: func(attempt int, err error) {
			s.metrics.RecordCommitRetry(ctx, "redeem")
			s.log.Warn("retrying redemption after conflict",
				zap.String("student_id", sub.studentID.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
	}, func() error {
		return s.db.WithContext(commitCtx).Transaction(func(tx *gorm.DB) error {
			out, err := s.commit(commitCtx, tx, actor, sub, sessionID)
			if err != nil {
				return err
			}
			deduction = out
			return nil
		})
	})
	if err != nil {
		return domain.Result{}, sub.kind, commitError(err)
	}

	record := deduction.Record
	s.publish(ctx, events.New(events.TypeAttendanceRecorded, record.RecordedAt, map[string]any{
		"attendance_id":     record.ID.String(),
		"student_id":        sub.studentID.String(),
		"group_session_id":  sessionID.String(),
		"token_kind":        string(sub.kind),
		"credits_remaining": deduction.CreditsRemaining,
	}))
	s.metrics.RecordLedgerEntry(ctx, string(creditdomain.EntryAttendance))
	s.log.Info("attendance recorded",
		zap.String("attendance_id", record.ID.String()),
		zap.String("student_id", sub.studentID.String()),
		zap.String("group_session_id", sessionID.String()),
		zap.String("token_kind", string(sub.kind)),
		zap.Int64("credits_remaining", deduction.CreditsRemaining),
		zap.String("actor_id", actor.ID),
	)

	return domain.Result{
		StudentID:        sub.studentID,
		CreditsRemaining: deduction.CreditsRemaining,
		TokenKind:        sub.kind,
		Attendance:       record,
		RecordedAt:       record.RecordedAt,
	}, sub.kind, nil
}

// resolve decides whose attendance is being recorded and whether the actor
// may record it.
func (s *Service) resolve(ctx context.Context, actor authorization.Actor, claims token.Claims, sessionID snowflake.ID, raw string) (subject, error) {
	switch claims.SubjectKind {
	case token.SubjectStudent:
		if err := s.authz.Can(ctx, actor, authorization.CapAttendanceRedeem); err != nil {
			return subject{}, err
		}
		if claims.SessionID != nil && *claims.SessionID != sessionID {
			return subject{}, domain.ErrSessionMismatch
		}
		return subject{
			kind:      token.SubjectStudent,
			studentID: claims.SubjectID,
			tokenHash: tokendomain.HashToken(strings.TrimSpace(raw)),
		}, nil

	case token.SubjectGroupSession:
		if claims.SubjectID != sessionID {
			return subject{}, domain.ErrSessionMismatch
		}
		if err := s.authz.Can(ctx, actor, authorization.CapSelfCheckin); err != nil {
			return subject{}, err
		}
		if actor.StudentID == nil || *actor.StudentID == 0 {
			return subject{}, domain.ErrNoStudentActor
		}
		return subject{kind: token.SubjectGroupSession, studentID: *actor.StudentID}, nil

	default:
		return subject{}, errkind.New(errkind.Malformed, "unknown subject kind")
	}
}

func (s *Service) commit(ctx context.Context, tx *gorm.DB, actor authorization.Actor, sub subject, sessionID snowflake.ID) (creditdomain.DeductionResult, error) {
	session, err := s.sessionRepo.FindByID(ctx, tx, sessionID)
	if err != nil {
		return creditdomain.DeductionResult{}, errkind.Wrap(errkind.Internal, err, "load group session")
	}
	if session == nil {
		return creditdomain.DeductionResult{}, domain.ErrSessionNotFound
	}
	if err := s.authz.CanAccessGroup(ctx, actor, session.GroupID); err != nil {
		return creditdomain.DeductionResult{}, err
	}
	if session.Status != sessiondomain.StatusActive {
		return creditdomain.DeductionResult{}, domain.ErrSessionInactive
	}

	student, err := s.studentRepo.FindByIDForUpdate(ctx, tx, sub.studentID)
	if err != nil {
		return creditdomain.DeductionResult{}, errkind.Wrap(errkind.Internal, err, "lock student")
	}
	if student == nil {
		return creditdomain.DeductionResult{}, domain.ErrStudentNotFound
	}
	if !student.Active() {
		return creditdomain.DeductionResult{}, domain.ErrStudentInactive
	}

	enrolled, err := s.groupRepo.IsEnrolled(ctx, tx, session.GroupID, student.ID)
	if err != nil {
		return creditdomain.DeductionResult{}, errkind.Wrap(errkind.Internal, err, "check enrollment")
	}
	if !enrolled {
		return creditdomain.DeductionResult{}, domain.ErrNotEnrolled
	}

	var stored *tokendomain.StudentToken
	if sub.kind == token.SubjectStudent {
		stored, err = s.tokenRepo.FindByHashForUpdate(ctx, tx, sub.tokenHash)
		if err != nil {
			return creditdomain.DeductionResult{}, errkind.Wrap(errkind.Internal, err, "load student token")
		}
		if stored == nil || stored.StudentID != student.ID {
			return creditdomain.DeductionResult{}, domain.ErrUnknownToken
		}
		if stored.Used {
			return creditdomain.DeductionResult{}, domain.ErrAlreadyUsed
		}
	}

	existing, err := s.credit.FindAttendance(ctx, tx, student.ID, sessionID)
	if err != nil {
		return creditdomain.DeductionResult{}, err
	}
	if existing != nil {
		return creditdomain.DeductionResult{}, creditdomain.ErrAlreadyAttended
	}

	if student.CreditBalance <= 0 {
		return creditdomain.DeductionResult{}, creditdomain.ErrInsufficientCredit
	}

	now := s.clock.Now()
	deduction := creditdomain.Deduction{
		StudentID:      student.ID,
		GroupSessionID: sessionID,
		RecordedBy:     actor.ID,
		RecordedAt:     now,
	}
	if stored != nil {
		tokenID := stored.ID
		deduction.TokenID = &tokenID
	}

	out, err := s.credit.ApplyAttendanceDeduction(ctx, tx, deduction)
	if err != nil {
		return creditdomain.DeductionResult{}, err
	}

	if stored != nil {
		marked, err := s.tokenRepo.MarkUsed(ctx, tx, stored.ID, now)
		if err != nil {
			return creditdomain.DeductionResult{}, errkind.Wrap(errkind.Internal, err, "mark token used")
		}
		if !marked {
			return creditdomain.DeductionResult{}, domain.ErrAlreadyUsed
		}
	}
	return out, nil
}

func commitError(err error) error {
	if db.IsDuplicateKeyErr(err) {
		return creditdomain.ErrAlreadyAttended
	}
	if db.IsConflictErr(err) {
		return errkind.Wrap(errkind.Internal, err, "attendance commit kept conflicting")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errkind.Wrap(errkind.Internal, err, "attendance commit timed out")
	}
	var kerr *errkind.Error
	if errors.As(err, &kerr) {
		return err
	}
	return errkind.Wrap(errkind.Internal, err, "record attendance")
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), evt); err != nil {
		s.log.Warn("publish event failed", zap.String("event_type", evt.Type), zap.Error(err))
	}
}
