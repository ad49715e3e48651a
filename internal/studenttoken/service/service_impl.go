package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/authorization"
	"github.com/smallbiznis/edupass/internal/clock"
	"github.com/smallbiznis/edupass/internal/config"
	"github.com/smallbiznis/edupass/internal/errkind"
	"github.com/smallbiznis/edupass/internal/events"
	sessiondomain "github.com/smallbiznis/edupass/internal/groupsession/domain"
	"github.com/smallbiznis/edupass/internal/observability/metrics"
	studentdomain "github.com/smallbiznis/edupass/internal/student/domain"
	"github.com/smallbiznis/edupass/internal/studenttoken/domain"
	"github.com/smallbiznis/edupass/internal/token"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Policy      *config.PolicyHolder
	Authz       authorization.Service
	Codec       *token.Codec
	Repo        domain.Repository
	StudentRepo studentdomain.Repository
	SessionRepo sessiondomain.Repository
	Events      events.Publisher
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	policy      *config.PolicyHolder
	authz       authorization.Service
	codec       *token.Codec
	repo        domain.Repository
	studentRepo studentdomain.Repository
	sessionRepo sessiondomain.Repository
	events      events.Publisher
	metrics     *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("studenttoken.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		policy:      p.Policy,
		authz:       p.Authz,
		codec:       p.Codec,
		repo:        p.Repo,
		studentRepo: p.StudentRepo,
		sessionRepo: p.SessionRepo,
		events:      p.Events,
		metrics:     p.Metrics,
	}
}

// Issue signs a single-use token for a student who still has credit. The
// balance is checked again when the token is redeemed.
func (s *Service) Issue(ctx context.Context, actor authorization.Actor, req domain.IssueRequest) (domain.IssueResponse, error) {
	if err := s.authz.Can(ctx, actor, authorization.CapTokenIssueStudent); err != nil {
		return domain.IssueResponse{}, err
	}

	studentID, err := snowflake.ParseString(strings.TrimSpace(req.StudentID))
	if err != nil || studentID == 0 {
		return domain.IssueResponse{}, domain.ErrInvalidStudentID
	}
	var sessionID *snowflake.ID
	if raw := strings.TrimSpace(req.SessionID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id == 0 {
			return domain.IssueResponse{}, domain.ErrInvalidSessionID
		}
		sessionID = &id
	}

	student, err := s.studentRepo.FindByID(ctx, s.db, studentID)
	if err != nil {
		return domain.IssueResponse{}, errkind.Wrap(errkind.Internal, err, "load student")
	}
	if student == nil {
		return domain.IssueResponse{}, domain.ErrStudentNotFound
	}
	if !student.Active() {
		return domain.IssueResponse{}, domain.ErrStudentInactive
	}
	if student.CreditBalance <= 0 {
		return domain.IssueResponse{}, domain.ErrInsufficientCredit
	}

	if sessionID != nil {
		session, err := s.sessionRepo.FindByID(ctx, s.db, *sessionID)
		if err != nil {
			return domain.IssueResponse{}, errkind.Wrap(errkind.Internal, err, "load group session")
		}
		if session == nil {
			return domain.IssueResponse{}, domain.ErrSessionNotFound
		}
	}

	issued, err := s.codec.Issue(token.Claims{
		SubjectKind: token.SubjectStudent,
		SubjectID:   studentID,
		SessionID:   sessionID,
		IssuerID:    actor.ID,
	}, s.policy.Get().StudentTokenTTL)
	if err != nil {
		return domain.IssueResponse{}, err
	}

	row := domain.StudentToken{
		ID:        s.genID.Generate(),
		TokenHash: domain.HashToken(issued.Token),
		StudentID: studentID,
		SessionID: sessionID,
		ExpiresAt: issued.Claims.ExpiresAt,
		IssuedBy:  actor.ID,
		CreatedAt: issued.Claims.IssuedAt,
	}
	if err := s.repo.Insert(ctx, s.db, &row); err != nil {
		return domain.IssueResponse{}, errkind.Wrap(errkind.Internal, err, "store student token")
	}

	s.metrics.RecordTokenIssued(ctx, string(token.SubjectStudent))
	if s.events != nil {
		evt := events.New(events.TypeStudentTokenIssued, issued.Claims.IssuedAt, map[string]any{
			"student_token_id": row.ID.String(),
			"student_id":       studentID.String(),
			"expires_at":       row.ExpiresAt,
		})
		if err := s.events.Publish(context.WithoutCancel(ctx), evt); err != nil {
			s.log.Warn("publish event failed", zap.String("event_type", evt.Type), zap.Error(err))
		}
	}
	s.log.Info("student token issued",
		zap.String("student_token_id", row.ID.String()),
		zap.String("student_id", studentID.String()),
		zap.Time("expires_at", row.ExpiresAt),
		zap.String("actor_id", actor.ID),
	)

	return domain.IssueResponse{
		Token:            issued.Token,
		ExpiresAt:        issued.Claims.ExpiresAt,
		StudentName:      student.Name,
		CreditsRemaining: student.CreditBalance,
	}, nil
}
