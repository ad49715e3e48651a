package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/authorization"
	"github.com/smallbiznis/edupass/internal/clock"
	"github.com/smallbiznis/edupass/internal/config"
	"github.com/smallbiznis/edupass/internal/errkind"
	"github.com/smallbiznis/edupass/internal/events"
	groupdomain "github.com/smallbiznis/edupass/internal/group/domain"
	"github.com/smallbiznis/edupass/internal/groupsession/domain"
	"github.com/smallbiznis/edupass/internal/observability/metrics"
	"github.com/smallbiznis/edupass/internal/token"
	"github.com/smallbiznis/edupass/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const slotLockTTL = 5 * time.Second

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Policy    *config.PolicyHolder
	Authz     authorization.Service
	Codec     *token.Codec
	Repo      domain.Repository
	GroupRepo groupdomain.Repository
	Events    events.Publisher
	Locker    domain.SlotLocker `optional:"true"`
	Metrics   *metrics.Metrics  `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	policy    *config.PolicyHolder
	authz     authorization.Service
	codec     *token.Codec
	repo      domain.Repository
	groupRepo groupdomain.Repository
	events    events.Publisher
	locker    domain.SlotLocker
	metrics   *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("groupsession.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		policy:    p.Policy,
		authz:     p.Authz,
		codec:     p.Codec,
		repo:      p.Repo,
		groupRepo: p.GroupRepo,
		events:    p.Events,
		locker:    p.Locker,
		metrics:   p.Metrics,
	}
}

// Start opens, or hands out again, the check-in window for a group meeting
// and returns a session token valid until the window closes.
func (s *Service) Start(ctx context.Context, actor authorization.Actor, req domain.StartRequest) (domain.StartResponse, error) {
	if err := s.authz.Can(ctx, actor, authorization.CapSessionStart); err != nil {
		return domain.StartResponse{}, err
	}

	groupID, err := snowflake.ParseString(strings.TrimSpace(req.GroupID))
	if err != nil || groupID == 0 {
		return domain.StartResponse{}, domain.ErrInvalidGroupID
	}
	if err := s.authz.CanAccessGroup(ctx, actor, groupID); err != nil {
		return domain.StartResponse{}, err
	}
	date, err := time.Parse(domain.DateLayout, strings.TrimSpace(req.SessionDate))
	if err != nil {
		return domain.StartResponse{}, domain.ErrInvalidDate
	}
	start, err := time.Parse(domain.TimeLayout, strings.TrimSpace(req.StartTime))
	if err != nil {
		return domain.StartResponse{}, domain.ErrInvalidTime
	}
	sessionDate := date.Format(domain.DateLayout)
	startTime := start.Format(domain.TimeLayout)

	release := s.lockSlot(ctx, fmt.Sprintf("session:start:%s:%s:%s", groupID, sessionDate, startTime))
	defer release()

	policy := s.policy.Get()
	now := s.clock.Now()

	var (
		session domain.GroupSession
		reused  bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := s.groupRepo.FindByID(ctx, tx, groupID)
		if err != nil {
			return errkind.Wrap(errkind.Internal, err, "load group")
		}
		if group == nil {
			return domain.ErrGroupNotFound
		}
		if group.Status != groupdomain.StatusActive {
			return domain.ErrGroupInactive
		}

		existing, err := s.repo.FindBySlotForUpdate(ctx, tx, groupID, sessionDate, startTime)
		if err != nil {
			return errkind.Wrap(errkind.Internal, err, "load group session")
		}
		expiresAt := now.Add(policy.SessionWindowTTL)

		if existing != nil {
			if existing.Closed() {
				return domain.ErrSessionClosed
			}
			if existing.WindowOpen(now) {
				session, reused = *existing, true
				return nil
			}
			if err := s.repo.OpenWindow(ctx, tx, existing.ID, expiresAt, now); err != nil {
				return errkind.Wrap(errkind.Internal, err, "open session window")
			}
			existing.Status = domain.StatusActive
			existing.WindowExpiresAt = &expiresAt
			existing.UpdatedAt = now
			session = *existing
			return nil
		}

		session = domain.GroupSession{
			ID:              s.genID.Generate(),
			GroupID:         groupID,
			SessionDate:     sessionDate,
			StartTime:       startTime,
			Status:          domain.StatusActive,
			Notes:           strings.TrimSpace(req.Notes),
			WindowExpiresAt: &expiresAt,
			CreatedBy:       actor.ID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return s.repo.Insert(ctx, tx, &session)
	})
	if err != nil && db.IsDuplicateKeyErr(err) {
		// Another start for the same slot committed first; hand out its window.
		winner, findErr := s.repo.FindBySlotForUpdate(ctx, s.db, groupID, sessionDate, startTime)
		if findErr != nil || winner == nil || !winner.WindowOpen(now) {
			return domain.StartResponse{}, errkind.Wrap(errkind.Internal, err, "concurrent session start")
		}
		session, reused, err = *winner, true, nil
	}
	if err != nil {
		var kerr *errkind.Error
		if !errors.As(err, &kerr) {
			err = errkind.Wrap(errkind.Internal, err, "start group session")
		}
		return domain.StartResponse{}, err
	}

	sessionID := session.ID
	issued, err := s.codec.Issue(token.Claims{
		SubjectKind: token.SubjectGroupSession,
		SubjectID:   sessionID,
		SessionID:   &sessionID,
		IssuerID:    actor.ID,
	}, session.WindowExpiresAt.Sub(now))
	if err != nil {
		return domain.StartResponse{}, err
	}

	s.metrics.RecordTokenIssued(ctx, string(token.SubjectGroupSession))
	if !reused {
		s.publish(ctx, events.New(events.TypeSessionStarted, now, map[string]any{
			"group_session_id": session.ID.String(),
			"group_id":         groupID.String(),
			"session_date":     sessionDate,
			"start_time":       startTime,
		}))
	}
	s.log.Info("group session started",
		zap.String("group_session_id", session.ID.String()),
		zap.String("group_id", groupID.String()),
		zap.Bool("reused", reused),
		zap.Time("window_expires_at", *session.WindowExpiresAt),
		zap.String("actor_id", actor.ID),
	)

	return domain.StartResponse{
		Session:   session,
		Token:     issued.Token,
		ExpiresAt: issued.Claims.ExpiresAt,
		Reused:    reused,
	}, nil
}

func (s *Service) Get(ctx context.Context, actor authorization.Actor, id string) (domain.GroupSession, error) {
	if err := s.authz.Can(ctx, actor, authorization.CapSessionView); err != nil {
		return domain.GroupSession{}, err
	}
	sessionID, err := parseID(id)
	if err != nil {
		return domain.GroupSession{}, err
	}

	session, err := s.repo.FindByID(ctx, s.db, sessionID)
	if err != nil {
		return domain.GroupSession{}, errkind.Wrap(errkind.Internal, err, "load group session")
	}
	if session == nil {
		return domain.GroupSession{}, domain.ErrNotFound
	}
	if err := s.authz.CanAccessGroup(ctx, actor, session.GroupID); err != nil {
		return domain.GroupSession{}, err
	}
	return *session, nil
}

func (s *Service) Cancel(ctx context.Context, actor authorization.Actor, id string) (domain.GroupSession, error) {
	return s.transition(ctx, actor, id, domain.StatusCancelled, domain.StatusScheduled, domain.StatusActive)
}

func (s *Service) Complete(ctx context.Context, actor authorization.Actor, id string) (domain.GroupSession, error) {
	return s.transition(ctx, actor, id, domain.StatusCompleted, domain.StatusActive)
}

func (s *Service) transition(ctx context.Context, actor authorization.Actor, id string, to domain.Status, from ...domain.Status) (domain.GroupSession, error) {
	if err := s.authz.Can(ctx, actor, authorization.CapSessionManage); err != nil {
		return domain.GroupSession{}, err
	}
	sessionID, err := parseID(id)
	if err != nil {
		return domain.GroupSession{}, err
	}

	var out domain.GroupSession
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.repo.FindByIDForUpdate(ctx, tx, sessionID)
		if err != nil {
			return errkind.Wrap(errkind.Internal, err, "load group session")
		}
		if session == nil {
			return domain.ErrNotFound
		}
		if err := s.authz.CanAccessGroup(ctx, actor, session.GroupID); err != nil {
			return err
		}
		if session.Status == to {
			out = *session
			return nil
		}
		if !allowed(session.Status, from) {
			return domain.ErrInvalidTransition
		}

		now := s.clock.Now()
		if err := s.repo.UpdateStatus(ctx, tx, sessionID, to, now); err != nil {
			return errkind.Wrap(errkind.Internal, err, "update group session")
		}
		session.Status = to
		session.UpdatedAt = now
		out = *session
		return nil
	})
	if err != nil {
		return domain.GroupSession{}, err
	}

	s.log.Info("group session status changed",
		zap.String("group_session_id", out.ID.String()),
		zap.String("status", string(out.Status)),
		zap.String("actor_id", actor.ID),
	)
	return out, nil
}

func allowed(status domain.Status, from []domain.Status) bool {
	for _, f := range from {
		if status == f {
			return true
		}
	}
	return false
}

// lockSlot takes a short distributed lock on the slot when a locker is
// configured. Failing to get it is not fatal; the unique index on the slot
// still decides the winner.
func (s *Service) lockSlot(ctx context.Context, key string) func() {
	noop := func() {}
	if s.locker == nil {
		return noop
	}
	lockToken, ok, err := s.locker.TryLock(ctx, key, slotLockTTL)
	if err != nil {
		s.log.Debug("slot lock unavailable", zap.String("key", key), zap.Error(err))
		return noop
	}
	if !ok {
		time.Sleep(s.policy.Get().RetryBackoff)
		return noop
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, lockToken); err != nil {
			s.log.Warn("release slot lock failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), evt); err != nil {
		s.log.Warn("publish event failed", zap.String("event_type", evt.Type), zap.Error(err))
	}
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
