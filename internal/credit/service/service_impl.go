package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/authorization"
	"github.com/smallbiznis/edupass/internal/clock"
	"github.com/smallbiznis/edupass/internal/config"
	"github.com/smallbiznis/edupass/internal/credit/domain"
	"github.com/smallbiznis/edupass/internal/errkind"
	"github.com/smallbiznis/edupass/internal/events"
	"github.com/smallbiznis/edupass/internal/observability/metrics"
	studentdomain "github.com/smallbiznis/edupass/internal/student/domain"
	"github.com/smallbiznis/edupass/pkg/db"
	"github.com/smallbiznis/edupass/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultMethod  = "cash"
	maxMethodChars = 32
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Policy      *config.PolicyHolder
	Authz       authorization.Service
	Repo        domain.Repository
	StudentRepo studentdomain.Repository
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
	repo        domain.Repository
	studentRepo studentdomain.Repository
	events      events.Publisher
	metrics     *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("credit.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		policy:      p.Policy,
		authz:       p.Authz,
		repo:        p.Repo,
		studentRepo: p.StudentRepo,
		events:      p.Events,
		metrics:     p.Metrics,
	}
}

func (s *Service) ApplyPayment(ctx context.Context, actor authorization.Actor, req domain.PaymentRequest) (domain.PaymentResult, error) {
	if err := s.authz.Can(ctx, actor, authorization.CapPaymentRecord); err != nil {
		return domain.PaymentResult{}, err
	}

	studentID, err := parseStudentID(req.StudentID)
	if err != nil {
		return domain.PaymentResult{}, err
	}
	if req.Amount <= 0 {
		return domain.PaymentResult{}, domain.ErrInvalidAmount
	}
	if req.CreditsAdded <= 0 {
		return domain.PaymentResult{}, domain.ErrInvalidCredits
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = defaultMethod
	}
	if len(method) > maxMethodChars {
		return domain.PaymentResult{}, domain.ErrInvalidMethod
	}

	policy := s.policy.Get()
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), policy.CommitTimeout)
	defer cancel()

	var result domain.PaymentResult
	err = db.RetryOnConflict(commitCtx, db.RetryPolicy{
		MaxRetries: policy.MaxCommitRetries,
		Backoff:    policy.RetryBackoff,
		OnRetry: func(attempt int, err error) {
			s.metrics.RecordCommitRetry(ctx, "payment")
			s.log.Warn("retrying payment after conflict",
				zap.String("student_id", studentID.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
	}, func() error {
		return s.db.WithContext(commitCtx).Transaction(func(tx *gorm.DB) error {
			student, err := s.studentRepo.FindByIDForUpdate(commitCtx, tx, studentID)
			if err != nil {
				return errkind.Wrap(errkind.Internal, err, "lock student")
			}
			if student == nil {
				return domain.ErrStudentNotFound
			}
			if !student.Active() {
				return domain.ErrStudentInactive
			}

			now := s.clock.Now()
			payment := domain.Payment{
				ID:           s.genID.Generate(),
				StudentID:    studentID,
				Amount:       req.Amount,
				CreditsAdded: req.CreditsAdded,
				Method:       method,
				Reference:    strings.TrimSpace(req.Reference),
				Notes:        strings.TrimSpace(req.Notes),
				Metadata:     req.Metadata,
				RecordedBy:   actor.ID,
				RecordedAt:   now,
			}
			if err := s.repo.InsertPayment(commitCtx, tx, &payment); err != nil {
				return errkind.Wrap(errkind.Internal, err, "insert payment")
			}
			if _, err := s.repo.CreditStudent(commitCtx, tx, studentID, req.CreditsAdded, now); err != nil {
				return errkind.Wrap(errkind.Internal, err, "credit student")
			}

			result = domain.PaymentResult{
				Payment:        payment,
				CreditBalance:  student.CreditBalance + req.CreditsAdded,
				TotalPurchased: student.TotalPurchased + req.CreditsAdded,
			}
			return nil
		})
	})
	if err != nil {
		return domain.PaymentResult{}, s.commitError(err)
	}

	s.metrics.RecordPayment(ctx, method, req.CreditsAdded)
	s.metrics.RecordLedgerEntry(ctx, string(domain.EntryPayment))
	s.publish(ctx, events.New(events.TypePaymentRecorded, result.Payment.RecordedAt, map[string]any{
		"payment_id":     result.Payment.ID.String(),
		"student_id":     studentID.String(),
		"credits_added":  req.CreditsAdded,
		"credit_balance": result.CreditBalance,
	}))
	s.log.Info("payment recorded",
		zap.String("payment_id", result.Payment.ID.String()),
		zap.String("student_id", studentID.String()),
		zap.Int64("credits_added", req.CreditsAdded),
		zap.Int64("credit_balance", result.CreditBalance),
		zap.String("actor_id", actor.ID),
	)
	return result, nil
}

func (s *Service) ApplyAttendanceDeduction(ctx context.Context, tx *gorm.DB, d domain.Deduction) (domain.DeductionResult, error) {
	if d.StudentID == 0 || d.GroupSessionID == 0 {
		return domain.DeductionResult{}, errkind.New(errkind.Invalid, "deduction requires student and session")
	}
	if d.ID == 0 {
		d.ID = s.genID.Generate()
	}
	if d.RecordedAt.IsZero() {
		d.RecordedAt = s.clock.Now()
	}

	affected, err := s.repo.DebitStudent(ctx, tx, d.StudentID, d.RecordedAt)
	if err != nil {
		return domain.DeductionResult{}, errkind.Wrap(errkind.Internal, err, "debit student")
	}
	if affected == 0 {
		return domain.DeductionResult{}, domain.ErrInsufficientCredit
	}

	record := domain.AttendanceRecord{
		ID:             d.ID,
		StudentID:      d.StudentID,
		GroupSessionID: d.GroupSessionID,
		CreditDelta:    -1,
		TokenID:        d.TokenID,
		RecordedBy:     d.RecordedBy,
		RecordedAt:     d.RecordedAt,
	}
	if err := s.repo.InsertAttendance(ctx, tx, &record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.DeductionResult{}, domain.ErrAlreadyAttended
		}
		return domain.DeductionResult{}, errkind.Wrap(errkind.Internal, err, "insert attendance")
	}

	balance, _, err := s.repo.Balance(ctx, tx, d.StudentID)
	if err != nil {
		return domain.DeductionResult{}, errkind.Wrap(errkind.Internal, err, "read balance")
	}
	return domain.DeductionResult{Record: record, CreditsRemaining: balance}, nil
}

func (s *Service) FindAttendance(ctx context.Context, tx *gorm.DB, studentID, groupSessionID snowflake.ID) (*domain.AttendanceRecord, error) {
	if tx == nil {
		tx = s.db
	}
	record, err := s.repo.FindAttendance(ctx, tx, studentID, groupSessionID)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "load attendance")
	}
	return record, nil
}

func (s *Service) Reconcile(ctx context.Context, actor authorization.Actor, studentID string) (domain.Reconciliation, error) {
	if err := s.authz.Can(ctx, actor, authorization.CapStudentView); err != nil {
		return domain.Reconciliation{}, err
	}
	id, err := parseStudentID(studentID)
	if err != nil {
		return domain.Reconciliation{}, err
	}

	var out domain.Reconciliation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		student, err := s.studentRepo.FindByID(ctx, tx, id)
		if err != nil {
			return errkind.Wrap(errkind.Internal, err, "load student")
		}
		if student == nil {
			return domain.ErrStudentNotFound
		}
		totals, err := s.repo.Totals(ctx, tx, id)
		if err != nil {
			return errkind.Wrap(errkind.Internal, err, "ledger totals")
		}
		out = reconcile(*student, totals)
		return nil
	})
	if err != nil {
		return domain.Reconciliation{}, err
	}

	if !out.Consistent {
		s.log.Error("ledger out of balance",
			zap.String("student_id", id.String()),
			zap.Int64("credit_balance", out.CreditBalance),
			zap.Int64("payment_credits", out.PaymentCredits),
			zap.Int64("attendance_delta", out.AttendanceDelta),
		)
	}
	return out, nil
}

func reconcile(student studentdomain.Student, totals domain.Totals) domain.Reconciliation {
	consistent := student.CreditBalance == totals.PaymentCredits+totals.AttendanceDelta &&
		student.CreditBalance == student.TotalPurchased-totals.Deductions
	return domain.Reconciliation{
		StudentID:       student.ID,
		CreditBalance:   student.CreditBalance,
		TotalPurchased:  student.TotalPurchased,
		PaymentCredits:  totals.PaymentCredits,
		AttendanceDelta: totals.AttendanceDelta,
		Deductions:      totals.Deductions,
		Consistent:      consistent,
	}
}

func (s *Service) ListPayments(ctx context.Context, actor authorization.Actor, req domain.ListPaymentRequest) (domain.ListPaymentResponse, error) {
	if err := s.authz.Can(ctx, actor, authorization.CapPaymentView); err != nil {
		return domain.ListPaymentResponse{}, err
	}

	var filter domain.ListPaymentFilter
	if strings.TrimSpace(req.StudentID) != "" {
		id, err := parseStudentID(req.StudentID)
		if err != nil {
			return domain.ListPaymentResponse{}, err
		}
		filter.StudentID = id
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}.Normalize()
	items, err := s.repo.ListPayments(ctx, s.db, filter, page)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.ListPaymentResponse{}, errkind.Wrap(errkind.Invalid, err, "invalid page_token")
		}
		return domain.ListPaymentResponse{}, errkind.Wrap(errkind.Internal, err, "list payments")
	}

	pageInfo := pagination.BuildCursorPageInfo(items, page.PageSize, func(payment *domain.Payment) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: payment.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > page.PageSize {
		items = items[:page.PageSize]
	}

	payments := make([]domain.Payment, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payments = append(payments, *item)
	}
	return domain.ListPaymentResponse{PageInfo: *pageInfo, Payments: payments}, nil
}

func (s *Service) ListAttendance(ctx context.Context, actor authorization.Actor, studentID string) ([]domain.AttendanceRecord, error) {
	if err := s.authz.Can(ctx, actor, authorization.CapStudentView); err != nil {
		return nil, err
	}
	id, err := s.existingStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.ListAttendanceByStudent(ctx, s.db, id)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "list attendance")
	}
	records := make([]domain.AttendanceRecord, 0, len(items))
	for _, item := range items {
		if item != nil {
			records = append(records, *item)
		}
	}
	return records, nil
}

// Entries merges payments and attendance into one chronological history with
// a running balance.
func (s *Service) Entries(ctx context.Context, actor authorization.Actor, studentID string) ([]domain.LedgerEntry, error) {
	if err := s.authz.Can(ctx, actor, authorization.CapStudentView); err != nil {
		return nil, err
	}
	id, err := s.existingStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	payments, err := s.repo.ListPaymentsByStudent(ctx, s.db, id)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "list payments")
	}
	attendance, err := s.repo.ListAttendanceByStudent(ctx, s.db, id)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "list attendance")
	}

	entries := make([]domain.LedgerEntry, 0, len(payments)+len(attendance))
	for _, p := range payments {
		entries = append(entries, domain.LedgerEntry{
			Kind:       domain.EntryPayment,
			ID:         p.ID,
			Delta:      p.CreditsAdded,
			OccurredAt: p.RecordedAt,
			Reference:  p.Reference,
		})
	}
	for _, a := range attendance {
		entries = append(entries, domain.LedgerEntry{
			Kind:       domain.EntryAttendance,
			ID:         a.ID,
			Delta:      a.CreditDelta,
			OccurredAt: a.RecordedAt,
			Reference:  a.GroupSessionID.String(),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].OccurredAt.Equal(entries[j].OccurredAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].OccurredAt.Before(entries[j].OccurredAt)
	})

	var balance int64
	for i := range entries {
		balance += entries[i].Delta
		entries[i].BalanceAfter = balance
	}
	return entries, nil
}

func (s *Service) existingStudent(ctx context.Context, studentID string) (snowflake.ID, error) {
	id, err := parseStudentID(studentID)
	if err != nil {
		return 0, err
	}
	student, err := s.studentRepo.FindByID(ctx, s.db, id)
	if err != nil {
		return 0, errkind.Wrap(errkind.Internal, err, "load student")
	}
	if student == nil {
		return 0, domain.ErrStudentNotFound
	}
	return id, nil
}

func (s *Service) commitError(err error) error {
	if db.IsConflictErr(err) {
		return errkind.Wrap(errkind.Internal, err, "ledger update kept conflicting")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errkind.Wrap(errkind.Internal, err, "ledger commit timed out")
	}
	var kerr *errkind.Error
	if errors.As(err, &kerr) {
		return err
	}
	return errkind.Wrap(errkind.Internal, err, "apply payment")
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), evt); err != nil {
		s.log.Warn("publish event failed", zap.String("event_type", evt.Type), zap.Error(err))
	}
}

func parseStudentID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidStudentID
	}
	return id, nil
}
