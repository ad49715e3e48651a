package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/authorization"
	"github.com/smallbiznis/edupass/internal/clock"
	"github.com/smallbiznis/edupass/internal/errkind"
	"github.com/smallbiznis/edupass/internal/student/domain"
	"github.com/smallbiznis/edupass/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Authz authorization.Service
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	authz authorization.Service
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("student.service"),
		genID: p.GenID,
		clock: p.Clock,
		authz: p.Authz,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, actor authorization.Actor, req domain.CreateStudentRequest) (domain.Student, error) {
	if err := s.authz.Can(ctx, actor, authorization.CapStudentManage); err != nil {
		return domain.Student{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Student{}, domain.ErrInvalidName
	}

	now := s.clock.Now()
	student := domain.Student{
		ID:        s.genID.Generate(),
		Name:      name,
		Phone:     strings.TrimSpace(req.Phone),
		Status:    domain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, s.db, &student); err != nil {
		return domain.Student{}, errkind.Wrap(errkind.Internal, err, "insert student")
	}

	s.log.Info("student created", zap.String("student_id", student.ID.String()), zap.String("actor_id", actor.ID))
	return student, nil
}

func (s *Service) Get(ctx context.Context, actor authorization.Actor, id string) (domain.Student, error) {
	if err := s.authz.Can(ctx, actor, authorization.CapStudentView); err != nil {
		return domain.Student{}, err
	}

	studentID, err := parseID(id)
	if err != nil {
		return domain.Student{}, err
	}

	student, err := s.repo.FindByID(ctx, s.db, studentID)
	if err != nil {
		return domain.Student{}, errkind.Wrap(errkind.Internal, err, "load student")
	}
	if student == nil {
		return domain.Student{}, domain.ErrNotFound
	}
	return *student, nil
}

func (s *Service) List(ctx context.Context, actor authorization.Actor, req domain.ListStudentRequest) (domain.ListStudentResponse, error) {
	if err := s.authz.Can(ctx, actor, authorization.CapStudentView); err != nil {
		return domain.ListStudentResponse{}, err
	}

	filter := domain.ListStudentFilter{Name: strings.TrimSpace(req.Name)}
	if status := strings.TrimSpace(req.Status); status != "" {
		switch domain.Status(status) {
		case domain.StatusActive, domain.StatusInactive:
			filter.Status = domain.Status(status)
		default:
			return domain.ListStudentResponse{}, domain.ErrInvalidStatus
		}
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}.Normalize()
	items, err := s.repo.List(ctx, s.db, filter, page)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.ListStudentResponse{}, errkind.Wrap(errkind.Invalid, err, "invalid page_token")
		}
		return domain.ListStudentResponse{}, errkind.Wrap(errkind.Internal, err, "list students")
	}

	pageInfo := pagination.BuildCursorPageInfo(items, page.PageSize, func(student *domain.Student) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: student.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > page.PageSize {
		items = items[:page.PageSize]
	}

	students := make([]domain.Student, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		students = append(students, *item)
	}

	return domain.ListStudentResponse{PageInfo: *pageInfo, Students: students}, nil
}

// Deactivate is a soft delete: the student keeps its ledger history and
// balance but can no longer be issued tokens or check in.
func (s *Service) Deactivate(ctx context.Context, actor authorization.Actor, id string) (domain.Student, error) {
	if err := s.authz.Can(ctx, actor, authorization.CapStudentManage); err != nil {
		return domain.Student{}, err
	}

	studentID, err := parseID(id)
	if err != nil {
		return domain.Student{}, err
	}

	var out domain.Student
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		student, err := s.repo.FindByIDForUpdate(ctx, tx, studentID)
		if err != nil {
			return errkind.Wrap(errkind.Internal, err, "load student")
		}
		if student == nil {
			return domain.ErrNotFound
		}
		if student.Status == domain.StatusInactive {
			out = *student
			return nil
		}

		now := s.clock.Now()
		if err := s.repo.UpdateStatus(ctx, tx, studentID, domain.StatusInactive, now); err != nil {
			return errkind.Wrap(errkind.Internal, err, "deactivate student")
		}
		student.Status = domain.StatusInactive
		student.UpdatedAt = now
		out = *student
		return nil
	})
	if err != nil {
		return domain.Student{}, err
	}

	s.log.Info("student deactivated", zap.String("student_id", out.ID.String()), zap.String("actor_id", actor.ID))
	return out, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
