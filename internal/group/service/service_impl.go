package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/edupass/internal/authorization"
	"github.com/smallbiznis/edupass/internal/clock"
	"github.com/smallbiznis/edupass/internal/config"
	"github.com/smallbiznis/edupass/internal/errkind"
	"github.com/smallbiznis/edupass/internal/group/domain"
	studentdomain "github.com/smallbiznis/edupass/internal/student/domain"
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
	Repo        domain.Repository
	StudentRepo studentdomain.Repository
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
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("group.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		policy:      p.Policy,
		authz:       p.Authz,
		repo:        p.Repo,
		studentRepo: p.StudentRepo,
	}
}

func (s *Service) Create(ctx context.Context, actor authorization.Actor, req domain.CreateGroupRequest) (domain.Group, error) {
	if err := s.authz.Can(ctx, actor, authorization.CapGroupManage); err != nil {
		return domain.Group{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Group{}, domain.ErrInvalidName
	}
	capacity := req.MaxStudents
	if capacity == 0 {
		capacity = s.policy.Get().DefaultGroupCapacity
	}
	if capacity < 0 {
		return domain.Group{}, domain.ErrInvalidCapacity
	}

	id := s.genID.Generate()
	groupSlug, err := s.uniqueSlug(ctx, name, id)
	if err != nil {
		return domain.Group{}, err
	}

	now := s.clock.Now()
	group := domain.Group{
		ID:          id,
		Name:        name,
		Slug:        groupSlug,
		Subject:     strings.TrimSpace(req.Subject),
		MaxStudents: capacity,
		Status:      domain.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, &group); err != nil {
		return domain.Group{}, errkind.Wrap(errkind.Internal, err, "insert group")
	}

	s.log.Info("group created", zap.String("group_id", group.ID.String()), zap.String("slug", group.Slug))
	return group, nil
}

func (s *Service) uniqueSlug(ctx context.Context, name string, id snowflake.ID) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "group"
	}
	exists, err := s.repo.SlugExists(ctx, s.db, base)
	if err != nil {
		return "", errkind.Wrap(errkind.Internal, err, "check slug")
	}
	if !exists {
		return base, nil
	}
	return fmt.Sprintf("%s-%s", base, id.Base36()), nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Group, error) {
	groupID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return domain.Group{}, err
	}
	group, err := s.repo.FindByID(ctx, s.db, groupID)
	if err != nil {
		return domain.Group{}, errkind.Wrap(errkind.Internal, err, "load group")
	}
	if group == nil {
		return domain.Group{}, domain.ErrNotFound
	}
	return *group, nil
}

// Enroll adds students to a group. The whole batch is rejected when it would
// push the group past max_students; students already enrolled are skipped.
func (s *Service) Enroll(ctx context.Context, actor authorization.Actor, req domain.EnrollRequest) (domain.EnrollResponse, error) {
	if err := s.authz.Can(ctx, actor, authorization.CapGroupManage); err != nil {
		return domain.EnrollResponse{}, err
	}

	groupID, err := parseID(req.GroupID, domain.ErrInvalidID)
	if err != nil {
		return domain.EnrollResponse{}, err
	}
	if err := s.authz.CanAccessGroup(ctx, actor, groupID); err != nil {
		return domain.EnrollResponse{}, err
	}
	if len(req.StudentIDs) == 0 {
		return domain.EnrollResponse{}, domain.ErrInvalidStudents
	}

	studentIDs := make([]snowflake.ID, 0, len(req.StudentIDs))
	seen := make(map[snowflake.ID]struct{}, len(req.StudentIDs))
	for _, raw := range req.StudentIDs {
		id, err := parseID(raw, domain.ErrInvalidStudents)
		if err != nil {
			return domain.EnrollResponse{}, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		studentIDs = append(studentIDs, id)
	}

	resp := domain.EnrollResponse{
		GroupID:  groupID.String(),
		Enrolled: []domain.Enrollment{},
		Skipped:  []string{},
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := s.repo.FindByIDForUpdate(ctx, tx, groupID)
		if err != nil {
			return errkind.Wrap(errkind.Internal, err, "load group")
		}
		if group == nil {
			return domain.ErrNotFound
		}
		if group.Status != domain.StatusActive {
			return domain.ErrInactive
		}

		pending := make([]snowflake.ID, 0, len(studentIDs))
		for _, studentID := range studentIDs {
			student, err := s.studentRepo.FindByID(ctx, tx, studentID)
			if err != nil {
				return errkind.Wrap(errkind.Internal, err, "load student")
			}
			if student == nil {
				return domain.ErrStudentNotFound
			}
			if !student.Active() {
				return domain.ErrStudentInactive
			}

			existing, err := s.repo.FindEnrollment(ctx, tx, groupID, studentID)
			if err != nil {
				return errkind.Wrap(errkind.Internal, err, "load enrollment")
			}
			if existing != nil {
				resp.Skipped = append(resp.Skipped, studentID.String())
				continue
			}
			pending = append(pending, studentID)
		}

		count, err := s.repo.CountActiveEnrollments(ctx, tx, groupID)
		if err != nil {
			return errkind.Wrap(errkind.Internal, err, "count enrollments")
		}
		if count+int64(len(pending)) > int64(group.MaxStudents) {
			return domain.ErrCapacityExceeded
		}

		now := s.clock.Now()
		for _, studentID := range pending {
			enrollment := domain.Enrollment{
				ID:         s.genID.Generate(),
				GroupID:    groupID,
				StudentID:  studentID,
				Status:     domain.EnrollmentActive,
				EnrolledAt: now,
			}
			if err := s.repo.InsertEnrollment(ctx, tx, &enrollment); err != nil {
				return errkind.Wrap(errkind.Internal, err, "insert enrollment")
			}
			resp.Enrolled = append(resp.Enrolled, enrollment)
		}

		resp.Capacity = group.MaxStudents
		resp.Count = count + int64(len(pending))
		return nil
	})
	if err != nil {
		return domain.EnrollResponse{}, err
	}

	s.log.Info("students enrolled",
		zap.String("group_id", resp.GroupID),
		zap.Int("enrolled", len(resp.Enrolled)),
		zap.Int("skipped", len(resp.Skipped)),
	)
	return resp, nil
}

func parseID(value string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}
