package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/authorization"
	"github.com/smallbiznis/edupass/internal/clock"
	"github.com/smallbiznis/edupass/internal/config"
	"github.com/smallbiznis/edupass/internal/errkind"
	"github.com/smallbiznis/edupass/internal/group/domain"
	"github.com/smallbiznis/edupass/internal/group/repository"
	"github.com/smallbiznis/edupass/internal/group/service"
	studentrepo "github.com/smallbiznis/edupass/internal/student/repository"
	"github.com/smallbiznis/edupass/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var secretary = authorization.Actor{ID: "sec-1", Role: authorization.RoleSecretary}

func assigned(groups ...snowflake.ID) authorization.Actor {
	actor := secretary
	actor.Groups = groups
	return actor
}

func newService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)

	svc := service.New(service.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clock.NewFakeClock(time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)),
		Policy:      config.NewStaticPolicyHolder(config.DefaultPolicy()),
		Authz:       authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		Repo:        repository.Provide(),
		StudentRepo: studentrepo.Provide(),
	})
	return svc, db
}

func TestCreateGroupDefaultsAndSlug(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	first, err := svc.Create(ctx, secretary, domain.CreateGroupRequest{Name: "Algebra Grade 7"})
	require.NoError(t, err)
	assert.Equal(t, "algebra-grade-7", first.Slug)
	assert.Equal(t, config.DefaultPolicy().DefaultGroupCapacity, first.MaxStudents)

	second, err := svc.Create(ctx, secretary, domain.CreateGroupRequest{Name: "Algebra grade 7", MaxStudents: 5})
	require.NoError(t, err)
	assert.NotEqual(t, first.Slug, second.Slug)
	assert.Equal(t, 5, second.MaxStudents)

	_, err = svc.Create(ctx, secretary, domain.CreateGroupRequest{Name: "x", MaxStudents: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidCapacity)

	_, err = svc.Create(ctx, authorization.Actor{ID: "t", Role: authorization.RoleTeacher}, domain.CreateGroupRequest{Name: "x"})
	assert.Equal(t, errkind.Forbidden, errkind.KindOf(err))
}

func TestEnrollRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	svc, db := newService(t)

	group, err := svc.Create(ctx, secretary, domain.CreateGroupRequest{Name: "Geometry", MaxStudents: 2})
	require.NoError(t, err)
	staff := assigned(group.ID)
	dbtest.Student(t, db, 101, "A", 0)
	dbtest.Student(t, db, 102, "B", 0)
	dbtest.Student(t, db, 103, "C", 0)

	resp, err := svc.Enroll(ctx, staff, domain.EnrollRequest{
		GroupID:    group.ID.String(),
		StudentIDs: []string{"101", "102", "101"},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Enrolled, 2)
	assert.Equal(t, int64(2), resp.Count)

	resp, err = svc.Enroll(ctx, staff, domain.EnrollRequest{
		GroupID:    group.ID.String(),
		StudentIDs: []string{"102"},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Enrolled)
	assert.Equal(t, []string{"102"}, resp.Skipped)

	_, err = svc.Enroll(ctx, staff, domain.EnrollRequest{
		GroupID:    group.ID.String(),
		StudentIDs: []string{"103"},
	})
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
	assert.Equal(t, int64(2), dbtest.Count(t, db, "group_students", "group_id = ?", int64(group.ID)))
}

func TestEnrollUnknownStudentRollsBack(t *testing.T) {
	ctx := context.Background()
	svc, db := newService(t)

	group, err := svc.Create(ctx, secretary, domain.CreateGroupRequest{Name: "Physics"})
	require.NoError(t, err)
	staff := assigned(group.ID, 12345)
	dbtest.Student(t, db, 201, "A", 0)

	_, err = svc.Enroll(ctx, staff, domain.EnrollRequest{
		GroupID:    group.ID.String(),
		StudentIDs: []string{"201", "999"},
	})
	assert.ErrorIs(t, err, domain.ErrStudentNotFound)
	assert.Zero(t, dbtest.Count(t, db, "group_students", ""))

	_, err = svc.Enroll(ctx, staff, domain.EnrollRequest{GroupID: "12345", StudentIDs: []string{"201"}})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Enroll(ctx, staff, domain.EnrollRequest{GroupID: group.ID.String()})
	assert.ErrorIs(t, err, domain.ErrInvalidStudents)
}

func TestEnrollRequiresGroupAssignment(t *testing.T) {
	ctx := context.Background()
	svc, db := newService(t)

	group, err := svc.Create(ctx, secretary, domain.CreateGroupRequest{Name: "Chemistry"})
	require.NoError(t, err)
	dbtest.Student(t, db, 301, "A", 0)
	req := domain.EnrollRequest{GroupID: group.ID.String(), StudentIDs: []string{"301"}}

	_, err = svc.Enroll(ctx, assigned(group.ID+1), req)
	assert.Equal(t, errkind.Forbidden, errkind.KindOf(err))
	assert.Zero(t, dbtest.Count(t, db, "group_students", ""))

	resp, err := svc.Enroll(ctx, authorization.Actor{ID: "a-1", Role: authorization.RoleAdmin}, req)
	require.NoError(t, err)
	assert.Len(t, resp.Enrolled, 1)
}
