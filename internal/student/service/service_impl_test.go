package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/authorization"
	"github.com/smallbiznis/edupass/internal/clock"
	"github.com/smallbiznis/edupass/internal/errkind"
	"github.com/smallbiznis/edupass/internal/student/domain"
	"github.com/smallbiznis/edupass/internal/student/repository"
	"github.com/smallbiznis/edupass/internal/student/service"
	"github.com/smallbiznis/edupass/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	secretary = authorization.Actor{ID: "sec-1", Role: authorization.RoleSecretary}
	teacher   = authorization.Actor{ID: "t-1", Role: authorization.RoleTeacher}
)

func newService(t *testing.T) domain.Service {
	t.Helper()
	return newServiceOn(t, dbtest.Open(t))
}

func newServiceOn(t *testing.T, db *gorm.DB) domain.Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)

	return service.New(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)),
		Authz: authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		Repo:  repository.Provide(),
	})
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	created, err := svc.Create(ctx, secretary, domain.CreateStudentRequest{Name: "  Ada  ", Phone: "0812"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", created.Name)
	assert.Equal(t, domain.StatusActive, created.Status)
	assert.Zero(t, created.CreditBalance)

	got, err := svc.Get(ctx, teacher, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "0812", got.Phone)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, err := svc.Create(ctx, secretary, domain.CreateStudentRequest{Name: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = svc.Create(ctx, teacher, domain.CreateStudentRequest{Name: "Ada"})
	assert.Equal(t, errkind.Forbidden, errkind.KindOf(err))
}

func TestGetUnknown(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, err := svc.Get(ctx, teacher, "12345")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Get(ctx, teacher, "abc")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestDeactivateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	created, err := svc.Create(ctx, secretary, domain.CreateStudentRequest{Name: "Grace"})
	require.NoError(t, err)

	out, err := svc.Deactivate(ctx, secretary, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInactive, out.Status)

	out, err = svc.Deactivate(ctx, secretary, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInactive, out.Status)

	got, err := svc.Get(ctx, secretary, created.ID.String())
	require.NoError(t, err)
	assert.False(t, got.Active())
}

func TestListPaginates(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	for _, name := range []string{"A", "B", "C"} {
		_, err := svc.Create(ctx, secretary, domain.CreateStudentRequest{Name: name})
		require.NoError(t, err)
	}

	first, err := svc.List(ctx, secretary, domain.ListStudentRequest{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Students, 2)
	assert.True(t, first.PageInfo.HasMore)
	assert.Equal(t, "C", first.Students[0].Name)

	second, err := svc.List(ctx, secretary, domain.ListStudentRequest{PageSize: 2, PageToken: first.PageInfo.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Students, 1)
	assert.False(t, second.PageInfo.HasMore)
	assert.Equal(t, "A", second.Students[0].Name)

	_, err = svc.List(ctx, secretary, domain.ListStudentRequest{Status: "archived"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestListErrorKinds(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	svc := newServiceOn(t, db)

	_, err := svc.List(ctx, secretary, domain.ListStudentRequest{PageToken: "bm90LWpzb24"})
	assert.Equal(t, errkind.Invalid, errkind.KindOf(err))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = svc.List(ctx, secretary, domain.ListStudentRequest{})
	assert.Equal(t, errkind.Internal, errkind.KindOf(err))
}
