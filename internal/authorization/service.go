package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/edupass/internal/errkind"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Capability string

const (
	CapSessionStart      Capability = "session.start"
	CapSessionView       Capability = "session.view"
	CapSessionManage     Capability = "session.manage"
	CapTokenIssueStudent Capability = "token.issue_student"
	CapAttendanceRedeem  Capability = "attendance.redeem"
	CapSelfCheckin       Capability = "attendance.self_checkin"
	CapPaymentRecord     Capability = "payment.record"
	CapPaymentView       Capability = "payment.view"
	CapStudentView       Capability = "student.view"
	CapStudentManage     Capability = "student.manage"
	CapGroupManage       Capability = "group.manage"
)

// object and action halves of a capability, as stored in casbin policies.
func (c Capability) split() (string, string) {
	obj, _, found := strings.Cut(string(c), ".")
	if !found {
		return string(c), ""
	}
	return obj, string(c)
}

var ErrForbidden = errkind.New(errkind.Forbidden, "forbidden")

// Service answers whether an actor holds a capability and whether it may
// act on a given group.
type Service interface {
	Can(ctx context.Context, actor Actor, capability Capability) error
	CanAccessGroup(ctx context.Context, actor Actor, groupID snowflake.ID) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer persists policies through the gorm adapter so operators can
// extend them in the casbin_rule table.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

// NewMemoryEnforcer builds an enforcer with the default policies and no
// persistence.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Can(ctx context.Context, actor Actor, capability Capability) error {
	if strings.TrimSpace(actor.ID) == "" || actor.Role == "" {
		return errkind.New(errkind.Unauthorized, "actor is required")
	}
	obj, act := capability.split()
	if obj == "" || act == "" {
		return errkind.New(errkind.Invalid, "invalid capability")
	}

	allowed, err := s.enforcer.Enforce(actor.subject(), obj, act)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "enforce capability")
	}
	if !allowed {
		s.log.Debug("capability denied",
			zap.String("actor_id", actor.ID),
			zap.String("role", string(actor.Role)),
			zap.String("capability", string(capability)),
		)
		return ErrForbidden
	}
	return nil
}

// CanAccessGroup restricts staff to the groups they are assigned to. Admins
// pass for every group. Students are not scoped here; enrollment decides
// where they may check in.
func (s *ServiceImpl) CanAccessGroup(ctx context.Context, actor Actor, groupID snowflake.ID) error {
	switch actor.Role {
	case RoleAdmin, RoleStudent:
		return nil
	}
	if actor.assignedTo(groupID) {
		return nil
	}
	s.log.Debug("group access denied",
		zap.String("actor_id", actor.ID),
		zap.String("role", string(actor.Role)),
		zap.String("group_id", groupID.String()),
	)
	return ErrForbidden
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	grants := map[Role][]Capability{
		RoleTeacher: {
			CapSessionStart,
			CapSessionView,
			CapSessionManage,
			CapTokenIssueStudent,
			CapAttendanceRedeem,
			CapStudentView,
		},
		RoleSecretary: {
			CapSessionView,
			CapTokenIssueStudent,
			CapAttendanceRedeem,
			CapPaymentRecord,
			CapPaymentView,
			CapStudentView,
			CapStudentManage,
			CapGroupManage,
		},
		RoleStudent: {
			CapSelfCheckin,
		},
	}

	for role, caps := range grants {
		for _, c := range caps {
			obj, act := c.split()
			if _, err := enforcer.AddPolicy("role:"+string(role), obj, act); err != nil {
				return err
			}
		}
	}

	// Admin inherits every staff capability.
	for _, parent := range []Role{RoleTeacher, RoleSecretary} {
		if _, err := enforcer.AddGroupingPolicy("role:"+string(RoleAdmin), "role:"+string(parent)); err != nil {
			return err
		}
	}
	return nil
}
