// Package testkit builds the collaborators shared by service tests.
package testkit

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/authorization"
	"github.com/smallbiznis/edupass/internal/clock"
	"github.com/smallbiznis/edupass/internal/config"
	"github.com/smallbiznis/edupass/internal/token"
	"go.uber.org/zap"
)

const (
	SigningKey = "test-signing-key-0123456789"
	Issuer     = "edupass-test"

	// GroupID is the group the staff actors below are assigned to.
	GroupID = 10
)

var (
	Admin     = authorization.Actor{ID: "admin-1", Role: authorization.RoleAdmin}
	Teacher   = authorization.Actor{ID: "teacher-1", Role: authorization.RoleTeacher, Groups: []snowflake.ID{GroupID}}
	Secretary = authorization.Actor{ID: "secretary-1", Role: authorization.RoleSecretary, Groups: []snowflake.ID{GroupID}}
)

// AssignedTo returns a copy of actor assigned to groups instead of its own.
func AssignedTo(actor authorization.Actor, groups ...snowflake.ID) authorization.Actor {
	actor.Groups = append([]snowflake.ID(nil), groups...)
	return actor
}

// StudentActor returns an actor checking in on behalf of studentID.
func StudentActor(studentID int64) authorization.Actor {
	id := snowflake.ID(studentID)
	return authorization.Actor{ID: "student-" + id.String(), Role: authorization.RoleStudent, StudentID: &id}
}

func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func Authz(t testing.TB) authorization.Service {
	t.Helper()
	enforcer, err := authorization.NewMemoryEnforcer()
	if err != nil {
		t.Fatalf("casbin enforcer: %v", err)
	}
	return authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func Codec(t testing.TB, clk clock.Clock) *token.Codec {
	t.Helper()
	keyring, err := token.NewKeyring(token.Key{ID: "v1", Secret: []byte(SigningKey)})
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	return token.NewCodec(keyring, clk, Issuer)
}

func Policy() *config.PolicyHolder {
	return config.NewStaticPolicyHolder(config.DefaultPolicy())
}
