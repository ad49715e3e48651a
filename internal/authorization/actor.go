package authorization

import (
	"strings"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleTeacher   Role = "teacher"
	RoleSecretary Role = "secretary"
	RoleStudent   Role = "student"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleTeacher:
		return RoleTeacher, true
	case RoleSecretary:
		return RoleSecretary, true
	case RoleStudent:
		return RoleStudent, true
	default:
		return "", false
	}
}

// Actor is an already-authenticated caller. StudentID is set only for
// students acting on their own behalf. Groups lists the groups a teacher or
// secretary is assigned to; admins reach every group.
type Actor struct {
	ID        string
	Role      Role
	StudentID *snowflake.ID
	Groups    []snowflake.ID
}

func (a Actor) assignedTo(groupID snowflake.ID) bool {
	for _, id := range a.Groups {
		if id == groupID {
			return true
		}
	}
	return false
}

func (a Actor) subject() string {
	return "role:" + string(a.Role)
}

// System is used for internal operations that bypass capability checks.
var System = Actor{ID: "system", Role: RoleAdmin}
