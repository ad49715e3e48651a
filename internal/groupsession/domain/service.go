package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/edupass/internal/authorization"
	"github.com/smallbiznis/edupass/internal/errkind"
)

type StartRequest struct {
	GroupID     string
	SessionDate string
	StartTime   string
	Notes       string
}

type StartResponse struct {
	Session   GroupSession `json:"session"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	// Reused is true when an already open window was handed out again.
	Reused    bool         `json:"reused"`
}

type Service interface {
	Start(ctx context.Context, actor authorization.Actor, req StartRequest) (StartResponse, error)
	Get(ctx context.Context, actor authorization.Actor, id string) (GroupSession, error)
	Cancel(ctx context.Context, actor authorization.Actor, id string) (GroupSession, error)
	Complete(ctx context.Context, actor authorization.Actor, id string) (GroupSession, error)
}

// SlotLocker serializes concurrent starts of the same slot across replicas.
type SlotLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

var (
	ErrNotFound          = errkind.New(errkind.NotFound, "group session not found")
	ErrInvalidID         = errkind.New(errkind.Invalid, "invalid group session id")
	ErrInvalidGroupID    = errkind.New(errkind.Invalid, "invalid group id")
	ErrInvalidDate       = errkind.New(errkind.Invalid, "session_date must be YYYY-MM-DD")
	ErrInvalidTime       = errkind.New(errkind.Invalid, "start_time must be HH:MM")
	ErrGroupNotFound     = errkind.New(errkind.NotFound, "group not found")
	ErrGroupInactive     = errkind.New(errkind.Invalid, "group is inactive")
	ErrSessionClosed     = errkind.New(errkind.SessionInactive, "group session is closed")
	ErrInvalidTransition = errkind.New(errkind.SessionInactive, "group session cannot move to that status")
)
