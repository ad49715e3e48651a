package token

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
)

type SubjectKind string

const (
	SubjectGroupSession SubjectKind = "group_session"
	SubjectStudent      SubjectKind = "student"
)

func (k SubjectKind) Valid() bool {
	switch k {
	case SubjectGroupSession, SubjectStudent:
		return true
	default:
		return false
	}
}

// Claims is the decoded content of an attendance token.
type Claims struct {
	TokenID     string        `json:"token_id"`
	SubjectKind SubjectKind   `json:"subject_kind"`
	SubjectID   snowflake.ID  `json:"subject_id"`
	SessionID   *snowflake.ID `json:"session_id,omitempty"`
	IssuerID    string        `json:"issuer_id"`
	IssuedAt    time.Time     `json:"issued_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// Issued is a freshly signed token together with the claims it carries.
type Issued struct {
	Token  string
	Claims Claims
}

type wireClaims struct {
	Kind      string `json:"knd"`
	SessionID string `json:"sid,omitempty"`
	IssuedBy  string `json:"iby,omitempty"`
	jwt.RegisteredClaims
}
