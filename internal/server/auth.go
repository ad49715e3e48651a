package server

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/edupass/internal/authorization"
	obscontext "github.com/smallbiznis/edupass/internal/observability/context"
)

const contextActorKey = "actor"

// ActorClaims is the bearer token minted by the identity provider for staff
// and students. Subject is the actor id.
type ActorClaims struct {
	Role           string   `json:"role"`
	StudentID      string   `json:"student_id,omitempty"`
	AssignedGroups []string `json:"assigned_groups,omitempty"`
	jwt.RegisteredClaims
}

// ActorRequired authenticates the bearer token and stores the actor on the
// request. Capabilities are checked by the services.
func (s *Server) ActorRequired() gin.HandlerFunc {
	secret := []byte(s.cfg.ActorTokenSecret)

	return func(c *gin.Context) {
		if len(secret) == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actor, err := parseActorToken(parts[1], secret)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), string(actor.Role), actor.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextActorKey, actor)
		c.Next()
	}
}

func parseActorToken(raw string, secret []byte) (authorization.Actor, error) {
	var claims ActorClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return authorization.Actor{}, err
	}

	subject := strings.TrimSpace(claims.Subject)
	role, ok := authorization.ParseRole(claims.Role)
	if subject == "" || !ok {
		return authorization.Actor{}, ErrUnauthorized
	}

	actor := authorization.Actor{ID: subject, Role: role}
	for _, raw := range claims.AssignedGroups {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil || id <= 0 {
			return authorization.Actor{}, ErrUnauthorized
		}
		actor.Groups = append(actor.Groups, id)
	}
	if role == authorization.RoleStudent {
		id, err := snowflake.ParseString(strings.TrimSpace(claims.StudentID))
		if err != nil || id <= 0 {
			return authorization.Actor{}, ErrUnauthorized
		}
		actor.StudentID = &id
	}
	return actor, nil
}

// SignActorToken mints a bearer token for actor. It is used by operators'
// tooling and tests; production tokens come from the identity provider.
func SignActorToken(secret string, actor authorization.Actor, issuedAt time.Time, ttl time.Duration) (string, error) {
	claims := ActorClaims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	if actor.StudentID != nil {
		claims.StudentID = actor.StudentID.String()
	}
	for _, id := range actor.Groups {
		claims.AssignedGroups = append(claims.AssignedGroups, id.String())
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func actorFromContext(c *gin.Context) (authorization.Actor, bool) {
	value, ok := c.Get(contextActorKey)
	if !ok {
		return authorization.Actor{}, false
	}
	actor, ok := value.(authorization.Actor)
	return actor, ok
}

// requireActor writes 401 and returns false when the route was reached
// without authentication.
func requireActor(c *gin.Context) (authorization.Actor, bool) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return authorization.Actor{}, false
	}
	return actor, true
}
