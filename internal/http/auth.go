package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-hailing/internal/apperr"
	"github.com/example/ride-hailing/internal/models"
)

// Claims is the token payload issued by the account service.
type Claims struct {
	ID   string      `json:"_id"`
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 actor tokens. Issuing tokens belongs to the
// account service; Issue exists for tooling and tests.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Issue(actor models.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		ID:   actor.ID,
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Validate(token string) (models.Actor, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return models.Actor{}, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return models.Actor{}, fmt.Errorf("invalid token")
	}
	switch claims.Role {
	case models.RoleUser, models.RoleCaptain, models.RoleAdmin:
	default:
		return models.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	if claims.ID == "" {
		return models.Actor{}, fmt.Errorf("token has no subject")
	}
	return models.Actor{ID: claims.ID, Role: claims.Role}, nil
}

// tokenFrom looks at the bearer header, then the session cookie, then the
// query string used by browser websocket clients.
func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// authorize wraps h so only the listed roles reach it.
func (s *Server) authorize(h http.HandlerFunc, roles ...models.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := tokenFrom(r)
		if token == "" {
			s.writeError(w, r, apperr.New(apperr.Unauthorized, "authentication required"))
			return
		}
		actor, err := s.auth.Validate(token)
		if err != nil {
			s.writeError(w, r, apperr.Wrap(apperr.Unauthorized, "invalid token", err))
			return
		}
		if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
			s.writeError(w, r, apperr.New(apperr.Forbidden, "not allowed for this role"))
			return
		}
		h(w, r.WithContext(withActor(r.Context(), actor)))
	}
}

func actorFrom(ctx context.Context) models.Actor {
	a, _ := ctx.Value(actorKey).(models.Actor)
	return a
}
