package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Role is the kind of actor performing a request.
type Role string

const (
	RolePatient      Role = "patient"
	RolePsychologist Role = "psychologist"
	RoleAdmin        Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RolePsychologist, RoleAdmin:
		return true
	}
	return false
}

// Actor is the verified identity behind a request. Handlers read it once and
// pass the ID explicitly into service calls.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type contextKey struct{}

// Claims are the token claims issued by the identity provider. The subject is
// the actor's UUID.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey enables HS256 verification; never used in production.
	SigningKey []byte
}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// ActorFromContext returns the actor stored by the auth middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}

func setActor(c echo.Context, a Actor) {
	c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), a)))
	c.Set("actor_id", a.ID.String())
	c.Set("actor_role", string(a.Role))
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var keyfunc jwt.Keyfunc
	methods := []string{"RS256"}
	if len(cfg.SigningKey) > 0 {
		keyfunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
		methods = []string{"HS256"}
	} else {
		url := cfg.JWKSURL
		if url == "" && cfg.Issuer != "" {
			url = strings.TrimSuffix(cfg.Issuer, "/") + "/.well-known/jwks.json"
		}
		keyfunc = NewJWKSCache(url, 0).Keyfunc
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, tokenStr, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyfunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			id, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "token subject is not a valid id")
			}
			role := Role(claims.Role)
			if !role.Valid() {
				return echo.NewHTTPError(http.StatusForbidden, "token carries no recognised role")
			}

			setActor(c, Actor{ID: id, Role: role})
			return next(c)
		}
	}
}

// DevAdminID is the identity assumed by unauthenticated development requests.
var DevAdminID = uuid.MustParse("00000000-0000-0000-0000-00000000ad01")

// DevAuthMiddleware lets development requests choose their identity with the
// X-Dev-Actor and X-Dev-Role headers; without them the request acts as admin.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			a := Actor{ID: DevAdminID, Role: RoleAdmin}
			if raw := c.Request().Header.Get("X-Dev-Actor"); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusBadRequest, "invalid X-Dev-Actor")
				}
				a.ID = id
			}
			if raw := c.Request().Header.Get("X-Dev-Role"); raw != "" {
				a.Role = Role(raw)
				if !a.Role.Valid() {
					return echo.NewHTTPError(http.StatusBadRequest, "invalid X-Dev-Role")
				}
			}
			setActor(c, a)
			return next(c)
		}
	}
}
