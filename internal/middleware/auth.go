package middleware

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/bodyback/bodyback-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// Namespaced Auth0 claims set by the login action
const (
	RoleClaim   = "https://bodyback.app/role"
	UserIDClaim = "https://bodyback.app/user_id"
)

// CustomClaims contains the custom claims from Auth0 JWT
type CustomClaims struct {
	Email  string `json:"email"`
	Role   string `json:"https://bodyback.app/role"`
	UserID string `json:"https://bodyback.app/user_id"`
}

// Validate implements validator.CustomClaims
func (c CustomClaims) Validate(ctx context.Context) error {
	if _, err := domain.ParseRole(c.Role); err != nil {
		return err
	}
	return nil
}

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// ClaimsKey is the context key for JWT claims
	ClaimsKey contextKey = "claims"
	// ActorKey is the context key for the resolved domain.Actor
	ActorKey contextKey = "actor"
)

// TokenValidator validates a raw bearer token
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (interface{}, error)
}

// AuthMiddleware resolves the calling actor from an Auth0 access token
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new AuthMiddleware with Auth0 configuration
func NewAuthMiddleware(auth0Domain, audience string) (*AuthMiddleware, error) {
	issuerURL, err := url.Parse("https://" + auth0Domain + "/")
	if err != nil {
		return nil, err
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{audience},
		validator.WithCustomClaims(func() validator.CustomClaims {
			return &CustomClaims{}
		}),
		validator.WithAllowedClockSkew(time.Minute),
	)
	if err != nil {
		return nil, err
	}

	return NewAuthMiddlewareWithValidator(jwtValidator), nil
}

// NewAuthMiddlewareWithValidator creates an AuthMiddleware around any validator
func NewAuthMiddlewareWithValidator(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Authenticate returns an Echo middleware that validates JWT tokens and
// stores the resolved actor in the request context
func (m *AuthMiddleware) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return unauthorizedError(c, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				return unauthorizedError(c, "invalid authorization header format")
			}

			claims, err := m.validator.ValidateToken(c.Request().Context(), parts[1])
			if err != nil {
				log.Debug().Err(err).Msg("Token validation failed")
				return unauthorizedError(c, "invalid token")
			}

			validatedClaims, ok := claims.(*validator.ValidatedClaims)
			if !ok {
				return unauthorizedError(c, "invalid claims")
			}

			actor, err := ActorFromClaims(validatedClaims)
			if err != nil {
				log.Debug().Err(err).Str("subject", validatedClaims.RegisteredClaims.Subject).Msg("Actor resolution failed")
				return unauthorizedError(c, "token does not identify a known user")
			}

			ctx := context.WithValue(c.Request().Context(), ClaimsKey, validatedClaims)
			ctx = context.WithValue(ctx, ActorKey, actor)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// ActorFromClaims maps validated token claims to a domain.Actor. The user id
// claim wins over the subject when both are present.
func ActorFromClaims(claims *validator.ValidatedClaims) (domain.Actor, error) {
	custom, ok := claims.CustomClaims.(*CustomClaims)
	if !ok || custom == nil {
		return domain.Actor{}, fmt.Errorf("%w: missing custom claims", domain.ErrUnauthenticated)
	}

	role, err := domain.ParseRole(custom.Role)
	if err != nil {
		return domain.Actor{}, err
	}

	rawID := custom.UserID
	if rawID == "" {
		rawID = claims.RegisteredClaims.Subject
	}
	id, err := uuid.Parse(rawID)
	if err != nil || id == uuid.Nil {
		return domain.Actor{}, fmt.Errorf("%w: subject %q is not a user id", domain.ErrUnauthenticated, rawID)
	}

	return domain.Actor{ID: id, Role: role}, nil
}

// GetActor extracts the resolved actor from the context
func GetActor(c echo.Context) (domain.Actor, error) {
	if actor, ok := c.Request().Context().Value(ActorKey).(domain.Actor); ok {
		return actor, nil
	}
	return domain.Actor{}, domain.ErrUnauthenticated
}

// WithActor returns a copy of ctx carrying actor
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// GetClaims extracts the validated claims from the context
func GetClaims(c echo.Context) *validator.ValidatedClaims {
	if claims, ok := c.Request().Context().Value(ClaimsKey).(*validator.ValidatedClaims); ok {
		return claims
	}
	return nil
}
