// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"context"
	"strings"

	"github.com/dormup/dormup-discounts/app/dto"
	"github.com/dormup/dormup-discounts/app/services"
	businessflow "github.com/dormup/dormup-discounts/business_flow"
	"github.com/dormup/dormup-discounts/utils"
	"github.com/gofiber/fiber/v3"
)

const (
	actorLocalKey  = "actor"
	userIDLocalKey = "user_id"
)

// SessionResolver turns session cookies and bearer tokens into actors
type SessionResolver interface {
	AdminFromSession(ctx context.Context, token string) (*businessflow.Actor, error)
	AdminFromIdentity(ctx context.Context, token string) (*businessflow.Actor, error)
	PartnerFromSession(ctx context.Context, token string) (*businessflow.Actor, error)
}

// AuthMiddleware authenticates admins, partners and anonymous identity-provider users
type AuthMiddleware struct {
	resolver     SessionResolver
	tokenService services.TokenService
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(resolver SessionResolver, tokenService services.TokenService) *AuthMiddleware {
	return &AuthMiddleware{
		resolver:     resolver,
		tokenService: tokenService,
	}
}

// AdminAuthenticate accepts the admin_session cookie, falling back to a bearer identity token of an admin profile
func (m *AuthMiddleware) AdminAuthenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		actor, err := m.resolveAdmin(c)
		if err != nil {
			return authError(c, err)
		}
		if actor == nil {
			return unauthorized(c)
		}
		setActor(c, actor)
		return c.Next()
	}
}

// PartnerAuthenticate requires a valid partner_session cookie
func (m *AuthMiddleware) PartnerAuthenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		actor, err := m.resolvePartner(c)
		if err != nil {
			return authError(c, err)
		}
		if actor == nil {
			return unauthorized(c)
		}
		setActor(c, actor)
		return c.Next()
	}
}

// AnyAuthenticate admits admins first, then partners
func (m *AuthMiddleware) AnyAuthenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		actor, adminErr := m.resolveAdmin(c)
		if actor == nil {
			var partnerErr error
			actor, partnerErr = m.resolvePartner(c)
			if actor == nil {
				// a forbidden identity token is more informative than a missing partner cookie
				if adminErr != nil {
					return authError(c, adminErr)
				}
				if partnerErr != nil {
					return authError(c, partnerErr)
				}
				return unauthorized(c)
			}
		}
		setActor(c, actor)
		return c.Next()
	}
}

// OptionalIdentity stores the identity-provider subject when a valid bearer token is present
func (m *AuthMiddleware) OptionalIdentity() fiber.Handler {
	return func(c fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return c.Next()
		}
		claims, err := m.tokenService.ValidateIdentityToken(token)
		if err != nil {
			return c.Next()
		}
		c.Locals(userIDLocalKey, claims.Subject)
		return c.Next()
	}
}

func (m *AuthMiddleware) resolveAdmin(c fiber.Ctx) (*businessflow.Actor, error) {
	if cookie := c.Cookies(utils.AdminSessionCookie); cookie != "" {
		if actor, err := m.resolver.AdminFromSession(c.Context(), cookie); err == nil {
			return actor, nil
		}
	}
	token := bearerToken(c)
	if token == "" {
		return nil, nil
	}
	return m.resolver.AdminFromIdentity(c.Context(), token)
}

func (m *AuthMiddleware) resolvePartner(c fiber.Ctx) (*businessflow.Actor, error) {
	cookie := c.Cookies(utils.PartnerSessionCookie)
	if cookie == "" {
		return nil, nil
	}
	return m.resolver.PartnerFromSession(c.Context(), cookie)
}

func bearerToken(c fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

func setActor(c fiber.Ctx, actor *businessflow.Actor) {
	c.Locals(actorLocalKey, *actor)
	if requestID := c.Get("X-Request-ID"); requestID != "" {
		c.Locals("request_id", requestID)
	}
}

func authError(c fiber.Ctx, err error) error {
	if businessflow.IsAccessDenied(err) {
		return c.Status(fiber.StatusForbidden).JSON(dto.APIResponse{
			Success: false,
			Message: "Forbidden",
			Error:   dto.ErrorDetail{Code: "FORBIDDEN"},
		})
	}
	return unauthorized(c)
}

func unauthorized(c fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
		Success: false,
		Message: "Unauthorized",
		Error:   dto.ErrorDetail{Code: "UNAUTHORIZED"},
	})
}

// GetActorFromContext extracts the authenticated actor from the request context
func GetActorFromContext(c fiber.Ctx) (businessflow.Actor, bool) {
	actor, ok := c.Locals(actorLocalKey).(businessflow.Actor)
	return actor, ok
}

// GetUserIDFromContext returns the identity-provider subject set by OptionalIdentity
func GetUserIDFromContext(c fiber.Ctx) *string {
	userID, ok := c.Locals(userIDLocalKey).(string)
	if !ok || userID == "" {
		return nil
	}
	return &userID
}
