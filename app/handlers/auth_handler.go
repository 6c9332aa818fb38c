package handlers

import (
	"time"

	"github.com/dormup/dormup-discounts/app/dto"
	businessflow "github.com/dormup/dormup-discounts/business_flow"
	"github.com/dormup/dormup-discounts/utils"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// CookieConfig controls the attributes of the session cookies
type CookieConfig struct {
	Secure   bool
	SameSite string
}

type AuthHandlerInterface interface {
	AdminLogin(c fiber.Ctx) error
	AdminLogout(c fiber.Ctx) error
	PartnerLogin(c fiber.Ctx) error
	PartnerLogout(c fiber.Ctx) error
	Me(c fiber.Ctx) error
}

type AuthHandler struct {
	baseHandler
	flow    businessflow.AuthFlow
	cookies CookieConfig
}

func NewAuthHandler(flow businessflow.AuthFlow, cookies CookieConfig, logger *zap.Logger) AuthHandlerInterface {
	return &AuthHandler{
		baseHandler: newBaseHandler(logger),
		flow:        flow,
		cookies:     cookies,
	}
}

// AdminLogin authenticates an admin and sets the admin_session cookie
// @Summary Admin login
// @Description Authenticate an admin by email and password. The session is returned as an HttpOnly cookie.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body dto.LoginRequest true "Credentials"
// @Success 200 {object} dto.APIResponse{data=dto.AdminLoginResponse} "Login successful"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 401 {object} dto.APIResponse "Invalid credentials"
// @Failure 429 {object} dto.APIResponse "Too many attempts"
// @Router /api/v1/admin/auth/login [post]
func (h *AuthHandler) AdminLogin(c fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, "/api/v1/admin/auth/login")
	defer cancel()

	resp, err := h.flow.AdminLogin(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Login failed", "LOGIN_FAILED")
	}

	h.setSessionCookie(c, utils.AdminSessionCookie, resp.Token, resp.ExpiresIn)
	return h.SuccessResponse(c, fiber.StatusOK, "Login successful", resp)
}

// AdminLogout clears the admin session cookie
// @Summary Admin logout
// @Tags Authentication
// @Produce json
// @Success 200 {object} dto.APIResponse "Logged out"
// @Router /api/v1/admin/auth/logout [post]
func (h *AuthHandler) AdminLogout(c fiber.Ctx) error {
	h.clearSessionCookie(c, utils.AdminSessionCookie)
	return h.SuccessResponse(c, fiber.StatusOK, "Logged out", nil)
}

// PartnerLogin authenticates a venue partner and sets the partner_session cookie
// @Summary Partner login
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body dto.LoginRequest true "Credentials"
// @Success 200 {object} dto.APIResponse{data=dto.PartnerLoginResponse} "Login successful"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 401 {object} dto.APIResponse "Invalid credentials"
// @Failure 403 {object} dto.APIResponse "Account inactive"
// @Router /api/v1/partner/auth/login [post]
func (h *AuthHandler) PartnerLogin(c fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, "/api/v1/partner/auth/login")
	defer cancel()

	resp, err := h.flow.PartnerLogin(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Login failed", "LOGIN_FAILED")
	}

	h.setSessionCookie(c, utils.PartnerSessionCookie, resp.Token, resp.ExpiresIn)
	return h.SuccessResponse(c, fiber.StatusOK, "Login successful", resp)
}

// PartnerLogout clears the partner session cookie
// @Summary Partner logout
// @Tags Authentication
// @Produce json
// @Success 200 {object} dto.APIResponse "Logged out"
// @Router /api/v1/partner/auth/logout [post]
func (h *AuthHandler) PartnerLogout(c fiber.Ctx) error {
	h.clearSessionCookie(c, utils.PartnerSessionCookie)
	return h.SuccessResponse(c, fiber.StatusOK, "Logged out", nil)
}

// Me returns the authenticated admin or partner
// @Summary Current session
// @Tags Authentication
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.MeResponse} "Current user"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Router /api/v1/admin/auth/me [get]
// @Router /api/v1/partner/auth/me [get]
func (h *AuthHandler) Me(c fiber.Ctx) error {
	actor, ok, err := h.actor(c)
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, c.Path())
	defer cancel()

	resp, err := h.flow.Me(ctx, actor)
	if err != nil {
		return h.flowError(c, err, "Failed to load session", "ME_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Session retrieved", resp)
}

func (h *AuthHandler) setSessionCookie(c fiber.Ctx, name, value string, maxAge int) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  utils.UTCNow().Add(time.Duration(maxAge) * time.Second),
		Secure:   h.cookies.Secure,
		HTTPOnly: true,
		SameSite: h.cookies.SameSite,
	})
}

func (h *AuthHandler) clearSessionCookie(c fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		Secure:   h.cookies.Secure,
		HTTPOnly: true,
		SameSite: h.cookies.SameSite,
	})
}
