package businessflow

import (
	"context"
	"strings"
	"time"

	"github.com/dormup/dormup-discounts/app/dto"
	"github.com/dormup/dormup-discounts/app/services"
	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/repository"
	"github.com/dormup/dormup-discounts/utils"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthFlow handles admin and partner logins and resolves authenticated actors
type AuthFlow interface {
	AdminLogin(ctx context.Context, req *dto.LoginRequest) (*dto.AdminLoginResponse, error)
	PartnerLogin(ctx context.Context, req *dto.LoginRequest) (*dto.PartnerLoginResponse, error)
	AdminFromSession(ctx context.Context, token string) (*Actor, error)
	AdminFromIdentity(ctx context.Context, token string) (*Actor, error)
	PartnerFromSession(ctx context.Context, token string) (*Actor, error)
	Me(ctx context.Context, actor Actor) (*dto.MeResponse, error)
}

// AuthFlowImpl implements AuthFlow
type AuthFlowImpl struct {
	adminRepo    repository.AdminRepository
	partnerRepo  repository.PartnerRepository
	profileRepo  repository.ProfileRepository
	tokenService services.TokenService
	logger       *zap.Logger
}

func NewAuthFlow(
	adminRepo repository.AdminRepository,
	partnerRepo repository.PartnerRepository,
	profileRepo repository.ProfileRepository,
	tokenService services.TokenService,
	logger *zap.Logger,
) AuthFlow {
	return &AuthFlowImpl{
		adminRepo:    adminRepo,
		partnerRepo:  partnerRepo,
		profileRepo:  profileRepo,
		tokenService: tokenService,
		logger:       logger,
	}
}

func invalidCredentials() error {
	return NewBusinessError("INVALID_CREDENTIALS", "Invalid credentials", ErrInvalidCredentials)
}

func (af *AuthFlowImpl) AdminLogin(ctx context.Context, req *dto.LoginRequest) (*dto.AdminLoginResponse, error) {
	if req == nil || req.Email == "" || req.Password == "" {
		return nil, invalidCredentials()
	}

	admin, err := af.adminRepo.ByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return nil, NewBusinessError("ADMIN_LOOKUP_FAILED", "Failed to lookup admin", err)
	}
	if admin == nil {
		return nil, invalidCredentials()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(req.Password)); err != nil {
		return nil, invalidCredentials()
	}
	if !utils.IsTrue(admin.IsActive) {
		return nil, NewBusinessError("ACCOUNT_INACTIVE", "Account is inactive", ErrAccountInactive)
	}

	token, err := af.tokenService.GenerateAdminSession(admin.ID, admin.Email)
	if err != nil {
		return nil, NewBusinessError("TOKEN_GENERATION_FAILED", "Failed to generate session", err)
	}

	now := utils.UTCNow()
	if err := af.adminRepo.UpdateLastLogin(ctx, admin.ID, now); err != nil {
		af.logger.Warn("Failed to update admin last login", zap.Uint("admin_id", admin.ID), zap.Error(err))
	} else {
		admin.LastLoginAt = &now
	}

	return &dto.AdminLoginResponse{
		Admin:     ToAdminDTO(admin),
		ExpiresIn: int(af.tokenService.SessionTTL().Seconds()),
		Token:     token,
	}, nil
}

func (af *AuthFlowImpl) PartnerLogin(ctx context.Context, req *dto.LoginRequest) (*dto.PartnerLoginResponse, error) {
	if req == nil || req.Email == "" || req.Password == "" {
		return nil, invalidCredentials()
	}

	partner, err := af.partnerRepo.ByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return nil, NewBusinessError("PARTNER_LOOKUP_FAILED", "Failed to lookup partner", err)
	}
	if partner == nil {
		return nil, invalidCredentials()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(partner.PasswordHash), []byte(req.Password)); err != nil {
		return nil, invalidCredentials()
	}
	if !utils.IsTrue(partner.IsActive) {
		return nil, NewBusinessError("ACCOUNT_INACTIVE", "Account is inactive", ErrAccountInactive)
	}

	full, err := af.partnerRepo.ByIDWithVenue(ctx, partner.ID)
	if err != nil {
		return nil, NewBusinessError("PARTNER_LOOKUP_FAILED", "Failed to lookup partner", err)
	}
	if full != nil {
		partner = full
	}

	token, err := af.tokenService.GeneratePartnerSession(partner.ID, partner.VenueID, partner.Email)
	if err != nil {
		return nil, NewBusinessError("TOKEN_GENERATION_FAILED", "Failed to generate session", err)
	}

	return &dto.PartnerLoginResponse{
		Partner:   ToPartnerDTO(partner),
		ExpiresIn: int(af.tokenService.SessionTTL().Seconds()),
		Token:     token,
	}, nil
}

func unauthorized() error {
	return NewBusinessError("UNAUTHORIZED", "Unauthorized", ErrInvalidCredentials)
}

// AdminFromSession resolves the admin_session cookie to an active admin
func (af *AuthFlowImpl) AdminFromSession(ctx context.Context, token string) (*Actor, error) {
	claims, err := af.tokenService.ValidateAdminSession(token)
	if err != nil {
		return nil, unauthorized()
	}
	admin, err := af.adminRepo.ByID(ctx, claims.AdminID)
	if err != nil {
		return nil, NewBusinessError("ADMIN_LOOKUP_FAILED", "Failed to lookup admin", err)
	}
	if admin == nil || !utils.IsTrue(admin.IsActive) {
		return nil, unauthorized()
	}
	return &Actor{Role: RoleAdmin, AdminID: &admin.ID, UserID: admin.Email}, nil
}

// AdminFromIdentity accepts an identity-provider bearer token whose profile is flagged admin.
// A valid token of a non-admin user yields ErrAccessDenied.
func (af *AuthFlowImpl) AdminFromIdentity(ctx context.Context, token string) (*Actor, error) {
	claims, err := af.tokenService.ValidateIdentityToken(token)
	if err != nil {
		return nil, unauthorized()
	}
	profile, err := af.profileRepo.ByUserID(ctx, claims.Subject)
	if err != nil {
		return nil, NewBusinessError("PROFILE_LOOKUP_FAILED", "Failed to lookup profile", err)
	}
	if profile == nil || !profile.IsAdmin {
		return nil, NewBusinessError("FORBIDDEN", "Admin access required", ErrAccessDenied)
	}
	return &Actor{Role: RoleAdmin, UserID: claims.Subject}, nil
}

// PartnerFromSession resolves the partner_session cookie, loading the current venue tier
func (af *AuthFlowImpl) PartnerFromSession(ctx context.Context, token string) (*Actor, error) {
	claims, err := af.tokenService.ValidatePartnerSession(token)
	if err != nil {
		return nil, unauthorized()
	}
	partner, err := af.partnerRepo.ByIDWithVenue(ctx, claims.PartnerID)
	if err != nil {
		return nil, NewBusinessError("PARTNER_LOOKUP_FAILED", "Failed to lookup partner", err)
	}
	if partner == nil || !utils.IsTrue(partner.IsActive) {
		return nil, unauthorized()
	}
	tier := models.TierBasic
	if partner.Venue != nil {
		tier = partner.Venue.SubscriptionTier
	}
	return &Actor{
		Role:      RolePartner,
		UserID:    partner.Email,
		PartnerID: &partner.ID,
		VenueID:   &partner.VenueID,
		Tier:      tier,
	}, nil
}

func (af *AuthFlowImpl) Me(ctx context.Context, actor Actor) (*dto.MeResponse, error) {
	resp := &dto.MeResponse{Role: string(actor.Role), UserID: actor.UserID}
	switch {
	case actor.IsAdmin() && actor.AdminID != nil:
		admin, err := af.adminRepo.ByID(ctx, *actor.AdminID)
		if err != nil {
			return nil, NewBusinessError("ADMIN_LOOKUP_FAILED", "Failed to lookup admin", err)
		}
		if admin == nil {
			return nil, NewBusinessError("ADMIN_NOT_FOUND", "Admin not found", ErrAdminNotFound)
		}
		a := ToAdminDTO(admin)
		resp.Admin = &a
	case actor.IsPartner():
		partner, err := af.partnerRepo.ByIDWithVenue(ctx, *actor.PartnerID)
		if err != nil {
			return nil, NewBusinessError("PARTNER_LOOKUP_FAILED", "Failed to lookup partner", err)
		}
		if partner == nil {
			return nil, NewBusinessError("PARTNER_NOT_FOUND", "Partner not found", ErrPartnerNotFound)
		}
		p := ToPartnerDTO(partner)
		resp.Partner = &p
	}
	return resp, nil
}

func ToAdminDTO(a *models.Admin) dto.AdminDTO {
	out := dto.AdminDTO{
		ID:        a.ID,
		Email:     a.Email,
		IsActive:  a.IsActive,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.LastLoginAt != nil {
		out.LastLoginAt = utils.ToPtr(a.LastLoginAt.UTC().Format(time.RFC3339))
	}
	return out
}

func ToPartnerDTO(p *models.Partner) dto.PartnerDTO {
	out := dto.PartnerDTO{
		ID:               p.ID,
		Email:            p.Email,
		VenueID:          p.VenueID,
		IsActive:         p.IsActive,
		SubscriptionTier: string(models.TierBasic),
	}
	if p.Venue != nil {
		out.VenueName = p.Venue.Name
		out.City = p.Venue.City
		out.SubscriptionTier = string(p.Venue.SubscriptionTier)
	}
	return out
}
