package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/dormup/dormup-discounts/app/dto"
	"github.com/dormup/dormup-discounts/app/services"
	"github.com/dormup/dormup-discounts/models"
	testingutil "github.com/dormup/dormup-discounts/testing"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAuthFlow(t *testing.T) (AuthFlow, *testingutil.TestDB, *testingutil.TestFixtures, services.TokenService) {
	t.Helper()
	db, fx := setupFlowDB(t)
	repos := newTestRepos(db)
	tokens := newTestTokenService(t)
	return NewAuthFlow(repos.admin, repos.partner, repos.profile, tokens, zap.NewNop()), db, fx, tokens
}

func signIdentityToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &services.IdentityClaims{
		Email: subject + "@students.test",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("identity-secret-0123456789abcdef01234567"))
	require.NoError(t, err)
	return token
}

func TestAdminLogin(t *testing.T) {
	flow, db, fx, _ := newTestAuthFlow(t)
	ctx := context.Background()

	admin, err := fx.CreateAdmin("ops@dormup.test")
	require.NoError(t, err)

	resp, err := flow.AdminLogin(ctx, &dto.LoginRequest{Email: " OPS@dormup.test ", Password: testingutil.TestPassword})
	require.NoError(t, err)
	assert.Equal(t, admin.ID, resp.Admin.ID)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, 3600, resp.ExpiresIn)
	assert.NotNil(t, resp.Admin.LastLoginAt)

	actor, err := flow.AdminFromSession(ctx, resp.Token)
	require.NoError(t, err)
	assert.True(t, actor.IsAdmin())
	assert.Equal(t, admin.ID, *actor.AdminID)

	_, err = flow.AdminLogin(ctx, &dto.LoginRequest{Email: "ops@dormup.test", Password: "wrong"})
	assert.True(t, IsInvalidCredentials(err))
	_, err = flow.AdminLogin(ctx, &dto.LoginRequest{Email: "nobody@dormup.test", Password: testingutil.TestPassword})
	assert.True(t, IsInvalidCredentials(err))

	require.NoError(t, db.DB.Model(&models.Admin{}).Where("id = ?", admin.ID).Update("is_active", false).Error)
	_, err = flow.AdminLogin(ctx, &dto.LoginRequest{Email: "ops@dormup.test", Password: testingutil.TestPassword})
	assert.True(t, IsAccountInactive(err))
	_, err = flow.AdminFromSession(ctx, resp.Token)
	assert.True(t, IsInvalidCredentials(err), "sessions of deactivated admins stop working")
}

func TestPartnerLoginAndSession(t *testing.T) {
	flow, db, fx, tokens := newTestAuthFlow(t)
	ctx := context.Background()

	partner, err := fx.CreatePartner("Trattoria Da Mario", models.TierPro)
	require.NoError(t, err)

	resp, err := flow.PartnerLogin(ctx, &dto.LoginRequest{Email: partner.Email, Password: testingutil.TestPassword})
	require.NoError(t, err)
	assert.Equal(t, "Trattoria Da Mario", resp.Partner.VenueName)
	assert.Equal(t, "PRO", resp.Partner.SubscriptionTier)

	actor, err := flow.PartnerFromSession(ctx, resp.Token)
	require.NoError(t, err)
	assert.True(t, actor.IsPartner())
	assert.Equal(t, models.TierPro, actor.Tier)

	// tier changes apply to existing sessions
	require.NoError(t, db.DB.Model(&models.Venue{}).Where("id = ?", partner.VenueID).Update("subscription_tier", models.TierMax).Error)
	actor, err = flow.PartnerFromSession(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, models.TierMax, actor.Tier)

	me, err := flow.Me(ctx, *actor)
	require.NoError(t, err)
	assert.Equal(t, "partner", me.Role)
	require.NotNil(t, me.Partner)
	assert.Equal(t, partner.ID, me.Partner.ID)

	// an admin session is not a partner session
	adminToken, err := tokens.GenerateAdminSession(1, "ops@dormup.test")
	require.NoError(t, err)
	_, err = flow.PartnerFromSession(ctx, adminToken)
	assert.True(t, IsInvalidCredentials(err))

	_, err = flow.PartnerFromSession(ctx, "garbage")
	assert.True(t, IsInvalidCredentials(err))
}

func TestAdminFromIdentity(t *testing.T) {
	flow, _, fx, _ := newTestAuthFlow(t)
	ctx := context.Background()

	_, err := fx.CreateProfile("staff-1", true)
	require.NoError(t, err)
	_, err = fx.CreateProfile("student-1", false)
	require.NoError(t, err)

	actor, err := flow.AdminFromIdentity(ctx, signIdentityToken(t, "staff-1"))
	require.NoError(t, err)
	assert.True(t, actor.IsAdmin())
	assert.Nil(t, actor.AdminID)
	assert.Equal(t, "admin:staff-1", actor.Ref())

	_, err = flow.AdminFromIdentity(ctx, signIdentityToken(t, "student-1"))
	assert.True(t, IsAccessDenied(err))

	_, err = flow.AdminFromIdentity(ctx, signIdentityToken(t, "unknown"))
	assert.True(t, IsAccessDenied(err))

	_, err = flow.AdminFromIdentity(ctx, "not-a-jwt")
	assert.True(t, IsInvalidCredentials(err))

	me, err := flow.Me(ctx, *actor)
	require.NoError(t, err)
	assert.Equal(t, "admin", me.Role)
	assert.Equal(t, "staff-1", me.UserID)
	assert.Nil(t, me.Admin)
}
