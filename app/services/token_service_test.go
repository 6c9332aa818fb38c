package services

import (
	"testing"
	"time"

	"github.com/dormup/dormup-discounts/utils"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAdminSecret    = "admin-secret-key-for-session-signing-32"
	testPartnerSecret  = "partner-secret-key-for-session-signing"
	testReportSecret   = "report-secret-key-for-print-route-token"
	testIdentitySecret = "identity-provider-shared-secret-value!"
)

func createTestTokenService(t *testing.T) TokenService {
	t.Helper()
	svc, err := NewTokenService(7*24*time.Hour, 300*time.Second, "test-issuer",
		testAdminSecret, testPartnerSecret, testReportSecret, testIdentitySecret)
	require.NoError(t, err)
	return svc
}

func TestNewTokenService(t *testing.T) {
	tests := []struct {
		name          string
		adminSecret   string
		partnerSecret string
		sessionTTL    time.Duration
		expectError   bool
	}{
		{name: "valid configuration", adminSecret: testAdminSecret, partnerSecret: testPartnerSecret, sessionTTL: time.Hour},
		{name: "missing admin secret", partnerSecret: testPartnerSecret, sessionTTL: time.Hour, expectError: true},
		{name: "missing partner secret", adminSecret: testAdminSecret, sessionTTL: time.Hour, expectError: true},
		{name: "non-positive ttl", adminSecret: testAdminSecret, partnerSecret: testPartnerSecret, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewTokenService(tt.sessionTTL, time.Minute, "issuer", tt.adminSecret, tt.partnerSecret, "", "")
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.sessionTTL, svc.SessionTTL())
		})
	}
}

func TestAdminSession(t *testing.T) {
	svc := createTestTokenService(t)

	token, err := svc.GenerateAdminSession(7, "ops@dormup.it")
	require.NoError(t, err)

	claims, err := svc.ValidateAdminSession(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.AdminID)
	assert.Equal(t, "ops@dormup.it", claims.Email)
	assert.Equal(t, "admin:7", claims.Subject)
	assert.Equal(t, "test-issuer", claims.Issuer)

	t.Run("partner secret does not verify admin cookie", func(t *testing.T) {
		_, err := svc.ValidatePartnerSession(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("tampered token", func(t *testing.T) {
		_, err := svc.ValidateAdminSession(token + "x")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}

func TestPartnerSession(t *testing.T) {
	svc := createTestTokenService(t)

	token, err := svc.GeneratePartnerSession(3, 12, "bar@venue.it")
	require.NoError(t, err)

	claims, err := svc.ValidatePartnerSession(token)
	require.NoError(t, err)
	assert.Equal(t, uint(3), claims.PartnerID)
	assert.Equal(t, uint(12), claims.VenueID)

	_, err = svc.ValidateAdminSession(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestReportToken(t *testing.T) {
	svc := createTestTokenService(t)

	partnerID := uint(3)
	token, err := svc.GenerateReportToken(ReportTokenPayload{
		Scope:     "partner",
		Month:     "2024-01",
		PartnerID: &partnerID,
		UserID:    "partner:3",
		Type:      "partner",
	})
	require.NoError(t, err)

	claims, err := svc.ValidateReportToken(token)
	require.NoError(t, err)
	assert.Equal(t, "partner", claims.Scope)
	assert.Equal(t, "2024-01", claims.Month)
	require.NotNil(t, claims.PartnerID)
	assert.Equal(t, partnerID, *claims.PartnerID)
	assert.WithinDuration(t, utils.UTCNow().Add(300*time.Second), claims.ExpiresAt.Time, 5*time.Second)

	t.Run("session token is not a report token", func(t *testing.T) {
		shared, err := NewTokenService(time.Hour, time.Minute, "i", testAdminSecret, testPartnerSecret, "", "")
		require.NoError(t, err)
		session, err := shared.GenerateAdminSession(1, "a@b.c")
		require.NoError(t, err)
		_, err = shared.ValidateReportToken(session)
		assert.ErrorIs(t, err, ErrTokenWrongKind)
	})

	t.Run("expired report token", func(t *testing.T) {
		past := utils.UTCNow().Add(-time.Hour)
		expired, err := sign(&ReportTokenClaims{
			ReportTokenPayload: ReportTokenPayload{Scope: "admin", Month: "2024-01"},
			Kind:               tokenKindReport,
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(past.Add(-time.Minute)),
				ExpiresAt: jwt.NewNumericDate(past),
			},
		}, []byte(testReportSecret))
		require.NoError(t, err)

		_, err = svc.ValidateReportToken(expired)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})
}

func TestValidateIdentityToken(t *testing.T) {
	svc := createTestTokenService(t)

	signIdentity := func(subject string, secret string) string {
		token, err := sign(&IdentityClaims{
			Email: "student@uni.it",
			Role:  "authenticated",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   subject,
				ExpiresAt: jwt.NewNumericDate(utils.UTCNow().Add(time.Hour)),
			},
		}, []byte(secret))
		require.NoError(t, err)
		return token
	}

	claims, err := svc.ValidateIdentityToken(signIdentity("user-123", testIdentitySecret))
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, "student@uni.it", claims.Email)

	_, err = svc.ValidateIdentityToken(signIdentity("", testIdentitySecret))
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.ValidateIdentityToken(signIdentity("user-123", "another-secret"))
	assert.ErrorIs(t, err, ErrTokenInvalid)

	t.Run("disabled without identity secret", func(t *testing.T) {
		noIdP, err := NewTokenService(time.Hour, time.Minute, "i", testAdminSecret, testPartnerSecret, "", "")
		require.NoError(t, err)
		_, err = noIdP.ValidateIdentityToken(signIdentity("user-123", testIdentitySecret))
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}
