// Package services provides technical concerns like tokens, storage, rendering and background jobs
package services

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dormup/dormup-discounts/utils"
	"github.com/golang-jwt/jwt/v5"
)

// Token service error constants
var (
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenInvalid   = errors.New("invalid token")
	ErrTokenWrongKind = errors.New("token kind mismatch")
)

const (
	tokenKindAdminSession   = "admin_session"
	tokenKindPartnerSession = "partner_session"
	tokenKindReport         = "report"
)

// TokenService signs and verifies session cookies, print-route report tokens
// and bearer tokens issued by the external identity provider
type TokenService interface {
	GenerateAdminSession(adminID uint, email string) (string, error)
	ValidateAdminSession(token string) (*AdminSessionClaims, error)
	GeneratePartnerSession(partnerID, venueID uint, email string) (string, error)
	ValidatePartnerSession(token string) (*PartnerSessionClaims, error)
	GenerateReportToken(payload ReportTokenPayload) (string, error)
	ValidateReportToken(token string) (*ReportTokenClaims, error)
	ValidateIdentityToken(token string) (*IdentityClaims, error)
	SessionTTL() time.Duration
}

// AdminSessionClaims is carried by the admin_session cookie
type AdminSessionClaims struct {
	AdminID uint   `json:"admin_id"`
	Email   string `json:"email"`
	Kind    string `json:"kind"`
	jwt.RegisteredClaims
}

// PartnerSessionClaims is carried by the partner_session cookie
type PartnerSessionClaims struct {
	PartnerID uint   `json:"partner_id"`
	VenueID   uint   `json:"venue_id"`
	Email     string `json:"email"`
	Kind      string `json:"kind"`
	jwt.RegisteredClaims
}

// ReportTokenPayload describes what a print-route request may render
type ReportTokenPayload struct {
	Scope     string `json:"scope"`
	Month     string `json:"month"`
	PartnerID *uint  `json:"partner_id,omitempty"`
	VenueID   *uint  `json:"venue_id,omitempty"`
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
}

// ReportTokenClaims is the verified form of a report token
type ReportTokenClaims struct {
	ReportTokenPayload
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// IdentityClaims are the fields read from an identity-provider access token
type IdentityClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenServiceImpl implements TokenService with HS256 keys
type TokenServiceImpl struct {
	sessionTTL     time.Duration
	reportTokenTTL time.Duration
	adminSecret    []byte
	partnerSecret  []byte
	reportSecret   []byte
	identitySecret []byte
	issuer         string
}

// NewTokenService creates a new token service. identitySecret may be empty, which
// disables identity-provider bearer tokens.
func NewTokenService(sessionTTL, reportTokenTTL time.Duration, issuer, adminSecret, partnerSecret, reportSecret, identitySecret string) (TokenService, error) {
	if adminSecret == "" {
		return nil, fmt.Errorf("admin session secret is required")
	}
	if partnerSecret == "" {
		return nil, fmt.Errorf("partner session secret is required")
	}
	if reportSecret == "" {
		reportSecret = adminSecret
	}
	if sessionTTL <= 0 || reportTokenTTL <= 0 {
		return nil, fmt.Errorf("token TTLs must be positive")
	}

	var identity []byte
	if identitySecret != "" {
		identity = []byte(identitySecret)
	}

	return &TokenServiceImpl{
		sessionTTL:     sessionTTL,
		reportTokenTTL: reportTokenTTL,
		adminSecret:    []byte(adminSecret),
		partnerSecret:  []byte(partnerSecret),
		reportSecret:   []byte(reportSecret),
		identitySecret: identity,
		issuer:         issuer,
	}, nil
}

func (s *TokenServiceImpl) SessionTTL() time.Duration {
	return s.sessionTTL
}

func (s *TokenServiceImpl) registered(subject string, ttl time.Duration) (jwt.RegisteredClaims, error) {
	id, err := generateTokenID()
	if err != nil {
		return jwt.RegisteredClaims{}, err
	}
	now := utils.UTCNow()
	return jwt.RegisteredClaims{
		ID:        id,
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}, nil
}

func sign(claims jwt.Claims, key []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func parse(token string, claims jwt.Claims, key []byte) error {
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}
	return nil
}

// GenerateAdminSession signs a session token for the admin_session cookie
func (s *TokenServiceImpl) GenerateAdminSession(adminID uint, email string) (string, error) {
	rc, err := s.registered(fmt.Sprintf("admin:%d", adminID), s.sessionTTL)
	if err != nil {
		return "", err
	}
	return sign(&AdminSessionClaims{AdminID: adminID, Email: email, Kind: tokenKindAdminSession, RegisteredClaims: rc}, s.adminSecret)
}

func (s *TokenServiceImpl) ValidateAdminSession(token string) (*AdminSessionClaims, error) {
	claims := &AdminSessionClaims{}
	if err := parse(token, claims, s.adminSecret); err != nil {
		return nil, err
	}
	if claims.Kind != tokenKindAdminSession || claims.AdminID == 0 {
		return nil, ErrTokenWrongKind
	}
	return claims, nil
}

// GeneratePartnerSession signs a session token for the partner_session cookie
func (s *TokenServiceImpl) GeneratePartnerSession(partnerID, venueID uint, email string) (string, error) {
	rc, err := s.registered(fmt.Sprintf("partner:%d", partnerID), s.sessionTTL)
	if err != nil {
		return "", err
	}
	return sign(&PartnerSessionClaims{PartnerID: partnerID, VenueID: venueID, Email: email, Kind: tokenKindPartnerSession, RegisteredClaims: rc}, s.partnerSecret)
}

func (s *TokenServiceImpl) ValidatePartnerSession(token string) (*PartnerSessionClaims, error) {
	claims := &PartnerSessionClaims{}
	if err := parse(token, claims, s.partnerSecret); err != nil {
		return nil, err
	}
	if claims.Kind != tokenKindPartnerSession || claims.PartnerID == 0 {
		return nil, ErrTokenWrongKind
	}
	return claims, nil
}

// GenerateReportToken signs a short-lived token granting one print-route render
func (s *TokenServiceImpl) GenerateReportToken(payload ReportTokenPayload) (string, error) {
	rc, err := s.registered(payload.UserID, s.reportTokenTTL)
	if err != nil {
		return "", err
	}
	return sign(&ReportTokenClaims{ReportTokenPayload: payload, Kind: tokenKindReport, RegisteredClaims: rc}, s.reportSecret)
}

func (s *TokenServiceImpl) ValidateReportToken(token string) (*ReportTokenClaims, error) {
	claims := &ReportTokenClaims{}
	if err := parse(token, claims, s.reportSecret); err != nil {
		return nil, err
	}
	if claims.Kind != tokenKindReport {
		return nil, ErrTokenWrongKind
	}
	return claims, nil
}

// ValidateIdentityToken verifies an HS256 access token issued by the identity provider
func (s *TokenServiceImpl) ValidateIdentityToken(token string) (*IdentityClaims, error) {
	if s.identitySecret == nil {
		return nil, ErrTokenInvalid
	}
	claims := &IdentityClaims{}
	if err := parse(token, claims, s.identitySecret); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// generateTokenID generates a unique token ID
func generateTokenID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token ID: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
