package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleDevice is the role carried by kiosk tokens.
const RoleDevice = "device"

// Token types. Only access tokens authorize requests; refresh tokens are only
// exchanged for a new pair.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrInvalidEnrollment = errors.New("invalid enrollment key")
)

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	Subject      string    `json:"-"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	AccessExp    time.Time `json:"access_expires_at"`
	RefreshExp   time.Time `json:"refresh_expires_at"`
}

// Claims represents JWT payload.
type Claims struct {
	Role string `json:"role"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 device tokens.
type Tokens struct {
	Issuer        string
	Key           string
	EnrollmentKey string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	now func() time.Time
}

// NewTokens creates a token service.
func NewTokens(issuer, key, enrollmentKey string, accessTTL, refreshTTL time.Duration) *Tokens {
	return &Tokens{
		Issuer:        issuer,
		Key:           key,
		EnrollmentKey: enrollmentKey,
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// Enroll issues a token pair for deviceID when enrollmentKey matches the
// configured key. An empty configured key rejects every enrollment.
func (t *Tokens) Enroll(deviceID, enrollmentKey string) (TokenPair, error) {
	if t.EnrollmentKey == "" || subtle.ConstantTimeCompare([]byte(enrollmentKey), []byte(t.EnrollmentKey)) != 1 {
		return TokenPair{}, ErrInvalidEnrollment
	}
	return t.Issue(deviceID, RoleDevice)
}

// Issue issues signed access and refresh tokens.
func (t *Tokens) Issue(subject, role string) (TokenPair, error) {
	now := t.now()
	accessExp := now.Add(t.AccessTTL)
	refreshExp := now.Add(t.RefreshTTL)

	access, err := t.sign(subject, role, TypeAccess, now, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := t.sign(subject, role, TypeRefresh, now, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		Subject:      subject,
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

// Refresh exchanges a valid refresh token for a new pair with the same
// subject and role.
func (t *Tokens) Refresh(refreshToken string) (TokenPair, error) {
	claims, err := t.Parse(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if claims.Type != TypeRefresh {
		return TokenPair{}, ErrInvalidToken
	}
	return t.Issue(claims.Subject, claims.Role)
}

func (t *Tokens) sign(subject, role, typ string, now, exp time.Time) (string, error) {
	claims := Claims{
		Role: role,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.Key))
}

// Parse validates a token and returns claims.
func (t *Tokens) Parse(tokenStr string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	}
	if t.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(t.Key), nil
	}, opts...)
	if err != nil {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	return *claims, nil
}
