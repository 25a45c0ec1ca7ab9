package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Mosleh92/exchange-platform-v3-sub012/internal"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	// ErrInvalid covers malformed tokens, bad signatures and claim mismatches.
	ErrInvalid = errors.New("invalid token")
	// ErrExpired is returned only for tokens whose signature verified.
	ErrExpired = errors.New("token expired")
	// ErrDeviceMismatch is returned when a refresh token is presented from another device.
	ErrDeviceMismatch = errors.New("device mismatch")
)

// Config configures one Manager. Access and refresh tokens use separate
// managers with distinct secrets.
type Config struct {
	Secret       []byte
	Issuer       string
	Audience     string
	TTL          time.Duration
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Subject is the identity embedded in both token kinds.
type Subject struct {
	PrincipalID string
	TenantID    string
	Role        string
	TwoFactor   bool
	SessionID   string
}

// DeviceBinding is what a refresh token is bound to.
type DeviceBinding struct {
	DeviceID  string
	UserAgent string
	IP        string
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	TID  string `json:"tid"`
	Role string `json:"role"`
	TFA  bool   `json:"tfa"`
	SID  string `json:"sid,omitempty"`
	Typ  string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token.
type RefreshClaims struct {
	TID  string `json:"tid"`
	Role string `json:"role"`
	TFA  bool   `json:"tfa"`
	SID  string `json:"sid"`
	Typ  string `json:"typ"`
	DID  string `json:"did"`
	UA   string `json:"ua,omitempty"`
	IPH  string `json:"iph,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and parses HS256 tokens.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt: secret required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("jwt: invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > time.Hour {
		return nil, errors.New("jwt: invalid MaxFutureIAT configuration")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("jwt: issuer and audience required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{config: cfg}, nil
}

// TTL returns the configured lifetime.
func (m *Manager) TTL() time.Duration { return m.config.TTL }

func (m *Manager) registered(s Subject, id string) jwt.RegisteredClaims {
	now := m.config.Now()
	return jwt.RegisteredClaims{
		ID:        id,
		Subject:   s.PrincipalID,
		Issuer:    m.config.Issuer,
		Audience:  jwt.ClaimStrings{m.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
	}
}

// IssueAccess signs an access token for s.
func (m *Manager) IssueAccess(s Subject) (string, *AccessClaims, error) {
	if s.PrincipalID == "" || s.TenantID == "" {
		return "", nil, errors.New("jwt: subject requires principal and tenant")
	}
	claims := &AccessClaims{
		TID:              s.TenantID,
		Role:             s.Role,
		TFA:              s.TwoFactor,
		SID:              s.SessionID,
		Typ:              typeAccess,
		RegisteredClaims: m.registered(s, uuid.NewString()),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.Secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// IssueRefresh signs a refresh token for s bound to device.
func (m *Manager) IssueRefresh(s Subject, device DeviceBinding) (string, *RefreshClaims, error) {
	if s.PrincipalID == "" || s.TenantID == "" {
		return "", nil, errors.New("jwt: subject requires principal and tenant")
	}
	if device.DeviceID == "" {
		return "", nil, errors.New("jwt: refresh requires a device id")
	}
	claims := &RefreshClaims{
		TID:              s.TenantID,
		Role:             s.Role,
		TFA:              s.TwoFactor,
		SID:              s.SessionID,
		Typ:              typeRefresh,
		DID:              device.DeviceID,
		UA:               device.UserAgent,
		IPH:              internal.HashBindingValue(device.IP),
		RegisteredClaims: m.registered(s, uuid.NewString()),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.Secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// ParseAccess verifies an access token.
func (m *Manager) ParseAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(token, claims); err != nil {
		return nil, err
	}
	if claims.Typ != typeAccess || claims.TID == "" {
		return nil, fmt.Errorf("%w: not an access token", ErrInvalid)
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token.
func (m *Manager) ParseRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(token, claims); err != nil {
		return nil, err
	}
	if claims.Typ != typeRefresh || claims.TID == "" || claims.DID == "" {
		return nil, fmt.Errorf("%w: not a refresh token", ErrInvalid)
	}
	return claims, nil
}

func (m *Manager) parse(token string, claims jwt.Claims) error {
	if token == "" {
		return fmt.Errorf("%w: empty", ErrInvalid)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithAudience(m.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.config.Now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.config.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid {
		return ErrInvalid
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return fmt.Errorf("%w: missing subject", ErrInvalid)
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return fmt.Errorf("%w: missing iat", ErrInvalid)
	}
	if iat.Time.After(m.config.Now().Add(m.config.MaxFutureIAT)) {
		return fmt.Errorf("%w: iat too far in the future", ErrInvalid)
	}
	return nil
}

// CheckDevice compares the presenter's device with the binding inside a
// refresh token. The device id must match. User agent and IP must also
// match when strict is set.
func CheckDevice(claims *RefreshClaims, presented DeviceBinding, strict bool) error {
	if claims == nil || presented.DeviceID == "" || presented.DeviceID != claims.DID {
		return ErrDeviceMismatch
	}
	if !strict {
		return nil
	}
	if claims.UA != "" && claims.UA != presented.UserAgent {
		return ErrDeviceMismatch
	}
	if claims.IPH != "" && claims.IPH != internal.HashBindingValue(presented.IP) {
		return ErrDeviceMismatch
	}
	return nil
}

// Remaining returns how long a token with the given expiry still lives.
func Remaining(exp *jwt.NumericDate, now time.Time) time.Duration {
	if exp == nil {
		return 0
	}
	return exp.Time.Sub(now)
}
