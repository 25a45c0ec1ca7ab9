package authkernel

import (
	"time"

	"github.com/Mosleh92/exchange-platform-v3-sub012/session"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
)

// LoginRequest is the credential presentation of one login.
type LoginRequest struct {
	TenantID   string
	Identifier string
	Password   string
	// DeviceID binds the refresh token. Empty means a new device id is
	// minted and returned in the result.
	DeviceID string
}

// TokenPair is a freshly issued access and refresh token.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	DeviceID         string
}

// LoginResult is either a token pair or a pending two-factor challenge.
type LoginResult struct {
	Tokens            *TokenPair
	RequiresTwoFactor bool
	ChallengeID       string
	ChallengeExpires  time.Time
	Principal         *store.Principal
}

// LogoutOptions widen a logout beyond the presented access token.
type LogoutOptions struct {
	RefreshToken string
	SessionID    string
	All          bool
}

// Identity is a verified access token.
type Identity struct {
	PrincipalID string
	TenantID    string
	Role        store.Role
	SessionID   string
	TwoFactor   bool
	TokenID     string
	Token       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Session is one active login as shown to its owner.
type Session = session.Session
