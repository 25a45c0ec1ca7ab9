package session

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for a missing session or refresh record.
	ErrNotFound = errors.New("session not found")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("session store unavailable")
)

// Session is one entry of a principal's active session list.
type Session struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	TenantID    string    `json:"tenant_id"`
	DeviceID    string    `json:"device_id"`
	UserAgent   string    `json:"user_agent,omitempty"`
	IP          string    `json:"ip,omitempty"`
	LoginAt     time.Time `json:"login_at"`
	RefreshHash string    `json:"refresh_hash,omitempty"`
	RefreshedAt time.Time `json:"refreshed_at,omitempty"`
}

// RefreshRecord is stored under the hash of an issued refresh token.
type RefreshRecord struct {
	Hash        string    `json:"-"`
	PrincipalID string    `json:"principal_id"`
	TenantID    string    `json:"tenant_id"`
	SessionID   string    `json:"session_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Config bounds the session list.
type Config struct {
	// MaxSessions caps the list; the oldest sessions are evicted on overflow.
	MaxSessions int
	// TTL is how long an idle list is kept, normally the refresh lifetime.
	TTL       time.Duration
	OpTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 10
	}
	if c.TTL <= 0 {
		c.TTL = 7 * 24 * time.Hour
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 500 * time.Millisecond
	}
	return c
}
