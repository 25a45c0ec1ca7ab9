package authkernel

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mosleh92/exchange-platform-v3-sub012/fraud"
	"github.com/Mosleh92/exchange-platform-v3-sub012/password"
	"github.com/Mosleh92/exchange-platform-v3-sub012/secrets"
	"github.com/Mosleh92/exchange-platform-v3-sub012/twofactor"
)

// Config is the full engine configuration. Build it with DefaultConfig and
// override fields; the Builder validates it once.
type Config struct {
	Profile   secrets.Profile
	Token     TokenConfig
	Lockout   LockoutConfig
	Session   SessionConfig
	Challenge ChallengeConfig
	TwoFactor TwoFactorConfig
	Password  password.Config
	Redis     RedisConfig
	Audit     AuditConfig
	Fraud     FraudConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig holds the signing secrets and token lifetimes.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	SessionSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Audience      string
	Leeway        time.Duration
	// RotateRefresh revokes the presented refresh token on every refresh.
	RotateRefresh bool
	// StrictDeviceBinding rejects a refresh whose user agent or IP differ
	// from the binding. Without it only the device id must match.
	StrictDeviceBinding bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig is the failed-login policy: Threshold failures within
// Window lock the account for Duration.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
	Duration  time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	MaxSessions int
	OpTimeout   time.Duration
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// ChallengeConfig bounds the login challenge issued to 2FA principals.
type ChallengeConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

type TwoFactorConfig struct {
	Issuer            string
	Skew              uint
	RecoveryCodeCount int
	SMSCodeTTL        time.Duration
	SMSMaxAttempts    int
}

/*
====================================
BACKEND CONFIG
====================================
*/

type RedisConfig struct {
	OpTimeout     time.Duration
	ProbeInterval time.Duration
}

type AuditConfig struct {
	BufferSize int
	DropIfFull bool
	// NotifyPerMinute throttles escalations of failed financial events.
	NotifyPerMinute int
	NotifyBurst     int
}

type FraudConfig struct {
	Enabled bool
	Rules   fraud.RuleConfig
	Windows []fraud.Window
}

// DefaultConfig returns production defaults without secrets.
func DefaultConfig() Config {
	return Config{
		Profile: secrets.ProfileDevelopment,
		Token: TokenConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * secrets.Day,
			Issuer:     "exchange-platform",
			Audience:   "exchange-platform-api",
			Leeway:     5 * time.Second,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
			Duration:  30 * time.Minute,
		},
		Session: SessionConfig{
			MaxSessions: 10,
			OpTimeout:   500 * time.Millisecond,
		},
		Challenge: ChallengeConfig{
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:            twofactor.DefaultIssuer,
			Skew:              2,
			RecoveryCodeCount: 8,
			SMSCodeTTL:        10 * time.Minute,
			SMSMaxAttempts:    5,
		},
		Password: password.DefaultConfig(),
		Redis: RedisConfig{
			OpTimeout:     250 * time.Millisecond,
			ProbeInterval: 5 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize:      1024,
			DropIfFull:      true,
			NotifyPerMinute: 6,
			NotifyBurst:     3,
		},
		Fraud: FraudConfig{
			Enabled: true,
			Windows: fraud.DefaultWindows(),
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Fraud.Windows = append([]fraud.Window(nil), cfg.Fraud.Windows...)
	return out
}

// SecretsInput is the validator view of the token section.
func (c *Config) SecretsInput() secrets.Input {
	return secrets.Input{
		AccessSecret:    c.Token.AccessSecret,
		RefreshSecret:   c.Token.RefreshSecret,
		SessionSecret:   c.Token.SessionSecret,
		AccessLifetime:  secrets.FormatDuration(c.Token.AccessTTL),
		RefreshLifetime: secrets.FormatDuration(c.Token.RefreshTTL),
	}
}

// Validate checks secrets through the secrets validator and the remaining
// sections locally. Every error wraps ErrConfigInvalid.
func (c *Config) Validate() error {
	_, err := c.validate()
	return err
}

func (c *Config) validate() (secrets.Report, error) {
	report, err := secrets.Validate(c.SecretsInput(), c.Profile)

	var problems []string
	if err != nil {
		problems = append(problems, report.Errors...)
		if len(report.Errors) == 0 {
			problems = append(problems, err.Error())
		}
	}
	if strings.TrimSpace(c.Token.Issuer) == "" || strings.TrimSpace(c.Token.Audience) == "" {
		problems = append(problems, "token issuer and audience are required")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		problems = append(problems, "token leeway must be within 0..2m")
	}
	if c.Lockout.Threshold <= 0 || c.Lockout.Window <= 0 || c.Lockout.Duration <= 0 {
		problems = append(problems, "lockout threshold, window and duration must be positive")
	}
	if c.Session.MaxSessions <= 0 {
		problems = append(problems, "session cap must be positive")
	}
	if c.Challenge.TTL <= 0 || c.Challenge.MaxAttempts <= 0 {
		problems = append(problems, "two-factor challenge ttl and attempts must be positive")
	}
	if c.TwoFactor.Skew > 10 {
		problems = append(problems, "two-factor skew must not exceed 10 steps")
	}
	if c.Redis.OpTimeout <= 0 {
		problems = append(problems, "redis op timeout must be positive")
	}
	if c.Audit.BufferSize < 0 {
		problems = append(problems, "audit buffer size must not be negative")
	}

	if len(problems) == 0 {
		return report, nil
	}
	return report, fmt.Errorf("%w: %s", ErrConfigInvalid, strings.Join(problems, "; "))
}

var errBuilderUsed = errors.New("builder already used")
