// Package config loads process settings from an optional YAML file and the
// environment. Environment values win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	authkernel "github.com/Mosleh92/exchange-platform-v3-sub012"
	"github.com/Mosleh92/exchange-platform-v3-sub012/secrets"
)

// Settings is everything the binary needs to start.
type Settings struct {
	Engine authkernel.Config

	HTTPAddr        string
	TrustProxy      bool
	ShutdownTimeout time.Duration
	RedisURL        string
	DatabaseURL     string
	LogLevel        string
}

// File is the YAML layout. Lifetimes use the "15m" / "7d" grammar.
type File struct {
	App struct {
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr            string `yaml:"addr"`
		TrustProxy      bool   `yaml:"trust_proxy"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	JWT struct {
		Issuer              string `yaml:"issuer"`
		Audience            string `yaml:"audience"`
		AccessTTL           string `yaml:"access_ttl"`
		RefreshTTL          string `yaml:"refresh_ttl"`
		RotateRefresh       bool   `yaml:"rotate_refresh"`
		StrictDeviceBinding bool   `yaml:"strict_device_binding"`
	} `yaml:"jwt"`

	Lockout struct {
		Threshold int    `yaml:"threshold"`
		Window    string `yaml:"window"`
		Duration  string `yaml:"duration"`
	} `yaml:"lockout"`

	Session struct {
		MaxSessions int `yaml:"max_sessions"`
	} `yaml:"session"`

	TwoFactor struct {
		Issuer string `yaml:"issuer"`
	} `yaml:"two_factor"`

	Fraud struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"fraud"`
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		Engine:          authkernel.DefaultConfig(),
		HTTPAddr:        ":8080",
		ShutdownTimeout: 15 * time.Second,
		LogLevel:        "info",
	}
}

// Load reads path (skipped when empty) and then the environment. It does
// not validate secrets; the engine builder does.
func Load(path string) (*Settings, error) {
	s := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		var f File
		if err := yaml.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := s.applyFile(&f); err != nil {
			return nil, err
		}
	}
	if err := s.applyEnv(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) applyFile(f *File) error {
	if f.App.Env != "" {
		s.Engine.Profile = secrets.ParseProfile(f.App.Env)
	}
	setStr(&s.HTTPAddr, f.Server.Addr)
	s.TrustProxy = s.TrustProxy || f.Server.TrustProxy
	setStr(&s.RedisURL, f.Redis.URL)
	setStr(&s.DatabaseURL, f.Database.URL)
	setStr(&s.LogLevel, f.Log.Level)

	cfg := &s.Engine
	setStr(&cfg.Token.Issuer, f.JWT.Issuer)
	setStr(&cfg.Token.Audience, f.JWT.Audience)
	cfg.Token.RotateRefresh = cfg.Token.RotateRefresh || f.JWT.RotateRefresh
	cfg.Token.StrictDeviceBinding = cfg.Token.StrictDeviceBinding || f.JWT.StrictDeviceBinding
	if f.Lockout.Threshold > 0 {
		cfg.Lockout.Threshold = f.Lockout.Threshold
	}
	if f.Session.MaxSessions > 0 {
		cfg.Session.MaxSessions = f.Session.MaxSessions
	}
	setStr(&cfg.TwoFactor.Issuer, f.TwoFactor.Issuer)
	if f.Fraud.Enabled != nil {
		cfg.Fraud.Enabled = *f.Fraud.Enabled
	}

	for _, d := range []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"server.shutdown_timeout", f.Server.ShutdownTimeout, &s.ShutdownTimeout},
		{"jwt.access_ttl", f.JWT.AccessTTL, &cfg.Token.AccessTTL},
		{"jwt.refresh_ttl", f.JWT.RefreshTTL, &cfg.Token.RefreshTTL},
		{"lockout.window", f.Lockout.Window, &cfg.Lockout.Window},
		{"lockout.duration", f.Lockout.Duration, &cfg.Lockout.Duration},
	} {
		if err := setDuration(d.dst, d.raw, d.field); err != nil {
			return err
		}
	}
	return nil
}

func (s *Settings) applyEnv() error {
	if v, ok := getEnvStr("APP_ENV"); ok {
		s.Engine.Profile = secrets.ParseProfile(v)
	}
	cfg := &s.Engine
	for key, dst := range map[string]*string{
		"JWT_ACCESS_SECRET":  &cfg.Token.AccessSecret,
		"JWT_REFRESH_SECRET": &cfg.Token.RefreshSecret,
		"SESSION_SECRET":     &cfg.Token.SessionSecret,
		"JWT_ISSUER":         &cfg.Token.Issuer,
		"JWT_AUDIENCE":       &cfg.Token.Audience,
		"TOTP_ISSUER":        &cfg.TwoFactor.Issuer,
		"HTTP_ADDR":          &s.HTTPAddr,
		"REDIS_URL":          &s.RedisURL,
		"DATABASE_URL":       &s.DatabaseURL,
		"LOG_LEVEL":          &s.LogLevel,
	} {
		if v, ok := getEnvStr(key); ok {
			*dst = v
		}
	}

	for key, dst := range map[string]*time.Duration{
		"JWT_ACCESS_EXPIRES":  &cfg.Token.AccessTTL,
		"JWT_REFRESH_EXPIRES": &cfg.Token.RefreshTTL,
	} {
		if v, ok := getEnvStr(key); ok {
			if err := setDuration(dst, v, key); err != nil {
				return err
			}
		}
	}

	for key, dst := range map[string]*bool{
		"TRUST_PROXY":           &s.TrustProxy,
		"JWT_ROTATE_REFRESH":    &cfg.Token.RotateRefresh,
		"STRICT_DEVICE_BINDING": &cfg.Token.StrictDeviceBinding,
		"FRAUD_ENABLED":         &cfg.Fraud.Enabled,
	} {
		if v, ok := getEnvBool(key); ok {
			*dst = v
		}
	}
	if v, ok := getEnvInt("MAX_SESSIONS"); ok && v > 0 {
		cfg.Session.MaxSessions = v
	}
	return nil
}

// LoggerEnv picks the log encoder: JSON in production, console elsewhere.
func (s *Settings) LoggerEnv() string {
	if s.Engine.Profile == secrets.ProfileProduction {
		return "production"
	}
	return "development"
}

func setStr(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, raw, field string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := secrets.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", authkernel.ErrConfigInvalid, field, err)
	}
	*dst = d
	return nil
}

func getEnvStr(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(s); err == nil {
			return b, true
		}
	}
	return false, false
}
