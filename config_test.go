package authkernel

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Mosleh92/exchange-platform-v3-sub012/store/memory"
)

func TestConfigValidate(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"missing issuer":     {func(c *Config) { c.Token.Issuer = " " }, "issuer and audience"},
		"leeway too wide":    {func(c *Config) { c.Token.Leeway = 5 * time.Minute }, "leeway"},
		"zero lockout":       {func(c *Config) { c.Lockout.Threshold = 0 }, "lockout"},
		"zero session cap":   {func(c *Config) { c.Session.MaxSessions = 0 }, "session cap"},
		"challenge attempts": {func(c *Config) { c.Challenge.MaxAttempts = 0 }, "challenge"},
		"skew":               {func(c *Config) { c.TwoFactor.Skew = 11 }, "skew"},
		"redis timeout":      {func(c *Config) { c.Redis.OpTimeout = 0 }, "redis op timeout"},
		"access outlives refresh": {func(c *Config) {
			c.Token.AccessTTL = 8 * 24 * time.Hour
		}, "shorter than refresh"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrConfigInvalid) {
				t.Fatalf("expected ErrConfigInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}

	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config must validate: %v", err)
	}
}

func TestBuilderRejectsInvalidUse(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected error without a directory")
	}

	b := New().WithConfig(testConfig()).WithDirectory(memory.New())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); !errors.Is(err, errBuilderUsed) {
		t.Fatalf("expected errBuilderUsed, got %v", err)
	}

	bad := testConfig()
	bad.Token.AccessSecret = ""
	if _, err := New().WithConfig(bad).WithDirectory(memory.New()).Build(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for empty secret, got %v", err)
	}
}
