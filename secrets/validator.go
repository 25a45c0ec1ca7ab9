package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MinSecretBytes is the minimum accepted length of any signing secret.
const MinSecretBytes = 32

const (
	maxAccessLifetime  = 24 * time.Hour
	maxRefreshLifetime = 30 * Day
	generatedBytes     = 64
)

// ErrConfigInvalid marks a configuration that must not be started.
var ErrConfigInvalid = errors.New("config invalid")

// Profile names the deployment environment.
type Profile string

const (
	ProfileDevelopment Profile = "development"
	ProfileTest        Profile = "test"
	ProfileProduction  Profile = "production"
)

// ParseProfile maps APP_ENV style values onto a Profile. Unknown values are
// treated as development.
func ParseProfile(s string) Profile {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production", "prod":
		return ProfileProduction
	case "test", "testing":
		return ProfileTest
	default:
		return ProfileDevelopment
	}
}

// placeholders is the closed list of values rejected outright.
var placeholders = map[string]struct{}{
	"your-secret-key-here": {},
	"your-secret-key":      {},
	"your-jwt-secret":      {},
	"your-refresh-secret":  {},
	"secret":               {},
	"secretkey":            {},
	"secret-key":           {},
	"jwtsecret":            {},
	"jwt-secret":           {},
	"accesssecret":         {},
	"access-secret":        {},
	"refreshsecret":        {},
	"refresh-secret":       {},
	"sessionsecret":        {},
	"session-secret":       {},
	"changeme":             {},
	"change-me":            {},
	"password":             {},
	"default":              {},
	"test":                 {},
	"example":              {},
}

var placeholderHints = []string{"secret", "changeme", "change-me", "example", "your-", "placeholder"}

// Input carries the raw values read from the environment.
type Input struct {
	AccessSecret    string
	RefreshSecret   string
	SessionSecret   string
	AccessLifetime  string
	RefreshLifetime string
}

// Warning is a non-fatal finding. Placeholder warnings become errors in
// the production profile.
type Warning struct {
	Field       string
	Message     string
	Placeholder bool
}

func (w Warning) String() string {
	return w.Field + ": " + w.Message
}

// Report is the outcome of Validate.
type Report struct {
	Warnings        []Warning
	Errors          []string
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
}

// OK reports whether no errors were found.
func (r Report) OK() bool { return len(r.Errors) == 0 }

// Validate checks the signing secrets and token lifetimes. The returned error
// wraps ErrConfigInvalid and lists every problem found; the report is
// returned in both cases.
func Validate(in Input, profile Profile) (Report, error) {
	var r Report

	checkSecret(&r, "access secret", in.AccessSecret)
	checkSecret(&r, "refresh secret", in.RefreshSecret)
	checkSecret(&r, "session secret", in.SessionSecret)

	if in.AccessSecret != "" && in.AccessSecret == in.RefreshSecret {
		r.Warnings = append(r.Warnings, Warning{
			Field:   "refresh secret",
			Message: "equals access secret; use distinct secrets",
		})
	}

	access, accessErr := ParseDuration(strings.TrimSpace(in.AccessLifetime))
	if accessErr != nil {
		r.Errors = append(r.Errors, "access lifetime: "+accessErr.Error())
	}
	refresh, refreshErr := ParseDuration(strings.TrimSpace(in.RefreshLifetime))
	if refreshErr != nil {
		r.Errors = append(r.Errors, "refresh lifetime: "+refreshErr.Error())
	}
	if accessErr == nil && refreshErr == nil {
		r.AccessLifetime, r.RefreshLifetime = access, refresh
		if access <= 0 {
			r.Errors = append(r.Errors, "access lifetime: must be positive")
		}
		if access >= refresh {
			r.Errors = append(r.Errors, fmt.Sprintf(
				"access lifetime %s must be shorter than refresh lifetime %s",
				FormatDuration(access), FormatDuration(refresh)))
		}
		if access > maxAccessLifetime {
			r.Warnings = append(r.Warnings, Warning{
				Field:   "access lifetime",
				Message: "exceeds 24h; 15m is recommended",
			})
		}
		if refresh > maxRefreshLifetime {
			r.Warnings = append(r.Warnings, Warning{
				Field:   "refresh lifetime",
				Message: "exceeds 30d; 7d is recommended",
			})
		}
	}

	if profile == ProfileProduction {
		for _, w := range r.Warnings {
			if w.Placeholder {
				r.Errors = append(r.Errors, w.String()+" (not allowed in production)")
			}
		}
	}

	if len(r.Errors) > 0 {
		return r, fmt.Errorf("%w: %s", ErrConfigInvalid, strings.Join(r.Errors, "; "))
	}
	return r, nil
}

func checkSecret(r *Report, field, value string) {
	if value == "" {
		r.Errors = append(r.Errors, field+": is required")
		return
	}

	normalized := strings.ToLower(strings.TrimSpace(value))
	if _, bad := placeholders[normalized]; bad {
		r.Errors = append(r.Errors, field+": is a known placeholder value")
		return
	}
	if len(value) < MinSecretBytes {
		r.Errors = append(r.Errors, fmt.Sprintf("%s: must be at least %d bytes, got %d", field, MinSecretBytes, len(value)))
		return
	}
	if looksLikePlaceholder(normalized) {
		r.Warnings = append(r.Warnings, Warning{
			Field:       field,
			Message:     "looks like a placeholder; generate one with gen-secret",
			Placeholder: true,
		})
	}
}

func looksLikePlaceholder(v string) bool {
	if v == "" {
		return true
	}
	for _, hint := range placeholderHints {
		if strings.Contains(v, hint) {
			return true
		}
	}
	return strings.Count(v, v[:1]) == len(v)
}

// GenerateSecret returns 64 cryptographically random bytes, hex encoded.
func GenerateSecret() (string, error) {
	buf := make([]byte, generatedBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
