package jwt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var (
	accessSecret  = []byte("access-0123456789abcdef0123456789abcdef")
	refreshSecret = []byte("refresh-fedcba9876543210fedcba9876543210")
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newManagers(t *testing.T, c *clock) (*Manager, *Manager) {
	t.Helper()
	access, err := NewManager(Config{Secret: accessSecret, Issuer: "exchange", Audience: "exchange-api", TTL: 15 * time.Minute, Now: c.Now})
	if err != nil {
		t.Fatalf("new access manager: %v", err)
	}
	refresh, err := NewManager(Config{Secret: refreshSecret, Issuer: "exchange", Audience: "exchange-api", TTL: 7 * 24 * time.Hour, Now: c.Now})
	if err != nil {
		t.Fatalf("new refresh manager: %v", err)
	}
	return access, refresh
}

func subject() Subject {
	return Subject{PrincipalID: "p-1", TenantID: "t-1", Role: "tenant_admin", TwoFactor: true, SessionID: "s-1"}
}

func TestIssueAndParseAccess(t *testing.T) {
	c := &clock{now: time.Now()}
	access, _ := newManagers(t, c)

	tok, issued, err := access.IssueAccess(subject())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := access.ParseAccess(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "p-1" || claims.TID != "t-1" || claims.Role != "tenant_admin" || !claims.TFA || claims.SID != "s-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID != issued.ID || claims.ID == "" {
		t.Fatalf("expected jti %q, got %q", issued.ID, claims.ID)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != 15*time.Minute {
		t.Fatalf("expected 15m lifetime, got %v", got)
	}
}

func TestExpiredAccessIsDistinguished(t *testing.T) {
	c := &clock{now: time.Now()}
	access, _ := newManagers(t, c)

	tok, _, err := access.IssueAccess(subject())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	c.now = c.now.Add(16 * time.Minute)

	if _, err := access.ParseAccess(tok); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestWrongSecretIsInvalid(t *testing.T) {
	c := &clock{now: time.Now()}
	access, refresh := newManagers(t, c)

	tok, _, err := refresh.IssueAccess(subject())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := access.ParseAccess(tok); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for token signed with another secret, got %v", err)
	}
}

func TestExpiredTokenWithWrongSecretIsInvalidNotExpired(t *testing.T) {
	c := &clock{now: time.Now()}
	access, refresh := newManagers(t, c)

	tok, _, _ := refresh.IssueAccess(subject())
	c.now = c.now.Add(time.Hour)
	if _, err := access.ParseAccess(tok); !errors.Is(err, ErrInvalid) || errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrInvalid only, got %v", err)
	}
}

func TestForgedTenantClaimFailsSignature(t *testing.T) {
	c := &clock{now: time.Now()}
	access, _ := newManagers(t, c)

	tok, _, _ := access.IssueAccess(subject())
	parts := strings.Split(tok, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m["tid"] = "t-2"
	forged, _ := json.Marshal(m)
	parts[1] = base64.RawURLEncoding.EncodeToString(forged)

	if _, err := access.ParseAccess(strings.Join(parts, ".")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for rewritten payload, got %v", err)
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	c := &clock{now: time.Now()}
	access, _ := newManagers(t, c)

	claims := AccessClaims{TID: "t-1", Typ: typeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "p-1",
		Issuer:    "exchange",
		Audience:  gjwt.ClaimStrings{"exchange-api"},
		IssuedAt:  gjwt.NewNumericDate(c.now),
		ExpiresAt: gjwt.NewNumericDate(c.now.Add(time.Minute)),
	}}
	tok, err := gjwt.NewWithClaims(gjwt.SigningMethodHS512, claims).SignedString(accessSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := access.ParseAccess(tok); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected HS512 to be rejected, got %v", err)
	}
}

func TestParseRejectsWrongIssuerAndAudience(t *testing.T) {
	c := &clock{now: time.Now()}
	access, _ := newManagers(t, c)
	other, err := NewManager(Config{Secret: accessSecret, Issuer: "someone-else", Audience: "other-api", TTL: time.Minute, Now: c.Now})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	tok, _, _ := other.IssueAccess(subject())
	if _, err := access.ParseAccess(tok); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestParseRejectsFutureIAT(t *testing.T) {
	c := &clock{now: time.Now()}
	access, _ := newManagers(t, c)

	c.now = c.now.Add(2 * time.Hour)
	tok, _, _ := access.IssueAccess(subject())
	c.now = c.now.Add(-2 * time.Hour)

	if _, err := access.ParseAccess(tok); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected future iat to be rejected, got %v", err)
	}
}

func TestAccessAndRefreshAreNotInterchangeable(t *testing.T) {
	c := &clock{now: time.Now()}
	shared, err := NewManager(Config{Secret: accessSecret, Issuer: "exchange", Audience: "exchange-api", TTL: time.Hour, Now: c.Now})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	refreshTok, _, err := shared.IssueRefresh(subject(), DeviceBinding{DeviceID: "d-1"})
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if _, err := shared.ParseAccess(refreshTok); !errors.Is(err, ErrInvalid) {
		t.Fatalf("refresh token accepted as access: %v", err)
	}

	accessTok, _, _ := shared.IssueAccess(subject())
	if _, err := shared.ParseRefresh(accessTok); !errors.Is(err, ErrInvalid) {
		t.Fatalf("access token accepted as refresh: %v", err)
	}
}

func TestRefreshDeviceBinding(t *testing.T) {
	c := &clock{now: time.Now()}
	_, refresh := newManagers(t, c)

	device := DeviceBinding{DeviceID: "d-1", UserAgent: "ua/1", IP: "10.0.0.1"}
	tok, _, err := refresh.IssueRefresh(subject(), device)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	claims, err := refresh.ParseRefresh(tok)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if claims.DID != "d-1" || claims.UA != "ua/1" || claims.IPH == "" || claims.IPH == "10.0.0.1" {
		t.Fatalf("unexpected binding: %+v", claims)
	}

	if err := CheckDevice(claims, device, true); err != nil {
		t.Fatalf("same device rejected: %v", err)
	}
	if err := CheckDevice(claims, DeviceBinding{DeviceID: "d-2", UserAgent: "ua/1", IP: "10.0.0.1"}, false); !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("expected ErrDeviceMismatch, got %v", err)
	}
	moved := DeviceBinding{DeviceID: "d-1", UserAgent: "ua/1", IP: "10.9.9.9"}
	if err := CheckDevice(claims, moved, false); err != nil {
		t.Fatalf("lenient binding rejected ip change: %v", err)
	}
	if err := CheckDevice(claims, moved, true); !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("strict binding accepted ip change: %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	cases := []Config{
		{Issuer: "i", Audience: "a", TTL: time.Minute},
		{Secret: accessSecret, Issuer: "i", Audience: "a"},
		{Secret: accessSecret, Audience: "a", TTL: time.Minute},
		{Secret: accessSecret, Issuer: "i", Audience: "a", TTL: time.Minute, Leeway: time.Hour},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
