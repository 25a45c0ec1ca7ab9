package authkernel

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"

	"github.com/Mosleh92/exchange-platform-v3-sub012/audit"
	"github.com/Mosleh92/exchange-platform-v3-sub012/password"
	"github.com/Mosleh92/exchange-platform-v3-sub012/revocation"
	"github.com/Mosleh92/exchange-platform-v3-sub012/secrets"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store/memory"
)

const (
	testTenant   = "tenant-a"
	testOther    = "tenant-b"
	testUser     = "dealer@a.example"
	testPassword = "Correct1!horse"
)

// testClock starts at the real time: the session store computes record
// lifetimes with time.Until.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: time.Now()} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	engine    *Engine
	clock     *testClock
	directory *memory.Directory
	audit     *audit.MemoryRepository
	principal string
}

func cheapPassword() password.Config {
	return password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Profile = secrets.ProfileTest
	cfg.Token.AccessSecret = "access-3f9c1e7a5b2d4f6081a9c3e5d7b1f2a4"
	cfg.Token.RefreshSecret = "refresh-8d2b6f4a1c9e7035b4d6f8a2c1e3b5d7"
	cfg.Token.SessionSecret = "session-5a7c9e1b3d5f7092c4e6a8b0d2f4a6c8"
	cfg.Password = cheapPassword()
	cfg.Fraud.Enabled = false
	return cfg
}

func newFixture(t *testing.T, mutate func(*Config), rdb redis.UniversalClient) *fixture {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := newTestClock()
	dir := memory.New()
	repo := audit.NewMemoryRepository()
	ctx := context.Background()

	for _, id := range []string{testTenant, testOther} {
		if err := dir.CreateTenant(ctx, store.Tenant{ID: id, Name: id}); err != nil {
			t.Fatalf("create tenant: %v", err)
		}
	}
	hasher, err := password.NewHasher(cheapPassword())
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := dir.CreatePrincipal(ctx, store.Principal{
		ID:           "p-1",
		TenantID:     testTenant,
		Identifier:   testUser,
		Role:         store.RoleStaff,
		PasswordHash: hash,
	}); err != nil {
		t.Fatalf("create principal: %v", err)
	}

	b := New().
		WithConfig(cfg).
		WithDirectory(dir).
		WithAuditRepository(repo).
		WithClock(clock.Now)
	if rdb != nil {
		b = b.WithRedis(rdb)
	}
	e, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(e.Close)

	return &fixture{engine: e, clock: clock, directory: dir, audit: repo, principal: "p-1"}
}

func testCtx() context.Context {
	return WithClientInfo(context.Background(), ClientInfo{IP: "203.0.113.7", UserAgent: "desk/1.0", DeviceID: "dev-1"})
}

func (f *fixture) login(t *testing.T) *TokenPair {
	t.Helper()
	res, err := f.engine.Login(testCtx(), LoginRequest{TenantID: testTenant, Identifier: testUser, Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Tokens == nil {
		t.Fatalf("login returned no tokens: %+v", res)
	}
	return res.Tokens
}

func (f *fixture) events(t *testing.T, typ string) []audit.Event {
	t.Helper()
	f.engine.Close()
	list, err := f.audit.List(context.Background(), audit.Filter{Type: typ})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	return list
}

func TestLoginIssuesVerifiableTokens(t *testing.T) {
	f := newFixture(t, nil, nil)
	pair := f.login(t)

	id, err := f.engine.VerifyAccess(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.PrincipalID != f.principal || id.TenantID != testTenant || id.Role != store.RoleStaff {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if id.SessionID != pair.SessionID || id.TwoFactor {
		t.Fatalf("unexpected session binding: %+v", id)
	}

	sessions, err := f.engine.Sessions(context.Background(), f.principal)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].DeviceID != "dev-1" {
		t.Fatalf("expected one session on dev-1, got %+v", sessions)
	}

	if got := f.events(t, audit.TypeLogin); len(got) != 1 {
		t.Fatalf("expected one login event, got %d", len(got))
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := testCtx()

	_, unknown := f.engine.Login(ctx, LoginRequest{TenantID: testTenant, Identifier: "nobody@a.example", Password: testPassword})
	_, wrong := f.engine.Login(ctx, LoginRequest{TenantID: testTenant, Identifier: testUser, Password: "Wrong1!pass"})
	_, otherTenant := f.engine.Login(ctx, LoginRequest{TenantID: testOther, Identifier: testUser, Password: testPassword})

	for name, err := range map[string]error{"unknown": unknown, "wrong": wrong, "other tenant": otherTenant} {
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: expected ErrInvalidCredentials, got %v", name, err)
		}
	}

	_, err := f.engine.Login(ctx, LoginRequest{TenantID: testTenant, Identifier: testUser})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing password, got %v", err)
	}
}

func TestLockoutAfterThresholdAndExpiry(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := testCtx()
	bad := LoginRequest{TenantID: testTenant, Identifier: testUser, Password: "Wrong1!pass"}

	for i := 1; i < 5; i++ {
		if _, err := f.engine.Login(ctx, bad); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if _, err := f.engine.Login(ctx, bad); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("fifth failure should lock, got %v", err)
	}

	good := LoginRequest{TenantID: testTenant, Identifier: testUser, Password: testPassword}
	if _, err := f.engine.Login(ctx, good); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("correct password during lock should fail, got %v", err)
	}

	f.clock.Advance(31 * time.Minute)
	if _, err := f.engine.Login(ctx, good); err != nil {
		t.Fatalf("login after lock expiry: %v", err)
	}
	p, err := f.directory.GetPrincipal(context.Background(), testTenant, f.principal)
	if err != nil {
		t.Fatalf("get principal: %v", err)
	}
	if p.FailedAttempts != 0 || !p.LockedUntil.IsZero() {
		t.Fatalf("success should reset counters: %+v", p)
	}
}

func TestInactiveTenantRejectsLogin(t *testing.T) {
	f := newFixture(t, nil, nil)
	if err := f.directory.CreateTenant(context.Background(), store.Tenant{ID: "frozen", Status: store.StatusDisabled}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	hasher, _ := password.NewHasher(cheapPassword())
	hash, _ := hasher.Hash(testPassword)
	if err := f.directory.CreatePrincipal(context.Background(), store.Principal{
		ID: "p-frozen", TenantID: "frozen", Identifier: testUser, Role: store.RoleStaff, PasswordHash: hash,
	}); err != nil {
		t.Fatalf("create principal: %v", err)
	}

	_, err := f.engine.Login(testCtx(), LoginRequest{TenantID: "frozen", Identifier: testUser, Password: testPassword})
	if !errors.Is(err, ErrTenantInactive) {
		t.Fatalf("expected ErrTenantInactive, got %v", err)
	}
}

func TestRefreshRotationRejectsReplay(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Token.RotateRefresh = true }, nil)
	pair := f.login(t)
	device := ClientInfo{IP: "203.0.113.7", UserAgent: "desk/1.0", DeviceID: "dev-1"}

	f.clock.Advance(time.Second)
	next, err := f.engine.Refresh(context.Background(), pair.RefreshToken, device)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.SessionID != pair.SessionID {
		t.Fatalf("refresh must keep the session: %s != %s", next.SessionID, pair.SessionID)
	}

	if _, err := f.engine.Refresh(context.Background(), pair.RefreshToken, device); !errors.Is(err, ErrRevoked) {
		t.Fatalf("replayed refresh should be revoked, got %v", err)
	}
	if _, err := f.engine.Refresh(context.Background(), next.RefreshToken, device); err != nil {
		t.Fatalf("rotated refresh should work: %v", err)
	}
}

func TestRefreshAfterAccessExpiry(t *testing.T) {
	f := newFixture(t, nil, nil)
	pair := f.login(t)
	device := ClientInfo{IP: "203.0.113.7", UserAgent: "desk/1.0", DeviceID: "dev-1"}

	f.clock.Advance(16 * time.Minute)
	if _, err := f.engine.VerifyAccess(context.Background(), pair.AccessToken); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}

	next, err := f.engine.Refresh(context.Background(), pair.RefreshToken, device)
	if err != nil {
		t.Fatalf("refresh after access expiry: %v", err)
	}
	id, err := f.engine.VerifyAccess(context.Background(), next.AccessToken)
	if err != nil {
		t.Fatalf("new access token: %v", err)
	}
	if id.SessionID != pair.SessionID || id.TenantID != testTenant {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestRefreshDeviceMismatch(t *testing.T) {
	f := newFixture(t, nil, nil)
	pair := f.login(t)

	_, err := f.engine.Refresh(context.Background(), pair.RefreshToken, ClientInfo{DeviceID: "dev-2", UserAgent: "desk/1.0"})
	if !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("expected ErrDeviceMismatch, got %v", err)
	}
	if got := f.events(t, audit.TypeSecurityViolation); len(got) != 1 {
		t.Fatalf("expected a security violation event, got %d", len(got))
	}
}

func TestRefreshTokenIsNotAnAccessToken(t *testing.T) {
	f := newFixture(t, nil, nil)
	pair := f.login(t)

	if _, err := f.engine.VerifyAccess(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := f.engine.Refresh(context.Background(), pair.AccessToken, ClientInfo{DeviceID: "dev-1"}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestLogoutEndsSession(t *testing.T) {
	f := newFixture(t, nil, nil)
	pair := f.login(t)
	ctx := context.Background()

	if err := f.engine.Logout(ctx, pair.AccessToken, LogoutOptions{RefreshToken: pair.RefreshToken}); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := f.engine.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("access after logout should be revoked, got %v", err)
	}
	if _, err := f.engine.Refresh(ctx, pair.RefreshToken, ClientInfo{DeviceID: "dev-1"}); !errors.Is(err, ErrRevoked) {
		t.Fatalf("refresh after logout should be revoked, got %v", err)
	}
	sessions, _ := f.engine.Sessions(ctx, f.principal)
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}
}

func TestLogoutAllUsesCutoff(t *testing.T) {
	f := newFixture(t, nil, nil)
	first := f.login(t)
	second := f.login(t)
	ctx := context.Background()

	f.clock.Advance(time.Second)
	if err := f.engine.LogoutAll(ctx, first.AccessToken); err != nil {
		t.Fatalf("logout all: %v", err)
	}

	for name, tok := range map[string]string{"first": first.AccessToken, "second": second.AccessToken} {
		if _, err := f.engine.VerifyAccess(ctx, tok); !errors.Is(err, ErrRevoked) {
			t.Fatalf("%s access should be revoked, got %v", name, err)
		}
	}
	if _, err := f.engine.Refresh(ctx, second.RefreshToken, ClientInfo{DeviceID: "dev-1"}); !errors.Is(err, ErrRevoked) {
		t.Fatalf("second refresh should be revoked, got %v", err)
	}

	fresh := f.login(t)
	if _, err := f.engine.VerifyAccess(ctx, fresh.AccessToken); err != nil {
		t.Fatalf("login after logout-all should work: %v", err)
	}
}

func TestLogoutAllEndsSameSecondSessions(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	desk := f.login(t)
	res, err := f.engine.Login(testCtx(), LoginRequest{TenantID: testTenant, Identifier: testUser, Password: testPassword, DeviceID: "dev-2"})
	if err != nil {
		t.Fatalf("second device login: %v", err)
	}
	phone := res.Tokens

	if err := f.engine.LogoutAll(ctx, desk.AccessToken); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if _, err := f.engine.VerifyAccess(ctx, phone.AccessToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("same-second token of another device must be revoked, got %v", err)
	}

	fresh := f.login(t)
	if _, err := f.engine.VerifyAccess(ctx, fresh.AccessToken); err != nil {
		t.Fatalf("login after logout all must verify, got %v", err)
	}
}

func TestEvictedSessionTokenIsRevoked(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Session.MaxSessions = 1 }, nil)
	first := f.login(t)
	f.clock.Advance(time.Millisecond)
	f.login(t)

	if _, err := f.engine.VerifyAccess(context.Background(), first.AccessToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("token of evicted session must be revoked, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, nil, nil)
	pair := f.login(t)
	ctx := testCtx()
	id, err := f.engine.VerifyAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if err := f.engine.ChangePassword(ctx, *id, "Wrong1!pass", "Fresh2@horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := f.engine.ChangePassword(ctx, *id, testPassword, "short"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	} else {
		var perr *password.PolicyError
		if !errors.As(err, &perr) || len(perr.Violations) == 0 {
			t.Fatalf("expected policy violations, got %v", err)
		}
	}
	if err := f.engine.ChangePassword(ctx, *id, testPassword, testPassword); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}

	f.clock.Advance(time.Second)
	if err := f.engine.ChangePassword(ctx, *id, testPassword, "Fresh2@horse"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := f.engine.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("old token should be revoked, got %v", err)
	}
	if _, err := f.engine.Login(ctx, LoginRequest{TenantID: testTenant, Identifier: testUser, Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}
	if _, err := f.engine.Login(ctx, LoginRequest{TenantID: testTenant, Identifier: testUser, Password: "Fresh2@horse"}); err != nil {
		t.Fatalf("new password login: %v", err)
	}
}

func TestChangePasswordWrongCurrentLocksAccount(t *testing.T) {
	f := newFixture(t, nil, nil)
	pair := f.login(t)
	ctx := testCtx()
	id, err := f.engine.VerifyAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	for i := 1; i < 5; i++ {
		if err := f.engine.ChangePassword(ctx, *id, "Wrong1!pass", "Fresh2@horse"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if err := f.engine.ChangePassword(ctx, *id, "Wrong1!pass", "Fresh2@horse"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("threshold attempt: expected ErrAccountLocked, got %v", err)
	}
	// Locked accounts refuse even the right current password.
	if err := f.engine.ChangePassword(ctx, *id, testPassword, "Fresh2@horse"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("locked change: expected ErrAccountLocked, got %v", err)
	}
	if _, err := f.engine.Login(ctx, LoginRequest{TenantID: testTenant, Identifier: testUser, Password: testPassword}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("login while locked: expected ErrAccountLocked, got %v", err)
	}

	f.clock.Advance(31 * time.Minute)
	if _, err := f.engine.Login(ctx, LoginRequest{TenantID: testTenant, Identifier: testUser, Password: testPassword}); err != nil {
		t.Fatalf("login after lock expiry: %v", err)
	}
}

func enrollTwoFactor(t *testing.T, f *fixture) (Identity, []string) {
	t.Helper()
	pair := f.login(t)
	id, err := f.engine.VerifyAccess(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	setup, err := f.engine.BeginTwoFactor(context.Background(), *id)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	code, err := totp.GenerateCode(setup.Secret, f.clock.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if err := f.engine.EnableTwoFactor(context.Background(), *id, code); err != nil {
		t.Fatalf("enable: %v", err)
	}
	return *id, setup.RecoveryCodes
}

func TestTwoFactorLogin(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, recovery := enrollTwoFactor(t, f)
	ctx := testCtx()

	res, err := f.engine.Login(ctx, LoginRequest{TenantID: testTenant, Identifier: testUser, Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !res.RequiresTwoFactor || res.ChallengeID == "" || res.Tokens != nil {
		t.Fatalf("expected a challenge, got %+v", res)
	}

	done, err := f.engine.CompleteTwoFactorLogin(ctx, res.ChallengeID, recovery[0], "dev-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	id, err := f.engine.VerifyAccess(ctx, done.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !id.TwoFactor {
		t.Fatal("expected the two-factor claim")
	}

	if _, err := f.engine.CompleteTwoFactorLogin(ctx, res.ChallengeID, recovery[1], "dev-1"); !errors.Is(err, ErrTwoFactorFailed) {
		t.Fatalf("challenge must be single use, got %v", err)
	}
}

func TestTwoFactorChallengeAttemptCap(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, recovery := enrollTwoFactor(t, f)
	ctx := testCtx()

	res, err := f.engine.Login(ctx, LoginRequest{TenantID: testTenant, Identifier: testUser, Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.engine.CompleteTwoFactorLogin(ctx, res.ChallengeID, "abcdefgh", "dev-1"); !errors.Is(err, ErrTwoFactorFailed) {
			t.Fatalf("attempt %d: expected ErrTwoFactorFailed, got %v", i, err)
		}
	}
	if _, err := f.engine.CompleteTwoFactorLogin(ctx, res.ChallengeID, recovery[0], "dev-1"); !errors.Is(err, ErrTwoFactorFailed) {
		t.Fatalf("exhausted challenge should fail, got %v", err)
	}
}

func TestTwoFactorChallengeExpires(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, recovery := enrollTwoFactor(t, f)
	ctx := testCtx()

	res, err := f.engine.Login(ctx, LoginRequest{TenantID: testTenant, Identifier: testUser, Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	f.clock.Advance(6 * time.Minute)
	if _, err := f.engine.CompleteTwoFactorLogin(ctx, res.ChallengeID, recovery[0], "dev-1"); !errors.Is(err, ErrTwoFactorFailed) {
		t.Fatalf("expired challenge should fail, got %v", err)
	}
}

func TestRegenerateRecoveryCodesAuditedSeparately(t *testing.T) {
	f := newFixture(t, nil, nil)
	id, recovery := enrollTwoFactor(t, f)

	codes, err := f.engine.RegenerateRecoveryCodes(testCtx(), id, recovery[0])
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(codes) != len(recovery) {
		t.Fatalf("expected %d fresh codes, got %d", len(recovery), len(codes))
	}

	regenerated := f.events(t, audit.Type2FARecoveryRegenerated)
	if len(regenerated) != 1 {
		t.Fatalf("expected one regeneration event, got %d", len(regenerated))
	}
	if regenerated[0].Level != audit.LevelSecurity || !slices.Contains(regenerated[0].Tags, "2fa") {
		t.Fatalf("unexpected regeneration event: %+v", regenerated[0])
	}
	if enabled := f.events(t, audit.Type2FAEnabled); len(enabled) != 1 {
		t.Fatalf("regeneration must not log as enablement, got %d enabled events", len(enabled))
	}
}

func TestDisableTwoFactorRequiresPassword(t *testing.T) {
	f := newFixture(t, nil, nil)
	id, _ := enrollTwoFactor(t, f)
	ctx := testCtx()

	if err := f.engine.DisableTwoFactor(ctx, id, "Wrong1!pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := f.engine.DisableTwoFactor(ctx, id, testPassword); err != nil {
		t.Fatalf("disable: %v", err)
	}
	res, err := f.engine.Login(ctx, LoginRequest{TenantID: testTenant, Identifier: testUser, Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.RequiresTwoFactor {
		t.Fatal("two-factor should be off")
	}
}

func TestRedisBackedEngine(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, func(c *Config) { c.Token.RotateRefresh = true }, rdb)
	pair := f.login(t)
	ctx := context.Background()

	f.clock.Advance(time.Second)
	next, err := f.engine.Refresh(ctx, pair.RefreshToken, ClientInfo{IP: "203.0.113.7", UserAgent: "desk/1.0", DeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := f.engine.Logout(ctx, next.AccessToken, LogoutOptions{}); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := f.engine.VerifyAccess(ctx, next.AccessToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
	if stats := f.engine.RevocationStats(); stats.Backend != revocation.BackendRedis {
		t.Fatalf("expected redis backend, got %+v", stats)
	}
	if h := f.engine.Health(ctx); !h.RedisAvailable || h.Degraded() {
		t.Fatalf("expected healthy redis, got %+v", h)
	}
	if n, err := f.engine.ActiveSessionCount(ctx, f.principal); err != nil || n != 0 {
		t.Fatalf("expected no sessions after logout, got %d (%v)", n, err)
	}
}
