package authkernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Mosleh92/exchange-platform-v3-sub012/audit"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
)

func adminIdentity() Identity {
	return Identity{PrincipalID: "admin-1", TenantID: testTenant, Role: store.RoleTenantAdmin}
}

func TestSetPrincipalStatusDisableEndsSessions(t *testing.T) {
	f := newFixture(t, nil, nil)
	pair := f.login(t)
	f.clock.Advance(time.Second)

	if err := f.engine.SetPrincipalStatus(context.Background(), adminIdentity(), testTenant, f.principal, store.StatusDisabled); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := f.engine.VerifyAccess(context.Background(), pair.AccessToken); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked after disable, got %v", err)
	}
	if _, err := f.engine.Login(testCtx(), LoginRequest{TenantID: testTenant, Identifier: testUser, Password: testPassword}); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
	if n, _ := f.engine.ActiveSessionCount(context.Background(), f.principal); n != 0 {
		t.Fatalf("expected no sessions, got %d", n)
	}

	if got := f.events(t, audit.TypeAccountStatus); len(got) != 1 {
		t.Fatalf("expected one status event, got %d", len(got))
	}
}

func TestSetPrincipalStatusReactivateClearsLock(t *testing.T) {
	f := newFixture(t, nil, nil)
	for i := 0; i < 5; i++ {
		_, _ = f.engine.Login(testCtx(), LoginRequest{TenantID: testTenant, Identifier: testUser, Password: "wrong-password"})
	}
	if _, err := f.engine.Login(testCtx(), LoginRequest{TenantID: testTenant, Identifier: testUser, Password: testPassword}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected lockout, got %v", err)
	}

	if err := f.engine.SetPrincipalStatus(context.Background(), adminIdentity(), testTenant, f.principal, store.StatusActive); err != nil {
		t.Fatalf("activate: %v", err)
	}
	f.login(t)
}

func TestSetPrincipalStatusRejects(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	peer := Identity{PrincipalID: "p-2", TenantID: testTenant, Role: store.RoleStaff}
	if err := f.engine.SetPrincipalStatus(ctx, peer, testTenant, f.principal, store.StatusLocked); !errors.Is(err, ErrForbidden) {
		t.Fatalf("equal rank: expected ErrForbidden, got %v", err)
	}

	foreign := Identity{PrincipalID: "admin-9", TenantID: testOther, Role: store.RoleTenantAdmin}
	if err := f.engine.SetPrincipalStatus(ctx, foreign, testTenant, f.principal, store.StatusLocked); !errors.Is(err, ErrForbidden) {
		t.Fatalf("other tenant: expected ErrForbidden, got %v", err)
	}
	if err := f.engine.SetPrincipalStatus(ctx, adminIdentity(), testOther, f.principal, store.StatusLocked); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign target tenant: expected ErrForbidden, got %v", err)
	}

	self := Identity{PrincipalID: f.principal, TenantID: testTenant, Role: store.RoleStaff}
	if err := f.engine.SetPrincipalStatus(ctx, self, testTenant, f.principal, store.StatusDisabled); !errors.Is(err, ErrForbidden) {
		t.Fatalf("self: expected ErrForbidden, got %v", err)
	}

	root := Identity{PrincipalID: "root", TenantID: testOther, Role: store.RoleSuperAdmin}
	if err := f.engine.SetPrincipalStatus(ctx, root, testTenant, f.principal, store.StatusLocked); err != nil {
		t.Fatalf("super admin across tenants: %v", err)
	}

	if err := f.engine.SetPrincipalStatus(ctx, adminIdentity(), testTenant, f.principal, store.Status("archived")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
