package gate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authkernel "github.com/Mosleh92/exchange-platform-v3-sub012"
	"github.com/Mosleh92/exchange-platform-v3-sub012/audit"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store/memory"
)

type fakeVerifier map[string]authkernel.Identity

func (f fakeVerifier) VerifyAccess(_ context.Context, token string) (*authkernel.Identity, error) {
	id, ok := f[token]
	if !ok {
		return nil, authkernel.ErrInvalidToken
	}
	return &id, nil
}

type recorded struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorded) Record(_ context.Context, e audit.Entry) audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return audit.Event{Type: e.Type}
}

func (r *recorded) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Type)
	}
	return out
}

func setup(t *testing.T) (*Gate, *recorded) {
	t.Helper()
	ctx := context.Background()
	dir := memory.New()
	for _, tn := range []store.Tenant{{ID: "t1"}, {ID: "t2"}, {ID: "t3", Status: store.StatusDisabled}} {
		require.NoError(t, dir.CreateTenant(ctx, tn))
	}
	for _, p := range []store.Principal{
		{ID: "admin-1", TenantID: "t1", Identifier: "admin@t1", Role: store.RoleTenantAdmin},
		{ID: "staff-1", TenantID: "t1", Identifier: "staff@t1", Role: store.RoleStaff, BranchID: "b1"},
		{ID: "cust-1", TenantID: "t1", Identifier: "cust@t1", Role: store.RoleCustomer},
		{ID: "multi-1", TenantID: "t1", Identifier: "multi@t1", Role: store.RoleTenantAdmin, TenantAccess: []string{"t2"}},
		{ID: "root", TenantID: "t1", Identifier: "root@t1", Role: store.RoleSuperAdmin},
		{ID: "off-1", TenantID: "t1", Identifier: "off@t1", Role: store.RoleStaff, Status: store.StatusDisabled},
	} {
		require.NoError(t, dir.CreatePrincipal(ctx, p))
	}

	v := fakeVerifier{
		"admin":  {PrincipalID: "admin-1", TenantID: "t1", Role: store.RoleTenantAdmin},
		"staff":  {PrincipalID: "staff-1", TenantID: "t1", Role: store.RoleStaff},
		"cust":   {PrincipalID: "cust-1", TenantID: "t1", Role: store.RoleCustomer},
		"multi":  {PrincipalID: "multi-1", TenantID: "t1", Role: store.RoleTenantAdmin},
		"root":   {PrincipalID: "root", TenantID: "t1", Role: store.RoleSuperAdmin},
		"off":    {PrincipalID: "off-1", TenantID: "t1", Role: store.RoleStaff},
		"forged": {PrincipalID: "admin-1", TenantID: "t2", Role: store.RoleTenantAdmin},
	}
	rec := &recorded{}
	return New(v, dir, rec, nil), rec
}

func TestAuthorizeUsesTokenTenant(t *testing.T) {
	g, _ := setup(t)

	d, err := g.Authorize(context.Background(), Request{Token: "admin", Action: ActionCustomersRead})
	require.NoError(t, err)
	assert.Equal(t, "t1", d.Scope.TenantID)
	assert.Empty(t, d.Scope.BranchID)

	q := d.Scope.Rewrite(store.Query{TenantID: "t2", Limit: 10})
	assert.Equal(t, "t1", q.TenantID)
	assert.Equal(t, 10, q.Limit)
}

func TestCrossTenantPathIsForbiddenAndAudited(t *testing.T) {
	g, rec := setup(t)

	_, err := g.Authorize(context.Background(), Request{Token: "admin", Action: ActionCustomersRead, PathTenant: "t2"})
	require.ErrorIs(t, err, authkernel.ErrForbidden)
	assert.Contains(t, rec.types(), audit.TypeSecurityViolation)
	assert.Contains(t, rec.types(), audit.TypeCrossTenantAttempt)

	for _, req := range []Request{
		{Token: "admin", Action: ActionCustomersRead, QueryTenant: "t2"},
		{Token: "admin", Action: ActionCustomersRead, HeaderTenant: "t2"},
	} {
		_, err := g.Authorize(context.Background(), req)
		assert.ErrorIs(t, err, authkernel.ErrForbidden)
	}
}

func TestTenantAccessAndSuperAdminMayCross(t *testing.T) {
	g, _ := setup(t)

	d, err := g.Authorize(context.Background(), Request{Token: "multi", Action: ActionCustomersRead, PathTenant: "t2"})
	require.NoError(t, err)
	assert.Equal(t, "t2", d.Scope.TenantID)

	d, err = g.Authorize(context.Background(), Request{Token: "root", Action: ActionCustomersRead, PathTenant: "t2"})
	require.NoError(t, err)
	assert.Equal(t, "t2", d.Scope.TenantID)

	_, err = g.Authorize(context.Background(), Request{Token: "root", Action: ActionCustomersRead, PathTenant: "t3"})
	assert.ErrorIs(t, err, authkernel.ErrForbidden, "inactive target tenant")

	_, err = g.Authorize(context.Background(), Request{Token: "root", Action: ActionCustomersRead, PathTenant: "t2", HeaderTenant: "t3"})
	assert.ErrorIs(t, err, authkernel.ErrForbidden, "conflicting tenant ids")
}

func TestForgedTenantClaimFindsNoPrincipal(t *testing.T) {
	g, rec := setup(t)

	_, err := g.Authorize(context.Background(), Request{Token: "forged", Action: ActionCustomersRead})
	require.ErrorIs(t, err, authkernel.ErrForbidden)
	assert.Contains(t, rec.types(), audit.TypeSecurityViolation)
}

func TestRoleMatrix(t *testing.T) {
	g, _ := setup(t)
	ctx := context.Background()

	_, err := g.Authorize(ctx, Request{Token: "cust", Action: ActionCustomersRead})
	assert.ErrorIs(t, err, authkernel.ErrForbidden)

	_, err = g.Authorize(ctx, Request{Token: "cust", Action: ActionSessionsRead})
	assert.NoError(t, err)

	_, err = g.Authorize(ctx, Request{Token: "admin", Action: ActionTenantsManage})
	assert.ErrorIs(t, err, authkernel.ErrForbidden)

	_, err = g.Authorize(ctx, Request{Token: "root", Action: Action("wire:everything")})
	assert.ErrorIs(t, err, authkernel.ErrForbidden, "unknown actions are closed")
}

func TestBranchScope(t *testing.T) {
	g, _ := setup(t)
	ctx := context.Background()

	d, err := g.Authorize(ctx, Request{Token: "staff", Action: ActionCustomersRead})
	require.NoError(t, err)
	assert.Equal(t, "b1", d.Scope.BranchID)
	assert.Equal(t, "b1", d.Scope.Rewrite(store.Query{BranchID: "b9"}).BranchID)

	_, err = g.Authorize(ctx, Request{Token: "staff", Action: ActionCustomersRead, BranchID: "b2"})
	assert.ErrorIs(t, err, authkernel.ErrForbidden)

	d, err = g.Authorize(ctx, Request{Token: "admin", Action: ActionCustomersRead, BranchID: "b2"})
	require.NoError(t, err)
	assert.Empty(t, d.Scope.BranchID)
}

func TestInactivePrincipalAndBadToken(t *testing.T) {
	g, _ := setup(t)
	ctx := context.Background()

	_, err := g.Authorize(ctx, Request{Token: "off", Action: ActionSessionsRead})
	assert.ErrorIs(t, err, authkernel.ErrForbidden)

	_, err = g.Authorize(ctx, Request{Token: "nope", Action: ActionSessionsRead})
	assert.ErrorIs(t, err, authkernel.ErrInvalidToken)

	_, err = g.Authorize(ctx, Request{Action: ActionSessionsRead})
	assert.ErrorIs(t, err, authkernel.ErrInvalidToken)
}

func TestCheckBulkIsAllOrNothing(t *testing.T) {
	s := Scope{TenantID: "t1"}

	assert.NoError(t, s.CheckBulk([]string{"t1", "t1"}))
	assert.ErrorIs(t, s.CheckBulk([]string{"t1", "t2"}), authkernel.ErrForbidden)
	assert.ErrorIs(t, s.CheckBulk([]string{"t2"}), authkernel.ErrForbidden)
	assert.ErrorIs(t, s.CheckBulk(nil), authkernel.ErrValidation)
}

func TestConcurrentTenantsStayDisjoint(t *testing.T) {
	g, _ := setup(t)
	var wg sync.WaitGroup
	errs := make(chan error, 200)

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d, err := g.Authorize(context.Background(), Request{Token: "admin", Action: ActionCustomersRead})
			if err == nil && d.Scope.TenantID != "t1" {
				err = errors.New("admin scope leaked")
			}
			errs <- err
		}()
		go func() {
			defer wg.Done()
			d, err := g.Authorize(context.Background(), Request{Token: "multi", Action: ActionCustomersRead, PathTenant: "t2"})
			if err == nil && d.Scope.TenantID != "t2" {
				err = errors.New("multi scope leaked")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestDecisionContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	d := &Decision{Scope: Scope{TenantID: "t1"}}
	got, ok := FromContext(WithDecision(context.Background(), d))
	require.True(t, ok)
	assert.Same(t, d, got)
}
