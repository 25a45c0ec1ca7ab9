package gate

import "github.com/Mosleh92/exchange-platform-v3-sub012/store"

// Action names a protected operation.
type Action string

const (
	ActionSessionsRead  Action = "sessions:read"
	ActionAccountManage Action = "account:manage"
	ActionCustomersRead Action = "customers:read"
	ActionCustomersBulk Action = "customers:bulk"
	ActionAuditRead     Action = "audit:read"
	ActionFraudReview   Action = "fraud:review"
	ActionTenantsManage Action = "tenants:manage"

	ActionPrincipalsManage Action = "principals:manage"
)

// Rule is the authority an action demands. BranchScoped actions confine
// roles below tenant_admin to their own branch.
type Rule struct {
	MinRole      store.Role
	BranchScoped bool
}

// matrix is closed: an action missing here is forbidden to everyone.
var matrix = map[Action]Rule{
	ActionSessionsRead:  {MinRole: store.RoleCustomer},
	ActionAccountManage: {MinRole: store.RoleCustomer},
	ActionCustomersRead: {MinRole: store.RoleStaff, BranchScoped: true},
	ActionCustomersBulk: {MinRole: store.RoleBranchManager, BranchScoped: true},
	ActionAuditRead:     {MinRole: store.RoleTenantAdmin},
	ActionFraudReview:   {MinRole: store.RoleTenantAdmin},
	ActionTenantsManage: {MinRole: store.RoleSuperAdmin},

	ActionPrincipalsManage: {MinRole: store.RoleTenantAdmin},
}

// RuleFor returns the matrix entry for a.
func RuleFor(a Action) (Rule, bool) {
	r, ok := matrix[a]
	return r, ok
}
