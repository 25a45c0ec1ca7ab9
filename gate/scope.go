package gate

import (
	authkernel "github.com/Mosleh92/exchange-platform-v3-sub012"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
)

// Scope is the tenant and branch a request may touch.
type Scope struct {
	TenantID string
	// BranchID is set when the caller is confined to one branch.
	BranchID string
}

// Rewrite forces q onto the scope. Whatever tenant or branch the caller
// put in q is replaced.
func (s Scope) Rewrite(q store.Query) store.Query {
	q.TenantID = s.TenantID
	if s.BranchID != "" {
		q.BranchID = s.BranchID
	}
	return q
}

// CheckBulk accepts a bulk target set only when every record belongs to
// the scope's tenant. It is all or nothing: callers apply none of the set
// on error.
func (s Scope) CheckBulk(tenantIDs []string) error {
	if len(tenantIDs) == 0 {
		return authkernel.ErrValidation
	}
	for _, id := range tenantIDs {
		if id != s.TenantID {
			return authkernel.ErrForbidden
		}
	}
	return nil
}
