// Package gate decides whether an authenticated request may run an action
// inside a tenant. The effective tenant comes from the verified token,
// never from the request.
package gate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	authkernel "github.com/Mosleh92/exchange-platform-v3-sub012"
	"github.com/Mosleh92/exchange-platform-v3-sub012/audit"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
)

// TokenVerifier checks an access token. *authkernel.Engine implements it.
type TokenVerifier interface {
	VerifyAccess(ctx context.Context, token string) (*authkernel.Identity, error)
}

// AuditRecorder receives violations. *audit.Recorder implements it.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry) audit.Event
}

// Request is what the HTTP layer knows about a protected call. The tenant
// fields hold whatever the caller supplied and may be empty.
type Request struct {
	Token        string
	Action       Action
	PathTenant   string
	QueryTenant  string
	HeaderTenant string
	BranchID     string
}

// Decision is an admitted request.
type Decision struct {
	Identity  authkernel.Identity
	Principal *store.Principal
	Action    Action
	Scope     Scope
}

type Gate struct {
	verifier  TokenVerifier
	directory store.Directory
	audit     AuditRecorder
	log       *zap.Logger
}

func New(verifier TokenVerifier, directory store.Directory, rec AuditRecorder, log *zap.Logger) *Gate {
	return &Gate{
		verifier:  verifier,
		directory: directory,
		audit:     rec,
		log:       logger.OrNop(log).With(logger.Component("gate")),
	}
}

// Authorize admits req or fails closed. Token failures keep their
// authkernel error; every tenant, status or role refusal is
// authkernel.ErrForbidden.
func (g *Gate) Authorize(ctx context.Context, req Request) (*Decision, error) {
	if g == nil || g.verifier == nil || g.directory == nil {
		return nil, authkernel.ErrEngineNotReady
	}
	if req.Token == "" {
		return nil, authkernel.ErrInvalidToken
	}
	id, err := g.verifier.VerifyAccess(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	p, err := g.directory.GetPrincipal(ctx, id.TenantID, id.PrincipalID)
	if errors.Is(err, store.ErrNotFound) {
		g.violation(ctx, id, audit.TypeSecurityViolation, map[string]any{"reason": "principal_not_in_tenant"})
		return nil, authkernel.ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", authkernel.ErrStoreUnavailable, err)
	}
	if p.Status != store.StatusActive {
		return nil, authkernel.ErrForbidden
	}
	if err := g.tenantActive(ctx, id.TenantID); err != nil {
		return nil, err
	}

	effective, err := g.resolveTenant(ctx, id, p, req)
	if err != nil {
		return nil, err
	}

	rule, ok := RuleFor(req.Action)
	if !ok || !p.Role.AtLeast(rule.MinRole) {
		g.violation(ctx, id, audit.TypeFailedAuthorization, map[string]any{
			"action": string(req.Action),
			"role":   string(p.Role),
		})
		return nil, authkernel.ErrForbidden
	}

	scope := Scope{TenantID: effective}
	if rule.BranchScoped && !p.Role.AtLeast(store.RoleTenantAdmin) {
		if req.BranchID != "" && req.BranchID != p.BranchID {
			g.violation(ctx, id, audit.TypeFailedAuthorization, map[string]any{
				"action":           string(req.Action),
				"requested_branch": req.BranchID,
			})
			return nil, authkernel.ErrForbidden
		}
		scope.BranchID = p.BranchID
	}

	return &Decision{Identity: *id, Principal: p, Action: req.Action, Scope: scope}, nil
}

// resolveTenant compares every supplied tenant id with the token tenant.
// A different tenant is allowed only for super_admin or through
// TenantAccess, and all supplied ids must agree.
func (g *Gate) resolveTenant(ctx context.Context, id *authkernel.Identity, p *store.Principal, req Request) (string, error) {
	effective := id.TenantID
	requested := ""
	for source, t := range map[string]string{"path": req.PathTenant, "query": req.QueryTenant, "header": req.HeaderTenant} {
		if t == "" || t == id.TenantID {
			continue
		}
		if !p.CanReachTenant(t) || (requested != "" && requested != t) {
			g.crossTenant(ctx, id, t, source)
			return "", authkernel.ErrForbidden
		}
		requested = t
	}
	if requested == "" {
		return effective, nil
	}
	if err := g.tenantActive(ctx, requested); err != nil {
		return "", err
	}
	g.log.Info("cross-tenant access granted",
		logger.PrincipalID(p.ID), logger.TenantID(requested), zap.String("home_tenant", id.TenantID))
	return requested, nil
}

func (g *Gate) tenantActive(ctx context.Context, tenantID string) error {
	t, err := g.directory.GetTenant(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return authkernel.ErrForbidden
	}
	if err != nil {
		return fmt.Errorf("%w: %v", authkernel.ErrStoreUnavailable, err)
	}
	if !t.Active() {
		return authkernel.ErrForbidden
	}
	return nil
}

func (g *Gate) crossTenant(ctx context.Context, id *authkernel.Identity, requested, source string) {
	details := map[string]any{
		"reason":           "cross_tenant_attempt",
		"requested_tenant": requested,
		"source":           source,
	}
	g.violation(ctx, id, audit.TypeSecurityViolation, details)
	g.violation(ctx, id, audit.TypeCrossTenantAttempt, details)
	g.log.Warn("cross-tenant attempt",
		logger.PrincipalID(id.PrincipalID), logger.TenantID(id.TenantID), zap.String("requested_tenant", requested))
}

func (g *Gate) violation(ctx context.Context, id *authkernel.Identity, typ string, details map[string]any) {
	if g.audit == nil {
		return
	}
	info := authkernel.ClientInfoFromContext(ctx)
	g.audit.Record(ctx, audit.Entry{
		ActorID:   id.PrincipalID,
		TenantID:  id.TenantID,
		Type:      typ,
		Level:     audit.LevelSecurity,
		Details:   details,
		IP:        info.IP,
		UserAgent: info.UserAgent,
		Device:    info.DeviceID,
	})
}

type decisionContextKey struct{}

// WithDecision attaches d to ctx.
func WithDecision(ctx context.Context, d *Decision) context.Context {
	return context.WithValue(ctx, decisionContextKey{}, d)
}

// FromContext returns the decision stored by WithDecision.
func FromContext(ctx context.Context) (*Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(*Decision)
	return d, ok && d != nil
}
