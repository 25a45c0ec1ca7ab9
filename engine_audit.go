package authkernel

import (
	"context"

	"go.uber.org/zap"

	"github.com/Mosleh92/exchange-platform-v3-sub012/audit"
	"github.com/Mosleh92/exchange-platform-v3-sub012/fraud"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
)

// emitAudit stamps the caller's network identity on entry and records it.
// Recording never fails the request.
func (e *Engine) emitAudit(ctx context.Context, entry audit.Entry) {
	if e == nil || e.audit == nil {
		return
	}
	info := ClientInfoFromContext(ctx)
	if entry.IP == "" {
		entry.IP = info.IP
	}
	if entry.UserAgent == "" {
		entry.UserAgent = info.UserAgent
	}
	if entry.Device == "" {
		entry.Device = info.DeviceID
	}
	e.audit.Record(ctx, entry)
}

func (e *Engine) failedLogin(ctx context.Context, tenantID, principalID, reason string, details map[string]any) {
	if details == nil {
		details = make(map[string]any, 1)
	}
	details["reason"] = reason
	e.emitAudit(ctx, audit.Entry{
		ActorID:  principalID,
		TenantID: tenantID,
		Type:     audit.TypeFailedLogin,
		Level:    audit.LevelWarn,
		Details:  details,
	})
}

// screen runs the fraud lane for a risk-relevant request. Only BLOCK stops
// the request; lane failures are logged and let it through.
func (e *Engine) screen(ctx context.Context, p *store.Principal, tenant *store.Tenant, action, deviceID string, extra []fraud.Indicator) error {
	if e.fraud == nil {
		return nil
	}
	info := ClientInfoFromContext(ctx)
	signal := fraud.Signal{
		TenantID:    p.TenantID,
		PrincipalID: p.ID,
		Action:      action,
		IP:          info.IP,
		UserAgent:   info.UserAgent,
		DeviceID:    deviceID,
		NewDevice:   e.isNewDevice(ctx, p.ID, deviceID),
		Indicators:  extra,
	}
	if tenant != nil {
		signal.AmountCeiling = tenant.AmountCeiling
	}

	ev, err := e.fraud.Evaluate(ctx, signal)
	if err != nil {
		e.log.Warn("fraud evaluation failed", logger.PrincipalID(p.ID), logger.Err(err))
		return nil
	}

	switch ev.Decision {
	case fraud.DecisionBlock:
		e.emitAudit(ctx, audit.Entry{
			ActorID:  p.ID,
			TenantID: p.TenantID,
			Type:     audit.TypeSecurityViolation,
			Level:    audit.LevelSecurity,
			Details:  map[string]any{"fraud_event_id": ev.ID, "risk_score": ev.RiskScore, "action": action},
		})
		return ErrForbidden
	case fraud.DecisionChallenge:
		e.log.Info("fraud lane requested a challenge",
			logger.PrincipalID(p.ID), zap.String("fraud_event_id", ev.ID), zap.Float64("risk_score", ev.RiskScore))
	}
	return nil
}

func (e *Engine) isNewDevice(ctx context.Context, principalID, deviceID string) bool {
	if deviceID == "" {
		return true
	}
	list, err := e.sessions.List(ctx, principalID)
	if err != nil {
		return false
	}
	for _, s := range list {
		if s.DeviceID == deviceID {
			return false
		}
	}
	return true
}
