package fraud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Mosleh92/exchange-platform-v3-sub012/audit"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/ids"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
)

// Signal is what a risk-relevant request reports to the pipeline.
type Signal struct {
	TenantID    string
	PrincipalID string
	Action      string
	IP          string
	UserAgent   string
	DeviceID    string
	NewDevice   bool
	VPN         bool
	Proxy       bool
	Tor         bool
	// IPReputation is 0 to 100, higher is better. Nil means unknown.
	IPReputation  *float64
	Location      *Location
	Amount        float64
	AmountCeiling float64
	// MLScore is an external model score in [0,100]. Nil counts as 0.
	MLScore *float64
	// Indicators are extra signals supplied by the caller.
	Indicators []Indicator
}

// AuditRecorder is the part of the audit lane the pipeline needs.
type AuditRecorder interface {
	Record(ctx context.Context, in audit.Entry) audit.Event
}

// Observer receives every automatic decision.
type Observer func(d Decision, score float64)

// Config wires the pipeline.
type Config struct {
	Rules    RuleConfig
	Observer Observer
	Now      func() time.Time
}

// Pipeline scores signals, persists the result and raises high-risk events.
type Pipeline struct {
	cfg      Config
	store    Store
	velocity *Velocity
	audit    AuditRecorder
	log      *zap.Logger
}

// NewPipeline returns a pipeline. velocity and recorder may be nil.
func NewPipeline(store Store, velocity *Velocity, recorder AuditRecorder, cfg Config, log *zap.Logger) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("fraud: store required")
	}
	cfg.Rules = cfg.Rules.withDefaults()
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		velocity: velocity,
		audit:    recorder,
		log:      logger.OrNop(log).With(logger.Component("fraud")),
	}, nil
}

// Evaluate scores s and returns the stored event.
func (p *Pipeline) Evaluate(ctx context.Context, s Signal) (*Event, error) {
	now := p.cfg.Now().UTC()

	indicators := append([]Indicator(nil), s.Indicators...)

	var vel VelocityResult
	if p.velocity != nil {
		if s.PrincipalID != "" {
			vel = p.velocity.Track(ctx, "principal", s.PrincipalID)
			if ind, ok := vel.Indicator("principal"); ok {
				indicators = append(indicators, ind)
			}
		}
		if s.IP != "" {
			ipVel := p.velocity.Track(ctx, "ip", s.IP)
			if ind, ok := ipVel.Indicator("ip"); ok {
				indicators = append(indicators, ind)
			}
			if vel.Counts == nil {
				vel = ipVel
			}
		}
	}

	if s.Location != nil && s.PrincipalID != "" {
		prev, err := p.store.LastLocation(ctx, s.PrincipalID)
		switch {
		case err == nil:
			if ind, ok := ImpossibleTravel(*prev, *s.Location); ok {
				indicators = append(indicators, ind)
			}
		case !errors.Is(err, ErrNotFound):
			p.log.Warn("last location lookup failed", logger.PrincipalID(s.PrincipalID), logger.Err(err))
		}
	}

	ruleScore, hits := evaluateRules(p.cfg.Rules, s)
	var ml float64
	if s.MLScore != nil {
		ml = clamp(*s.MLScore, 0, 100)
	}
	score := Composite(ml, ruleScore, indicators)
	decision := Decide(score)

	e := Event{
		ID:          ids.NewAt(now),
		Timestamp:   now,
		TenantID:    s.TenantID,
		PrincipalID: s.PrincipalID,
		Action:      s.Action,
		IP:          s.IP,
		DeviceID:    s.DeviceID,
		NewDevice:   s.NewDevice,
		VPN:         s.VPN,
		Proxy:       s.Proxy,
		Tor:         s.Tor,
		Location:    s.Location,
		Velocity:    vel,
		Indicators:  indicators,
		Rules:       hits,
		MLScore:     ml,
		RuleScore:   ruleScore,
		RiskScore:   score,
		Decision:    decision,
		Reason:      reasonFor(decision),
		Pending:     score >= ReviewThreshold,
	}

	if err := p.store.Save(ctx, e); err != nil {
		return nil, fmt.Errorf("fraud: save event: %w", err)
	}
	if p.cfg.Observer != nil {
		p.cfg.Observer(decision, score)
	}

	if e.Pending && p.audit != nil {
		p.audit.Record(ctx, audit.Entry{
			ActorID:   s.PrincipalID,
			TenantID:  s.TenantID,
			Type:      audit.TypeSuspiciousActivity,
			Level:     audit.LevelSecurity,
			IP:        s.IP,
			UserAgent: s.UserAgent,
			Device:    s.DeviceID,
			Details: map[string]any{
				"fraud_event_id": e.ID,
				"risk_score":     score,
				"decision":       string(decision),
				"action":         s.Action,
			},
		})
	}
	return &e, nil
}

// Override records a reviewer's decision. The automatic decision and reason
// stay on the event.
func (p *Pipeline) Override(ctx context.Context, eventID string, o Override) (*Event, error) {
	if strings.TrimSpace(o.Reviewer) == "" {
		return nil, errors.New("fraud: reviewer required")
	}
	if _, err := ParseDecision(string(o.Decision)); err != nil {
		return nil, err
	}
	o.At = p.cfg.Now().UTC()

	e, err := p.store.SetOverride(ctx, eventID, o)
	if err != nil {
		return nil, err
	}

	if p.audit != nil {
		p.audit.Record(ctx, audit.Entry{
			ActorID:  o.Reviewer,
			TenantID: e.TenantID,
			Type:     audit.TypeFraudReview,
			Level:    audit.LevelAudit,
			Details: map[string]any{
				"fraud_event_id":     e.ID,
				"automatic_decision": string(e.Decision),
				"override_decision":  string(o.Decision),
				"reason":             o.Reason,
			},
		})
	}
	return e, nil
}

// PendingReviews lists events waiting for a reviewer.
func (p *Pipeline) PendingReviews(ctx context.Context, tenantID string) ([]Event, error) {
	return p.store.Pending(ctx, tenantID)
}

// Get returns one event.
func (p *Pipeline) Get(ctx context.Context, id string) (*Event, error) {
	return p.store.Get(ctx, id)
}
