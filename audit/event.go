package audit

import (
	"slices"
	"time"
)

// Level is the logging class of an event. Security and audit events never
// expire.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelSecurity Level = "security"
	LevelAudit    Level = "audit"
)

// Retained reports whether events at level are kept forever and must never
// be dropped on the way to the sink.
func Retained(level Level) bool {
	return level == LevelSecurity || level == LevelAudit
}

// Severity ranks an event for alerting.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event types recorded by the kernel.
const (
	TypeLogin                  = "login"
	TypeFailedLogin            = "failed_login"
	TypeLogout                 = "logout"
	TypePasswordChange         = "password_change"
	Type2FAEnabled             = "2fa_enabled"
	Type2FADisabled            = "2fa_disabled"
	Type2FARecoveryRegenerated = "2fa_recovery_regenerated"
	TypeTransactionCreated     = "transaction_created"
	TypeTransactionUpdated     = "transaction_updated"
	TypeCustomerCreated        = "customer_created"
	TypeSecurityViolation      = "security_violation"
	TypeCrossTenantAttempt     = "cross_tenant_attempt"
	TypeRateLimitExceeded      = "rate_limit_exceeded"
	TypeFailedAuthorization    = "failed_authorization"
	TypeSuspiciousActivity     = "suspicious_activity"
	TypeFraudReview            = "fraud_review"
	TypeAccountStatus          = "account_status"
)

// Retention is how long non-security events are kept.
const Retention = 365 * 24 * time.Hour

var highImpact = map[string]struct{}{
	TypeSecurityViolation:   {},
	TypeFailedAuthorization: {},
	TypeSuspiciousActivity:  {},
}

var typeTags = map[string][]string{
	TypeLogin:                  {"authentication"},
	TypeFailedLogin:            {"authentication", "security"},
	TypeLogout:                 {"authentication"},
	TypePasswordChange:         {"authentication", "security"},
	TypeAccountStatus:          {"account", "security"},
	Type2FAEnabled:             {"authentication", "security", "2fa"},
	Type2FADisabled:            {"authentication", "security", "2fa"},
	Type2FARecoveryRegenerated: {"authentication", "security", "2fa"},
	TypeTransactionCreated:     {"transaction", "business"},
	TypeTransactionUpdated:     {"transaction", "business"},
	TypeCustomerCreated:        {"customer", "business"},
	TypeSecurityViolation:      {"security"},
	TypeCrossTenantAttempt:     {"security", "tenant"},
	TypeRateLimitExceeded:      {"security", "rate_limit"},
	TypeFailedAuthorization:    {"security", "authorization"},
	TypeSuspiciousActivity:     {"security", "fraud"},
	TypeFraudReview:            {"fraud"},
}

// Entry is the ingestion shape. Zero fields take defaults.
type Entry struct {
	ActorID   string
	TenantID  string
	BranchID  string
	Type      string
	Level     Level
	Severity  Severity
	Details   map[string]any
	Metadata  map[string]string
	Tags      []string
	IP        string
	UserAgent string
	Device    string
}

// Event is an appended audit record. Only Processed and ProcessedAt change
// after creation.
type Event struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	ActorID     string            `json:"actor_id,omitempty"`
	TenantID    string            `json:"tenant_id,omitempty"`
	BranchID    string            `json:"branch_id,omitempty"`
	Type        string            `json:"type"`
	Level       Level             `json:"level"`
	Severity    Severity          `json:"severity"`
	Details     map[string]any    `json:"details,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Tags        []string          `json:"tags"`
	IP          string            `json:"ip,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Device      string            `json:"device,omitempty"`
	Processed   bool              `json:"processed"`
	ProcessedAt *time.Time        `json:"processed_at,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

// Financial reports whether e belongs to the transaction class whose
// persistence failures are escalated.
func (e Event) Financial() bool {
	return e.Type == TypeTransactionCreated || e.Type == TypeTransactionUpdated
}

// Normalize turns an Entry into an Event at now: severity for security
// level, default tags, retention and id.
func Normalize(in Entry, id string, now time.Time) Event {
	level := in.Level
	if level == "" {
		level = LevelInfo
	}

	severity := in.Severity
	if level == LevelSecurity {
		if _, ok := highImpact[in.Type]; ok {
			severity = SeverityHigh
		} else {
			severity = SeverityMedium
		}
	}
	if severity == "" {
		severity = SeverityLow
	}

	tags := append([]string(nil), typeTags[in.Type]...)
	for _, t := range in.Tags {
		if !slices.Contains(tags, t) {
			tags = append(tags, t)
		}
	}

	ts := now.UTC()
	var expires *time.Time
	if !Retained(level) {
		at := ts.Add(Retention)
		expires = &at
	}

	return Event{
		ID:        id,
		Timestamp: ts,
		ActorID:   in.ActorID,
		TenantID:  in.TenantID,
		BranchID:  in.BranchID,
		Type:      in.Type,
		Level:     level,
		Severity:  severity,
		Details:   in.Details,
		Metadata:  in.Metadata,
		Tags:      tags,
		IP:        in.IP,
		UserAgent: in.UserAgent,
		Device:    in.Device,
		ExpiresAt: expires,
	}
}
