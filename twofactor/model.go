package twofactor

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("two-factor record not found")
	ErrAlreadyEnabled      = errors.New("two-factor already enabled")
	ErrNotEnabled          = errors.New("two-factor not enabled")
	ErrNoPendingEnrollment = errors.New("no pending two-factor enrollment")
	ErrInvalidCode         = errors.New("invalid two-factor code")
	ErrVersionConflict     = errors.New("two-factor record changed concurrently")
	ErrPasswordMismatch    = errors.New("password re-verification failed")
	ErrTooManyAttempts     = errors.New("too many wrong two-factor codes")
)

// State is the lifecycle stage of an enrollment.
type State string

const (
	StateAbsent  State = "absent"
	StatePending State = "pending"
	StateEnabled State = "enabled"
)

// RecoveryCode is one stored recovery code. Only its hash is persisted.
type RecoveryCode struct {
	Hash   string     `json:"hash"`
	UsedAt *time.Time `json:"used_at,omitempty"`
}

// Used reports whether the code was consumed.
func (c RecoveryCode) Used() bool { return c.UsedAt != nil }

// Enrollment is the per-principal two-factor record.
type Enrollment struct {
	PrincipalID   string
	State         State
	Secret        string
	RecoveryCodes []RecoveryCode
	// LastUsedStep is the last accepted TOTP time step; steps at or below it
	// are rejected.
	LastUsedStep int64
	LastUsedAt   *time.Time
	CreatedAt    time.Time
	EnabledAt    *time.Time
	// Version is the compare-and-swap token. Zero means the record has not
	// been persisted yet.
	Version int64
}

// RemainingRecoveryCodes counts unused recovery codes.
func (e *Enrollment) RemainingRecoveryCodes() int {
	n := 0
	for _, c := range e.RecoveryCodes {
		if !c.Used() {
			n++
		}
	}
	return n
}

// SMSCode is a pending SMS verification. The code itself is stored hashed.
type SMSCode struct {
	PrincipalID string
	CodeHash    string
	ExpiresAt   time.Time
	// Attempts counts wrong codes presented against this record.
	Attempts int
}

// DeliveryToken is what an SMS transport needs to send a code.
type DeliveryToken struct {
	PrincipalID string
	Code        string
	ExpiresAt   time.Time
}

// Setup is returned once by BeginEnrollment.
type Setup struct {
	Secret        string
	URI           string
	RecoveryCodes []string
}

// Store persists enrollments and SMS codes.
//
// PutEnrollment must write e only when the stored version equals e.Version
// (or no record exists and e.Version is zero), storing e.Version+1.
// Otherwise it returns ErrVersionConflict.
type Store interface {
	GetEnrollment(ctx context.Context, principalID string) (*Enrollment, error)
	PutEnrollment(ctx context.Context, e Enrollment) error
	DeleteEnrollment(ctx context.Context, principalID string) error

	PutSMS(ctx context.Context, code SMSCode) error
	GetSMS(ctx context.Context, principalID string) (*SMSCode, error)
	DeleteSMS(ctx context.Context, principalID string) error
	// RecordSMSFailure counts one wrong code and deletes the record once
	// maxAttempts is reached. It returns ErrNotFound when no code is stored.
	RecordSMSFailure(ctx context.Context, principalID string, maxAttempts int) (exhausted bool, err error)
}

// PasswordVerifier re-checks a principal's password before teardown.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, principalID, password string) error
}

// PasswordVerifierFunc adapts a function to PasswordVerifier.
type PasswordVerifierFunc func(ctx context.Context, principalID, password string) error

func (f PasswordVerifierFunc) VerifyPassword(ctx context.Context, principalID, password string) error {
	return f(ctx, principalID, password)
}
