package twofactor

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/Mosleh92/exchange-platform-v3-sub012/internal"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
)

const (
	DefaultIssuer = "ExchangePlatform"

	secretBytes      = 20
	codeDigits       = 6
	recoveryHexBytes = 4
	smsCodeDigits    = 6
	maxCASAttempts   = 3
)

// Method names how a code was accepted.
type Method string

const (
	MethodTOTP     Method = "totp"
	MethodRecovery Method = "recovery"
)

// Config tunes the service.
type Config struct {
	Issuer            string
	Period            uint
	Skew              uint
	RecoveryCodeCount int
	SMSCodeTTL        time.Duration
	// SMSMaxAttempts is how many wrong codes destroy a pending SMS code.
	SMSMaxAttempts int
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Issuer) == "" {
		c.Issuer = DefaultIssuer
	}
	if c.Period == 0 {
		c.Period = 30
	}
	if c.Skew == 0 {
		c.Skew = 2
	}
	if c.RecoveryCodeCount <= 0 {
		c.RecoveryCodeCount = 8
	}
	if c.SMSCodeTTL <= 0 {
		c.SMSCodeTTL = 10 * time.Minute
	}
	if c.SMSMaxAttempts <= 0 {
		c.SMSMaxAttempts = 5
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Service runs the two-factor state machine on a Store.
type Service struct {
	cfg      Config
	store    Store
	verifier PasswordVerifier
	log      *zap.Logger
}

// New returns a Service. verifier may be nil only if Disable is never used.
func New(store Store, verifier PasswordVerifier, cfg Config, log *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("twofactor: store required")
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		store:    store,
		verifier: verifier,
		log:      logger.OrNop(log).With(logger.Component("twofactor")),
	}, nil
}

func (s *Service) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    s.cfg.Period,
		Skew:      s.cfg.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// State returns the principal's enrollment state.
func (s *Service) State(ctx context.Context, principalID string) (State, error) {
	e, err := s.store.GetEnrollment(ctx, principalID)
	if errors.Is(err, ErrNotFound) {
		return StateAbsent, nil
	}
	if err != nil {
		return "", err
	}
	return e.State, nil
}

// BeginEnrollment creates or replaces a pending enrollment and returns the
// secret, provisioning URI and recovery codes. They are not retrievable
// again.
func (s *Service) BeginEnrollment(ctx context.Context, principalID, account string) (*Setup, error) {
	if principalID == "" || strings.TrimSpace(account) == "" {
		return nil, errors.New("twofactor: principal and account required")
	}

	var version int64
	existing, err := s.store.GetEnrollment(ctx, principalID)
	switch {
	case err == nil && existing.State == StateEnabled:
		return nil, ErrAlreadyEnabled
	case err == nil:
		version = existing.Version
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.Issuer,
		AccountName: account,
		Period:      s.cfg.Period,
		SecretSize:  secretBytes,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("twofactor: generate secret: %w", err)
	}

	codes, hashed, err := s.newRecoveryCodes()
	if err != nil {
		return nil, err
	}

	e := Enrollment{
		PrincipalID:   principalID,
		State:         StatePending,
		Secret:        key.Secret(),
		RecoveryCodes: hashed,
		CreatedAt:     s.cfg.Now().UTC(),
		Version:       version,
	}
	if err := s.store.PutEnrollment(ctx, e); err != nil {
		return nil, err
	}

	return &Setup{Secret: key.Secret(), URI: key.URL(), RecoveryCodes: codes}, nil
}

// ConfirmEnrollment promotes a pending enrollment after a correct TOTP code.
func (s *Service) ConfirmEnrollment(ctx context.Context, principalID, code string) error {
	return s.update(ctx, principalID, func(e *Enrollment, now time.Time) error {
		switch e.State {
		case StateEnabled:
			return ErrAlreadyEnabled
		case StatePending:
		default:
			return ErrNoPendingEnrollment
		}
		step, ok := s.matchTOTP(e.Secret, code, now)
		if !ok {
			return ErrInvalidCode
		}
		e.State = StateEnabled
		e.EnabledAt = &now
		e.LastUsedStep = step
		e.LastUsedAt = &now
		return nil
	}, ErrNoPendingEnrollment)
}

// Verify accepts a TOTP code in the drift window or an unused recovery code.
func (s *Service) Verify(ctx context.Context, principalID, code string) (Method, error) {
	var method Method
	err := s.update(ctx, principalID, func(e *Enrollment, now time.Time) error {
		if e.State != StateEnabled {
			return ErrNotEnabled
		}
		m, err := s.consume(e, code, now)
		method = m
		return err
	}, ErrNotEnabled)
	if err != nil {
		return "", err
	}
	return method, nil
}

// RegenerateRecoveryCodes replaces the whole recovery set after a fresh
// TOTP or unused recovery code. Consumption and replacement are one write.
func (s *Service) RegenerateRecoveryCodes(ctx context.Context, principalID, code string) ([]string, error) {
	var fresh []string
	err := s.update(ctx, principalID, func(e *Enrollment, now time.Time) error {
		if e.State != StateEnabled {
			return ErrNotEnabled
		}
		if _, err := s.consume(e, code, now); err != nil {
			return err
		}
		codes, hashed, err := s.newRecoveryCodes()
		if err != nil {
			return err
		}
		fresh = codes
		e.RecoveryCodes = hashed
		return nil
	}, ErrNotEnabled)
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

// Disable re-verifies the password and removes the enrollment and any SMS
// code.
func (s *Service) Disable(ctx context.Context, principalID, password string) error {
	if s.verifier == nil {
		return errors.New("twofactor: password verifier not configured")
	}
	if err := s.verifier.VerifyPassword(ctx, principalID, password); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordMismatch, err)
	}
	if _, err := s.store.GetEnrollment(ctx, principalID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotEnabled
		}
		return err
	}
	if err := s.store.DeleteEnrollment(ctx, principalID); err != nil {
		return err
	}
	if err := s.store.DeleteSMS(ctx, principalID); err != nil {
		s.log.Warn("sms code cleanup failed", logger.PrincipalID(principalID), logger.Err(err))
	}
	return nil
}

// IssueSMSCode stores a fresh 6-digit code and returns the token a
// transport needs to deliver it. A previous code is replaced.
func (s *Service) IssueSMSCode(ctx context.Context, principalID string) (DeliveryToken, error) {
	if principalID == "" {
		return DeliveryToken{}, errors.New("twofactor: principal required")
	}
	code, err := internal.NewNumericCode(smsCodeDigits)
	if err != nil {
		return DeliveryToken{}, err
	}
	expires := s.cfg.Now().Add(s.cfg.SMSCodeTTL).UTC()
	if err := s.store.PutSMS(ctx, SMSCode{
		PrincipalID: principalID,
		CodeHash:    internal.HashToken(code),
		ExpiresAt:   expires,
	}); err != nil {
		return DeliveryToken{}, err
	}
	return DeliveryToken{PrincipalID: principalID, Code: code, ExpiresAt: expires}, nil
}

// VerifySMSCode succeeds when the stored code is unexpired and equal to
// code. The record is cleared on success, on expiry and after
// SMSMaxAttempts wrong codes, the last of which returns ErrTooManyAttempts.
func (s *Service) VerifySMSCode(ctx context.Context, principalID, code string) error {
	rec, err := s.store.GetSMS(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCode
		}
		return err
	}
	if !s.cfg.Now().Before(rec.ExpiresAt) {
		_ = s.store.DeleteSMS(ctx, principalID)
		return ErrInvalidCode
	}
	presented := internal.HashToken(strings.TrimSpace(code))
	if subtle.ConstantTimeCompare([]byte(presented), []byte(rec.CodeHash)) != 1 {
		exhausted, err := s.store.RecordSMSFailure(ctx, principalID, s.cfg.SMSMaxAttempts)
		switch {
		case errors.Is(err, ErrNotFound):
			return ErrInvalidCode
		case err != nil:
			return err
		case exhausted:
			s.log.Warn("sms code destroyed after repeated failures", logger.PrincipalID(principalID))
			return fmt.Errorf("%w: %w", ErrInvalidCode, ErrTooManyAttempts)
		}
		return ErrInvalidCode
	}
	return s.store.DeleteSMS(ctx, principalID)
}

// update applies fn to a fresh read of the enrollment and writes it back
// with compare-and-swap, retrying on concurrent modification.
func (s *Service) update(ctx context.Context, principalID string, fn func(*Enrollment, time.Time) error, missing error) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		e, err := s.store.GetEnrollment(ctx, principalID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return missing
			}
			return err
		}
		if err := fn(e, s.cfg.Now().UTC()); err != nil {
			return err
		}
		err = s.store.PutEnrollment(ctx, *e)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
	return ErrVersionConflict
}

// consume accepts a TOTP step newer than the last accepted one, or marks an
// unused recovery code as used.
func (s *Service) consume(e *Enrollment, code string, now time.Time) (Method, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))

	if len(normalized) == codeDigits {
		step, ok := s.matchTOTP(e.Secret, normalized, now)
		if !ok || step <= e.LastUsedStep {
			return "", ErrInvalidCode
		}
		e.LastUsedStep = step
		e.LastUsedAt = &now
		return MethodTOTP, nil
	}

	if len(normalized) == 2*recoveryHexBytes {
		presented := internal.HashToken(normalized)
		match := -1
		for i, rc := range e.RecoveryCodes {
			if subtle.ConstantTimeCompare([]byte(presented), []byte(rc.Hash)) == 1 && !rc.Used() {
				match = i
			}
		}
		if match < 0 {
			return "", ErrInvalidCode
		}
		e.RecoveryCodes[match].UsedAt = &now
		e.LastUsedAt = &now
		return MethodRecovery, nil
	}

	return "", ErrInvalidCode
}

// matchTOTP returns the time step whose code equals code, scanning the
// drift window oldest first.
func (s *Service) matchTOTP(secret, code string, now time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != codeDigits || secret == "" {
		return 0, false
	}
	opts := s.validateOpts()
	period := time.Duration(s.cfg.Period) * time.Second
	skew := int(s.cfg.Skew)

	for i := -skew; i <= skew; i++ {
		at := now.Add(time.Duration(i) * period)
		want, err := totp.GenerateCodeCustom(secret, at, opts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return at.Unix() / int64(s.cfg.Period), true
		}
	}
	return 0, false
}

func (s *Service) newRecoveryCodes() ([]string, []RecoveryCode, error) {
	plain := make([]string, 0, s.cfg.RecoveryCodeCount)
	hashed := make([]RecoveryCode, 0, s.cfg.RecoveryCodeCount)
	for len(plain) < s.cfg.RecoveryCodeCount {
		code, err := internal.NewHexCode(recoveryHexBytes)
		if err != nil {
			return nil, nil, err
		}
		plain = append(plain, code)
		hashed = append(hashed, RecoveryCode{Hash: internal.HashToken(code)})
	}
	return plain, hashed, nil
}
