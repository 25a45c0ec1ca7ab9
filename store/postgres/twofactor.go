package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Mosleh92/exchange-platform-v3-sub012/twofactor"
)

// TwoFactorStore persists enrollments with optimistic versioning.
type TwoFactorStore struct {
	conn
}

var _ twofactor.Store = (*TwoFactorStore)(nil)

func NewTwoFactorStore(db *sql.DB) *TwoFactorStore {
	return &TwoFactorStore{conn: newConn(db)}
}

func (s *TwoFactorStore) GetEnrollment(ctx context.Context, principalID string) (*twofactor.Enrollment, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var (
		e                 twofactor.Enrollment
		state             string
		codes             []byte
		lastUsed, enabled sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT principal_id, state, secret, recovery_codes, last_used_step, last_used_at, created_at, enabled_at, version
		 FROM two_factor_enrollments WHERE principal_id = $1`, principalID,
	).Scan(&e.PrincipalID, &state, &e.Secret, &codes, &e.LastUsedStep, &lastUsed, &e.CreatedAt, &enabled, &e.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, twofactor.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(codes, &e.RecoveryCodes); err != nil {
		return nil, err
	}
	e.State = twofactor.State(state)
	e.LastUsedAt = timePtr(lastUsed)
	e.EnabledAt = timePtr(enabled)
	return &e, nil
}

func (s *TwoFactorStore) PutEnrollment(ctx context.Context, e twofactor.Enrollment) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	codes, err := marshalJSON(e.RecoveryCodes)
	if err != nil {
		return err
	}
	if codes == nil || string(codes) == "null" {
		codes = []byte("[]")
	}

	var res sql.Result
	if e.Version == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO two_factor_enrollments
			 (principal_id, state, secret, recovery_codes, last_used_step, last_used_at, created_at, enabled_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
			 ON CONFLICT (principal_id) DO NOTHING`,
			e.PrincipalID, string(e.State), e.Secret, codes, e.LastUsedStep,
			nullTimePtr(e.LastUsedAt), e.CreatedAt.UTC(), nullTimePtr(e.EnabledAt))
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE two_factor_enrollments SET
			 state = $2, secret = $3, recovery_codes = $4, last_used_step = $5, last_used_at = $6,
			 created_at = $7, enabled_at = $8, version = version + 1
			 WHERE principal_id = $1 AND version = $9`,
			e.PrincipalID, string(e.State), e.Secret, codes, e.LastUsedStep,
			nullTimePtr(e.LastUsedAt), e.CreatedAt.UTC(), nullTimePtr(e.EnabledAt), e.Version)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return twofactor.ErrVersionConflict
	}
	return nil
}

func (s *TwoFactorStore) DeleteEnrollment(ctx context.Context, principalID string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM two_factor_enrollments WHERE principal_id = $1`, principalID)
	return err
}

func (s *TwoFactorStore) PutSMS(ctx context.Context, code twofactor.SMSCode) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sms_codes (principal_id, code_hash, expires_at, attempts) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (principal_id) DO UPDATE SET code_hash = EXCLUDED.code_hash,
		 expires_at = EXCLUDED.expires_at, attempts = EXCLUDED.attempts`,
		code.PrincipalID, code.CodeHash, code.ExpiresAt.UTC(), code.Attempts)
	return err
}

func (s *TwoFactorStore) GetSMS(ctx context.Context, principalID string) (*twofactor.SMSCode, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var c twofactor.SMSCode
	err := s.db.QueryRowContext(ctx,
		`SELECT principal_id, code_hash, expires_at, attempts FROM sms_codes WHERE principal_id = $1`, principalID,
	).Scan(&c.PrincipalID, &c.CodeHash, &c.ExpiresAt, &c.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, twofactor.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *TwoFactorStore) DeleteSMS(ctx context.Context, principalID string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM sms_codes WHERE principal_id = $1`, principalID)
	return err
}

// RecordSMSFailure bumps the counter in one statement so concurrent wrong
// codes are all counted, then removes the record at the cap.
func (s *TwoFactorStore) RecordSMSFailure(ctx context.Context, principalID string, maxAttempts int) (bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var attempts int
	err := s.db.QueryRowContext(ctx,
		`UPDATE sms_codes SET attempts = attempts + 1 WHERE principal_id = $1 RETURNING attempts`, principalID,
	).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return false, twofactor.ErrNotFound
	}
	if err != nil {
		return false, err
	}
	if attempts < maxAttempts {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sms_codes WHERE principal_id = $1 AND attempts >= $2`, principalID, maxAttempts); err != nil {
		return true, err
	}
	return true, nil
}
