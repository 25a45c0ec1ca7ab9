package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
)

// Directory is the PostgreSQL store.Directory.
type Directory struct {
	conn
}

var _ store.Directory = (*Directory)(nil)

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{conn: newConn(db)}
}

const principalColumns = `id, tenant_id, identifier, branch_id, role, status, tenant_access, password_hash,
	failed_attempts, first_failure_at, locked_until, last_login_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*store.Principal, error) {
	var (
		p                           store.Principal
		role, status                string
		access                      []byte
		firstFail, locked, lastSeen sql.NullTime
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.Identifier, &p.BranchID, &role, &status, &access, &p.PasswordHash,
		&p.FailedAttempts, &firstFail, &locked, &lastSeen, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(access, &p.TenantAccess); err != nil {
		return nil, fmt.Errorf("decoding tenant access: %w", err)
	}
	p.Role = store.Role(role)
	p.Status = store.Status(status)
	p.FirstFailureAt = timeOrZero(firstFail)
	p.LockedUntil = timeOrZero(locked)
	p.LastLoginAt = timeOrZero(lastSeen)
	return &p, nil
}

func (d *Directory) GetTenant(ctx context.Context, tenantID string) (*store.Tenant, error) {
	ctx, cancel := d.ctx(ctx)
	defer cancel()

	var (
		t      store.Tenant
		status string
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, status, amount_ceiling, created_at FROM tenants WHERE id = $1`, tenantID,
	).Scan(&t.ID, &t.Name, &status, &t.AmountCeiling, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = store.Status(status)
	return &t, nil
}

func (d *Directory) CreateTenant(ctx context.Context, t store.Tenant) error {
	ctx, cancel := d.ctx(ctx)
	defer cancel()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = store.StatusActive
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, status, amount_ceiling, created_at) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.Name, string(t.Status), t.AmountCeiling, t.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (d *Directory) GetPrincipal(ctx context.Context, tenantID, principalID string) (*store.Principal, error) {
	ctx, cancel := d.ctx(ctx)
	defer cancel()

	row := d.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE tenant_id = $1 AND id = $2`, tenantID, principalID)
	return scanPrincipal(row)
}

func (d *Directory) GetPrincipalByIdentifier(ctx context.Context, tenantID, identifier string) (*store.Principal, error) {
	ctx, cancel := d.ctx(ctx)
	defer cancel()

	row := d.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE tenant_id = $1 AND lower(identifier) = $2`,
		tenantID, strings.ToLower(strings.TrimSpace(identifier)))
	return scanPrincipal(row)
}

func (d *Directory) CreatePrincipal(ctx context.Context, p store.Principal) error {
	ctx, cancel := d.ctx(ctx)
	defer cancel()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = store.StatusActive
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	access, err := marshalJSON(nonNil(p.TenantAccess))
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO principals (id, tenant_id, identifier, branch_id, role, status, tenant_access, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.TenantID, strings.TrimSpace(p.Identifier), p.BranchID, string(p.Role), string(p.Status),
		access, p.PasswordHash, p.CreatedAt, now)
	if err != nil && isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (d *Directory) ListPrincipals(ctx context.Context, q store.Query) ([]store.Principal, error) {
	if q.TenantID == "" {
		return nil, store.ErrUnscopedQuery
	}
	ctx, cancel := d.ctx(ctx)
	defer cancel()

	query := `SELECT ` + principalColumns + ` FROM principals WHERE tenant_id = $1`
	args := []any{q.TenantID}
	if q.Role != "" {
		args = append(args, string(q.Role))
		query += fmt.Sprintf(" AND role = $%d", len(args))
	}
	if q.BranchID != "" {
		args = append(args, q.BranchID)
		query += fmt.Sprintf(" AND branch_id = $%d", len(args))
	}
	query += " ORDER BY identifier"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.Principal, 0)
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (d *Directory) UpdatePasswordHash(ctx context.Context, principalID, hash string) error {
	ctx, cancel := d.ctx(ctx)
	defer cancel()

	res, err := d.db.ExecContext(ctx,
		`UPDATE principals SET password_hash = $2, updated_at = now() WHERE id = $1`, principalID, hash)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (d *Directory) UpdatePrincipalStatus(ctx context.Context, principalID string, status store.Status) error {
	ctx, cancel := d.ctx(ctx)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `
UPDATE principals SET
	status = $2,
	failed_attempts = CASE WHEN $2 = 'active' THEN 0 ELSE failed_attempts END,
	first_failure_at = CASE WHEN $2 = 'active' THEN NULL ELSE first_failure_at END,
	locked_until = CASE WHEN $2 = 'active' THEN NULL ELSE locked_until END,
	updated_at = now()
WHERE id = $1`, principalID, string(status))
	if err != nil {
		return err
	}
	return expectOne(res)
}

// recordFailureSQL mirrors store.ApplyFailure in one statement. The row lock
// taken by the CTE serializes concurrent failures on the same principal.
const recordFailureSQL = `
WITH base AS (
	SELECT id, failed_attempts, first_failure_at, locked_until,
	       (locked_until IS NOT NULL AND locked_until <= $2::timestamptz) AS lapsed
	FROM principals WHERE id = $1 FOR UPDATE
), cur AS (
	SELECT id,
	       CASE WHEN lapsed THEN NULL ELSE locked_until END AS locked_until,
	       (lapsed OR first_failure_at IS NULL
	        OR first_failure_at < $2::timestamptz - make_interval(secs => $3::double precision)) AS fresh,
	       failed_attempts, first_failure_at
	FROM base
), next AS (
	SELECT id, locked_until,
	       CASE WHEN fresh THEN 1 ELSE failed_attempts + 1 END AS attempts,
	       CASE WHEN fresh THEN $2::timestamptz ELSE first_failure_at END AS first_failure_at
	FROM cur
)
UPDATE principals p SET
	failed_attempts = next.attempts,
	first_failure_at = next.first_failure_at,
	locked_until = CASE
		WHEN $4::int > 0 AND next.attempts >= $4::int
		THEN GREATEST(next.locked_until, $2::timestamptz + make_interval(secs => $5::double precision))
		ELSE next.locked_until END,
	updated_at = $2::timestamptz
FROM next
WHERE p.id = next.id
RETURNING p.failed_attempts, p.locked_until`

func (d *Directory) RecordLoginFailure(ctx context.Context, principalID string, now time.Time, policy store.LockoutPolicy) (store.FailureState, error) {
	ctx, cancel := d.ctx(ctx)
	defer cancel()

	var (
		st     store.FailureState
		locked sql.NullTime
	)
	err := d.db.QueryRowContext(ctx, recordFailureSQL,
		principalID, now.UTC(), policy.Window.Seconds(), policy.Threshold, policy.Duration.Seconds(),
	).Scan(&st.Attempts, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return store.FailureState{}, store.ErrNotFound
	}
	if err != nil {
		return store.FailureState{}, err
	}
	st.LockedUntil = timeOrZero(locked)
	st.Locked = policy.Threshold > 0 && st.Attempts >= policy.Threshold
	return st, nil
}

func (d *Directory) RecordLoginSuccess(ctx context.Context, principalID string, now time.Time) error {
	ctx, cancel := d.ctx(ctx)
	defer cancel()

	res, err := d.db.ExecContext(ctx,
		`UPDATE principals SET failed_attempts = 0, first_failure_at = NULL, locked_until = NULL,
		 last_login_at = $2, updated_at = $2 WHERE id = $1`, principalID, now.UTC())
	if err != nil {
		return err
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
