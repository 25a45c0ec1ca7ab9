package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mosleh92/exchange-platform-v3-sub012/audit"
)

// AuditRepository is the audit_events table.
type AuditRepository struct {
	conn
}

var _ audit.Repository = (*AuditRepository)(nil)

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{conn: newConn(db)}
}

func (r *AuditRepository) Append(ctx context.Context, e audit.Event) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	details, err := marshalJSON(mapOrNil(e.Details))
	if err != nil {
		return fmt.Errorf("encoding details: %w", err)
	}
	metadata, err := marshalJSON(stringMapOrNil(e.Metadata))
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	tags, err := marshalJSON(nonNil(e.Tags))
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_events
		 (id, ts, actor_id, tenant_id, branch_id, type, level, severity, details, metadata, tags,
		  ip, user_agent, device, processed, processed_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Timestamp.UTC(), e.ActorID, e.TenantID, e.BranchID, e.Type, string(e.Level), string(e.Severity),
		details, metadata, tags, e.IP, e.UserAgent, e.Device, e.Processed,
		nullTimePtr(e.ProcessedAt), nullTimePtr(e.ExpiresAt))
	return err
}

func mapOrNil(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func stringMapOrNil(m map[string]string) any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func (r *AuditRepository) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	var processed bool
	err := r.db.QueryRowContext(ctx,
		`UPDATE audit_events SET processed = true, processed_at = COALESCE(processed_at, $2)
		 WHERE id = $1 RETURNING processed`, id, at.UTC()).Scan(&processed)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.ErrNotFound
	}
	return err
}

func (r *AuditRepository) List(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	query := `SELECT id, ts, actor_id, tenant_id, branch_id, type, level, severity, details, metadata, tags,
		ip, user_agent, device, processed, processed_at, expires_at FROM audit_events WHERE true`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND "+clause, len(args))
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Level != "" {
		add("level = $%d", string(f.Level))
	}
	if !f.Since.IsZero() {
		add("ts >= $%d", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		add("ts < $%d", f.Until.UTC())
	}
	query += " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]audit.Event, 0)
	for rows.Next() {
		var (
			e                       audit.Event
			level, severity         string
			details, metadata, tags []byte
			processedAt, expiresAt  sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorID, &e.TenantID, &e.BranchID, &e.Type, &level, &severity,
			&details, &metadata, &tags, &e.IP, &e.UserAgent, &e.Device, &e.Processed, &processedAt, &expiresAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(details, &e.Details); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(metadata, &e.Metadata); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(tags, &e.Tags); err != nil {
			return nil, err
		}
		e.Level = audit.Level(level)
		e.Severity = audit.Severity(severity)
		e.ProcessedAt = timePtr(processedAt)
		e.ExpiresAt = timePtr(expiresAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *AuditRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE expires_at IS NOT NULL AND expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
