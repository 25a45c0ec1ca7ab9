package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Mosleh92/exchange-platform-v3-sub012/fraud"
)

// FraudStore keeps the full event as JSON next to the columns the review
// queue and travel check filter on.
type FraudStore struct {
	conn
}

var _ fraud.Store = (*FraudStore)(nil)

func NewFraudStore(db *sql.DB) *FraudStore {
	return &FraudStore{conn: newConn(db)}
}

func (s *FraudStore) Save(ctx context.Context, e fraud.Event) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	override := e.Override
	e.Override = nil
	payload, err := marshalJSON(e)
	if err != nil {
		return err
	}
	var overrideJSON []byte
	if override != nil {
		if overrideJSON, err = marshalJSON(override); err != nil {
			return err
		}
	}

	var lat, lon sql.NullFloat64
	var located sql.NullTime
	if e.Location != nil {
		lat = sql.NullFloat64{Float64: e.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: e.Location.Lon, Valid: true}
		located = nullTime(e.Location.At)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fraud_events
		 (id, ts, tenant_id, principal_id, action, lat, lon, located_at, risk_score, decision, pending, payload, override)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Timestamp.UTC(), e.TenantID, e.PrincipalID, e.Action, lat, lon, located,
		e.RiskScore, string(e.Decision), e.Pending, payload, overrideJSON)
	return err
}

func decodeFraudEvent(payload, override []byte) (*fraud.Event, error) {
	var e fraud.Event
	if err := unmarshalJSON(payload, &e); err != nil {
		return nil, err
	}
	if len(override) > 0 {
		var o fraud.Override
		if err := unmarshalJSON(override, &o); err != nil {
			return nil, err
		}
		e.Override = &o
		e.Pending = false
	}
	return &e, nil
}

func (s *FraudStore) Get(ctx context.Context, id string) (*fraud.Event, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var payload, override []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, override FROM fraud_events WHERE id = $1`, id).Scan(&payload, &override)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fraud.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeFraudEvent(payload, override)
}

func (s *FraudStore) SetOverride(ctx context.Context, id string, o fraud.Override) (*fraud.Event, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	raw, err := marshalJSON(o)
	if err != nil {
		return nil, err
	}
	var payload []byte
	err = s.db.QueryRowContext(ctx,
		`UPDATE fraud_events SET override = $2, pending = false
		 WHERE id = $1 AND override IS NULL RETURNING payload`, id, raw).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM fraud_events WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, err
		}
		if exists {
			return nil, fraud.ErrAlreadyReviewed
		}
		return nil, fraud.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeFraudEvent(payload, raw)
}

func (s *FraudStore) Pending(ctx context.Context, tenantID string) ([]fraud.Event, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM fraud_events
		 WHERE pending AND override IS NULL AND ($1 = '' OR tenant_id = $1)
		 ORDER BY risk_score DESC, ts DESC, id DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]fraud.Event, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		e, err := decodeFraudEvent(payload, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *FraudStore) LastLocation(ctx context.Context, principalID string) (*fraud.Location, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var loc fraud.Location
	err := s.db.QueryRowContext(ctx,
		`SELECT lat, lon, located_at FROM fraud_events
		 WHERE principal_id = $1 AND lat IS NOT NULL AND located_at IS NOT NULL
		 ORDER BY located_at DESC LIMIT 1`, principalID).Scan(&loc.Lat, &loc.Lon, &loc.At)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fraud.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}
