package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

func (s *Store) CreateDecision(ctx context.Context, d *model.DecisionRecord) error {
	doc, err := marshalDoc(d)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO decision_records (id, agent_name, event_type, created_at, doc)
		 VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.AgentName, d.TriggeringEventType, d.CreatedAt, doc,
	); err != nil {
		return fmt.Errorf("postgres: create decision %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) GetDecision(ctx context.Context, id uuid.UUID) (*model.DecisionRecord, error) {
	var doc []byte
	if err := s.pool.QueryRow(ctx,
		`SELECT doc FROM decision_records WHERE id = $1`, id,
	).Scan(&doc); err != nil {
		return nil, notFound(err, "decision %s", id)
	}
	var d model.DecisionRecord
	if err := unmarshalDoc(doc, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) SetDecisionOutcome(ctx context.Context, id uuid.UUID, outcome model.DecisionOutcome) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var doc []byte
		if err := tx.QueryRow(ctx,
			`SELECT doc FROM decision_records WHERE id = $1 FOR UPDATE`, id,
		).Scan(&doc); err != nil {
			return notFound(err, "decision %s", id)
		}
		var d model.DecisionRecord
		if err := unmarshalDoc(doc, &d); err != nil {
			return err
		}
		if d.Outcome != nil {
			return fmt.Errorf("postgres: decision %s: %w", id, store.ErrOutcomeRecorded)
		}
		d.Outcome = &outcome
		updated, err := marshalDoc(&d)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE decision_records SET doc = $2 WHERE id = $1`, id, updated,
		); err != nil {
			return fmt.Errorf("postgres: set decision outcome %s: %w", id, err)
		}
		return nil
	})
}

func (s *Store) ListDecisions(ctx context.Context, filter store.DecisionFilter, page model.Page) ([]*model.DecisionRecord, int, error) {
	page = page.Normalize()

	where := "TRUE"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.AgentName != "" {
		where += " AND agent_name = " + arg(filter.AgentName)
	}
	if filter.EventType != "" {
		where += " AND event_type = " + arg(filter.EventType)
	}
	if !filter.Since.IsZero() {
		where += " AND created_at >= " + arg(filter.Since)
	}
	if !filter.Until.IsZero() {
		where += " AND created_at <= " + arg(filter.Until)
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM decision_records WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count decisions: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT doc FROM decision_records WHERE %s ORDER BY seq LIMIT %s OFFSET %s`,
		where, arg(page.PageSize), arg(page.Offset()),
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list decisions: %w", err)
	}
	defer rows.Close()

	out := []*model.DecisionRecord{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, 0, fmt.Errorf("postgres: scan decision: %w", err)
		}
		var d model.DecisionRecord
		if err := unmarshalDoc(doc, &d); err != nil {
			return nil, 0, err
		}
		out = append(out, &d)
	}
	return out, total, rows.Err()
}
