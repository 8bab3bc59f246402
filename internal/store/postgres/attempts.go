package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

func (s *Store) AppendAttempt(ctx context.Context, a *model.AdaptationAttempt) error {
	doc, err := marshalDoc(a)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO adaptation_attempts (id, agent_name, decision_id, doc)
		 VALUES ($1, $2, $3, $4)`,
		a.ID, a.AgentName, a.DecisionID, doc,
	); err != nil {
		return fmt.Errorf("postgres: append attempt %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, id string) (*model.AdaptationAttempt, error) {
	var doc []byte
	if err := s.pool.QueryRow(ctx,
		`SELECT doc FROM adaptation_attempts WHERE id = $1`, id,
	).Scan(&doc); err != nil {
		return nil, notFound(err, "attempt %s", id)
	}
	var a model.AdaptationAttempt
	if err := unmarshalDoc(doc, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAttempts(ctx context.Context, agentName string) ([]*model.AdaptationAttempt, error) {
	query := `SELECT doc FROM adaptation_attempts ORDER BY seq`
	args := []any{}
	if agentName != "" {
		query = `SELECT doc FROM adaptation_attempts WHERE agent_name = $1 ORDER BY seq`
		args = append(args, agentName)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (s *Store) ListAttemptsByDecision(ctx context.Context, decisionID uuid.UUID) ([]*model.AdaptationAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM adaptation_attempts WHERE decision_id = $1 ORDER BY seq`,
		decisionID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts by decision: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (s *Store) MarkAttemptRolledBack(ctx context.Context, id string, at time.Time, reason string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var doc []byte
		if err := tx.QueryRow(ctx,
			`SELECT doc FROM adaptation_attempts WHERE id = $1 FOR UPDATE`, id,
		).Scan(&doc); err != nil {
			return notFound(err, "attempt %s", id)
		}
		var a model.AdaptationAttempt
		if err := unmarshalDoc(doc, &a); err != nil {
			return err
		}
		if a.RolledBack {
			return fmt.Errorf("postgres: attempt %s: %w", id, store.ErrAlreadyRolledBack)
		}
		a.RolledBack = true
		a.RolledBackAt = &at
		a.RollbackReason = &reason
		updated, err := marshalDoc(&a)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE adaptation_attempts SET doc = $2 WHERE id = $1`, id, updated,
		); err != nil {
			return fmt.Errorf("postgres: mark attempt rolled back %s: %w", id, err)
		}
		return nil
	})
}

func scanAttempts(rows pgx.Rows) ([]*model.AdaptationAttempt, error) {
	var out []*model.AdaptationAttempt
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		var a model.AdaptationAttempt
		if err := unmarshalDoc(doc, &a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
