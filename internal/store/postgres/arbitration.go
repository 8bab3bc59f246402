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

func (s *Store) UpsertArbitrationPolicy(ctx context.Context, p *model.ArbitrationPolicy) error {
	doc, err := marshalDoc(p)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO arbitration_policies (id, scope, scope_key, is_default, doc)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET scope = EXCLUDED.scope,
		     scope_key = EXCLUDED.scope_key,
		     is_default = EXCLUDED.is_default,
		     doc = EXCLUDED.doc`,
		p.ID, p.Scope, p.ScopeKey, p.IsDefault, doc,
	); err != nil {
		return fmt.Errorf("postgres: upsert arbitration policy %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) FindArbitrationPolicy(ctx context.Context, scope model.PolicyScope, scopeKey string) (*model.ArbitrationPolicy, error) {
	var doc []byte
	if err := s.pool.QueryRow(ctx,
		`SELECT doc FROM arbitration_policies
		 WHERE scope = $1 AND scope_key = $2
		 ORDER BY seq LIMIT 1`,
		scope, scopeKey,
	).Scan(&doc); err != nil {
		return nil, notFound(err, "arbitration policy %s/%s", scope, scopeKey)
	}
	var p model.ArbitrationPolicy
	if err := unmarshalDoc(doc, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetDefaultArbitrationPolicy(ctx context.Context) (*model.ArbitrationPolicy, error) {
	var doc []byte
	if err := s.pool.QueryRow(ctx,
		`SELECT doc FROM arbitration_policies WHERE is_default ORDER BY seq LIMIT 1`,
	).Scan(&doc); err != nil {
		return nil, notFound(err, "default arbitration policy")
	}
	var p model.ArbitrationPolicy
	if err := unmarshalDoc(doc, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListArbitrationPolicies(ctx context.Context) ([]*model.ArbitrationPolicy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM arbitration_policies ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list arbitration policies: %w", err)
	}
	defer rows.Close()

	var out []*model.ArbitrationPolicy
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan arbitration policy: %w", err)
		}
		var p model.ArbitrationPolicy
		if err := unmarshalDoc(doc, &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) CreateArbitrationDecision(ctx context.Context, d *model.ArbitrationDecision) error {
	doc, err := marshalDoc(d)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO arbitration_decisions (id, escalated, executed, created_at, doc)
		 VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.Outcome == model.OutcomeEscalated, d.Executed, d.CreatedAt, doc,
	); err != nil {
		return fmt.Errorf("postgres: create arbitration decision %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) GetArbitrationDecision(ctx context.Context, id uuid.UUID) (*model.ArbitrationDecision, error) {
	var doc []byte
	if err := s.pool.QueryRow(ctx,
		`SELECT doc FROM arbitration_decisions WHERE id = $1`, id,
	).Scan(&doc); err != nil {
		return nil, notFound(err, "arbitration decision %s", id)
	}
	var d model.ArbitrationDecision
	if err := unmarshalDoc(doc, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) ListArbitrationDecisions(ctx context.Context, escalated *bool, page model.Page) ([]*model.ArbitrationDecision, int, error) {
	page = page.Normalize()

	where := "TRUE"
	args := []any{}
	if escalated != nil {
		args = append(args, *escalated)
		where = fmt.Sprintf("escalated = $%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM arbitration_decisions WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count arbitration decisions: %w", err)
	}

	args = append(args, page.PageSize, page.Offset())
	query := fmt.Sprintf(
		`SELECT doc FROM arbitration_decisions WHERE %s
		 ORDER BY created_at DESC, seq DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args),
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list arbitration decisions: %w", err)
	}
	defer rows.Close()

	out, err := scanArbDecisions(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) ListPendingEscalations(ctx context.Context, page model.Page) ([]*model.ArbitrationDecision, int, error) {
	page = page.Normalize()

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM arbitration_decisions WHERE escalated AND NOT executed`,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count pending escalations: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM arbitration_decisions
		 WHERE escalated AND NOT executed
		 ORDER BY seq LIMIT $1 OFFSET $2`,
		page.PageSize, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list pending escalations: %w", err)
	}
	defer rows.Close()

	out, err := scanArbDecisions(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) MarkDecisionExecuted(ctx context.Context, id uuid.UUID, executedBy string, executedAt time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var doc []byte
		if err := tx.QueryRow(ctx,
			`SELECT doc FROM arbitration_decisions WHERE id = $1 FOR UPDATE`, id,
		).Scan(&doc); err != nil {
			return notFound(err, "arbitration decision %s", id)
		}
		var d model.ArbitrationDecision
		if err := unmarshalDoc(doc, &d); err != nil {
			return err
		}
		if d.Executed {
			return fmt.Errorf("postgres: arbitration decision %s: %w", id, store.ErrAlreadyExecuted)
		}
		d.Executed = true
		d.ExecutedAt = &executedAt
		d.ExecutedBy = &executedBy
		d.RequiresHumanApproval = false
		updated, err := marshalDoc(&d)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE arbitration_decisions SET executed = TRUE, doc = $2 WHERE id = $1`,
			id, updated,
		); err != nil {
			return fmt.Errorf("postgres: mark decision executed %s: %w", id, err)
		}
		return nil
	})
}

func scanArbDecisions(rows pgx.Rows) ([]*model.ArbitrationDecision, error) {
	out := []*model.ArbitrationDecision{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan arbitration decision: %w", err)
		}
		var d model.ArbitrationDecision
		if err := unmarshalDoc(doc, &d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
