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

func (s *Store) CreateConflict(ctx context.Context, c *model.Conflict) error {
	doc, err := marshalDoc(c)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO conflicts (id, resolved, doc) VALUES ($1, $2, $3)`,
		c.ID, c.Resolved, doc,
	); err != nil {
		return fmt.Errorf("postgres: create conflict %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) GetConflict(ctx context.Context, id uuid.UUID) (*model.Conflict, error) {
	var doc []byte
	if err := s.pool.QueryRow(ctx,
		`SELECT doc FROM conflicts WHERE id = $1`, id,
	).Scan(&doc); err != nil {
		return nil, notFound(err, "conflict %s", id)
	}
	var c model.Conflict
	if err := unmarshalDoc(doc, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ResolveConflict(ctx context.Context, id, decisionID uuid.UUID) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var doc []byte
		if err := tx.QueryRow(ctx,
			`SELECT doc FROM conflicts WHERE id = $1 FOR UPDATE`, id,
		).Scan(&doc); err != nil {
			return notFound(err, "conflict %s", id)
		}
		var c model.Conflict
		if err := unmarshalDoc(doc, &c); err != nil {
			return err
		}
		if c.Resolved {
			return fmt.Errorf("postgres: conflict %s: %w", id, store.ErrAlreadyResolved)
		}
		now := time.Now().UTC()
		c.Resolved = true
		c.ResolvedAt = &now
		c.DecisionID = &decisionID
		updated, err := marshalDoc(&c)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE conflicts SET resolved = TRUE, doc = $2 WHERE id = $1`, id, updated,
		); err != nil {
			return fmt.Errorf("postgres: resolve conflict %s: %w", id, err)
		}
		return nil
	})
}

func (s *Store) ListUnresolvedConflicts(ctx context.Context) ([]*model.Conflict, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM conflicts WHERE NOT resolved ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unresolved conflicts: %w", err)
	}
	defer rows.Close()

	var out []*model.Conflict
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan conflict: %w", err)
		}
		var c model.Conflict
		if err := unmarshalDoc(doc, &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
