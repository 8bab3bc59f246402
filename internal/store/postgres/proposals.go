package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

func (s *Store) CreateProposal(ctx context.Context, p *model.Proposal) error {
	doc, err := marshalDoc(p)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO proposals (id, status, doc) VALUES ($1, $2, $3)`,
		p.ID, p.Status, doc,
	); err != nil {
		return fmt.Errorf("postgres: create proposal %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	var doc []byte
	if err := s.pool.QueryRow(ctx,
		`SELECT doc FROM proposals WHERE id = $1`, id,
	).Scan(&doc); err != nil {
		return nil, notFound(err, "proposal %s", id)
	}
	var p model.Proposal
	if err := unmarshalDoc(doc, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdateProposalStatus(ctx context.Context, id string, status model.ProposalStatus, decisionID *uuid.UUID) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var doc []byte
		if err := tx.QueryRow(ctx,
			`SELECT doc FROM proposals WHERE id = $1 FOR UPDATE`, id,
		).Scan(&doc); err != nil {
			return notFound(err, "proposal %s", id)
		}
		var p model.Proposal
		if err := unmarshalDoc(doc, &p); err != nil {
			return err
		}

		settling := p.Status == model.ProposalEscalated &&
			(status == model.ProposalApproved || status == model.ProposalSuppressed)
		if p.Status != model.ProposalPending && !settling {
			return fmt.Errorf("postgres: proposal %s is %s: %w", id, p.Status, store.ErrIllegalTransition)
		}

		p.Status = status
		p.DecisionID = decisionID
		updated, err := marshalDoc(&p)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE proposals SET status = $2, doc = $3 WHERE id = $1`,
			id, status, updated,
		); err != nil {
			return fmt.Errorf("postgres: update proposal %s: %w", id, err)
		}
		return nil
	})
}

func (s *Store) ListProposalsByStatus(ctx context.Context, status model.ProposalStatus) ([]*model.Proposal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM proposals WHERE status = $1 ORDER BY seq`, status,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}
	defer rows.Close()
	return scanProposals(rows)
}

func (s *Store) ListProposalsByIDs(ctx context.Context, ids []string) ([]*model.Proposal, error) {
	out := make([]*model.Proposal, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetProposal(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func scanProposals(rows pgx.Rows) ([]*model.Proposal, error) {
	var out []*model.Proposal
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan proposal: %w", err)
		}
		var p model.Proposal
		if err := unmarshalDoc(doc, &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
