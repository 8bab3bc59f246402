package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tazuna-ai/tazuna/internal/model"
)

// Cooldown and the rate window are time.Durations the document encoding
// drops, so they ride in their own columns and are restored on scan.

func (s *Store) GetAdaptationPolicy(ctx context.Context, agentName string) (*model.AdaptationPolicy, error) {
	var (
		doc        []byte
		cooldownNS int64
		windowNS   int64
	)
	if err := s.pool.QueryRow(ctx,
		`SELECT doc, cooldown_ns, rate_window_ns FROM adaptation_policies WHERE agent_name = $1`,
		agentName,
	).Scan(&doc, &cooldownNS, &windowNS); err != nil {
		return nil, notFound(err, "adaptation policy for %s", agentName)
	}
	return decodeAdaptPolicy(doc, cooldownNS, windowNS)
}

func (s *Store) SaveAdaptationPolicy(ctx context.Context, p *model.AdaptationPolicy) error {
	doc, err := marshalDoc(p)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO adaptation_policies (agent_name, cooldown_ns, rate_window_ns, doc)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (agent_name) DO UPDATE
		 SET cooldown_ns = EXCLUDED.cooldown_ns,
		     rate_window_ns = EXCLUDED.rate_window_ns,
		     doc = EXCLUDED.doc`,
		p.AgentName, int64(p.Cooldown), int64(p.RateLimit.Window), doc,
	); err != nil {
		return fmt.Errorf("postgres: save adaptation policy %s: %w", p.AgentName, err)
	}
	return nil
}

// RecordAutoChange re-checks cooldown and the rate window under a row
// lock and, when both pass, advances LastAutoAdaptAt and the window
// counter in the same transaction. Concurrent appliers serialize on the
// lock, so the window counter cannot exceed MaxChanges.
func (s *Store) RecordAutoChange(ctx context.Context, agentName string, now time.Time) (*model.AdaptationPolicy, model.BlockReason, error) {
	var (
		out    *model.AdaptationPolicy
		reason model.BlockReason
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var (
			doc        []byte
			cooldownNS int64
			windowNS   int64
		)
		if err := tx.QueryRow(ctx,
			`SELECT doc, cooldown_ns, rate_window_ns FROM adaptation_policies
			 WHERE agent_name = $1 FOR UPDATE`,
			agentName,
		).Scan(&doc, &cooldownNS, &windowNS); err != nil {
			return notFound(err, "adaptation policy for %s", agentName)
		}
		p, err := decodeAdaptPolicy(doc, cooldownNS, windowNS)
		if err != nil {
			return err
		}

		if p.Cooldown > 0 && p.LastAutoAdaptAt != nil && now.Sub(*p.LastAutoAdaptAt) < p.Cooldown {
			out, reason = p, model.BlockCooldownNotElapsed
			return nil
		}

		if p.RateLimit.MaxChanges > 0 {
			if p.WindowStartedAt == nil || now.Sub(*p.WindowStartedAt) >= p.RateLimit.Window {
				start := now
				p.WindowStartedAt = &start
				p.CurrentWindowCount = 0
			}
			if p.CurrentWindowCount >= p.RateLimit.MaxChanges {
				out, reason = p, model.BlockRateLimitExceeded
				return nil
			}
			p.CurrentWindowCount++
		}

		at := now
		p.LastAutoAdaptAt = &at
		p.UpdatedAt = now

		updated, err := marshalDoc(p)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE adaptation_policies SET doc = $2 WHERE agent_name = $1`,
			agentName, updated,
		); err != nil {
			return fmt.Errorf("postgres: record auto change %s: %w", agentName, err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return out, reason, nil
}

func decodeAdaptPolicy(doc []byte, cooldownNS, windowNS int64) (*model.AdaptationPolicy, error) {
	var p model.AdaptationPolicy
	if err := unmarshalDoc(doc, &p); err != nil {
		return nil, err
	}
	p.Cooldown = time.Duration(cooldownNS)
	p.RateLimit.Window = time.Duration(windowNS)
	return &p, nil
}
