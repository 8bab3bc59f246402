package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tazuna-ai/tazuna/internal/store"
)

// BeginIdempotency reserves a key for processing via INSERT ... ON
// CONFLICT DO NOTHING: exactly one concurrent caller wins the insert and
// owns processing. Stale in-progress keys are not taken over; they block
// retries until CleanupIdempotencyKeys removes them, which prevents a
// duplicate mutation when the original request committed its work but
// crashed before completing the record.
func (s *Store) BeginIdempotency(ctx context.Context, userID, endpoint, key, requestHash string) (store.IdempotencyLookup, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (user_id, endpoint, idempotency_key, request_hash, status)
		 VALUES ($1, $2, $3, $4, 'in_progress')
		 ON CONFLICT DO NOTHING`,
		userID, endpoint, key, requestHash,
	)
	if err != nil {
		return store.IdempotencyLookup{}, fmt.Errorf("postgres: begin idempotency: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return store.IdempotencyLookup{}, nil // caller owns processing
	}

	var (
		storedHash string
		status     string
		statusCode *int
		body       []byte
		headers    []byte
	)
	if err := s.pool.QueryRow(ctx,
		`SELECT request_hash, status, status_code, body, headers
		 FROM idempotency_keys
		 WHERE user_id = $1 AND endpoint = $2 AND idempotency_key = $3`,
		userID, endpoint, key,
	).Scan(&storedHash, &status, &statusCode, &body, &headers); err != nil {
		return store.IdempotencyLookup{}, fmt.Errorf("postgres: lookup idempotency: %w", err)
	}

	if storedHash != requestHash {
		return store.IdempotencyLookup{}, store.ErrIdempotencyPayloadMismatch
	}
	if status == "completed" {
		code := 0
		if statusCode != nil {
			code = *statusCode
		}
		var hdrs map[string]string
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &hdrs); err != nil {
				return store.IdempotencyLookup{}, fmt.Errorf("postgres: unmarshal idempotency headers: %w", err)
			}
		}
		return store.IdempotencyLookup{
			Completed:  true,
			StatusCode: code,
			Body:       body,
			Headers:    hdrs,
		}, nil
	}
	return store.IdempotencyLookup{}, store.ErrIdempotencyInProgress
}

func (s *Store) CompleteIdempotency(ctx context.Context, userID, endpoint, key string, statusCode int, body []byte, headers map[string]string) error {
	hdrs, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("postgres: marshal idempotency headers: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE idempotency_keys
		 SET status = 'completed',
		     status_code = $4,
		     body = $5,
		     headers = $6::jsonb,
		     updated_at = now()
		 WHERE user_id = $1 AND endpoint = $2 AND idempotency_key = $3
		   AND status = 'in_progress'`,
		userID, endpoint, key, statusCode, body, hdrs,
	)
	if err != nil {
		return fmt.Errorf("postgres: complete idempotency: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: complete idempotency: %w", store.ErrNotFound)
	}
	return nil
}

func (s *Store) ClearInProgressIdempotency(ctx context.Context, userID, endpoint, key string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_keys
		 WHERE user_id = $1 AND endpoint = $2 AND idempotency_key = $3
		   AND status = 'in_progress'`,
		userID, endpoint, key,
	); err != nil {
		return fmt.Errorf("postgres: clear idempotency: %w", err)
	}
	return nil
}

func (s *Store) CleanupIdempotencyKeys(ctx context.Context, completedTTL, inProgressTTL time.Duration) (int64, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_keys
		 WHERE (status = 'completed' AND updated_at <= $1)
		    OR (status = 'in_progress' AND updated_at <= $2)`,
		now.Add(-completedTTL), now.Add(-inProgressTTL),
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: cleanup idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
