package memory

import (
	"context"
	"time"

	"github.com/tazuna-ai/tazuna/internal/store"
)

type idempotencyRecord struct {
	requestHash string
	completed   bool
	statusCode  int
	body        []byte
	headers     map[string]string
	updatedAt   time.Time
}

func idemKey(userID, endpoint, key string) string {
	return userID + ":" + endpoint + ":" + key
}

func (s *Store) BeginIdempotency(ctx context.Context, userID, endpoint, key, requestHash string) (store.IdempotencyLookup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey(userID, endpoint, key)
	rec, exists := s.idempotency[k]
	if !exists {
		s.idempotency[k] = &idempotencyRecord{requestHash: requestHash, updatedAt: time.Now().UTC()}
		return store.IdempotencyLookup{}, nil // caller owns processing
	}
	if rec.requestHash != requestHash {
		return store.IdempotencyLookup{}, store.ErrIdempotencyPayloadMismatch
	}
	if rec.completed {
		return store.IdempotencyLookup{
			Completed:  true,
			StatusCode: rec.statusCode,
			Body:       append([]byte(nil), rec.body...),
			Headers:    copyHeaders(rec.headers),
		}, nil
	}
	return store.IdempotencyLookup{}, store.ErrIdempotencyInProgress
}

func (s *Store) CompleteIdempotency(ctx context.Context, userID, endpoint, key string, statusCode int, body []byte, headers map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.idempotency[idemKey(userID, endpoint, key)]
	if !ok || rec.completed {
		return store.ErrNotFound
	}
	rec.completed = true
	rec.statusCode = statusCode
	rec.body = append([]byte(nil), body...)
	rec.headers = copyHeaders(headers)
	rec.updatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ClearInProgressIdempotency(ctx context.Context, userID, endpoint, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey(userID, endpoint, key)
	if rec, ok := s.idempotency[k]; ok && !rec.completed {
		delete(s.idempotency, k)
	}
	return nil
}

func (s *Store) CleanupIdempotencyKeys(ctx context.Context, completedTTL, inProgressTTL time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var removed int64
	for k, rec := range s.idempotency {
		ttl := inProgressTTL
		if rec.completed {
			ttl = completedTTL
		}
		if now.Sub(rec.updatedAt) >= ttl {
			delete(s.idempotency, k)
			removed++
		}
	}
	return removed, nil
}

func copyHeaders(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
