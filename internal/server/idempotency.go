package server

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/tazuna-ai/tazuna/internal/ctxutil"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

// mutationFunc executes one admin mutation and returns the status code
// and response payload. The idempotency wrapper owns serialization so a
// replay can return the exact bytes of the first execution.
type mutationFunc func(w http.ResponseWriter, r *http.Request) (int, any, error)

// idempotent wraps a mutating handler with the idempotency protocol:
// the Idempotency-Key header is required; a key reused with a different
// body is a conflict; a key still being processed is a conflict; a
// completed key replays the stored response byte for byte.
func (s *Server) idempotent(fn mutationFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		claims := ctxutil.ClaimsFromContext(ctx)
		if claims == nil {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
			return
		}

		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "Idempotency-Key header is required")
			s.metrics.validationError(ctx, normalizeRoute(r.URL.Path))
			return
		}
		if len(key) > 255 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "Idempotency-Key must be at most 255 characters")
			s.metrics.validationError(ctx, normalizeRoute(r.URL.Path))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
		if err != nil {
			handleDecodeError(w, r, err, s.metrics)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		userID := claims.Subject
		endpoint := r.Method + " " + normalizeRoute(r.URL.Path)
		sum := sha256.Sum256(body)
		requestHash := hex.EncodeToString(sum[:])

		lookup, err := s.store.BeginIdempotency(ctx, userID, endpoint, key, requestHash)
		if err != nil {
			mapError(w, r, err)
			return
		}
		if lookup.Completed {
			s.metrics.idempotentReplayed(ctx, endpoint)
			for k, v := range lookup.Headers {
				w.Header().Set(k, v)
			}
			writeRawJSON(w, lookup.StatusCode, lookup.Body)
			return
		}

		status, data, err := fn(w, r)
		if err != nil {
			// Release the reservation so the client can retry. Conflict
			// errors are the handler's verdict, not a transient failure,
			// but releasing is still correct: a retry re-derives the same
			// verdict.
			if clearErr := s.store.ClearInProgressIdempotency(ctx, userID, endpoint, key); clearErr != nil {
				s.logger.Warn("server: clear idempotency reservation", "endpoint", endpoint, "error", clearErr)
			}
			mapError(w, r, err)
			return
		}

		respBody, err := json.Marshal(model.APIResponse{Data: data})
		if err != nil {
			if clearErr := s.store.ClearInProgressIdempotency(ctx, userID, endpoint, key); clearErr != nil {
				s.logger.Warn("server: clear idempotency reservation", "endpoint", endpoint, "error", clearErr)
			}
			mapError(w, r, err)
			return
		}
		// Newline keeps first-execution bytes identical to what
		// json.NewEncoder would have produced, and to the stored replay.
		respBody = append(respBody, '\n')

		headers := map[string]string{"Content-Type": "application/json"}
		if err := s.store.CompleteIdempotency(ctx, userID, endpoint, key, status, respBody, headers); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Reservation evicted mid-flight; answer the caller anyway.
				s.logger.Warn("server: idempotency reservation lost", "endpoint", endpoint)
			} else {
				s.logger.Error("server: store idempotent response", "endpoint", endpoint, "error", err)
			}
		}
		writeRawJSON(w, status, respBody)
	}
}
