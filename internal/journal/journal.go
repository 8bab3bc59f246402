// Package journal maintains the append-only audit log. A recorder
// subscribes to every bus event and accepts admin mutation records,
// buffers entries in memory, and flushes them to the journal store in
// batches. Each flushed batch is anchored by a Merkle root so an auditor
// can verify the log was not rewritten.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/tazuna-ai/tazuna/internal/bus"
	"github.com/tazuna-ai/tazuna/internal/ctxutil"
	"github.com/tazuna-ai/tazuna/internal/integrity"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
	"github.com/tazuna-ai/tazuna/internal/telemetry"
)

// maxBufferCapacity is the hard upper limit on buffered entries. When
// reached, appends apply backpressure by returning an error.
const maxBufferCapacity = 100_000

// BatchRoot anchors one flushed batch: the Merkle root over the batch's
// entry content hashes, sorted lexicographically.
type BatchRoot struct {
	RootHash  string    `json:"rootHash"`
	Entries   int       `json:"entries"`
	FlushedAt time.Time `json:"flushedAt"`
}

// Recorder buffers journal entries and flushes them when either the
// batch size or the flush interval is reached.
type Recorder struct {
	store         store.Journal
	logger        *slog.Logger
	maxSize       int
	flushInterval time.Duration

	mu      sync.Mutex
	entries []model.JournalEntry
	roots   []BatchRoot

	droppedEntries atomic.Int64
	started        atomic.Bool

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context
}

// NewRecorder creates a journal recorder.
func NewRecorder(st store.Journal, logger *slog.Logger, maxSize int, flushInterval time.Duration) *Recorder {
	return &Recorder{
		store:         st,
		logger:        logger,
		maxSize:       maxSize,
		flushInterval: flushInterval,
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Subscribe attaches the recorder to the bus: every domain event becomes
// a journal entry.
func (r *Recorder) Subscribe(b *bus.Bus) {
	b.Subscribe(bus.AllEvents, func(ctx context.Context, ev model.Event) error {
		return r.RecordEvent(ctx, ev)
	})
}

// Start begins the background flush loop and registers buffer metrics.
// A second call is a no-op. Call Drain to stop.
func (r *Recorder) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		r.logger.Warn("journal: recorder already started")
		return
	}
	r.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancelLoop = cancel
	go r.flushLoop(loopCtx)
}

// RecordEvent appends a domain event to the journal.
func (r *Recorder) RecordEvent(ctx context.Context, ev model.Event) error {
	entry := model.JournalEntry{
		ID:            ev.ID,
		Kind:          model.JournalEvent,
		Type:          string(ev.Type),
		AggregateType: ev.AggregateType,
		AggregateID:   ev.AggregateID,
		Payload:       ev.Payload,
		CorrelationID: ev.CorrelationID,
		RecordedAt:    ev.OccurredAt,
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = ctxutil.CorrelationIDFromContext(ctx)
	}
	return r.append(entry)
}

// MutationRecord describes one admin mutation for the audit trail.
type MutationRecord struct {
	Type      string
	Actor     string
	ActorRole string
	Endpoint  string
	AgentName string
	Payload   map[string]any
}

// RecordMutation appends an admin mutation to the journal.
func (r *Recorder) RecordMutation(ctx context.Context, m MutationRecord) error {
	entry := model.JournalEntry{
		ID:            uuid.New(),
		Kind:          model.JournalMutation,
		Type:          m.Type,
		AgentName:     m.AgentName,
		Actor:         m.Actor,
		ActorRole:     m.ActorRole,
		Endpoint:      m.Endpoint,
		Payload:       m.Payload,
		CorrelationID: ctxutil.CorrelationIDFromContext(ctx),
		RecordedAt:    time.Now().UTC(),
	}
	return r.append(entry)
}

func (r *Recorder) append(entry model.JournalEntry) error {
	hash, err := integrity.EntryHash(entry)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	entry.ContentHash = hash

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries)+1 > maxBufferCapacity {
		return fmt.Errorf("journal: buffer at capacity (%d entries), try again later", len(r.entries))
	}
	r.entries = append(r.entries, entry)

	if len(r.entries) >= r.maxSize {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

func (r *Recorder) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush with the drain context; ctx is already done.
			if r.drainCtx != nil {
				r.Flush(r.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				r.Flush(fallbackCtx)
				cancel()
			}
			close(r.done)
			return
		case <-ticker.C:
			r.Flush(ctx)
		case <-r.flushCh:
			r.Flush(ctx)
		}
	}
}

// Flush writes the buffered entries in one batch and records the batch's
// Merkle root. Failed batches return to the buffer for retry.
func (r *Recorder) Flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.entries) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.entries
	r.entries = nil
	r.mu.Unlock()

	start := time.Now()
	err := r.store.AppendJournalEntries(ctx, batch)
	duration := time.Since(start)

	if err != nil {
		r.logger.Error("journal: flush failed", "error", err, "batch_size", len(batch))
		r.mu.Lock()
		if len(r.entries)+len(batch) <= maxBufferCapacity {
			r.entries = append(batch, r.entries...)
		} else {
			r.droppedEntries.Add(int64(len(batch)))
			r.logger.Error("journal: dropping entries, buffer at capacity after flush failure", "dropped", len(batch))
		}
		r.mu.Unlock()
		return
	}

	leaves := make([]string, len(batch))
	for i, e := range batch {
		leaves[i] = e.ContentHash
	}
	sort.Strings(leaves)
	root := BatchRoot{
		RootHash:  integrity.BuildMerkleRoot(leaves),
		Entries:   len(batch),
		FlushedAt: time.Now().UTC(),
	}
	r.mu.Lock()
	r.roots = append(r.roots, root)
	r.mu.Unlock()

	r.logger.Info("journal: batch flushed",
		"batch_size", len(batch),
		"root_hash", root.RootHash,
		"flush_duration_ms", duration.Milliseconds(),
	)
}

// Drain stops the flush loop, waits for its final flush, and returns.
// ctx bounds the wait and the final flush.
func (r *Recorder) Drain(ctx context.Context) {
	r.drainCtx = ctx
	if r.cancelLoop != nil {
		r.cancelLoop()
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		r.logger.Warn("journal: drain timed out waiting for flush loop")
	}
}

// Roots returns the batch roots recorded so far, oldest first.
func (r *Recorder) Roots() []BatchRoot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BatchRoot, len(r.roots))
	copy(out, r.roots)
	return out
}

// Len returns the current number of buffered entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// DroppedEntries returns the total entries dropped after flush failures.
// Non-zero means audit data loss.
func (r *Recorder) DroppedEntries() int64 {
	return r.droppedEntries.Load()
}

func (r *Recorder) registerMetrics() {
	meter := telemetry.Meter("tazuna/journal")

	_, _ = meter.Int64ObservableGauge("tazuna.journal.buffer_depth",
		metric.WithDescription("Current number of entries in the journal buffer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(r.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("tazuna.journal.dropped_total",
		metric.WithDescription("Total journal entries dropped due to buffer capacity exhaustion"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.DroppedEntries())
			return nil
		}),
	)
}

// NormalizeWindow applies the audit query defaults: a zero since/until
// pair becomes the trailing default window, the window may not exceed
// the maximum, and since must precede until.
func NormalizeWindow(since, until time.Time, now time.Time) (time.Time, time.Time, error) {
	if until.IsZero() {
		until = now
	}
	if since.IsZero() {
		since = until.Add(-model.DefaultAuditWindow)
	}
	if !since.Before(until) {
		return time.Time{}, time.Time{}, fmt.Errorf("journal: since must be before until")
	}
	if until.Sub(since) > model.MaxAuditWindow {
		return time.Time{}, time.Time{}, fmt.Errorf("journal: window may not exceed %d days", int(model.MaxAuditWindow.Hours()/24))
	}
	return since, until, nil
}
