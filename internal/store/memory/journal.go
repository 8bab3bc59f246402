package memory

import (
	"context"

	"github.com/tazuna-ai/tazuna/internal/model"
)

func (s *Store) AppendJournalEntries(ctx context.Context, entries []model.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		e.Payload = copyPayload(e.Payload)
		s.journal = append(s.journal, e)
	}
	return nil
}

func (s *Store) QueryJournal(ctx context.Context, filter model.JournalFilter, page model.Page) ([]model.JournalEntry, int, error) {
	page = page.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []model.JournalEntry
	for _, e := range s.journal {
		if !filter.Since.IsZero() && e.RecordedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.RecordedAt.After(filter.Until) {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.AgentName != "" && e.AgentName != filter.AgentName {
			continue
		}
		e.Payload = copyPayload(e.Payload)
		matched = append(matched, e)
	}
	out, total := paginate(matched, page)
	return out, total, nil
}
