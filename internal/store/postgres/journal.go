package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tazuna-ai/tazuna/internal/model"
)

func (s *Store) AppendJournalEntries(ctx context.Context, entries []model.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		doc, err := marshalDoc(e)
		if err != nil {
			return err
		}
		batch.Queue(
			`INSERT INTO journal_entries (id, kind, type, agent_name, recorded_at, doc)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, e.Kind, e.Type, e.AgentName, e.RecordedAt, doc,
		)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: append journal entries: %w", err)
		}
	}
	return nil
}

func (s *Store) QueryJournal(ctx context.Context, filter model.JournalFilter, page model.Page) ([]model.JournalEntry, int, error) {
	page = page.Normalize()

	where := "TRUE"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !filter.Since.IsZero() {
		where += " AND recorded_at >= " + arg(filter.Since)
	}
	if !filter.Until.IsZero() {
		where += " AND recorded_at <= " + arg(filter.Until)
	}
	if filter.Type != "" {
		where += " AND type = " + arg(filter.Type)
	}
	if filter.AgentName != "" {
		where += " AND agent_name = " + arg(filter.AgentName)
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM journal_entries WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count journal entries: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT doc FROM journal_entries WHERE %s ORDER BY seq LIMIT %s OFFSET %s`,
		where, arg(page.PageSize), arg(page.Offset()),
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: query journal: %w", err)
	}
	defer rows.Close()

	out := []model.JournalEntry{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, 0, fmt.Errorf("postgres: scan journal entry: %w", err)
		}
		var e model.JournalEntry
		if err := unmarshalDoc(doc, &e); err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}
