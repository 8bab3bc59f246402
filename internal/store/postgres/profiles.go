package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

func (s *Store) GetOrCreateProfile(ctx context.Context, agentName string) (*model.LearningProfile, error) {
	var out *model.LearningProfile
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := ensureProfile(ctx, tx, agentName)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, agentName string) (*model.LearningProfile, error) {
	var doc []byte
	if err := s.pool.QueryRow(ctx,
		`SELECT doc FROM learning_profiles WHERE agent_name = $1`, agentName,
	).Scan(&doc); err != nil {
		return nil, notFound(err, "profile %s", agentName)
	}
	var p model.LearningProfile
	if err := unmarshalDoc(doc, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]*model.LearningProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM learning_profiles ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list profiles: %w", err)
	}
	defer rows.Close()

	var out []*model.LearningProfile
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan profile: %w", err)
		}
		var p model.LearningProfile
		if err := unmarshalDoc(doc, &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) SetPreference(ctx context.Context, agentName string, pref model.UserPreference, change model.PreferenceChange) error {
	return s.updateProfile(ctx, agentName, func(p *model.LearningProfile) error {
		replaced := false
		for i := range p.Preferences {
			if p.Preferences[i].Category == pref.Category && p.Preferences[i].Key == pref.Key {
				p.Preferences[i] = pref
				replaced = true
				break
			}
		}
		if !replaced {
			p.Preferences = append(p.Preferences, pref)
		}
		p.Changes = append(p.Changes, change)
		return nil
	})
}

func (s *Store) AppendFeedback(ctx context.Context, agentName string, entry model.FeedbackEntry) error {
	return s.updateProfile(ctx, agentName, func(p *model.LearningProfile) error {
		p.Feedback = append(p.Feedback, entry)
		p.TotalFeedbackReceived++
		accepted := 0
		for _, f := range p.Feedback {
			if f.Accepted {
				accepted++
			}
		}
		p.OverallAcceptanceRate = float64(accepted) / float64(len(p.Feedback))
		return nil
	})
}

func (s *Store) AddSuggestion(ctx context.Context, agentName string, sg model.SuggestedPreference) error {
	return s.updateProfile(ctx, agentName, func(p *model.LearningProfile) error {
		p.Suggestions = append(p.Suggestions, sg)
		return nil
	})
}

func (s *Store) UpdateSuggestion(ctx context.Context, agentName string, sg model.SuggestedPreference) error {
	return s.updateExistingProfile(ctx, agentName, func(p *model.LearningProfile) error {
		for i := range p.Suggestions {
			if p.Suggestions[i].ID == sg.ID {
				p.Suggestions[i] = sg
				return nil
			}
		}
		return fmt.Errorf("postgres: suggestion %s: %w", sg.ID, store.ErrNotFound)
	})
}

func (s *Store) GetSuggestion(ctx context.Context, agentName, id string) (*model.SuggestedPreference, error) {
	p, err := s.GetProfile(ctx, agentName)
	if err != nil {
		return nil, err
	}
	for i := range p.Suggestions {
		if p.Suggestions[i].ID == id {
			sg := p.Suggestions[i]
			return &sg, nil
		}
	}
	return nil, fmt.Errorf("postgres: suggestion %s: %w", id, store.ErrNotFound)
}

func (s *Store) ListSuggestions(ctx context.Context, status model.SuggestionStatus, agentName string) ([]model.SuggestedPreference, error) {
	query := `SELECT doc FROM learning_profiles ORDER BY seq`
	args := []any{}
	if agentName != "" {
		query = `SELECT doc FROM learning_profiles WHERE agent_name = $1 ORDER BY seq`
		args = append(args, agentName)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list suggestions: %w", err)
	}
	defer rows.Close()

	var out []model.SuggestedPreference
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan profile: %w", err)
		}
		var p model.LearningProfile
		if err := unmarshalDoc(doc, &p); err != nil {
			return nil, err
		}
		for _, sg := range p.Suggestions {
			if status != "" && sg.Status != status {
				continue
			}
			out = append(out, sg)
		}
	}
	return out, rows.Err()
}

// updateProfile applies fn to the profile under a row lock, creating an
// empty profile first when the agent has none.
func (s *Store) updateProfile(ctx context.Context, agentName string, fn func(p *model.LearningProfile) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := lockProfile(ctx, tx, agentName, true)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		return writeProfile(ctx, tx, p)
	})
}

// updateExistingProfile is updateProfile without the implicit create.
func (s *Store) updateExistingProfile(ctx context.Context, agentName string, fn func(p *model.LearningProfile) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := lockProfile(ctx, tx, agentName, false)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		return writeProfile(ctx, tx, p)
	})
}

func ensureProfile(ctx context.Context, tx pgx.Tx, agentName string) (*model.LearningProfile, error) {
	now := time.Now().UTC()
	fresh := &model.LearningProfile{AgentName: agentName, CreatedAt: now, UpdatedAt: now}
	doc, err := marshalDoc(fresh)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO learning_profiles (agent_name, doc) VALUES ($1, $2)
		 ON CONFLICT (agent_name) DO NOTHING`,
		agentName, doc,
	); err != nil {
		return nil, fmt.Errorf("postgres: ensure profile %s: %w", agentName, err)
	}

	var stored []byte
	if err := tx.QueryRow(ctx,
		`SELECT doc FROM learning_profiles WHERE agent_name = $1`, agentName,
	).Scan(&stored); err != nil {
		return nil, notFound(err, "profile %s", agentName)
	}
	var p model.LearningProfile
	if err := unmarshalDoc(stored, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func lockProfile(ctx context.Context, tx pgx.Tx, agentName string, create bool) (*model.LearningProfile, error) {
	if create {
		if _, err := ensureProfile(ctx, tx, agentName); err != nil {
			return nil, err
		}
	}
	var doc []byte
	if err := tx.QueryRow(ctx,
		`SELECT doc FROM learning_profiles WHERE agent_name = $1 FOR UPDATE`, agentName,
	).Scan(&doc); err != nil {
		return nil, notFound(err, "profile %s", agentName)
	}
	var p model.LearningProfile
	if err := unmarshalDoc(doc, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func writeProfile(ctx context.Context, tx pgx.Tx, p *model.LearningProfile) error {
	p.UpdatedAt = time.Now().UTC()
	doc, err := marshalDoc(p)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE learning_profiles SET doc = $2 WHERE agent_name = $1`,
		p.AgentName, doc,
	); err != nil {
		return fmt.Errorf("postgres: update profile %s: %w", p.AgentName, err)
	}
	return nil
}
