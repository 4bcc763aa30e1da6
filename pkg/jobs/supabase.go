package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
)

// SupabaseStore keeps jobs as rows of a PostgREST table whose columns match
// the Job JSON field names.
type SupabaseStore struct {
	client *supabase.Client
	table  string
}

func NewSupabaseStore(url, key, table string) (*SupabaseStore, error) {
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseStore{client: client, table: table}, nil
}

// The PostgREST client does not take a context; ctx is unused.

func (s *SupabaseStore) Create(_ context.Context, job *Job) error {
	_, _, err := s.client.From(s.table).
		Insert(job, false, "", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *SupabaseStore) Get(_ context.Context, id uuid.UUID) (*Job, error) {
	data, _, err := s.client.From(s.table).
		Select("*", "exact", false).
		Eq("id", id.String()).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}

	var rows []*Job
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func (s *SupabaseStore) Update(_ context.Context, job *Job) error {
	data, _, err := s.client.From(s.table).
		Update(job, "representation", "").
		Eq("id", job.ID.String()).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	var rows []json.RawMessage
	if json.Unmarshal(data, &rows) == nil && len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SupabaseStore) List(_ context.Context, limit int) ([]*Job, error) {
	q := s.client.From(s.table).
		Select("*", "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: false})
	if limit > 0 {
		q = q.Limit(limit, "")
	}
	data, _, err := q.Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	var rows []*Job
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return rows, nil
}
