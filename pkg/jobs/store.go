package jobs

import (
	"context"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"storysmith/pkg/utils"
)

// Store persists jobs. Get returns ErrNotFound for unknown ids and List
// returns the newest jobs first; limit <= 0 lists everything.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	Update(ctx context.Context, job *Job) error
	List(ctx context.Context, limit int) ([]*Job, error)
}

// MemoryStore keeps copies of jobs in a map.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*Job)}
}

func (m *MemoryStore) Create(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	m.jobs[job.ID] = job.clone()
	return nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]*Job, error) {
	m.mu.RLock()
	out := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job.clone())
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Save writes every job to path as JSON.
func (m *MemoryStore) Save(path string) error {
	jobs, _ := m.List(context.Background(), 0)
	if err := utils.Save(path, jobs); err != nil {
		return err
	}
	log.Info("jobs saved", "path", path, "count", len(jobs))
	return nil
}

// LoadMemoryStore reads a file written by Save. A missing file yields an
// empty store.
func LoadMemoryStore(path string) (*MemoryStore, error) {
	m := NewMemoryStore()
	if !utils.Exists(path) {
		return m, nil
	}
	jobs, err := utils.Load[[]*Job](path)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		m.jobs[job.ID] = job
	}
	log.Info("jobs loaded", "path", path, "count", len(jobs))
	return m, nil
}

func sortNewestFirst(jobs []*Job) {
	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}
