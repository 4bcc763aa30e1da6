package jobs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePostgREST serves a single table from memory, understanding just the
// id=eq filter and the limit parameter.
type fakePostgREST struct {
	mu   sync.Mutex
	rows []map[string]any
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !strings.HasSuffix(r.URL.Path, "/jobs") {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimPrefix(r.URL.Query().Get("id"), "eq.")
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodPost:
		var row map[string]any
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &row); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.rows = append(f.rows, row)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("[]"))
	case http.MethodPatch:
		var patch map[string]any
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &patch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		updated := []map[string]any{}
		for i, row := range f.rows {
			if row["id"] == id {
				f.rows[i] = patch
				updated = append(updated, patch)
			}
		}
		_ = json.NewEncoder(w).Encode(updated)
	case http.MethodGet:
		out := []map[string]any{}
		// Rows are inserted oldest first in these tests.
		for i := len(f.rows) - 1; i >= 0; i-- {
			if id == "" || f.rows[i]["id"] == id {
				out = append(out, f.rows[i])
			}
		}
		if limit := r.URL.Query().Get("limit"); limit == "1" && len(out) > 1 {
			out = out[:1]
		}
		_ = json.NewEncoder(w).Encode(out)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestSupabaseStore(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(&fakePostgREST{})
	defer srv.Close()

	store, err := NewSupabaseStore(srv.URL, "service-key", "jobs")
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	first := NewJob("first", "", nil, base)
	second := NewJob("second", "", nil, base.Add(time.Minute))
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, second))

	got, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.TextPrompt)
	assert.Equal(t, StatusPending, got.Status)

	require.NoError(t, got.Transition(StatusCancelled, base.Add(time.Hour)))
	require.NoError(t, store.Update(ctx, got))
	got, err = store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	list, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	list, err = store.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSupabaseStoreMissing(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(&fakePostgREST{})
	defer srv.Close()

	store, err := NewSupabaseStore(srv.URL, "service-key", "jobs")
	require.NoError(t, err)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Update(ctx, NewJob("ghost", "", nil, time.Now())), ErrNotFound)
}
