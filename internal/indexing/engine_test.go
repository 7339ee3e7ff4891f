package indexing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ctxforge/retrievalcore/internal/entry"
	"github.com/ctxforge/retrievalcore/internal/ftsstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu        sync.Mutex
	indexed   []*entry.Entry
	updated   []*entry.Entry
	deleted   []string
	indexErr  error
	metrics   ftsstore.Metrics
	searchRes []*entry.SearchResult
}

func (f *fakeStore) Index(ctx context.Context, entries []*entry.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed = append(f.indexed, entries...)
	return nil
}
func (f *fakeStore) Update(ctx context.Context, entries []*entry.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, entries...)
	return nil
}
func (f *fakeStore) Delete(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return nil
}
func (f *fakeStore) Search(ctx context.Context, q ftsstore.Query) (*ftsstore.SearchResponse, error) {
	return &ftsstore.SearchResponse{Results: f.searchRes}, nil
}
func (f *fakeStore) FindSimilar(ctx context.Context, id string, limit int) ([]*entry.SearchResult, error) {
	return nil, nil
}
func (f *fakeStore) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) Metrics() ftsstore.Metrics           { return f.metrics }
func (f *fakeStore) Health(ctx context.Context) ftsstore.Health { return ftsstore.Health{Status: "ok"} }
func (f *fakeStore) Vacuum(ctx context.Context) error    { return nil }
func (f *fakeStore) Optimize(ctx context.Context) error  { return nil }
func (f *fakeStore) Close() error                        { return nil }

func validEntry(id string) *entry.Entry {
	return &entry.Entry{ID: id, Kind: entry.KindKnowledge, Title: "t", Body: "body", Path: "/abs/" + id}
}

func TestIndexContentValidatesAndForwards(t *testing.T) {
	store := &fakeStore{}
	e := New(store, nil, DefaultConfig())
	err := e.IndexContent(context.Background(), []*entry.Entry{validEntry("a")})
	require.NoError(t, err)
	assert.Len(t, store.indexed, 1)
}

func TestIndexContentRejectsMissingFields(t *testing.T) {
	store := &fakeStore{}
	e := New(store, nil, DefaultConfig())
	bad := &entry.Entry{ID: "a"}
	err := e.IndexContent(context.Background(), []*entry.Entry{bad})
	assert.Error(t, err)
}

func TestIndexBatchGroupsAndAggregatesErrors(t *testing.T) {
	store := &fakeStore{indexErr: errors.New("lock timeout")}
	e := New(store, nil, DefaultConfig())
	batch := Batch{Source: "standard", Ops: []Op{
		{Type: OpInsert, Entry: validEntry("a")},
		{Type: OpDelete, ID: "b"},
	}}
	result, err := e.IndexBatch(context.Background(), batch)
	require.Error(t, err)
	require.Len(t, result.Errors, 1)
	assert.True(t, result.Errors[0].Recoverable)
	assert.Equal(t, 1, result.Deleted)
}

func TestEnqueueRoutesByPrioritySource(t *testing.T) {
	store := &fakeStore{}
	e := New(store, nil, DefaultConfig())
	e.Enqueue(Batch{Source: "standard-submission"})
	e.Enqueue(Batch{Source: "real-time-file-watcher"})

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Len(t, e.priorityQueue, 1)
	assert.Len(t, e.standardQueue, 1)
}

type fakeLoader struct{}

func (fakeLoader) Load(ctx context.Context, path string, kind entry.Kind) (*entry.Entry, error) {
	return &entry.Entry{ID: entry.NewEntryID(path), Kind: kind, Title: path, Body: "content", Path: path}, nil
}

func TestHandleContentChangesBuildsRealtimeBatch(t *testing.T) {
	store := &fakeStore{}
	e := New(store, fakeLoader{}, DefaultConfig())
	err := e.HandleContentChanges(context.Background(), []ChangeRecord{
		{ChangeType: "created", Path: "foo.go", Kind: entry.KindCode, Timestamp: time.Now()},
	})
	require.NoError(t, err)

	e.mu.Lock()
	require.Len(t, e.priorityQueue, 1)
	assert.Equal(t, "real-time-file-watcher", e.priorityQueue[0].Source)
	e.mu.Unlock()
}

func TestHandleContentChangesSkipsDisallowedExtensions(t *testing.T) {
	store := &fakeStore{}
	e := New(store, fakeLoader{}, DefaultConfig())
	err := e.HandleContentChanges(context.Background(), []ChangeRecord{
		{ChangeType: "created", Path: "image.png", Kind: entry.KindCode, Timestamp: time.Now()},
	})
	require.NoError(t, err)
	e.mu.Lock()
	assert.Empty(t, e.priorityQueue)
	e.mu.Unlock()
}

func TestSchedulerDrainsQueuedBatches(t *testing.T) {
	store := &fakeStore{}
	cfg := DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	e := New(store, nil, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	e.Enqueue(Batch{Source: "standard", Ops: []Op{{Type: OpInsert, Entry: validEntry("a")}}})

	deadline := time.After(time.Second)
	for {
		store.mu.Lock()
		n := len(store.indexed)
		store.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("scheduler did not drain the queued batch in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	require.NoError(t, e.Stop(context.Background()))
}

func TestCleanupRemovesStaleEntries(t *testing.T) {
	old := &entry.SearchResult{Entry: &entry.Entry{ID: "old", LastModified: time.Now().AddDate(0, 0, -100)}}
	fresh := &entry.SearchResult{Entry: &entry.Entry{ID: "fresh", LastModified: time.Now()}}
	store := &fakeStore{searchRes: []*entry.SearchResult{old, fresh}}
	e := New(store, nil, DefaultConfig())

	removed, err := e.Cleanup(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"old"}, store.deleted)
}

func TestStopIsIdempotent(t *testing.T) {
	store := &fakeStore{}
	e := New(store, nil, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	require.NoError(t, e.Stop(context.Background()))
	require.NoError(t, e.Stop(context.Background()))
}
