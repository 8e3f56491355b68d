package importer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/booksage/bookshelf/internal/database"
	"github.com/booksage/bookshelf/internal/database/sqlite"
	"github.com/booksage/bookshelf/internal/domain/repository"
	"github.com/booksage/bookshelf/internal/infrastructure/tracker"
	"github.com/booksage/bookshelf/internal/usecase/library"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

const catalog = "http://catalog.example/feed.xml"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	entries []repository.CatalogEntry
	err     error
	since   []int64
}

func (f *fakeSource) FetchEntries(_ context.Context, since int64) ([]repository.CatalogEntry, error) {
	f.since = append(f.since, since)
	if f.err != nil {
		return nil, f.err
	}
	var out []repository.CatalogEntry
	for _, e := range f.entries {
		if e.UpdatedAt.Unix() > since {
			out = append(out, e)
		}
	}
	return out, nil
}

type fixture struct {
	svc   *library.Service
	store database.BookRepository
	state *tracker.FileStateStore
	path  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	path := filepath.Join(t.TempDir(), "state.json")
	state, err := tracker.NewFileStateStore(path)
	require.NoError(t, err)

	return &fixture{
		svc:   library.NewService(store, nil, zaptest.NewLogger(t)),
		store: store,
		state: state,
		path:  path,
	}
}

func at(day int) time.Time { return time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC) }

func intPtr(v int) *int { return &v }

func TestImporter_Run(t *testing.T) {
	f := newFixture(t)
	src := &fakeSource{entries: []repository.CatalogEntry{
		{ID: "urn:1", Title: "Dune", Author: "Frank Herbert", Year: intPtr(1965), UpdatedAt: at(1)},
		{ID: "urn:2", Title: "Emma", Author: "Jane Austen", UpdatedAt: at(3)},
		{ID: "urn:3", Title: "Beowulf", Author: "Unknown", UpdatedAt: at(2)},
	}}

	res, err := New(src, f.svc, f.state, 2, zaptest.NewLogger(t)).Run(context.Background(), catalog)
	require.NoError(t, err)
	assert.Equal(t, Result{Found: 3, Imported: 3}, res)

	books, err := f.store.ListBooks(context.Background(), database.Page{})
	require.NoError(t, err)
	require.Len(t, books, 3)

	assert.Equal(t, at(3).Unix(), f.state.Watermark(catalog))
	assert.True(t, f.state.IsImported(catalog, "urn:1"))

	reloaded, err := tracker.NewFileStateStore(f.path)
	require.NoError(t, err)
	assert.Equal(t, at(3).Unix(), reloaded.Watermark(catalog))
}

func TestImporter_RunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	src := &fakeSource{entries: []repository.CatalogEntry{
		{ID: "urn:1", Title: "Dune", Author: "Frank Herbert", UpdatedAt: at(1)},
	}}
	im := New(src, f.svc, f.state, 4, zaptest.NewLogger(t))

	_, err := im.Run(context.Background(), catalog)
	require.NoError(t, err)

	res, err := im.Run(context.Background(), catalog)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, []int64{0, at(1).Unix()}, src.since)

	books, err := f.store.ListBooks(context.Background(), database.Page{})
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestImporter_SkipsDuplicateAndImportedEntries(t *testing.T) {
	f := newFixture(t)
	f.state.MarkImported(catalog, "urn:old", 99)
	src := &fakeSource{entries: []repository.CatalogEntry{
		{ID: "urn:old", Title: "Already Here", Author: "Someone", UpdatedAt: at(1)},
		{ID: "urn:dup", Title: "Twice", Author: "Echo", UpdatedAt: at(2)},
		{ID: "urn:dup", Title: "Twice", Author: "Echo", UpdatedAt: at(2)},
	}}

	res, err := New(src, f.svc, f.state, 1, zaptest.NewLogger(t)).Run(context.Background(), catalog)
	require.NoError(t, err)
	assert.Equal(t, Result{Found: 3, Skipped: 2, Imported: 1}, res)
}

func TestImporter_FailureHoldsWatermark(t *testing.T) {
	f := newFixture(t)
	src := &fakeSource{entries: []repository.CatalogEntry{
		{ID: "urn:ok", Title: "Fine", Author: "Writer", UpdatedAt: at(1)},
		{ID: "urn:bad", Title: "No Author", Author: "", UpdatedAt: at(2)},
	}}

	res, err := New(src, f.svc, f.state, 2, zaptest.NewLogger(t)).Run(context.Background(), catalog)
	require.NoError(t, err)
	assert.Equal(t, Result{Found: 2, Imported: 1, Failed: 1}, res)
	assert.Zero(t, f.state.Watermark(catalog))
	assert.True(t, f.state.IsImported(catalog, "urn:ok"))
	assert.False(t, f.state.IsImported(catalog, "urn:bad"))
}

func TestImporter_SourceError(t *testing.T) {
	f := newFixture(t)
	src := &fakeSource{err: errors.New("catalog offline")}

	_, err := New(src, f.svc, f.state, 1, zaptest.NewLogger(t)).Run(context.Background(), catalog)
	assert.ErrorContains(t, err, "catalog offline")
}

func TestImporter_CatalogsAreTrackedSeparately(t *testing.T) {
	f := newFixture(t)
	src := &fakeSource{entries: []repository.CatalogEntry{
		{ID: "urn:1", Title: "Shared Id", Author: "Writer", UpdatedAt: at(1)},
	}}
	im := New(src, f.svc, f.state, 1, zaptest.NewLogger(t))

	_, err := im.Run(context.Background(), catalog)
	require.NoError(t, err)
	res, err := im.Run(context.Background(), "http://other.example/feed.xml")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
}
