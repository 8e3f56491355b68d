package library

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/booksage/bookshelf/internal/config"
	"github.com/booksage/bookshelf/internal/database"
	"github.com/booksage/bookshelf/internal/domain/repository"
	"github.com/booksage/bookshelf/internal/infrastructure/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []repository.BookEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event repository.BookEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []repository.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []repository.EventType
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

var drivers = []string{config.DriverBun, config.DriverSQLite}

func openStore(t *testing.T, driver string) database.BookRepository {
	t.Helper()
	cfg := &config.Config{DBDriver: driver, DBPath: ":memory:"}
	store, err := storage.Open(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// forEachDriver runs fn against a fresh service for every storage driver.
func forEachDriver(t *testing.T, fn func(t *testing.T, svc *Service, pub *recordingPublisher)) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			pub := &recordingPublisher{}
			svc := NewService(openStore(t, driver), pub, zaptest.NewLogger(t))
			svc.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
			fn(t, svc, pub)
		})
	}
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestService_Create(t *testing.T) {
	forEachDriver(t, func(t *testing.T, svc *Service, pub *recordingPublisher) {
		ctx := context.Background()

		book, err := svc.Create(ctx, BookInput{Title: "  Some book ", Author: "Ekaterina", Year: intPtr(2025)})
		require.NoError(t, err)
		assert.Positive(t, book.ID)
		assert.Equal(t, "Some book", book.Title)
		assert.Equal(t, "Ekaterina", book.Author)
		require.NotNil(t, book.Year)
		assert.Equal(t, 2025, *book.Year)

		require.Len(t, pub.events, 1)
		event := pub.events[0]
		assert.Equal(t, repository.EventBookCreated, event.Type)
		assert.Equal(t, book.ID, event.Book.ID)
		assert.NotEmpty(t, event.ID)
		assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), event.OccurredAt)
	})
}

func TestService_CreateValidation(t *testing.T) {
	forEachDriver(t, func(t *testing.T, svc *Service, pub *recordingPublisher) {
		ctx := context.Background()

		tests := []struct {
			name  string
			in    BookInput
			field string
			rule  string
		}{
			{"missing title", BookInput{Author: "A"}, "title", "required"},
			{"blank title", BookInput{Title: "   ", Author: "A"}, "title", "required"},
			{"missing author", BookInput{Title: "T"}, "author", "required"},
			{"long title", BookInput{Title: strings.Repeat("x", 501), Author: "A"}, "title", "max"},
			{"negative year", BookInput{Title: "T", Author: "A", Year: intPtr(-1)}, "year", "min"},
			{"year too large", BookInput{Title: "T", Author: "A", Year: intPtr(10000)}, "year", "max"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.Create(ctx, tt.in)
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidInput)

				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				require.NotEmpty(t, verr.Fields)
				assert.Equal(t, tt.field, verr.Fields[0].Field)
				assert.Equal(t, tt.rule, verr.Fields[0].Rule)
			})
		}

		assert.Empty(t, pub.events)
	})
}

func TestService_CreateZeroYearIsAllowed(t *testing.T) {
	forEachDriver(t, func(t *testing.T, svc *Service, pub *recordingPublisher) {

		book, err := svc.Create(context.Background(), BookInput{Title: "Epic of Gilgamesh", Author: "Unknown", Year: intPtr(0)})
		require.NoError(t, err)
		require.NotNil(t, book.Year)
		assert.Equal(t, 0, *book.Year)
	})
}

func TestService_ListAndSearch(t *testing.T) {
	forEachDriver(t, func(t *testing.T, svc *Service, pub *recordingPublisher) {
		ctx := context.Background()

		for _, in := range []BookInput{
			{Title: "Easy Python", Author: "Lubanovich", Year: intPtr(2019)},
			{Title: "Learning Python", Author: "Lutz", Year: intPtr(2013)},
			{Title: "Dune", Author: "Herbert", Year: intPtr(1965)},
		} {
			_, err := svc.Create(ctx, in)
			require.NoError(t, err)
		}

		all, err := svc.List(ctx, ListQuery{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		page, err := svc.List(ctx, ListQuery{Limit: 1, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "Dune", page[0].Title)

		rest, err := svc.List(ctx, ListQuery{Offset: 1})
		require.NoError(t, err)
		require.Len(t, rest, 2)
		assert.Equal(t, "Learning Python", rest[0].Title)

		_, err = svc.List(ctx, ListQuery{Offset: -1})
		assert.ErrorIs(t, err, ErrInvalidInput)

		found, err := svc.Search(ctx, SearchQuery{Title: "python"})
		require.NoError(t, err)
		assert.Len(t, found, 2)

		// A lone space is a real criterion: multi-word titles only.
		found, err = svc.Search(ctx, SearchQuery{Title: " "})
		require.NoError(t, err)
		assert.Len(t, found, 2)

		found, err = svc.Search(ctx, SearchQuery{Author: "Lu", Year: 2013})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "Learning Python", found[0].Title)

		_, err = svc.Search(ctx, SearchQuery{Year: -5})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestService_Update(t *testing.T) {
	forEachDriver(t, func(t *testing.T, svc *Service, pub *recordingPublisher) {
		ctx := context.Background()

		created, err := svc.Create(ctx, BookInput{Title: "Old", Author: "Author", Year: intPtr(2000)})
		require.NoError(t, err)

		updated, err := svc.Update(ctx, created.ID, BookUpdate{Title: strPtr("New Title"), Year: intPtr(2025)})
		require.NoError(t, err)
		assert.Equal(t, "New Title", updated.Title)
		assert.Equal(t, "Author", updated.Author)
		assert.Equal(t, 2025, *updated.Year)

		_, err = svc.Update(ctx, created.ID, BookUpdate{Author: strPtr("  ")})
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = svc.Update(ctx, created.ID+100, BookUpdate{Title: strPtr("x")})
		assert.ErrorIs(t, err, database.ErrNotFound)

		assert.Equal(t, []repository.EventType{repository.EventBookCreated, repository.EventBookUpdated}, pub.types())
	})
}

func TestService_Delete(t *testing.T) {
	forEachDriver(t, func(t *testing.T, svc *Service, pub *recordingPublisher) {
		ctx := context.Background()

		created, err := svc.Create(ctx, BookInput{Title: "Gone", Author: "Soon"})
		require.NoError(t, err)

		require.NoError(t, svc.Delete(ctx, created.ID))

		_, err = svc.Get(ctx, created.ID)
		assert.ErrorIs(t, err, database.ErrNotFound)

		err = svc.Delete(ctx, created.ID)
		assert.ErrorIs(t, err, database.ErrNotFound)

		types := pub.types()
		require.Len(t, types, 2)
		assert.Equal(t, repository.EventBookDeleted, types[1])
		assert.Equal(t, "Gone", pub.events[1].Book.Title)
	})
}

func TestService_PublishFailureDoesNotFailRequest(t *testing.T) {
	forEachDriver(t, func(t *testing.T, svc *Service, pub *recordingPublisher) {
		pub.err = errors.New("broker down")

		book, err := svc.Create(context.Background(), BookInput{Title: "Resilient", Author: "Writer"})
		require.NoError(t, err)
		assert.Positive(t, book.ID)
	})
}

func TestService_NilPublisher(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			svc := NewService(openStore(t, driver), nil, zaptest.NewLogger(t))
			_, err := svc.Create(context.Background(), BookInput{Title: "Quiet", Author: "Writer"})
			assert.NoError(t, err)
			assert.NoError(t, svc.Ping(context.Background()))
		})
	}
}
