// Package storetest holds the behaviour every database.BookRepository must
// show. Store packages call Run from their own tests.
package storetest

import (
	"context"
	"testing"

	"github.com/booksage/bookshelf/internal/database"
	"github.com/booksage/bookshelf/internal/database/models"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. It is called once per sub-test.
type Factory func(t *testing.T) database.BookRepository

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

// ignoreBookMeta compares books by their user-visible fields only.
var ignoreBookMeta = cmpopts.IgnoreFields(models.Book{}, "BaseModel", "CreatedAt", "UpdatedAt")

func seed(t *testing.T, repo database.BookRepository) []*models.Book {
	t.Helper()
	books := []*models.Book{
		{Title: "Easy Python", Author: "Lubanovich", Year: intPtr(2019)},
		{Title: "The Go Programming Language", Author: "Donovan", Year: intPtr(2015)},
		{Title: "Learning Python", Author: "Lutz", Year: intPtr(2013)},
		{Title: "100% Go", Author: "Anonymous"},
	}
	for _, b := range books {
		_, err := repo.CreateBook(context.Background(), b)
		require.NoError(t, err)
	}
	return books
}

func titles(books []*models.Book) []string {
	out := make([]string, 0, len(books))
	for _, b := range books {
		out = append(out, b.Title)
	}
	return out
}

// Run exercises the full repository contract.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := newStore(t)
		book := &models.Book{Title: "Some book", Author: "Ekaterina", Year: intPtr(2025)}

		id, err := repo.CreateBook(ctx, book)
		require.NoError(t, err)
		assert.Positive(t, id)
		assert.Equal(t, id, book.ID)

		got, err := repo.GetBookByID(ctx, id)
		require.NoError(t, err)
		if diff := cmp.Diff(book, got, ignoreBookMeta); diff != "" {
			t.Errorf("stored book mismatch (-want +got):\n%s", diff)
		}
		assert.False(t, got.CreatedAt.IsZero())
		assert.False(t, got.UpdatedAt.IsZero())
	})

	t.Run("CreateWithoutYear", func(t *testing.T) {
		repo := newStore(t)
		id, err := repo.CreateBook(ctx, &models.Book{Title: "Untitled", Author: "Nobody"})
		require.NoError(t, err)

		got, err := repo.GetBookByID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got.Year)
	})

	t.Run("IDsAreUnique", func(t *testing.T) {
		repo := newStore(t)
		books := seed(t, repo)
		seen := make(map[int64]bool)
		for _, b := range books {
			assert.False(t, seen[b.ID], "duplicate id %d", b.ID)
			seen[b.ID] = true
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		repo := newStore(t)
		_, err := repo.GetBookByID(ctx, 42)
		assert.ErrorIs(t, err, database.ErrNotFound)
	})

	t.Run("ListEmpty", func(t *testing.T) {
		repo := newStore(t)
		books, err := repo.ListBooks(ctx, database.Page{})
		require.NoError(t, err)
		assert.NotNil(t, books)
		assert.Empty(t, books)
	})

	t.Run("ListOrderedByID", func(t *testing.T) {
		repo := newStore(t)
		seeded := seed(t, repo)

		books, err := repo.ListBooks(ctx, database.Page{})
		require.NoError(t, err)
		assert.Equal(t, titles(seeded), titles(books))
	})

	t.Run("ListPaged", func(t *testing.T) {
		repo := newStore(t)
		seed(t, repo)

		books, err := repo.ListBooks(ctx, database.Page{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"The Go Programming Language", "Learning Python"}, titles(books))

		books, err = repo.ListBooks(ctx, database.Page{Offset: 3})
		require.NoError(t, err)
		assert.Equal(t, []string{"100% Go"}, titles(books))
	})

	t.Run("Search", func(t *testing.T) {
		repo := newStore(t)
		seed(t, repo)

		tests := []struct {
			name   string
			filter database.BookFilter
			want   []string
		}{
			{"no filter", database.BookFilter{}, []string{"Easy Python", "The Go Programming Language", "Learning Python", "100% Go"}},
			{"title substring", database.BookFilter{Title: "Python"}, []string{"Easy Python", "Learning Python"}},
			{"title case insensitive", database.BookFilter{Title: "python"}, []string{"Easy Python", "Learning Python"}},
			{"author substring", database.BookFilter{Author: "Lu"}, []string{"Easy Python", "Learning Python"}},
			{"year exact", database.BookFilter{Year: 2015}, []string{"The Go Programming Language"}},
			{"combined", database.BookFilter{Title: "Python", Author: "Lutz"}, []string{"Learning Python"}},
			{"combined no match", database.BookFilter{Title: "Python", Year: 2015}, []string{}},
			{"percent is literal", database.BookFilter{Title: "100%"}, []string{"100% Go"}},
			{"underscore is literal", database.BookFilter{Title: "_"}, []string{}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				books, err := repo.SearchBooks(ctx, tt.filter)
				require.NoError(t, err)
				assert.Equal(t, tt.want, titles(books))
			})
		}
	})

	t.Run("UpdatePartial", func(t *testing.T) {
		repo := newStore(t)
		books := seed(t, repo)
		target := books[0]

		got, err := repo.UpdateBook(ctx, target.ID, database.BookPatch{Title: strPtr("New Title"), Year: intPtr(2025)})
		require.NoError(t, err)
		assert.Equal(t, target.ID, got.ID)
		assert.Equal(t, "New Title", got.Title)
		assert.Equal(t, "Lubanovich", got.Author)
		require.NotNil(t, got.Year)
		assert.Equal(t, 2025, *got.Year)

		reloaded, err := repo.GetBookByID(ctx, target.ID)
		require.NoError(t, err)
		assert.Equal(t, "New Title", reloaded.Title)

		other, err := repo.GetBookByID(ctx, books[1].ID)
		require.NoError(t, err)
		assert.Equal(t, "The Go Programming Language", other.Title)
	})

	t.Run("UpdateEmptyPatch", func(t *testing.T) {
		repo := newStore(t)
		books := seed(t, repo)

		got, err := repo.UpdateBook(ctx, books[1].ID, database.BookPatch{})
		require.NoError(t, err)
		assert.Equal(t, "The Go Programming Language", got.Title)
		assert.Equal(t, "Donovan", got.Author)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		repo := newStore(t)
		_, err := repo.UpdateBook(ctx, 7, database.BookPatch{Title: strPtr("x")})
		assert.ErrorIs(t, err, database.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		repo := newStore(t)
		books := seed(t, repo)

		require.NoError(t, repo.DeleteBook(ctx, books[0].ID))

		_, err := repo.GetBookByID(ctx, books[0].ID)
		assert.ErrorIs(t, err, database.ErrNotFound)

		err = repo.DeleteBook(ctx, books[0].ID)
		assert.ErrorIs(t, err, database.ErrNotFound)

		remaining, err := repo.ListBooks(ctx, database.Page{})
		require.NoError(t, err)
		assert.Len(t, remaining, len(books)-1)
	})

	t.Run("Ping", func(t *testing.T) {
		repo := newStore(t)
		assert.NoError(t, repo.Ping(ctx))
	})
}
