package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/booksage/bookshelf/internal/config"
	"github.com/booksage/bookshelf/internal/database"
	"github.com/booksage/bookshelf/internal/database/bunstore"
	"github.com/booksage/bookshelf/internal/database/models"
	"github.com/booksage/bookshelf/internal/database/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpen_SelectsDriver(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	tests := []struct {
		driver string
		check  func(t *testing.T, repo database.BookRepository)
	}{
		{config.DriverBun, func(t *testing.T, repo database.BookRepository) { assert.IsType(t, &bunstore.BunStore{}, repo) }},
		{config.DriverSQLite, func(t *testing.T, repo database.BookRepository) { assert.IsType(t, &sqlite.SQLiteStore{}, repo) }},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg := &config.Config{
				DBDriver: tt.driver,
				DBPath:   filepath.Join(t.TempDir(), "nested", "books.db"),
			}
			repo, err := Open(ctx, cfg, logger)
			require.NoError(t, err)
			defer repo.Close()

			tt.check(t, repo)
			require.NoError(t, repo.Ping(ctx))

			_, err = repo.CreateBook(ctx, &models.Book{Title: "Dune", Author: "Herbert"})
			require.NoError(t, err)
		})
	}
}
