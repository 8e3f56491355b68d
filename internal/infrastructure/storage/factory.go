// Package storage opens the book repository selected by configuration.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/booksage/bookshelf/internal/config"
	"github.com/booksage/bookshelf/internal/database"
	"github.com/booksage/bookshelf/internal/database/bunstore"
	"github.com/booksage/bookshelf/internal/database/sqlite"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"go.uber.org/zap"
)

// Open creates the database file's directory if needed and returns a ready
// repository with its schema in place.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (database.BookRepository, error) {
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	logger.Info("Opening book store", zap.String("driver", cfg.DBDriver), zap.String("path", cfg.DBPath))

	switch cfg.DBDriver {
	case config.DriverSQLite:
		return sqlite.NewSQLiteStore(ctx, cfg.DBPath)
	default:
		return openBun(ctx, cfg.DBPath)
	}
}

func openBun(ctx context.Context, path string) (database.BookRepository, error) {
	db, err := sql.Open(sqliteshim.ShimName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite has a single writer; one connection avoids SQLITE_BUSY between pooled conns.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	store, err := bunstore.NewBunStore(ctx, db, sqlitedialect.New())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
