package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/booksage/bookshelf/internal/database"
	"github.com/booksage/bookshelf/internal/database/models"
	_ "github.com/mattn/go-sqlite3"
)

var _ database.BookRepository = (*SQLiteStore)(nil)

const bookColumns = `id, title, author, year, created_at, updated_at`

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn with the mattn/go-sqlite3 driver.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	store, err := NewSQLiteStoreFromDB(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStoreFromDB wraps an already opened connection pool.
func NewSQLiteStoreFromDB(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title VARCHAR NOT NULL,
		author VARCHAR NOT NULL,
		year INTEGER,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_books_title ON books(title);
	CREATE INDEX IF NOT EXISTS idx_books_author ON books(author);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*models.Book, error) {
	book := &models.Book{}
	var year sql.NullInt64
	if err := row.Scan(&book.ID, &book.Title, &book.Author, &year, &book.CreatedAt, &book.UpdatedAt); err != nil {
		return nil, err
	}
	if year.Valid {
		y := int(year.Int64)
		book.Year = &y
	}
	return book, nil
}

func nullableYear(year *int) sql.NullInt64 {
	if year == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*year), Valid: true}
}

func (s *SQLiteStore) queryBooks(ctx context.Context, query string, args ...any) ([]*models.Book, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := make([]*models.Book, 0)
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

func (s *SQLiteStore) CreateBook(ctx context.Context, book *models.Book) (int64, error) {
	now := time.Now().UTC()
	query := `INSERT INTO books (title, author, year, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, book.Title, book.Author, nullableYear(book.Year), now, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	book.ID = id
	book.CreatedAt = now
	book.UpdatedAt = now
	return id, nil
}

func (s *SQLiteStore) GetBookByID(ctx context.Context, id int64) (*models.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE id = ?`
	book, err := scanBook(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return book, nil
}

func (s *SQLiteStore) ListBooks(ctx context.Context, page database.Page) ([]*models.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books ORDER BY id ASC`
	var args []any
	if page.Limit > 0 || page.Offset > 0 {
		limit := page.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, page.Offset)
	}
	return s.queryBooks(ctx, query, args...)
}

func (s *SQLiteStore) SearchBooks(ctx context.Context, filter database.BookFilter) ([]*models.Book, error) {
	var (
		where []string
		args  []any
	)
	if filter.Title != "" {
		where = append(where, `title LIKE ? ESCAPE '\'`)
		args = append(args, database.ContainsPattern(filter.Title))
	}
	if filter.Author != "" {
		where = append(where, `author LIKE ? ESCAPE '\'`)
		args = append(args, database.ContainsPattern(filter.Author))
	}
	if filter.Year != 0 {
		where = append(where, `year = ?`)
		args = append(args, filter.Year)
	}

	query := `SELECT ` + bookColumns + ` FROM books`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id ASC`
	return s.queryBooks(ctx, query, args...)
}

func (s *SQLiteStore) UpdateBook(ctx context.Context, id int64, patch database.BookPatch) (*models.Book, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Author != nil {
		sets = append(sets, "author = ?")
		args = append(args, *patch.Author)
	}
	if patch.Year != nil {
		sets = append(sets, "year = ?")
		args = append(args, *patch.Year)
	}
	args = append(args, id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE books SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, database.ErrNotFound
	}

	book, err := scanBook(tx.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return book, nil
}

func (s *SQLiteStore) DeleteBook(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM books WHERE id = ?", id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return database.ErrNotFound
	}
	return nil
}
