package database

import (
	"context"
	"errors"
	"strings"

	"github.com/booksage/bookshelf/internal/database/models"
)

var ErrNotFound = errors.New("record not found")

// BookFilter narrows a search. Zero values are ignored.
type BookFilter struct {
	Title  string
	Author string
	Year   int
}

// BookPatch carries the fields of an update. Nil fields are left untouched.
type BookPatch struct {
	Title  *string
	Author *string
	Year   *int
}

// Page bounds a listing. Limit 0 means no limit.
type Page struct {
	Limit  int
	Offset int
}

// BookRepository handles book persistence
type BookRepository interface {
	CreateBook(ctx context.Context, book *models.Book) (int64, error)
	GetBookByID(ctx context.Context, id int64) (*models.Book, error)
	ListBooks(ctx context.Context, page Page) ([]*models.Book, error)
	SearchBooks(ctx context.Context, filter BookFilter) ([]*models.Book, error)
	UpdateBook(ctx context.Context, id int64, patch BookPatch) (*models.Book, error)
	DeleteBook(ctx context.Context, id int64) error

	Ping(ctx context.Context) error
	Close() error
}

// ContainsPattern builds a LIKE pattern matching s anywhere, with LIKE
// metacharacters in s escaped by a backslash.
func ContainsPattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
