package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/booksage/bookshelf/internal/database"
	"github.com/booksage/bookshelf/internal/database/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

var _ database.BookRepository = (*BunStore)(nil)

type BunStore struct {
	db *bun.DB
}

func NewBunStore(ctx context.Context, db *sql.DB, dialect schema.Dialect) (*BunStore, error) {
	bunDB := bun.NewDB(db, dialect)

	store := &BunStore{db: bunDB}

	// Create table and indexes if they don't exist
	if _, err := bunDB.NewCreateTable().Model((*models.Book)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create books table: %w", err)
	}
	for _, col := range []string{"title", "author"} {
		if _, err := bunDB.NewCreateIndex().
			Model((*models.Book)(nil)).
			Index("idx_books_" + col).
			Column(col).
			IfNotExists().
			Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to create %s index: %w", col, err)
		}
	}

	return store, nil
}

func (s *BunStore) CreateBook(ctx context.Context, book *models.Book) (int64, error) {
	now := time.Now().UTC()
	book.CreatedAt = now
	book.UpdatedAt = now
	if _, err := s.db.NewInsert().Model(book).Exec(ctx); err != nil {
		return 0, err
	}
	return book.ID, nil
}

func (s *BunStore) GetBookByID(ctx context.Context, id int64) (*models.Book, error) {
	book := new(models.Book)
	if err := s.db.NewSelect().Model(book).Where("b.id = ?", id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return book, nil
}

func (s *BunStore) ListBooks(ctx context.Context, page database.Page) ([]*models.Book, error) {
	books := make([]*models.Book, 0)
	q := s.db.NewSelect().Model(&books).Order("b.id ASC")
	switch {
	case page.Limit > 0:
		q = q.Limit(page.Limit)
	case page.Offset > 0:
		// SQLite only accepts OFFSET after a LIMIT, and bun drops a
		// non-positive limit, so use the largest one it can hold.
		q = q.Limit(math.MaxInt32)
	}
	if page.Offset > 0 {
		q = q.Offset(page.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return books, nil
}

func (s *BunStore) SearchBooks(ctx context.Context, filter database.BookFilter) ([]*models.Book, error) {
	books := make([]*models.Book, 0)
	q := s.db.NewSelect().Model(&books)
	if filter.Title != "" {
		q = q.Where(`b.title LIKE ? ESCAPE '\'`, database.ContainsPattern(filter.Title))
	}
	if filter.Author != "" {
		q = q.Where(`b.author LIKE ? ESCAPE '\'`, database.ContainsPattern(filter.Author))
	}
	if filter.Year != 0 {
		q = q.Where("b.year = ?", filter.Year)
	}
	if err := q.Order("b.id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return books, nil
}

func (s *BunStore) UpdateBook(ctx context.Context, id int64, patch database.BookPatch) (*models.Book, error) {
	book := new(models.Book)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().Model((*models.Book)(nil)).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", id)
		if patch.Title != nil {
			q = q.Set("title = ?", *patch.Title)
		}
		if patch.Author != nil {
			q = q.Set("author = ?", *patch.Author)
		}
		if patch.Year != nil {
			q = q.Set("year = ?", *patch.Year)
		}

		res, err := q.Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return database.ErrNotFound
		}

		return tx.NewSelect().Model(book).Where("b.id = ?", id).Scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

func (s *BunStore) DeleteBook(ctx context.Context, id int64) error {
	res, err := s.db.NewDelete().Model((*models.Book)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (s *BunStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *BunStore) Close() error {
	return s.db.Close()
}
