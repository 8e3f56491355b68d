// Package library implements the operations on the book collection.
package library

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/booksage/bookshelf/internal/database"
	"github.com/booksage/bookshelf/internal/database/models"
	"github.com/booksage/bookshelf/internal/domain/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidInput is the root of every validation failure.
var ErrInvalidInput = errors.New("invalid input")

// BookInput is the payload of a create request.
type BookInput struct {
	Title  string `json:"title" validate:"required,max=500"`
	Author string `json:"author" validate:"required,max=300"`
	Year   *int   `json:"year" validate:"omitnil,min=0,max=9999"`
}

// BookUpdate is the payload of an update request. Nil fields are kept.
type BookUpdate struct {
	Title  *string `json:"title" validate:"omitnil,min=1,max=500"`
	Author *string `json:"author" validate:"omitnil,min=1,max=300"`
	Year   *int    `json:"year" validate:"omitnil,min=0,max=9999"`
}

// SearchQuery mirrors database.BookFilter with validation rules.
type SearchQuery struct {
	Title  string `json:"title" validate:"max=500"`
	Author string `json:"author" validate:"max=300"`
	Year   int    `json:"year" validate:"min=0,max=9999"`
}

// ListQuery bounds a listing. Limit 0 returns every book.
type ListQuery struct {
	Limit  int `json:"limit" validate:"min=0,max=1000"`
	Offset int `json:"offset" validate:"min=0"`
}

// FieldError describes one rejected field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// ValidationError lists every rule a payload broke.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s failed %s", f.Field, f.Rule))
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// Service coordinates validation, persistence and change events.
type Service struct {
	repo     database.BookRepository
	events   repository.EventPublisher
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a Service. events may be nil, in which case no change
// events are emitted.
func NewService(repo database.BookRepository, events repository.EventPublisher, logger *zap.Logger) *Service {
	validate := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names rather than Go field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Service{
		repo:     repo,
		events:   events,
		validate: validate,
		logger:   logger.Named("library"),
		now:      time.Now,
	}
}

func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	return out
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// Create validates in and stores it as a new book.
func (s *Service) Create(ctx context.Context, in BookInput) (*models.Book, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	if err := s.check(in); err != nil {
		return nil, err
	}

	book := &models.Book{Title: in.Title, Author: in.Author, Year: in.Year}
	if _, err := s.repo.CreateBook(ctx, book); err != nil {
		return nil, fmt.Errorf("failed to create book: %w", err)
	}

	s.logger.Info("Book created", zap.Int64("id", book.ID), zap.String("title", book.Title))
	s.publish(ctx, repository.EventBookCreated, book)
	return book, nil
}

// List returns the books of the collection ordered by id.
func (s *Service) List(ctx context.Context, q ListQuery) ([]*models.Book, error) {
	if err := s.check(q); err != nil {
		return nil, err
	}
	books, err := s.repo.ListBooks(ctx, database.Page{Limit: q.Limit, Offset: q.Offset})
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// Search returns the books matching every non-empty criterion of q.
// Criteria are matched as given, so a single space finds multi-word titles.
func (s *Service) Search(ctx context.Context, q SearchQuery) ([]*models.Book, error) {
	if err := s.check(q); err != nil {
		return nil, err
	}
	books, err := s.repo.SearchBooks(ctx, database.BookFilter{Title: q.Title, Author: q.Author, Year: q.Year})
	if err != nil {
		return nil, fmt.Errorf("failed to search books: %w", err)
	}
	return books, nil
}

// Get returns a single book or database.ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (*models.Book, error) {
	book, err := s.repo.GetBookByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get book %d: %w", id, err)
	}
	return book, nil
}

// Update applies the non-nil fields of in to the book with the given id.
func (s *Service) Update(ctx context.Context, id int64, in BookUpdate) (*models.Book, error) {
	in.Title = trimPtr(in.Title)
	in.Author = trimPtr(in.Author)
	if err := s.check(in); err != nil {
		return nil, err
	}

	book, err := s.repo.UpdateBook(ctx, id, database.BookPatch{Title: in.Title, Author: in.Author, Year: in.Year})
	if err != nil {
		return nil, fmt.Errorf("failed to update book %d: %w", id, err)
	}

	s.logger.Info("Book updated", zap.Int64("id", book.ID))
	s.publish(ctx, repository.EventBookUpdated, book)
	return book, nil
}

// Delete removes the book with the given id.
func (s *Service) Delete(ctx context.Context, id int64) error {
	book, err := s.repo.GetBookByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete book %d: %w", id, err)
	}
	if err := s.repo.DeleteBook(ctx, id); err != nil {
		return fmt.Errorf("failed to delete book %d: %w", id, err)
	}

	s.logger.Info("Book deleted", zap.Int64("id", id))
	s.publish(ctx, repository.EventBookDeleted, book)
	return nil
}

// Ping reports whether the underlying store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// publish never fails the caller: the change is already committed.
func (s *Service) publish(ctx context.Context, typ repository.EventType, book *models.Book) {
	if s.events == nil {
		return
	}
	event := repository.BookEvent{
		ID:         uuid.NewString(),
		Type:       typ,
		Book:       *book,
		OccurredAt: s.now().UTC(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish book event",
			zap.String("type", string(typ)),
			zap.Int64("book_id", book.ID),
			zap.Error(err))
	}
}
