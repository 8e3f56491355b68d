package repository

import (
	"context"
	"time"

	"github.com/booksage/bookshelf/internal/database/models"
)

// EventType names a change to the collection.
type EventType string

const (
	EventBookCreated EventType = "book.created"
	EventBookUpdated EventType = "book.updated"
	EventBookDeleted EventType = "book.deleted"
)

// BookEvent is emitted after a change has been committed.
type BookEvent struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	Book       models.Book `json:"book"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// EventPublisher delivers change events to interested consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event BookEvent) error
	Close() error
}
