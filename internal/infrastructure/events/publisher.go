package events

import (
	"context"

	"github.com/booksage/bookshelf/internal/domain/repository"
	"github.com/booksage/bookshelf/internal/infrastructure/resilience"
)

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, repository.BookEvent) error { return nil }
func (NopPublisher) Close() error                                         { return nil }

// GuardedPublisher stops calling a failing publisher until its circuit
// breaker lets a trial call through.
type GuardedPublisher struct {
	next    repository.EventPublisher
	breaker *resilience.CircuitBreaker
}

func NewGuardedPublisher(next repository.EventPublisher, breaker *resilience.CircuitBreaker) *GuardedPublisher {
	return &GuardedPublisher{next: next, breaker: breaker}
}

func (g *GuardedPublisher) Publish(ctx context.Context, event repository.BookEvent) error {
	return g.breaker.Execute(func() error {
		return g.next.Publish(ctx, event)
	})
}

func (g *GuardedPublisher) Close() error {
	return g.next.Close()
}
