package repository

import (
	"context"
	"time"
)

// CatalogEntry is a book offered by an external catalog.
type CatalogEntry struct {
	ID        string
	Title     string
	Author    string
	Year      *int
	UpdatedAt time.Time
}

// CatalogSource lists the entries of an external catalog changed after since (unix seconds).
type CatalogSource interface {
	FetchEntries(ctx context.Context, since int64) ([]CatalogEntry, error)
}

// ImportState remembers, per catalog, which entries were imported and the
// newest entry timestamp seen.
type ImportState interface {
	Watermark(catalog string) int64
	IsImported(catalog, entryID string) bool
	MarkImported(catalog, entryID string, bookID int64)
	AdvanceWatermark(catalog string, timestamp int64)
	Save() error
}
