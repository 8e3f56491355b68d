// Package importer adds the entries of an external catalog to the collection.
package importer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/booksage/bookshelf/internal/database/models"
	"github.com/booksage/bookshelf/internal/domain/repository"
	"github.com/booksage/bookshelf/internal/usecase/library"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BookCreator is the part of library.Service the importer needs.
type BookCreator interface {
	Create(ctx context.Context, in library.BookInput) (*models.Book, error)
}

// Result summarizes one import run.
type Result struct {
	Found    int
	Skipped  int
	Imported int
	Failed   int
}

// Importer copies catalog entries into the collection, at most once per entry.
type Importer struct {
	src         repository.CatalogSource
	books       BookCreator
	state       repository.ImportState
	logger      *zap.Logger
	concurrency int
}

func New(src repository.CatalogSource, books BookCreator, state repository.ImportState, concurrency int, logger *zap.Logger) *Importer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Importer{
		src:         src,
		books:       books,
		state:       state,
		logger:      logger.Named("importer"),
		concurrency: concurrency,
	}
}

// Run imports the entries of catalog changed since its watermark. Failing
// entries are counted, not fatal. The watermark advances only when every
// entry succeeded, so failures are retried on the next run.
func (im *Importer) Run(ctx context.Context, catalog string) (Result, error) {
	var res Result

	since := im.state.Watermark(catalog)
	im.logger.Info("Starting import",
		zap.String("catalog", catalog),
		zap.Int64("since", since),
		zap.String("since_time", time.Unix(since, 0).UTC().Format(time.RFC3339)))

	entries, err := im.src.FetchEntries(ctx, since)
	if err != nil {
		return res, fmt.Errorf("failed to fetch catalog entries: %w", err)
	}
	res.Found = len(entries)

	var pending []repository.CatalogEntry
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.ID] || im.state.IsImported(catalog, e.ID) {
			res.Skipped++
			continue
		}
		seen[e.ID] = true
		pending = append(pending, e)
	}

	var (
		mu     sync.Mutex
		newest = since
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.concurrency)

	for _, entry := range pending {
		g.Go(func() error {
			book, err := im.books.Create(gctx, library.BookInput{
				Title:  entry.Title,
				Author: entry.Author,
				Year:   entry.Year,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				im.logger.Warn("Failed to import entry",
					zap.String("entry_id", entry.ID),
					zap.String("title", entry.Title),
					zap.Error(err))
				return nil
			}

			res.Imported++
			im.state.MarkImported(catalog, entry.ID, book.ID)
			if ts := entry.UpdatedAt.Unix(); ts > newest {
				newest = ts
			}
			return nil
		})
	}
	// Workers never return errors; cancellation surfaces through ctx below.
	_ = g.Wait()

	if res.Failed == 0 && newest > since {
		im.state.AdvanceWatermark(catalog, newest)
	}

	if err := im.state.Save(); err != nil {
		return res, fmt.Errorf("failed to save import state: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	im.logger.Info("Import complete",
		zap.String("catalog", catalog),
		zap.Int("found", res.Found),
		zap.Int("skipped", res.Skipped),
		zap.Int("imported", res.Imported),
		zap.Int("failed", res.Failed),
		zap.Int64("watermark", im.state.Watermark(catalog)))
	return res, nil
}
