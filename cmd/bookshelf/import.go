package main

import (
	"fmt"

	"github.com/booksage/bookshelf/internal/infrastructure/opds"
	"github.com/booksage/bookshelf/internal/infrastructure/server"
	"github.com/booksage/bookshelf/internal/infrastructure/storage"
	"github.com/booksage/bookshelf/internal/infrastructure/tracker"
	"github.com/booksage/bookshelf/internal/usecase/importer"
	"github.com/booksage/bookshelf/internal/usecase/library"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <opds-url>",
		Short: "Add the books of an OPDS catalog to the collection",
		Long: `Crawls an OPDS (Atom) catalog and adds every acquirable entry as a book.
Entries imported by an earlier run are skipped.

Example:
  bookshelf import https://standardebooks.org/feeds/opds --concurrency 8`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := overrideString(cmd, "state", &cfg.ImportStatePath); err != nil {
				return err
			}
			if err := overrideString(cmd, "db", &cfg.DBPath); err != nil {
				return err
			}
			if cmd.Flags().Changed("concurrency") {
				n, err := cmd.Flags().GetInt("concurrency")
				if err != nil {
					return err
				}
				cfg.ImportConcurrency = n
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			repo, err := storage.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := repo.Close(); closeErr != nil {
					logger.Warn("Failed to close database", zap.Error(closeErr))
				}
			}()

			publisher := server.NewPublisher(cfg, logger)
			defer func() { _ = publisher.Close() }()

			state, err := tracker.NewFileStateStore(cfg.ImportStatePath)
			if err != nil {
				return err
			}

			src := opds.NewSource(args[0], cfg.OPDSUsername, cfg.OPDSPassword, logger)
			books := library.NewService(repo, publisher, logger)

			res, err := importer.New(src, books, state, cfg.ImportConcurrency, logger).Run(ctx, src.URL())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "found %d, skipped %d, imported %d, failed %d\n",
				res.Found, res.Skipped, res.Imported, res.Failed)
			return nil
		},
	}

	cmd.Flags().String("state", "", "import state file")
	cmd.Flags().String("db", "", "SQLite database path")
	cmd.Flags().Int("concurrency", 0, "parallel inserts")
	return cmd
}
