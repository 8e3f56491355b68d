package main

import (
	"github.com/booksage/bookshelf/internal/infrastructure/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for flag, dst := range map[string]*string{
				"addr":   &cfg.Addr,
				"db":     &cfg.DBPath,
				"driver": &cfg.DBDriver,
			} {
				if err := overrideString(cmd, flag, dst); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return server.New(cfg, logger).Run(cmd.Context())
		},
	}

	cmd.Flags().String("addr", "", "listen address (host:port)")
	cmd.Flags().String("db", "", "SQLite database path")
	cmd.Flags().String("driver", "", "storage driver (bun or sqlite)")
	return cmd
}
