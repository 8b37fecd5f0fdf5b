package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"vrac/internal/config"
	"vrac/internal/files"
	"vrac/internal/logging"
	"vrac/internal/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "vrac",
		Short:         "Token-scoped file drop service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(genUserCmd())
	rootCmd.AddCommand(deleteCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles the process-wide state shared by every command: the store,
// the write serializer and the blob root, constructed once and passed
// explicitly into each component.
type app struct {
	cfg    *config.Config
	store  *store.SQLiteStore
	writes *store.WriteSerializer
	root   *files.Root
}

func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Configure(cfg.Dev)

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}

	root, err := files.NewRoot(cfg.RootPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open storage root %s: %w", cfg.RootPath, err)
	}

	return &app{
		cfg:    cfg,
		store:  st,
		writes: store.NewWriteSerializer(),
		root:   root,
	}, nil
}

func (a *app) close() {
	a.store.Close()
}
