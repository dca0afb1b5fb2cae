package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/recera/flipview/internal/cache"
	"github.com/recera/flipview/internal/config"
	"github.com/recera/flipview/internal/logger"
	"github.com/recera/flipview/internal/server"
	"github.com/recera/flipview/pkg/document"
)

func newServeCommand(configPath *string) *cobra.Command {
	var port int
	var host string
	var logMode string
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the shelf over HTTP",
		Long:  `Serves the textbook API, page images and live viewer sessions, reloading books when their files change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			// CLI takes precedence
			if port != 0 {
				cfg.Server.Port = port
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if logMode != "" {
				cfg.Log.Mode = logMode
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, !noWatch)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides config)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (overrides config)")
	cmd.Flags().StringVar(&logMode, "log", "", "Log mode: debug, dev or prod")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload books when their files change")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, watch bool) error {
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()
	log.WireDebugHooks()

	checkRenderer(ctx, cfg, log)

	settings, err := cfg.CacheSettings()
	if err != nil {
		return err
	}
	store, err := cache.New(settings)
	if err != nil {
		return err
	}
	defer store.Close()

	shelf, err := server.NewShelf(cfg.Shelf.Books, server.OpenWith(cfg.DocumentOptions()), store, log.Zap())
	if err != nil {
		return err
	}
	srv := server.New(cfg, shelf, log.Zap())

	if watch {
		w, err := server.NewWatcher(shelf, srv.Live(), server.DefaultDebounce, log.Zap())
		if err != nil {
			log.Warn("file watching disabled", "error", err)
		} else {
			w.Start()
			defer w.Stop()
		}
	}

	log.Info("serving shelf", "books", len(cfg.Shelf.Books), "addr", cfg.Addr(), "cache", store.Dir())
	return srv.ListenAndServe(ctx)
}

// checkRenderer warns once at startup when PDF books are configured but the
// poppler tools are missing
func checkRenderer(ctx context.Context, cfg *config.Config, log *logger.Logger) {
	for _, b := range cfg.Shelf.Books {
		if !strings.EqualFold(filepath.Ext(b.Path), ".pdf") {
			continue
		}
		if err := document.NewPDF(b.Path, cfg.DocumentOptions()).AssertReady(ctx); err != nil {
			log.Warn("PDF books will fail to render", "error", err)
		}
		return
	}
}
