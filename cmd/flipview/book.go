package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/recera/flipview/internal/config"
	"github.com/recera/flipview/pkg/document"
	"github.com/recera/flipview/pkg/flipbook"
)

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openBook resolves arg as a shelf book id first, then as a file path
func openBook(cfg *config.Config, arg string) (src flipbook.DocumentSource, title string, err error) {
	path := arg
	title = strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg))
	if b, ok := cfg.Book(arg); ok {
		path, title = b.Path, b.Name
	}
	src, err = document.Open(path, cfg.DocumentOptions())
	if err != nil {
		return nil, "", err
	}
	return src, title, nil
}

func pageCount(ctx context.Context, src flipbook.DocumentSource) (int, error) {
	n, err := document.Load(ctx, src)
	if err != nil {
		return 0, fmt.Errorf("failed to load document: %w", err)
	}
	return n, nil
}
