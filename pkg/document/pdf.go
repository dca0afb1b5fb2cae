// Package document provides page sources for the flipbook: PDFs rendered
// through poppler, directories of page scans, and a caching wrapper.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/recera/flipview/pkg/flipbook"
)

var (
	// ErrNoPages is returned when a document has no pages
	ErrNoPages = errors.New("document: no pages")
	// ErrBlankPage is returned when asked to render the blank filler face
	ErrBlankPage = errors.New("document: blank page has no content")
)

// Options configures the sources created by Open
type Options struct {
	PDFInfo  string        // default "pdfinfo"
	PDFToPPM string        // default "pdftoppm"
	WorkDir  string        // default os.TempDir()/flipview
	Timeout  time.Duration // per command, default 2 minutes
	Logger   *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.PDFInfo == "" {
		o.PDFInfo = "pdfinfo"
	}
	if o.PDFToPPM == "" {
		o.PDFToPPM = "pdftoppm"
	}
	if o.WorkDir == "" {
		o.WorkDir = filepath.Join(os.TempDir(), "flipview")
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// PDF renders pages of a PDF file with pdfinfo and pdftoppm
type PDF struct {
	path string
	opts Options
	log  *zap.Logger

	mu    sync.Mutex
	pages int
}

var _ flipbook.DocumentSource = (*PDF)(nil)

// NewPDF creates a source for the PDF at path
func NewPDF(path string, opts Options) *PDF {
	o := opts.withDefaults()
	return &PDF{
		path: path,
		opts: o,
		log:  o.Logger.With(zap.String("pdf", filepath.Base(path))),
	}
}

// Path returns the PDF file path
func (p *PDF) Path() string { return p.path }

// AssertReady checks that the poppler binaries are on PATH and the work dir
// is writable
func (p *PDF) AssertReady(ctx context.Context) error {
	for _, bin := range []string{p.opts.PDFInfo, p.opts.PDFToPPM} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	if err := os.MkdirAll(p.opts.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	return nil
}

// Load returns the page count reported by pdfinfo. The count is re-read on
// every call so a replaced file is picked up.
func (p *PDF) Load(ctx context.Context) (int, error) {
	if _, err := os.Stat(p.path); err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.opts.PDFInfo, p.path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo failed: %w; out=%s", err, strings.TrimSpace(string(out)))
	}

	n, err := parsePageCount(out)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.pages = n
	p.mu.Unlock()
	return n, nil
}

// parsePageCount reads the "Pages:" line of pdfinfo output
func parsePageCount(out []byte) (int, error) {
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Pages:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		n, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil || n < 0 {
			continue
		}
		if n == 0 {
			return 0, ErrNoPages
		}
		return n, nil
	}
	return 0, fmt.Errorf("pdfinfo output missing Pages field")
}

// RenderPage rasterizes one page scaled to width pixels; width <= 0 renders
// at 150 dpi
func (p *PDF) RenderPage(ctx context.Context, page int, width int) (image.Image, error) {
	if page == flipbook.Blank {
		return nil, ErrBlankPage
	}
	if page < 0 {
		return nil, fmt.Errorf("%w: %d", flipbook.ErrPageOutOfRange, page)
	}
	p.mu.Lock()
	known := p.pages
	p.mu.Unlock()
	if known > 0 && page > known {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", flipbook.ErrPageOutOfRange, page, known)
	}

	data, err := p.renderPNG(ctx, page, width)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode page %d: %w", page, err)
	}
	return img, nil
}

func (p *PDF) renderPNG(ctx context.Context, page int, width int) ([]byte, error) {
	if err := os.MkdirAll(p.opts.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir work dir: %w", err)
	}
	dir, err := os.MkdirTemp(p.opts.WorkDir, "render-*")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer os.RemoveAll(dir)

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	prefix := filepath.Join(dir, "page")
	args := []string{"-png", "-f", strconv.Itoa(page), "-l", strconv.Itoa(page)}
	if width > 0 {
		args = append(args, "-scale-to-x", strconv.Itoa(width), "-scale-to-y", "-1")
	} else {
		args = append(args, "-r", "150")
	}
	args = append(args, "-singlefile", p.path, prefix)

	start := time.Now()
	cmd := exec.CommandContext(ctx, p.opts.PDFToPPM, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w; out=%s", err, strings.TrimSpace(string(out)))
	}

	data, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("no image produced by pdftoppm: %w; out=%s", err, strings.TrimSpace(string(out)))
	}
	p.log.Debug("page rendered",
		zap.Int("page", page),
		zap.Int("width", width),
		zap.Duration("took", time.Since(start)))
	return data, nil
}
