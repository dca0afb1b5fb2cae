package document

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/recera/flipview/pkg/flipbook"
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// ImageDir serves a directory of page scans in file name order
type ImageDir struct {
	dir string

	mu    sync.RWMutex
	files []string
}

var _ flipbook.DocumentSource = (*ImageDir)(nil)

// NewImageDir creates a source for the scans in dir
func NewImageDir(dir string) *ImageDir {
	return &ImageDir{dir: dir}
}

// Dir returns the scanned directory
func (d *ImageDir) Dir() string { return d.dir }

// Load lists the scans; it is re-read on every call
func (d *ImageDir) Load(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0, fmt.Errorf("read image dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(d.dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("%w in %s", ErrNoPages, d.dir)
	}
	sort.Strings(files)

	d.mu.Lock()
	d.files = files
	d.mu.Unlock()
	return len(files), nil
}

// RenderPage decodes the page scan and scales it to width, keeping its
// aspect ratio; width <= 0 returns it unscaled
func (d *ImageDir) RenderPage(ctx context.Context, page int, width int) (image.Image, error) {
	if page == flipbook.Blank {
		return nil, ErrBlankPage
	}

	d.mu.RLock()
	files := d.files
	d.mu.RUnlock()
	if files == nil {
		if _, err := d.Load(ctx); err != nil {
			return nil, err
		}
		d.mu.RLock()
		files = d.files
		d.mu.RUnlock()
	}
	if page < 1 || page > len(files) {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", flipbook.ErrPageOutOfRange, page, len(files))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(files[page-1])
	if err != nil {
		return nil, fmt.Errorf("open page %d: %w", page, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode page %d: %w", page, err)
	}
	return ScaleToWidth(img, width), nil
}

// ScaleToWidth resizes img to width with CatmullRom resampling, keeping the
// aspect ratio
func ScaleToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	if width <= 0 || b.Dx() == 0 || width == b.Dx() {
		return img
	}
	height := int(math.Round(float64(b.Dy()) * float64(width) / float64(b.Dx())))
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
