package document

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recera/flipview/pkg/flipbook"
)

// fakeBinary writes an executable shell script standing in for a poppler tool
func fakeBinary(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes need a POSIX shell")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, w, h))))
}

func newFakePDF(t *testing.T, pdftoppmBody string) (*PDF, string) {
	t.Helper()
	dir := t.TempDir()
	book := filepath.Join(dir, "book.pdf")
	require.NoError(t, os.WriteFile(book, []byte("%PDF-1.7"), 0o644))

	info := fakeBinary(t, dir, "pdfinfo", "printf 'Title:          Toan 6\\nPages:          7\\nEncrypted:      no\\n'\n")
	ppm := fakeBinary(t, dir, "pdftoppm", pdftoppmBody)

	return NewPDF(book, Options{PDFInfo: info, PDFToPPM: ppm, WorkDir: filepath.Join(dir, "work")}), dir
}

func TestPDF_LoadAndRender(t *testing.T) {
	fixtureDir := t.TempDir()
	fixture := filepath.Join(fixtureDir, "fixture.png")
	writePNG(t, fixture, 120, 170)
	argsFile := filepath.Join(fixtureDir, "args")

	p, _ := newFakePDF(t, "for last; do :; done\necho \"$@\" > '"+argsFile+"'\ncp '"+fixture+"' \"$last.png\"\n")
	ctx := context.Background()

	n, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	img, err := p.RenderPage(ctx, 3, 120)
	require.NoError(t, err)
	assert.Equal(t, 120, img.Bounds().Dx())

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "-png -f 3 -l 3 -scale-to-x 120 -scale-to-y -1 -singlefile")

	_, err = p.RenderPage(ctx, 8, 120)
	assert.ErrorIs(t, err, flipbook.ErrPageOutOfRange)

	_, err = p.RenderPage(ctx, flipbook.Blank, 120)
	assert.ErrorIs(t, err, ErrBlankPage)

	// the per-render work dir is removed afterwards
	entries, _ := os.ReadDir(p.opts.WorkDir)
	assert.Empty(t, entries)
}

func TestPDF_RenderFailure(t *testing.T) {
	p, _ := newFakePDF(t, "echo 'Syntax Error: broken xref' >&2\nexit 1\n")

	_, err := p.RenderPage(context.Background(), 1, 100)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "pdftoppm failed"))
	assert.Contains(t, err.Error(), "broken xref")
}

func TestPDF_MissingFile(t *testing.T) {
	p := NewPDF(filepath.Join(t.TempDir(), "missing.pdf"), Options{})
	_, err := p.Load(context.Background())
	assert.Error(t, err)
}

func TestParsePageCount(t *testing.T) {
	n, err := parsePageCount([]byte("Producer: x\nPages:   42\n"))
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = parsePageCount([]byte("Pages: 0\n"))
	assert.ErrorIs(t, err, ErrNoPages)

	_, err = parsePageCount([]byte("Title: none\n"))
	assert.Error(t, err)
}

func TestPDF_AssertReadyMissingBinary(t *testing.T) {
	p := NewPDF("x.pdf", Options{PDFInfo: "flipview-no-such-binary"})
	assert.Error(t, p.AssertReady(context.Background()))
}
