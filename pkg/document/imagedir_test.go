package document

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recera/flipview/pkg/flipbook"
)

func TestImageDir(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "002.png"), 200, 300)
	writePNG(t, filepath.Join(dir, "001.png"), 100, 100)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.png"), []byte("skip"), 0o644))

	src := NewImageDir(dir)
	ctx := context.Background()

	n, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// pages follow file name order
	img, err := src.RenderPage(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())

	img, err = src.RenderPage(ctx, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 150, img.Bounds().Dy())

	_, err = src.RenderPage(ctx, 3, 100)
	assert.ErrorIs(t, err, flipbook.ErrPageOutOfRange)
}

func TestImageDir_Empty(t *testing.T) {
	_, err := NewImageDir(t.TempDir()).Load(context.Background())
	assert.ErrorIs(t, err, ErrNoPages)
}

func TestImageDir_RenderWithoutLoad(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "p1.png"), 40, 40)

	img, err := NewImageDir(dir).RenderPage(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dy())
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "Book.PDF")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF"), 0o644))
	txt := filepath.Join(dir, "book.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))

	src, err := Open(pdf, Options{})
	require.NoError(t, err)
	assert.IsType(t, &PDF{}, src)

	src, err = Open(dir, Options{})
	require.NoError(t, err)
	assert.IsType(t, &ImageDir{}, src)

	_, err = Open(txt, Options{})
	assert.Error(t, err)

	_, err = Open(filepath.Join(dir, "missing.pdf"), Options{})
	assert.Error(t, err)
}
