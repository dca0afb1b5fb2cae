package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/recera/flipview/pkg/flipbook"
)

// Open picks a source for path: PDF for .pdf files, ImageDir for
// directories
func Open(path string, opts Options) (flipbook.DocumentSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	if info.IsDir() {
		return NewImageDir(path), nil
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return NewPDF(path, opts), nil
	}
	return nil, fmt.Errorf("open document: unsupported file type %q", filepath.Ext(path))
}
