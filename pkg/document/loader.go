package document

import (
	"context"
	"fmt"

	"github.com/recera/flipview/pkg/flipbook"
)

// LoadAsync loads src in its own goroutine and reports exactly one outcome.
// Callbacks run on that goroutine; hosts forward them to the loop that owns
// the controller. A zero page count is reported as ErrNoPages.
func LoadAsync(ctx context.Context, src flipbook.DocumentSource, onLoaded func(numPages int), onError func(err error)) {
	go func() {
		n, err := Load(ctx, src)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		if onLoaded != nil {
			onLoaded(n)
		}
	}()
}

// Load loads src on the calling goroutine with the same rules as LoadAsync:
// panics become errors and an empty document is ErrNoPages.
func Load(ctx context.Context, src flipbook.DocumentSource) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("document load panicked: %v", r)
		}
	}()
	n, err = src.Load(ctx)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, ErrNoPages
	}
	return n, nil
}
