package fetch

import (
	"context"
	"errors"
	"fmt"
)

// ErrTooManyRedirects indicates the origin kept redirecting past the hop bound.
var ErrTooManyRedirects = errors.New("too many redirects")

// ErrCancelled indicates the caller stopped the transfer.
var ErrCancelled = errors.New("download cancelled")

// StatusError is returned when the origin answers with an unusable status.
type StatusError struct {
	URL    string
	Status int
	// Chunk is the failing chunk index, or -1 outside chunked transfers.
	Chunk int
}

func (e *StatusError) Error() string {
	if e.Chunk >= 0 {
		return fmt.Sprintf("chunk %d: unexpected status %d from %s", e.Chunk, e.Status, e.URL)
	}
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
}

// cancelled maps any error observed after ctx ended to ErrCancelled.
func cancelled(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return err
}
