package radar

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoDataAvailable is returned when a provider answers with zero frames.
	ErrNoDataAvailable = errors.New("provider returned no frames")

	// ErrUnknownWidget is returned when a widget name is not registered.
	ErrUnknownWidget = errors.New("unknown widget")
)

// FetchError wraps any failure to obtain a snapshot. It is always
// recoverable: the refresh loop logs it and retries.
type FetchError struct {
	Provider string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Provider abstracts an upstream radar imagery service.
type Provider interface {
	Name() string

	// FetchSnapshot returns every frame currently available, oldest first.
	FetchSnapshot(ctx context.Context) (Snapshot, error)

	// BuildTileSources returns one source per addressing scheme needed to
	// draw frame.
	BuildTileSources(frame Frame) []TileSource

	// PublicationInterval is the spacing of the provider's frames.
	PublicationInterval() time.Duration
}

// Poll fetches a snapshot and normalises every failure into a *FetchError.
// An empty snapshot counts as a failure.
func Poll(ctx context.Context, p Provider) (Snapshot, error) {
	snap, err := p.FetchSnapshot(ctx)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return Snapshot{}, err
		}
		return Snapshot{}, &FetchError{Provider: p.Name(), Err: err}
	}
	if len(snap.Frames) == 0 {
		return Snapshot{}, &FetchError{Provider: p.Name(), Err: ErrNoDataAvailable}
	}
	return snap, nil
}
