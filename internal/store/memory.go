package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/weather-radar-loop/internal/radar"
)

var (
	// ErrNotFound is returned when no frames are stored for a widget.
	ErrNotFound = errors.New("no frames stored for widget")
)

// FrameHistory holds the persisted window of one widget, oldest first.
type FrameHistory struct {
	Frames  []radar.Frame `json:"frames"`
	SavedAt time.Time     `json:"savedAt"`
}

// Retention limits what a catalog keeps and returns.
type Retention struct {
	MaxHistory int           // max frames per widget (0 = unlimited)
	MaxAge     time.Duration // frames older than this are dropped (0 = unlimited)
}

// apply trims frames by count from the front, then by age.
func (r Retention) apply(frames []radar.Frame, now time.Time) []radar.Frame {
	if r.MaxHistory > 0 && len(frames) > r.MaxHistory {
		frames = frames[len(frames)-r.MaxHistory:]
	}
	if r.MaxAge > 0 {
		cutoff := now.Add(-r.MaxAge)
		i := 0
		for ; i < len(frames); i++ {
			if !frames[i].Timestamp.Before(cutoff) {
				break
			}
		}
		frames = frames[i:]
	}
	return frames
}

// MemoryStore is a concurrency-safe in-memory frame catalog.
type MemoryStore struct {
	mu sync.RWMutex

	// key: widget name
	data map[string]*FrameHistory

	retention Retention
	now       func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
func NewMemoryStore(retention Retention) *MemoryStore {
	return &MemoryStore{
		data:      make(map[string]*FrameHistory),
		retention: retention,
		now:       time.Now,
	}
}

// SaveFrames replaces the stored window of a widget.
func (s *MemoryStore) SaveFrames(widget string, frames []radar.Frame) error {
	now := s.now()
	kept := s.retention.apply(frames, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	history := &FrameHistory{
		Frames:  make([]radar.Frame, len(kept)),
		SavedAt: now.UTC(),
	}
	copy(history.Frames, kept)
	s.data[widget] = history
	return nil
}

// LoadFrames returns the stored window of a widget, minus frames that have
// aged out since it was saved.
func (s *MemoryStore) LoadFrames(widget string) ([]radar.Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[widget]
	if !ok {
		return nil, ErrNotFound
	}
	frames := s.retention.apply(history.Frames, s.now())
	if len(frames) == 0 {
		return nil, ErrNotFound
	}
	out := make([]radar.Frame, len(frames))
	copy(out, frames)
	return out, nil
}
