package radar

import (
	"strconv"
	"time"
)

// Frame is one radar observation instant that can be drawn as a tile overlay.
// ID is stable across fetches of the same instant and sorts with Timestamp.
type Frame struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"` // always UTC
	SourceRef string    `json:"sourceRef"`
}

// NewFrame builds a frame whose ID is derived from its timestamp.
func NewFrame(ts time.Time, sourceRef string) Frame {
	ts = ts.UTC()
	return Frame{
		ID:        FrameID(ts),
		Timestamp: ts,
		SourceRef: sourceRef,
	}
}

// FrameID formats ts as zero-padded epoch seconds so that lexical order
// matches chronological order.
func FrameID(ts time.Time) string {
	s := strconv.FormatInt(ts.UTC().Unix(), 10)
	for len(s) < 12 {
		s = "0" + s
	}
	return s
}

// Snapshot is the result of one successful poll: every frame the provider
// currently offers, oldest first.
type Snapshot struct {
	Frames          []Frame   `json:"frames"`
	NewestTimestamp time.Time `json:"newestTimestamp"`
}

// NewSnapshot sets NewestTimestamp from the last frame.
func NewSnapshot(frames []Frame) Snapshot {
	s := Snapshot{Frames: frames}
	if len(frames) > 0 {
		s.NewestTimestamp = frames[len(frames)-1].Timestamp
	}
	return s
}

// TileAddress addresses a tile on the viewer's power-of-two grid.
type TileAddress struct {
	Zoom int `json:"z"`
	Col  int `json:"x"`
	Row  int `json:"y"`
}

// TileImage is a single upstream image placed inside a viewer tile.
type TileImage struct {
	URL     string `json:"url"`
	OffsetX int    `json:"offsetX"`
	OffsetY int    `json:"offsetY"`
	Size    int    `json:"size"`
}

// CompositeBuilder lists the upstream images that make up a viewer tile.
type CompositeBuilder interface {
	Compose(t TileAddress) []TileImage
}

// TileSource describes how one frame is drawn by the map. Exactly one of
// URLTemplate or Composite is set.
type TileSource struct {
	FrameID string `json:"frameId"`
	Scheme  string `json:"scheme"`

	// URLTemplate is used for providers on the viewer's own grid. The map
	// substitutes {z}, {x} and {y}.
	URLTemplate string `json:"urlTemplate,omitempty"`

	// Composite is used for providers whose grid does not line up with the
	// viewer's.
	Composite CompositeBuilder `json:"-"`
}

// Images returns the upstream images needed to draw t from this source.
func (s TileSource) Images(t TileAddress) []TileImage {
	if s.Composite != nil {
		return s.Composite.Compose(t)
	}
	if s.URLTemplate == "" {
		return nil
	}
	return []TileImage{{URL: ExpandTemplate(s.URLTemplate, t), Size: TileSize}}
}
