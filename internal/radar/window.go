package radar

// FrameWindow is a bounded, chronologically ordered set of frames eligible
// for playback, plus the index of the frame currently on screen.
//
// FrameWindow is not safe for concurrent use; the widget event loop owns it.
type FrameWindow struct {
	frames   []Frame
	capacity int
	visible  int
}

// NewFrameWindow creates an empty window. A capacity below one is treated
// as one.
func NewFrameWindow(capacity int) *FrameWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameWindow{capacity: capacity}
}

// Capacity returns the maximum number of frames retained.
func (w *FrameWindow) Capacity() int { return w.capacity }

// Len returns the number of frames in the window.
func (w *FrameWindow) Len() int { return len(w.frames) }

// Visible returns the visible index, or -1 when the window is empty.
func (w *FrameWindow) Visible() int {
	if len(w.frames) == 0 {
		return -1
	}
	return w.visible
}

// Frames returns a copy of the frames, oldest first.
func (w *FrameWindow) Frames() []Frame {
	out := make([]Frame, len(w.frames))
	copy(out, w.frames)
	return out
}

// Frame returns the frame at i.
func (w *FrameWindow) Frame(i int) (Frame, bool) {
	if i < 0 || i >= len(w.frames) {
		return Frame{}, false
	}
	return w.frames[i], true
}

// Newest returns the most recent frame.
func (w *FrameWindow) Newest() (Frame, bool) {
	return w.Frame(len(w.frames) - 1)
}

// SetVisible moves the visible index, clamped into range.
func (w *FrameWindow) SetVisible(i int) {
	w.visible = i
	w.normalize()
}

// ReplaceAll discards the current contents and adopts the most recent
// capacity frames, showing the newest. It returns the frames that left.
func (w *FrameWindow) ReplaceAll(frames []Frame) (removed []Frame) {
	removed = w.frames
	if len(frames) > w.capacity {
		frames = frames[len(frames)-w.capacity:]
	}
	w.frames = make([]Frame, 0, w.capacity)
	for _, f := range frames {
		w.appendOrdered(f)
	}
	w.visible = len(w.frames) - 1
	w.normalize()
	return removed
}

// MergeAppend folds the provider's full frame list (oldest first) into the
// window. Frames after the window's newest id are appended; if that id is no
// longer offered, the most recent capacity frames are appended instead. The
// front is then evicted down to capacity, with the visible index following
// the frame it pointed at, and finally snapped to the newest frame.
//
// A snapshot with nothing new leaves the window untouched.
func (w *FrameWindow) MergeAppend(all []Frame) (added, evicted []Frame) {
	if len(all) == 0 {
		return nil, nil
	}

	candidates := all
	if newest, ok := w.Newest(); ok {
		idx := -1
		for i := len(all) - 1; i >= 0; i-- {
			if all[i].ID == newest.ID {
				idx = i
				break
			}
		}
		if idx >= 0 {
			candidates = all[idx+1:]
		} else if len(all) > w.capacity {
			candidates = all[len(all)-w.capacity:]
		}
	} else if len(all) > w.capacity {
		candidates = all[len(all)-w.capacity:]
	}

	for _, f := range candidates {
		if w.appendOrdered(f) {
			added = append(added, f)
		}
	}
	if len(added) == 0 {
		return nil, nil
	}

	for len(w.frames) > w.capacity {
		evicted = append(evicted, w.frames[0])
		w.frames = w.frames[1:]
		if w.visible > 0 {
			w.visible--
		}
	}
	w.visible = len(w.frames) - 1
	return added, evicted
}

// appendOrdered appends f only if it is strictly newer than the current
// newest frame.
func (w *FrameWindow) appendOrdered(f Frame) bool {
	if n := len(w.frames); n > 0 {
		last := w.frames[n-1]
		if f.ID == last.ID || !f.Timestamp.After(last.Timestamp) {
			return false
		}
	}
	w.frames = append(w.frames, f)
	return true
}

func (w *FrameWindow) normalize() {
	switch {
	case len(w.frames) == 0:
		w.visible = 0
	case w.visible < 0:
		w.visible = 0
	case w.visible >= len(w.frames):
		w.visible = len(w.frames) - 1
	}
}
