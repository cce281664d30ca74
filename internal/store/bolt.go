package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/i474232898/weather-radar-loop/internal/radar"
)

var bucketFrames = []byte("frames")

// BoltStore is a frame catalog persisted in a BoltDB file, one key per
// widget.
type BoltStore struct {
	db        *bolt.DB
	retention Retention
	now       func() time.Time
}

// OpenBoltStore opens (creating if needed) the catalog at path.
func OpenBoltStore(path string, retention Retention) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFrames)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, retention: retention, now: time.Now}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) SaveFrames(widget string, frames []radar.Frame) error {
	now := s.now()
	history := FrameHistory{
		Frames:  s.retention.apply(frames, now),
		SavedAt: now.UTC(),
	}
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal frames: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFrames).Put([]byte(widget), data)
	})
}

func (s *BoltStore) LoadFrames(widget string) ([]radar.Frame, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketFrames).Get([]byte(widget)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNotFound
	}

	var history FrameHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("decode frames for %s: %w", widget, err)
	}
	frames := s.retention.apply(history.Frames, s.now())
	if len(frames) == 0 {
		return nil, ErrNotFound
	}
	return frames, nil
}
