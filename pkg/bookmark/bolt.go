package bookmark

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bookmarksBucket = []byte("bookmarks")

// BoltStore keeps bookmarks in an embedded bolt file, one blob per channel.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the bookmark database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create bookmark directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bookmark database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bookmarksBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bookmark bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Load returns the bookmark for channel, or (nil, nil) when none exists.
func (s *BoltStore) Load(_ context.Context, channel string) (*Bookmark, error) {
	var bm *Bookmark
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(bookmarksBucket).Get([]byte(channel))
		if enc == nil {
			return nil
		}
		var err error
		bm, err = decodeBookmark(enc)
		return err
	})
	return bm, err
}

// Save writes the bookmark, overwriting any previous position.
func (s *BoltStore) Save(_ context.Context, bm *Bookmark) error {
	enc, err := encodeBookmark(bm)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bookmarksBucket).Put([]byte(bm.Channel), enc)
	})
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
