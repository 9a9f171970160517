package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	pebble "github.com/cockroachdb/pebble"
)

const pebblePrefix = "kv:"

// Pebble persists keys in an on-disk pebble database.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) the database directory at path.
func OpenPebble(path string) (*Pebble, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Pebble{db: db}, nil
}

// Close closes the database.
func (p *Pebble) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

func (p *Pebble) Get(ctx context.Context, key string) (string, error) {
	v, closer, err := p.db.Get([]byte(pebblePrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer closer.Close()
	// v is only valid until closer.Close
	return string(v), nil
}

func (p *Pebble) Set(ctx context.Context, key, value string) error {
	return p.db.Set([]byte(pebblePrefix+key), []byte(value), pebble.Sync)
}

func (p *Pebble) Delete(ctx context.Context, keys ...string) error {
	b := p.db.NewBatch()
	defer b.Close()
	for _, k := range keys {
		if err := b.Delete([]byte(pebblePrefix+k), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}
