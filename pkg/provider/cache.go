package provider

import (
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var cacheBucket = []byte("providers")

// Cache persists each provider's marshaled artifact in a single bbolt
// database keyed by provider name (config.Build opens it at
// <data-dir>/providers/providers.cache); there is no separate file per
// provider. Only the artifact bytes are stored: no fetch time, etag or
// subscription info is persisted alongside them.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (creating if necessary) the bolt database at path.
func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening provider cache at %q", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating provider cache bucket")
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// Load returns the cached bytes for name, or (nil, nil) on a cache miss.
func (c *Cache) Load(name string) ([]byte, error) {
	var out []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(cacheBucket).Get([]byte(name))
		if v != nil {
			out = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "loading cached artifact for %q", name)
	}
	return out, nil
}

// Save writes data for name, overwriting any prior value.
func (c *Cache) Save(name string, data []byte) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).Put([]byte(name), data)
	})
	return errors.Wrapf(err, "saving cached artifact for %q", name)
}
