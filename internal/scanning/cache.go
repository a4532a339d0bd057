package scanning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

const suggestionsBucket = "suggestions"

// Cache stores scan results keyed by the SHA-256 of the scanned file, so the
// same receipt is never sent to a model twice.
type Cache struct {
	db *bbolt.DB
}

// OpenCache opens or creates the cache database at path
func OpenCache(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening scan cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(suggestionsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Cache{db: db}, nil
}

// Key returns the cache key of a file
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached suggestion for key; ok is false on a miss
func (c *Cache) Get(key string) (*Suggestion, bool, error) {
	var s *Suggestion
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(suggestionsBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		s = &Suggestion{}
		return json.Unmarshal(data, s)
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading scan cache: %w", err)
	}
	return s, s != nil, nil
}

// Put stores a suggestion under key
func (c *Cache) Put(key string, s *Suggestion) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshaling suggestion: %w", err)
		}
		return tx.Bucket([]byte(suggestionsBucket)).Put([]byte(key), data)
	})
}

// Close closes the cache database
func (c *Cache) Close() error {
	return c.db.Close()
}

// CachedScanner consults the cache before delegating to another Scanner
type CachedScanner struct {
	next  Scanner
	cache *Cache
}

// NewCachedScanner wraps next with cache
func NewCachedScanner(next Scanner, cache *Cache) *CachedScanner {
	return &CachedScanner{next: next, cache: cache}
}

// ScanReceipt returns a cached suggestion when the file was scanned before
func (c *CachedScanner) ScanReceipt(imageData []byte, contentType string) (*Suggestion, error) {
	key := Key(imageData)

	cached, ok, err := c.cache.Get(key)
	if err != nil {
		slog.Warn("Scan cache lookup failed", "error", err)
	}
	if ok {
		slog.Debug("Scan cache hit", "key", key)
		return cached, nil
	}

	s, err := c.next.ScanReceipt(imageData, contentType)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Put(key, s); err != nil {
		slog.Warn("Failed to cache scan result", "error", err)
	}
	return s, nil
}

// Close closes the wrapped scanner and the cache
func (c *CachedScanner) Close() error {
	scanErr := c.next.Close()
	if err := c.cache.Close(); err != nil {
		return fmt.Errorf("closing scan cache: %w", err)
	}
	return scanErr
}
