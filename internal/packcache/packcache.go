// Package packcache implements the Context Pack Cache (spec.md
// §4.10): a hybrid in-memory LRU hot tier backed by an optional
// on-disk cold tier, with TTL expiry, best-effort LRU eviction, and
// optional gzip compression / AES-GCM encryption of the cold-tier
// payload. Grounded on internal/embed/cached.go's
// golang-lru/v2-wrapped cache-key-hashing pattern and
// internal/daemon/pidfile.go's gofrs/flock single-writer discipline.
package packcache

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ctxforge/retrievalcore/internal/entry"
)

// Config configures the Context Pack Cache (spec.md §6 cache*).
type Config struct {
	Enabled       bool
	Hybrid        bool // enable the on-disk cold tier in addition to the hot tier
	ColdDir       string
	TTL           time.Duration
	MaxEntries    int // hot-tier entry cap (max size is approximated by entry count)
	Compression   bool
	Encryption    bool
	EncryptionKey []byte // 32 bytes for AES-256-GCM; required when Encryption is true
}

// DefaultConfig matches spec.md §6's cache defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Hybrid:     true,
		TTL:        15 * time.Minute,
		MaxEntries: 500,
	}
}

type hotEntry[V any] struct {
	value       V
	insertedAt  time.Time
	ttl         time.Duration
	accessCount int
}

// Cache is a generic, thread-safe, TTL-aware hybrid cache. Entries
// within TTL are returned byte-identical to what was Set (spec.md §8).
type Cache[V any] struct {
	cfg Config
	mu  sync.Mutex
	hot *lru.Cache[string, *hotEntry[V]]
}

// New constructs a Cache. Call Initialize before first use.
func New[V any](cfg Config) (*Cache[V], error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 500
	}
	hot, err := lru.New[string, *hotEntry[V]](cfg.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("packcache: building hot tier: %w", err)
	}
	return &Cache[V]{cfg: cfg, hot: hot}, nil
}

// Initialize prepares the cold-tier directory, if configured.
func (c *Cache[V]) Initialize() error {
	if !c.cfg.Enabled || !c.cfg.Hybrid || c.cfg.ColdDir == "" {
		return nil
	}
	return os.MkdirAll(c.cfg.ColdDir, 0o755)
}

// Shutdown releases in-memory state. The cold tier is left on disk.
func (c *Cache[V]) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hot.Purge()
	return nil
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if !c.cfg.Enabled {
		return zero, false
	}
	c.mu.Lock()
	if he, ok := c.hot.Get(key); ok {
		if !c.expired(he) {
			he.accessCount++
			v := he.value
			c.mu.Unlock()
			return v, true
		}
		c.hot.Remove(key)
	}
	c.mu.Unlock()

	if c.cfg.Hybrid && c.cfg.ColdDir != "" {
		if v, ok := c.getCold(key); ok {
			c.mu.Lock()
			c.hot.Add(key, &hotEntry[V]{value: v, insertedAt: time.Now(), ttl: c.cfg.TTL})
			c.mu.Unlock()
			return v, true
		}
	}
	return zero, false
}

// Set stores value under key with the configured TTL, writing through
// to the cold tier when hybrid mode is enabled.
func (c *Cache[V]) Set(key string, value V) {
	if !c.cfg.Enabled {
		return
	}
	c.mu.Lock()
	c.hot.Add(key, &hotEntry[V]{value: value, insertedAt: time.Now(), ttl: c.cfg.TTL})
	c.mu.Unlock()

	if c.cfg.Hybrid && c.cfg.ColdDir != "" {
		_ = c.setCold(key, value)
	}
}

func (c *Cache[V]) expired(he *hotEntry[V]) bool {
	if he.ttl <= 0 {
		return false
	}
	return time.Since(he.insertedAt) > he.ttl
}

// KeyString derives the cache key string for a Cache Entry tuple
// (spec.md §3), hashed so it is filesystem-safe for the cold tier.
func KeyString(k entry.CacheKey) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", k.IssueID, k.AgentType, k.ContentFingerprint, k.Version)))
	return hex.EncodeToString(sum[:])
}

func (c *Cache[V]) coldPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.cfg.ColdDir, hex.EncodeToString(sum[:])+".cache")
}

func (c *Cache[V]) setCold(key string, value V) error {
	path := c.coldPath(key)
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return err
	}
	payload := buf.Bytes()

	if c.cfg.Compression {
		var gz bytes.Buffer
		w := gzip.NewWriter(&gz)
		if _, err := w.Write(payload); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		payload = gz.Bytes()
	}

	if c.cfg.Encryption {
		enc, err := encrypt(c.cfg.EncryptionKey, payload)
		if err != nil {
			return err
		}
		payload = enc
	}

	return os.WriteFile(path, payload, 0o644)
}

func (c *Cache[V]) getCold(key string) (V, bool) {
	var zero V
	path := c.coldPath(key)
	info, err := os.Stat(path)
	if err != nil {
		return zero, false
	}
	if c.cfg.TTL > 0 && time.Since(info.ModTime()) > c.cfg.TTL {
		_ = os.Remove(path)
		return zero, false
	}

	lock := flock.New(path + ".lock")
	_ = lock.RLock()
	defer lock.Unlock()

	payload, err := os.ReadFile(path)
	if err != nil {
		return zero, false
	}

	if c.cfg.Encryption {
		dec, err := decrypt(c.cfg.EncryptionKey, payload)
		if err != nil {
			return zero, false
		}
		payload = dec
	}

	if c.cfg.Compression {
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return zero, false
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			return zero, false
		}
		payload = data
	}

	var v V
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&v); err != nil {
		return zero, false
	}
	return v, true
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, errors.New("packcache: encryption key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(key, ciphertext []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, errors.New("packcache: encryption key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("packcache: ciphertext too short")
	}
	nonce, data := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, data, nil)
}
