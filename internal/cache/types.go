package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheCorrupted is returned when cache data is corrupted
	ErrCacheCorrupted = errors.New("cache data corrupted")
)

// Stats holds cache performance metrics
type Stats struct {
	Capacity  int64
	Size      int64
	ItemCount int64

	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64

	LastAccess time.Time
	LastEvict  time.Time
}

// Config holds cache settings.
type Config struct {
	Dir              string
	Capacity         int64 // bytes on disk
	CompressionLevel int   // zstd level (1-22, default 3)
}

// DefaultCapacity is the on-disk cap when none is configured.
const DefaultCapacity = 256 * 1024 * 1024

// Key derives the cache key for one segment. Every input that changes the
// synthesized audio must be part of it.
func Key(model, voice, text string, params ...interface{}) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", model, voice, text)
	for _, p := range params {
		fmt.Fprintf(h, "\x00%v", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
