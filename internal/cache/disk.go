package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"

	"github.com/dgnsrekt/orpheus-tts/internal/audio"
)

const indexFile = "cache.index"

// DiskCache is a size-capped directory of compressed PCM segments. The
// least recently used entries are evicted first.
type DiskCache struct {
	basePath string
	capacity int64
	size     int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	index map[string]*diskCacheEntry

	mu    sync.Mutex
	stats Stats
}

type diskCacheEntry struct {
	Key        string
	FilePath   string
	Size       int64 // compressed
	Samples    int
	Timestamp  time.Time
	LastAccess time.Time
	Hits       int64
}

// NewDiskCache opens or creates a cache in cfg.Dir.
func NewDiskCache(cfg Config) (*DiskCache, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.CompressionLevel <= 0 {
		cfg.CompressionLevel = 3
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.CompressionLevel)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	dc := &DiskCache{
		basePath: cfg.Dir,
		capacity: cfg.Capacity,
		encoder:  enc,
		decoder:  dec,
		index:    make(map[string]*diskCacheEntry),
		stats:    Stats{Capacity: cfg.Capacity},
	}

	if err := dc.loadIndex(); err != nil {
		log.Warn("Ignoring unreadable cache index", "dir", cfg.Dir, "err", err)
		dc.index = make(map[string]*diskCacheEntry)
	}
	dc.calculateSize()

	log.Debug("Segment cache opened",
		"dir", cfg.Dir,
		"entries", len(dc.index),
		"size", humanize.Bytes(uint64(dc.size)),
		"capacity", humanize.Bytes(uint64(dc.capacity)))

	return dc, nil
}

// Get returns the cached samples for key.
func (dc *DiskCache) Get(key string) ([]int16, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entry, ok := dc.index[key]
	if !ok {
		dc.stats.Misses++
		return nil, false
	}

	data, err := os.ReadFile(entry.FilePath)
	if err == nil {
		data, err = dc.decoder.DecodeAll(data, nil)
	}
	var samples []int16
	if err == nil {
		samples, err = audio.DecodePCM16LE(data)
	}
	if err != nil || len(samples) != entry.Samples {
		log.Warn("Dropping corrupted cache entry", "err", err)
		dc.removeLocked(key, entry)
		dc.stats.Misses++
		return nil, false
	}

	entry.LastAccess = time.Now()
	entry.Hits++
	dc.stats.Hits++
	dc.stats.LastAccess = entry.LastAccess
	return samples, true
}

// Put stores samples under key, evicting old entries to make room.
func (dc *DiskCache) Put(key string, samples []int16) error {
	if len(samples) == 0 {
		return nil
	}

	raw := audio.EncodePCM16LE(make([]byte, 0, len(samples)*audio.BytesPerSample), samples)
	data := dc.encoder.EncodeAll(raw, nil)
	diskSize := int64(len(data))

	dc.mu.Lock()
	defer dc.mu.Unlock()

	if diskSize > dc.capacity {
		return ErrItemTooLarge
	}
	if existing, ok := dc.index[key]; ok {
		dc.removeLocked(key, existing)
	}
	for dc.size+diskSize > dc.capacity && len(dc.index) > 0 {
		dc.evictOldest()
	}

	path := dc.generateFilePath(key)
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	now := time.Now()
	dc.index[key] = &diskCacheEntry{
		Key:        key,
		FilePath:   path,
		Size:       diskSize,
		Samples:    len(samples),
		Timestamp:  now,
		LastAccess: now,
	}
	dc.size += diskSize
	dc.stats.Size = dc.size
	dc.stats.ItemCount = int64(len(dc.index))

	log.Debug("Cached segment",
		"samples", len(samples),
		"raw", humanize.Bytes(uint64(len(raw))),
		"stored", humanize.Bytes(uint64(diskSize)))
	return nil
}

// Clear removes every entry.
func (dc *DiskCache) Clear() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	for _, entry := range dc.index {
		os.Remove(entry.FilePath)
	}
	dc.index = make(map[string]*diskCacheEntry)
	dc.size = 0
	dc.stats.Size = 0
	dc.stats.ItemCount = 0
	return dc.saveIndex()
}

// Stats returns cache statistics.
func (dc *DiskCache) Stats() Stats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	stats := dc.stats
	stats.Size = dc.size
	stats.ItemCount = int64(len(dc.index))
	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}
	return stats
}

// Close saves the index.
func (dc *DiskCache) Close() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.encoder.Close()
	dc.decoder.Close()
	return dc.saveIndex()
}

func (dc *DiskCache) removeLocked(key string, entry *diskCacheEntry) {
	os.Remove(entry.FilePath)
	dc.size -= entry.Size
	delete(dc.index, key)
	dc.stats.Size = dc.size
	dc.stats.ItemCount = int64(len(dc.index))
}

func (dc *DiskCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range dc.index {
		if oldestKey == "" || entry.LastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.LastAccess
		}
	}
	if oldestKey == "" {
		return
	}
	dc.removeLocked(oldestKey, dc.index[oldestKey])
	dc.stats.Evictions++
	dc.stats.LastEvict = time.Now()
}

func (dc *DiskCache) calculateSize() {
	dc.size = 0
	for key, entry := range dc.index {
		if _, err := os.Stat(entry.FilePath); err != nil {
			delete(dc.index, key)
			continue
		}
		dc.size += entry.Size
	}
	dc.stats.Size = dc.size
	dc.stats.ItemCount = int64(len(dc.index))
}

func (dc *DiskCache) loadIndex() error {
	file, err := os.Open(filepath.Join(dc.basePath, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()
	return gob.NewDecoder(file).Decode(&dc.index)
}

func (dc *DiskCache) saveIndex() error {
	path := filepath.Join(dc.basePath, indexFile)
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	err = gob.NewEncoder(file).Encode(dc.index)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, path)
}

func (dc *DiskCache) generateFilePath(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(dc.basePath, hex.EncodeToString(hash[:16])+".pcm.zst")
}

func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, path)
}
