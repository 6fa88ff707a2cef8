package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func samplesOf(n int, v int16) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = v + int16(i%7)
	}
	return s
}

func TestKey(t *testing.T) {
	a := Key("orpheus", "leah", "Hello.", 0.6, 0.9)
	tests := []struct {
		name string
		key  string
		same bool
	}{
		{"identical", Key("orpheus", "leah", "Hello.", 0.6, 0.9), true},
		{"voice", Key("orpheus", "tara", "Hello.", 0.6, 0.9), false},
		{"text", Key("orpheus", "leah", "Hello!", 0.6, 0.9), false},
		{"params", Key("orpheus", "leah", "Hello.", 0.7, 0.9), false},
		{"model", Key("other", "leah", "Hello.", 0.6, 0.9), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if (tt.key == a) != tt.same {
				t.Errorf("Expected same=%v for %s", tt.same, tt.name)
			}
		})
	}
	if len(a) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(a))
	}
}

func TestDiskCache_PutGet(t *testing.T) {
	dc, err := NewDiskCache(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer dc.Close()

	key := Key("m", "leah", "Hello there.")
	want := samplesOf(4096, 100)
	if err := dc.Put(key, want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok := dc.Get(key)
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}

	if _, ok := dc.Get(Key("m", "leah", "other")); ok {
		t.Error("Expected miss for unknown key")
	}
	stats := dc.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.HitRate != 0.5 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestDiskCache_PersistsIndex(t *testing.T) {
	dir := t.TempDir()
	key := Key("m", "zoe", "Persist me.")

	dc, err := NewDiskCache(Config{Dir: dir})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	_ = dc.Put(key, samplesOf(1000, 5))
	if err := dc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewDiskCache(Config{Dir: dir})
	if err != nil {
		t.Fatalf("Failed to reopen cache: %v", err)
	}
	defer reopened.Close()
	if !indexed(reopened, key) {
		t.Error("Expected entry to survive reopen")
	}
	if got, ok := reopened.Get(key); !ok || len(got) != 1000 {
		t.Errorf("Expected 1000 samples after reopen, got %d (%v)", len(got), ok)
	}
}

func TestDiskCache_EvictsOldest(t *testing.T) {
	dir := t.TempDir()
	sizer, _ := NewDiskCache(Config{Dir: filepath.Join(dir, "sizer")})
	_ = sizer.Put("p"+Key("m", "v", "a"), samplesOf(2000, 1))
	entrySize := sizer.Stats().Size
	sizer.Close()

	dc, err := NewDiskCache(Config{Dir: filepath.Join(dir, "c"), Capacity: entrySize*2 + entrySize/2})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer dc.Close()

	k1, k2, k3 := Key("m", "v", "1"), Key("m", "v", "2"), Key("m", "v", "3")
	_ = dc.Put(k1, samplesOf(2000, 1))
	_ = dc.Put(k2, samplesOf(2000, 1))
	_ = dc.Put(k3, samplesOf(2000, 1))

	if indexed(dc, k1) {
		t.Error("Expected oldest entry evicted")
	}
	if !indexed(dc, k2) || !indexed(dc, k3) {
		t.Error("Expected newer entries kept")
	}
	if dc.Stats().Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", dc.Stats().Evictions)
	}
}

func TestDiskCache_CorruptedEntry(t *testing.T) {
	dc, err := NewDiskCache(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer dc.Close()

	key := Key("m", "leo", "Corrupt me.")
	_ = dc.Put(key, samplesOf(500, 9))
	if err := os.WriteFile(dc.index[key].FilePath, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := dc.Get(key); ok {
		t.Error("Expected corrupted entry to miss")
	}
	if indexed(dc, key) {
		t.Error("Expected corrupted entry removed")
	}
}

func TestDiskCache_TooLarge(t *testing.T) {
	dc, err := NewDiskCache(Config{Dir: t.TempDir(), Capacity: 16})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer dc.Close()

	if err := dc.Put(Key("m", "v", "big"), samplesOf(10000, 3)); err != ErrItemTooLarge {
		t.Errorf("Expected ErrItemTooLarge, got %v", err)
	}
}

func TestDiskCache_Clear(t *testing.T) {
	dir := t.TempDir()
	dc, err := NewDiskCache(Config{Dir: dir})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer dc.Close()

	key := Key("m", "leah", "Clear me.")
	if err := dc.Put(key, samplesOf(2048, 5)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := dc.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok := dc.Get(key); ok {
		t.Error("Expected miss after clear")
	}
	if stats := dc.Stats(); stats.ItemCount != 0 || stats.Size != 0 {
		t.Errorf("Expected empty cache, got %+v", stats)
	}

	reopened, err := NewDiskCache(Config{Dir: dir})
	if err != nil {
		t.Fatalf("Failed to reopen cache: %v", err)
	}
	defer reopened.Close()
	if indexed(reopened, key) {
		t.Error("Expected cleared index to be persisted")
	}
}

// indexed reports whether key is in the index without touching access times.
func indexed(dc *DiskCache, key string) bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	_, ok := dc.index[key]
	return ok
}
