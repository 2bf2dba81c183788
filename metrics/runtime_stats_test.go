package metrics

import (
	"encoding/json"
	"testing"
)

func TestRuntimeStatsCollect(t *testing.T) {
	rs := NewRuntimeStats()
	if !rs.LastCollectTime().IsZero() {
		t.Fatal("LastCollectTime should be zero before Collect")
	}
	rs.Collect()
	if rs.LastCollectTime().IsZero() {
		t.Fatal("LastCollectTime still zero after Collect")
	}
	if rs.Goroutines() <= 0 {
		t.Fatalf("Goroutines() = %d, want > 0", rs.Goroutines())
	}
	if rs.HeapAlloc() == 0 {
		t.Fatal("HeapAlloc() = 0 after Collect")
	}
}

func TestRuntimeStatsGoroutinesLiveFallback(t *testing.T) {
	rs := NewRuntimeStats()
	if rs.Goroutines() <= 0 {
		t.Fatal("Goroutines() should read live before any Collect")
	}
}

func TestRuntimeStatsCallbacks(t *testing.T) {
	rs := NewRuntimeStats()
	if rs.TreeSize() != 0 || rs.PendingRoots() != 0 || rs.WatcherHead() != 0 {
		t.Fatal("default callbacks must return zero values")
	}

	rs.SetTreeSizeFunc(func() int { return 42 })
	rs.SetPendingRootsFunc(func() int { return 3 })
	rs.SetWatcherHeadFunc(func() uint64 { return 1234 })
	rs.SetTreeSizeFunc(nil) // nil is ignored

	if rs.TreeSize() != 42 {
		t.Fatalf("TreeSize() = %d, want 42", rs.TreeSize())
	}
	if rs.PendingRoots() != 3 {
		t.Fatalf("PendingRoots() = %d, want 3", rs.PendingRoots())
	}
	if rs.WatcherHead() != 1234 {
		t.Fatalf("WatcherHead() = %d, want 1234", rs.WatcherHead())
	}
}

func TestRuntimeStatsExportJSON(t *testing.T) {
	rs := NewRuntimeStats()
	rs.SetTreeSizeFunc(func() int { return 7 })

	data, err := rs.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if m["treeSize"].(float64) != 7 {
		t.Fatalf("treeSize = %v, want 7", m["treeSize"])
	}
	for _, key := range []string{"goroutines", "heapAlloc", "uptimeSeconds", "pendingRoots", "watcherHead", "collectedAt"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("missing key %q in %s", key, data)
		}
	}
}
