package metrics

import (
	"encoding/json"
	"runtime"
	"sync"
	"time"
)

// TreeSizeFunc reports the number of active leaves in the identity tree.
type TreeSizeFunc func() int

// PendingRootsFunc reports the number of overlay roots awaiting promotion.
type PendingRootsFunc func() int

// WatcherHeadFunc reports the last block number the chain watcher processed.
type WatcherHeadFunc func() uint64

// RuntimeStats collects Go runtime statistics together with process-level
// views of the identity tree, for the exporter's runtime section and the
// ExportJSON snapshot. Tree and watcher readings come from callbacks wired
// in at startup so this package never imports the core.
type RuntimeStats struct {
	startTime time.Time

	mu          sync.RWMutex
	goroutines  int
	heapAlloc   uint64
	sysBytes    uint64
	totalAlloc  uint64
	numGC       uint32
	pauseTotal  time.Duration
	lastCollect time.Time

	treeSizeFn     TreeSizeFunc
	pendingRootsFn PendingRootsFunc
	watcherHeadFn  WatcherHeadFunc
}

// NewRuntimeStats creates a RuntimeStats with no-op tree and watcher
// callbacks.
func NewRuntimeStats() *RuntimeStats {
	return &RuntimeStats{
		startTime:      time.Now(),
		treeSizeFn:     func() int { return 0 },
		pendingRootsFn: func() int { return 0 },
		watcherHeadFn:  func() uint64 { return 0 },
	}
}

// SetTreeSizeFunc wires the active-leaf-count callback. Nil is ignored.
func (rs *RuntimeStats) SetTreeSizeFunc(fn TreeSizeFunc) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if fn != nil {
		rs.treeSizeFn = fn
	}
}

// SetPendingRootsFunc wires the overlay-depth callback. Nil is ignored.
func (rs *RuntimeStats) SetPendingRootsFunc(fn PendingRootsFunc) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if fn != nil {
		rs.pendingRootsFn = fn
	}
}

// SetWatcherHeadFunc wires the last-processed-block callback. Nil is
// ignored.
func (rs *RuntimeStats) SetWatcherHeadFunc(fn WatcherHeadFunc) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if fn != nil {
		rs.watcherHeadFn = fn
	}
}

// Collect refreshes the cached runtime readings. Call it periodically, or
// let the exporter call it once per scrape.
func (rs *RuntimeStats) Collect() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.goroutines = runtime.NumGoroutine()
	rs.heapAlloc = ms.HeapAlloc
	rs.sysBytes = ms.Sys
	rs.totalAlloc = ms.TotalAlloc
	rs.numGC = ms.NumGC
	rs.pauseTotal = time.Duration(ms.PauseTotalNs)
	rs.lastCollect = time.Now()
}

// Goroutines returns the goroutine count at the last Collect, or a live
// reading if Collect has never run.
func (rs *RuntimeStats) Goroutines() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	if rs.lastCollect.IsZero() {
		return runtime.NumGoroutine()
	}
	return rs.goroutines
}

// HeapAlloc returns the heap bytes in use at the last Collect.
func (rs *RuntimeStats) HeapAlloc() uint64 {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.heapAlloc
}

// SysBytes returns the bytes obtained from the OS at the last Collect.
func (rs *RuntimeStats) SysBytes() uint64 {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.sysBytes
}

// GCCount returns the completed GC cycles at the last Collect.
func (rs *RuntimeStats) GCCount() uint32 {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.numGC
}

// GCPauseTotal returns the cumulative GC pause time at the last Collect.
func (rs *RuntimeStats) GCPauseTotal() time.Duration {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.pauseTotal
}

// Uptime returns the time elapsed since the RuntimeStats was created.
func (rs *RuntimeStats) Uptime() time.Duration {
	return time.Since(rs.startTime)
}

// LastCollectTime returns when Collect last ran, or the zero time if never.
func (rs *RuntimeStats) LastCollectTime() time.Time {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.lastCollect
}

// TreeSize invokes the active-leaf-count callback.
func (rs *RuntimeStats) TreeSize() int {
	rs.mu.RLock()
	fn := rs.treeSizeFn
	rs.mu.RUnlock()
	return fn()
}

// PendingRoots invokes the overlay-depth callback.
func (rs *RuntimeStats) PendingRoots() int {
	rs.mu.RLock()
	fn := rs.pendingRootsFn
	rs.mu.RUnlock()
	return fn()
}

// WatcherHead invokes the last-processed-block callback.
func (rs *RuntimeStats) WatcherHead() uint64 {
	rs.mu.RLock()
	fn := rs.watcherHeadFn
	rs.mu.RUnlock()
	return fn()
}

type runtimeSnapshot struct {
	Goroutines   int     `json:"goroutines"`
	HeapAlloc    uint64  `json:"heapAlloc"`
	SysBytes     uint64  `json:"sysBytes"`
	GCCount      uint32  `json:"gcCount"`
	UptimeSec    float64 `json:"uptimeSeconds"`
	TreeSize     int     `json:"treeSize"`
	PendingRoots int     `json:"pendingRoots"`
	WatcherHead  uint64  `json:"watcherHead"`
	CollectedAt  string  `json:"collectedAt"`
}

// ExportJSON runs a fresh Collect and serializes the full snapshot,
// including the tree and watcher callback readings.
func (rs *RuntimeStats) ExportJSON() ([]byte, error) {
	rs.Collect()

	rs.mu.RLock()
	snap := runtimeSnapshot{
		Goroutines:  rs.goroutines,
		HeapAlloc:   rs.heapAlloc,
		SysBytes:    rs.sysBytes,
		GCCount:     rs.numGC,
		CollectedAt: rs.lastCollect.UTC().Format(time.RFC3339),
	}
	rs.mu.RUnlock()

	snap.UptimeSec = rs.Uptime().Seconds()
	snap.TreeSize = rs.TreeSize()
	snap.PendingRoots = rs.PendingRoots()
	snap.WatcherHead = rs.WatcherHead()
	return json.Marshal(snap)
}
