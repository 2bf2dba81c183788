package metrics

import (
	"fmt"
	"sort"
	"sync"
)

// Metric is anything a Registry can hold: *Counter, *Gauge or *Histogram.
type Metric interface {
	Name() string
}

// Registry holds metrics keyed by name, with get-or-create semantics so
// callers never have to check whether a metric exists. Registering the same
// name as two different kinds is an invariant violation and panics.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
}

// DefaultRegistry is the process-wide registry the pre-defined metrics in
// standard.go live in.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

func (r *Registry) getOrCreate(name string, create func() Metric) Metric {
	r.mu.RLock()
	m, ok := r.metrics[name]
	r.mu.RUnlock()
	if ok {
		return m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok = r.metrics[name]; ok {
		return m
	}
	m = create()
	r.metrics[name] = m
	return m
}

// Counter returns the Counter registered under name, creating it on first
// access.
func (r *Registry) Counter(name string) *Counter {
	m := r.getOrCreate(name, func() Metric { return NewCounter(name) })
	c, ok := m.(*Counter)
	if !ok {
		panic(fmt.Sprintf("metrics: %q already registered as %T", name, m))
	}
	return c
}

// Gauge returns the Gauge registered under name, creating it on first
// access.
func (r *Registry) Gauge(name string) *Gauge {
	m := r.getOrCreate(name, func() Metric { return NewGauge(name) })
	g, ok := m.(*Gauge)
	if !ok {
		panic(fmt.Sprintf("metrics: %q already registered as %T", name, m))
	}
	return g
}

// Histogram returns the Histogram registered under name, creating it on
// first access with the given bucket bounds (DurationBuckets when none are
// given). Bounds are ignored if the histogram already exists.
func (r *Registry) Histogram(name string, bounds ...float64) *Histogram {
	m := r.getOrCreate(name, func() Metric { return NewHistogram(name, bounds...) })
	h, ok := m.(*Histogram)
	if !ok {
		panic(fmt.Sprintf("metrics: %q already registered as %T", name, m))
	}
	return h
}

// Each calls fn for every registered metric in name order.
func (r *Registry) Each(fn func(Metric)) {
	r.mu.RLock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	metrics := make([]Metric, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		metrics = append(metrics, r.metrics[name])
	}
	r.mu.RUnlock()

	for _, m := range metrics {
		fn(m)
	}
}

// Snapshot returns a point-in-time flat view of every metric. Counters and
// gauges appear under their own name; a histogram expands into .count,
// .sum, .mean, .min and .max sub-keys.
func (r *Registry) Snapshot() map[string]float64 {
	snap := make(map[string]float64)
	r.Each(func(m Metric) {
		switch m := m.(type) {
		case *Counter:
			snap[m.Name()] = float64(m.Value())
		case *Gauge:
			snap[m.Name()] = float64(m.Value())
		case *Histogram:
			snap[m.Name()+".count"] = float64(m.Count())
			snap[m.Name()+".sum"] = m.Sum()
			snap[m.Name()+".mean"] = m.Mean()
			snap[m.Name()+".min"] = m.Min()
			snap[m.Name()+".max"] = m.Max()
		}
	})
	return snap
}
