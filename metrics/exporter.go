package metrics

import (
	"fmt"
	"net/http"
	"strings"
)

// ExporterConfig configures an Exporter.
type ExporterConfig struct {
	// Namespace is prepended to every metric name, so "tree.size" under
	// namespace "idtree" is exposed as "idtree_tree_size".
	Namespace string
	// Path is the HTTP path metrics are served on. Defaults to "/metrics".
	Path string
}

// Exporter serves a Registry in Prometheus text exposition format, with an
// optional runtime section fed by a RuntimeStats.
type Exporter struct {
	cfg     ExporterConfig
	reg     *Registry
	runtime *RuntimeStats
}

// NewExporter creates an Exporter over reg. runtime may be nil to omit the
// runtime section.
func NewExporter(reg *Registry, runtime *RuntimeStats, cfg ExporterConfig) *Exporter {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	return &Exporter{cfg: cfg, reg: reg, runtime: runtime}
}

// Handler returns an http.Handler serving the configured path.
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(e.cfg.Path, e.serveMetrics)
	return mux
}

func (e *Exporter) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	var b strings.Builder
	e.reg.Each(func(m Metric) {
		e.writeMetric(&b, m)
	})
	if e.runtime != nil {
		e.writeRuntime(&b)
	}
	w.Write([]byte(b.String()))
}

func (e *Exporter) writeMetric(b *strings.Builder, m Metric) {
	name := e.promName(m.Name())
	switch m := m.(type) {
	case *Counter:
		fmt.Fprintf(b, "# TYPE %s counter\n%s %d\n", name, name, m.Value())
	case *Gauge:
		fmt.Fprintf(b, "# TYPE %s gauge\n%s %d\n", name, name, m.Value())
	case *Histogram:
		fmt.Fprintf(b, "# TYPE %s histogram\n", name)
		cumulative := m.Cumulative()
		for i, bound := range m.Bounds() {
			fmt.Fprintf(b, "%s_bucket{le=%q} %d\n", name, formatBound(bound), cumulative[i])
		}
		fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, cumulative[len(cumulative)-1])
		fmt.Fprintf(b, "%s_sum %g\n", name, m.Sum())
		fmt.Fprintf(b, "%s_count %d\n", name, m.Count())
	}
}

func (e *Exporter) writeRuntime(b *strings.Builder) {
	e.runtime.Collect()

	writeGauge := func(name string, value interface{}) {
		full := e.promName(name)
		fmt.Fprintf(b, "# TYPE %s gauge\n%s %v\n", full, full, value)
	}
	writeGauge("go.goroutines", e.runtime.Goroutines())
	writeGauge("go.heap_alloc_bytes", e.runtime.HeapAlloc())
	writeGauge("go.sys_bytes", e.runtime.SysBytes())
	writeGauge("go.gc_cycles", e.runtime.GCCount())
	writeGauge("go.gc_pause_total_seconds", e.runtime.GCPauseTotal().Seconds())
	writeGauge("process.uptime_seconds", e.runtime.Uptime().Seconds())
}

// promName maps a dotted metric name into the Prometheus character set and
// prepends the namespace.
func (e *Exporter) promName(name string) string {
	s := strings.NewReplacer(".", "_", "-", "_").Replace(name)
	if e.cfg.Namespace != "" {
		return e.cfg.Namespace + "_" + s
	}
	return s
}

func formatBound(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
}
