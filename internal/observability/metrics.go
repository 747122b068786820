package observability

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Metrics collects render-pipeline counters in Prometheus text exposition
// format. Instruments are process-local; the worker and API expose them on
// GET /metrics.
type Metrics struct {
	JobsEnqueued  *Counter
	JobsStarted   *Counter
	JobsCompleted *Counter
	JobsFailed    *Counter
	JobDuration   *HistogramVec

	ScenesRendered  *CounterVec
	SceneFallbacks  *Counter
	EngineAttempts  *CounterVec
	EngineLatency   *HistogramVec
	TTSRequests     *CounterVec
	AssemblyStages  *HistogramVec
	QueueDepthGauge *Gauge
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			JobsEnqueued:  NewCounter("render_jobs_enqueued_total", "Render jobs accepted and queued"),
			JobsStarted:   NewCounter("render_jobs_started_total", "Render jobs claimed by a worker"),
			JobsCompleted: NewCounter("render_jobs_completed_total", "Render jobs finished with status DONE"),
			JobsFailed:    NewCounter("render_jobs_failed_total", "Render jobs finished with status FAILED"),
			JobDuration: NewHistogramVec("render_job_duration_seconds", "Wall-clock job duration by terminal status",
				[]string{"status"}, []float64{5, 15, 30, 60, 120, 300, 600}),

			ScenesRendered: NewCounterVec("render_scenes_total", "Scene render outcomes",
				[]string{"engine", "outcome"}),
			SceneFallbacks: NewCounter("render_scene_fallbacks_total", "Scenes that exhausted their primary engine"),
			EngineAttempts: NewCounterVec("render_engine_attempts_total", "Engine submit attempts by result",
				[]string{"engine", "result"}),
			EngineLatency: NewHistogramVec("render_engine_latency_seconds", "Submit-to-clip latency per engine",
				[]string{"engine"}, []float64{1, 5, 10, 20, 30, 45, 60}),
			TTSRequests: NewCounterVec("tts_requests_total", "TTS synth attempts by provider and result",
				[]string{"provider", "result"}),
			AssemblyStages: NewHistogramVec("assembly_stage_seconds", "Assembly stage durations",
				[]string{"stage"}, []float64{0.5, 1, 2, 5, 10, 30, 60}),
			QueueDepthGauge: NewGauge("render_queue_depth", "Pending jobs in the render queue"),
		}
	})
	return metrics
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.JobsEnqueued, m.JobsStarted, m.JobsCompleted, m.JobsFailed, m.JobDuration,
		m.ScenesRendered, m.SceneFallbacks, m.EngineAttempts, m.EngineLatency,
		m.TTSRequests, m.AssemblyStages, m.QueueDepthGauge,
	}
	for _, mw := range writers {
		if err := mw.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

type Counter struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Inc() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.val++
	c.mu.Unlock()
}

func (c *Counter) Add(v float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.val += v
	c.mu.Unlock()
}

func (c *Counter) Value() float64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val
}

func (c *Counter) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, err := fmt.Fprintf(w, "%s %f\n", c.name, c.val)
	return err
}

type CounterVec struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{name: name, help: help, labelNames: labels, values: map[string]float64{}}
}

func (c *CounterVec) Inc(values ...string) {
	if c == nil {
		return
	}
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl]++
	c.mu.Unlock()
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.values {
		if _, err := fmt.Fprintf(w, "%s%s %f\n", c.name, k, v); err != nil {
			return err
		}
	}
	return nil
}

type Gauge struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

func (g *Gauge) Set(v float64) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.val = v
	g.mu.Unlock()
}

func (g *Gauge) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n", g.name, g.help, g.name); err != nil {
		return err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, err := fmt.Fprintf(w, "%s %f\n", g.name, g.val)
	return err
}

type HistogramVec struct {
	name       string
	help       string
	labelNames []string
	buckets    []float64
	mu         sync.RWMutex
	values     map[string]*histogram
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	total   uint64
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	if len(buckets) == 0 {
		buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	}
	return &HistogramVec{name: name, help: help, labelNames: labels, buckets: buckets, values: map[string]*histogram{}}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil {
		return
	}
	lbl := labelString(h.labelNames, values)
	h.mu.Lock()
	defer h.mu.Unlock()
	hist, ok := h.values[lbl]
	if !ok {
		hist = &histogram{
			buckets: h.buckets,
			counts:  make([]uint64, len(h.buckets)+1),
		}
		h.values[lbl] = hist
	}
	hist.sum += v
	hist.total++
	for i, b := range hist.buckets {
		if v <= b {
			hist.counts[i]++
		}
	}
	hist.counts[len(hist.counts)-1]++
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for k, v := range h.values {
		for i, b := range v.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, fmt.Sprintf("%g", b)), v.counts[i]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, "+Inf"), v.counts[len(v.counts)-1]); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_sum%s %f\n", h.name, k, v.sum); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_count%s %d\n", h.name, k, v.total); err != nil {
			return err
		}
	}
	return nil
}

func labelString(names []string, values []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("{")
	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}
		val := "unknown"
		if i < len(values) {
			val = values[i]
		}
		b.WriteString(name)
		b.WriteString("=\"")
		b.WriteString(escapeLabel(val))
		b.WriteString("\"")
	}
	b.WriteString("}")
	return b.String()
}

func withLe(labels, le string) string {
	if labels == "" {
		return fmt.Sprintf("{le=%q}", le)
	}
	return strings.TrimSuffix(labels, "}") + fmt.Sprintf(",le=%q}", le)
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}
