package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks overall engine performance.
type SystemMetrics struct {
	// Latency histograms
	TickLatency *LatencyHistogram
	ExecLatency *LatencyHistogram
	DBLatency   *LatencyHistogram

	// Counters
	ticksProcessed   uint64
	decisionsMade    uint64
	triggersFired    uint64
	executionsDone   uint64
	errorsCount      uint64
	apiRequests      uint64
}

// LatencyHistogram tracks latency samples with a sliding window and
// lazily recomputed stats.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		TickLatency: NewLatencyHistogram(1000),
		ExecLatency: NewLatencyHistogram(1000),
		DBLatency:   NewLatencyHistogram(1000),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Recomputes only when
// samples have changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementTicks increments the completed-tick counter.
func (m *SystemMetrics) IncrementTicks() {
	atomic.AddUint64(&m.ticksProcessed, 1)
}

// IncrementDecisions increments the decisions-made counter.
func (m *SystemMetrics) IncrementDecisions() {
	atomic.AddUint64(&m.decisionsMade, 1)
}

// IncrementTriggers increments the conditional-trigger counter.
func (m *SystemMetrics) IncrementTriggers() {
	atomic.AddUint64(&m.triggersFired, 1)
}

// IncrementExecutions increments the executed-action counter.
func (m *SystemMetrics) IncrementExecutions() {
	atomic.AddUint64(&m.executionsDone, 1)
}

// IncrementErrors increments the error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// IncrementAPIRequests increments the API request counter.
func (m *SystemMetrics) IncrementAPIRequests() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// MetricsSnapshot is a point-in-time metrics view.
type MetricsSnapshot struct {
	TickLatency    LatencyStats `json:"tick_latency"`
	ExecLatency    LatencyStats `json:"exec_latency"`
	DBLatency      LatencyStats `json:"db_latency"`
	TicksProcessed uint64       `json:"ticks_processed"`
	DecisionsMade  uint64       `json:"decisions_made"`
	TriggersFired  uint64       `json:"triggers_fired"`
	ExecutionsDone uint64       `json:"executions_done"`
	ErrorsCount    uint64       `json:"errors_count"`
	APIRequests    uint64       `json:"api_requests"`
	GoroutineCount int          `json:"goroutine_count"`
	HeapAlloc      uint64       `json:"heap_alloc_bytes"`
	HeapSys        uint64       `json:"heap_sys_bytes"`
	Timestamp      time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		TickLatency:    m.TickLatency.Stats(),
		ExecLatency:    m.ExecLatency.Stats(),
		DBLatency:      m.DBLatency.Stats(),
		TicksProcessed: atomic.LoadUint64(&m.ticksProcessed),
		DecisionsMade:  atomic.LoadUint64(&m.decisionsMade),
		TriggersFired:  atomic.LoadUint64(&m.triggersFired),
		ExecutionsDone: atomic.LoadUint64(&m.executionsDone),
		ErrorsCount:    atomic.LoadUint64(&m.errorsCount),
		APIRequests:    atomic.LoadUint64(&m.apiRequests),
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		HeapSys:        memStats.HeapSys,
		Timestamp:      time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to the histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
