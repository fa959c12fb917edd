package observability

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// TurnStageStats summarises one conversation stage over the rolling window.
type TurnStageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type TurnIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TurnStageSnapshot is served by /v1/perf/latency.
type TurnStageSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Stages      []TurnStageStats `json:"stages"`
	Indicators  []TurnIndicator  `json:"indicators,omitempty"`
}

// p95 goals per stage, in milliseconds.
var stageTargets = map[string]float64{
	"wake_to_capture":           150,
	"command_capture":           9000,
	"command_to_first_fragment": 1200,
	"reply_stream":              6000,
	"turn_total":                15000,
}

// durationRing keeps the most recent samples of one stage.
type durationRing struct {
	buf  []time.Duration
	n    int
	head int
}

func (r *durationRing) push(d time.Duration) {
	r.buf[r.head] = d
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *durationRing) last() time.Duration {
	return r.buf[(r.head-1+len(r.buf))%len(r.buf)]
}

func (r *durationRing) stats(stage string) TurnStageStats {
	sorted := slices.Clone(r.buf[:r.n])
	slices.Sort(sorted)
	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return TurnStageStats{
		Stage:       stage,
		Samples:     r.n,
		LastMS:      millis(r.last()),
		AvgMS:       millis(sum / time.Duration(r.n)),
		P50MS:       millis(percentile(sorted, 0.50)),
		P95MS:       millis(percentile(sorted, 0.95)),
		P99MS:       millis(percentile(sorted, 0.99)),
		TargetP95MS: stageTargets[stage],
	}
}

// turnStageWindow is a rolling per-stage latency window plus event counters.
type turnStageWindow struct {
	size int

	mu         sync.Mutex
	stages     map[string]*durationRing
	indicators map[string]int
}

func newTurnStageWindow(size int) *turnStageWindow {
	if size <= 0 {
		size = 256
	}
	return &turnStageWindow{
		size:       size,
		stages:     make(map[string]*durationRing),
		indicators: make(map[string]int),
	}
}

func (w *turnStageWindow) Observe(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ring := w.stages[stage]
	if ring == nil {
		ring = &durationRing{buf: make([]time.Duration, w.size)}
		w.stages[stage] = ring
	}
	ring.push(d)
}

func (w *turnStageWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	w.indicators[name]++
	w.mu.Unlock()
}

func (w *turnStageWindow) Snapshot() TurnStageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := TurnStageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]TurnStageStats, 0, len(w.stages)),
	}
	for _, stage := range slices.Sorted(maps.Keys(w.stages)) {
		snap.Stages = append(snap.Stages, w.stages[stage].stats(stage))
	}
	for _, name := range slices.Sorted(maps.Keys(w.indicators)) {
		snap.Indicators = append(snap.Indicators, TurnIndicator{Name: name, Count: w.indicators[name]})
	}
	return snap
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(pos)), int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + time.Duration(frac*float64(sorted[hi]-sorted[lo]))
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}
