package monitor

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// DefaultDriftThreshold is the z-score at which a metric counts as drifting.
const DefaultDriftThreshold = 2.5

const minBaselineSamples = 5

// Baseline keeps a rolling window of health readings per metric and scores
// each new reading against the window that preceded it.
type Baseline struct {
	mu      sync.Mutex
	size    int
	samples map[string][]float64
}

// NewBaseline creates a baseline holding up to size readings per metric.
func NewBaseline(size int) *Baseline {
	if size <= 0 {
		size = 30
	}
	return &Baseline{size: size, samples: make(map[string][]float64)}
}

// Observe scores h against the current window, then adds it. Metrics with
// fewer than five prior readings are not scored.
func (b *Baseline) Observe(h Health) map[string]float64 {
	readings := map[string]float64{
		"memory_usage_mb": h.MemoryUsageMB,
		"cpu_percent":     h.CPUPercent,
		"error_rate":      h.ErrorRate,
		"avg_latency_ms":  h.AvgLatencyMs,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	scores := make(map[string]float64, len(readings))
	for name, value := range readings {
		window := b.samples[name]
		if len(window) >= minBaselineSamples {
			scores[name] = zScore(window, value)
		}
		window = append(window, value)
		if len(window) > b.size {
			window = window[len(window)-b.size:]
		}
		b.samples[name] = window
	}
	return scores
}

// Reset forgets every reading.
func (b *Baseline) Reset() {
	b.mu.Lock()
	b.samples = make(map[string][]float64)
	b.mu.Unlock()
}

func zScore(window []float64, value float64) float64 {
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(len(window))

	variance := 0.0
	for _, v := range window {
		variance += math.Pow(v-mean, 2)
	}
	variance /= float64(len(window))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		stdDev = 0.01
	}
	return math.Round((value-mean)/stdDev*100) / 100
}

// Drifting lists, in name order, the metrics whose score reaches threshold.
func Drifting(scores map[string]float64, threshold float64) []string {
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}
	var out []string
	for name, score := range scores {
		if score >= threshold {
			out = append(out, fmt.Sprintf("%s drifting (z=%.1f)", name, score))
		}
	}
	sort.Strings(out)
	return out
}

func scoresMap(scores map[string]float64) map[string]any {
	out := make(map[string]any, len(scores))
	for name, score := range scores {
		out[name] = score
	}
	return out
}
