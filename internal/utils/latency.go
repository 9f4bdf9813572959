package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker stores recent duration samples and computes percentiles.
type LatencyTracker struct {
	mu      sync.RWMutex
	samples []time.Duration
	maxSize int
}

// NewLatencyTracker creates a tracker storing up to maxSize samples.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{maxSize: maxSize}
}

// Observe records a new duration, dropping the oldest sample once full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.samples = append(l.samples, d)
	if over := len(l.samples) - l.maxSize; over > 0 {
		l.samples = append(l.samples[:0], l.samples[over:]...)
	}
}

// Percentile returns the percentile (0-100) duration. Returns zero if no samples.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	sorted := append([]time.Duration(nil), l.samples...)
	l.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	index := int((p / 100.0) * float64(len(sorted)-1))
	return sorted[index]
}

// Count returns number of samples recorded.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.samples)
}

// LatencySet keeps one LatencyTracker per key, created on first use.
type LatencySet struct {
	mu       sync.Mutex
	trackers map[string]*LatencyTracker
	size     int
}

// NewLatencySet creates a keyed tracker set with the given per-key capacity.
func NewLatencySet(size int) *LatencySet {
	return &LatencySet{trackers: make(map[string]*LatencyTracker), size: size}
}

// Observe records d against key.
func (s *LatencySet) Observe(key string, d time.Duration) {
	s.tracker(key).Observe(d)
}

// Percentile returns the percentile for key, or zero when the key has no samples.
func (s *LatencySet) Percentile(key string, p float64) time.Duration {
	s.mu.Lock()
	t, ok := s.trackers[key]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return t.Percentile(p)
}

func (s *LatencySet) tracker(key string) *LatencyTracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[key]
	if !ok {
		t = NewLatencyTracker(s.size)
		s.trackers[key] = t
	}
	return t
}
