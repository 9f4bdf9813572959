package dispatch

import (
	"strings"
	"sync"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// DefaultCallLogSize bounds the call log when no size is configured.
const DefaultCallLogSize = 500

// CallLog is a bounded, ordered history of completed calls. The oldest record
// is evicted once the capacity is reached.
type CallLog struct {
	mu      sync.RWMutex
	records []models.CallRecord
	cap     int
}

// NewCallLog creates a log holding at most size records.
func NewCallLog(size int) *CallLog {
	if size <= 0 {
		size = DefaultCallLogSize
	}
	return &CallLog{cap: size, records: make([]models.CallRecord, 0, size)}
}

// Append stores a copy of rec.
func (l *CallLog) Append(rec models.CallRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == l.cap {
		copy(l.records, l.records[1:])
		l.records = l.records[:l.cap-1]
	}
	l.records = append(l.records, rec.Clone())
}

// Len returns the number of stored records.
func (l *CallLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Cap returns the capacity.
func (l *CallLog) Cap() int {
	return l.cap
}

// Recent returns up to limit records, newest first. A non-positive limit returns everything.
func (l *CallLog) Recent(limit int) []models.CallRecord {
	return l.newestFirst(limit, func(models.CallRecord) bool { return true })
}

// ForIncident returns up to limit records belonging to incidentID, newest first.
// Pipeline correlation ids embed the incident id, so a substring match suffices.
func (l *CallLog) ForIncident(incidentID string, limit int) []models.CallRecord {
	if incidentID == "" {
		return l.Recent(limit)
	}
	return l.newestFirst(limit, func(r models.CallRecord) bool {
		return r.IncidentID == incidentID || strings.Contains(r.CorrelationID, incidentID)
	})
}

// ForCorrelation returns every record with exactly this correlation id, oldest first.
func (l *CallLog) ForCorrelation(correlationID string) []models.CallRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.CallRecord
	for _, r := range l.records {
		if r.CorrelationID == correlationID {
			out = append(out, r.Clone())
		}
	}
	return out
}

func (l *CallLog) newestFirst(limit int, keep func(models.CallRecord) bool) []models.CallRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.CallRecord, 0)
	for i := len(l.records) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if keep(l.records[i]) {
			out = append(out, l.records[i].Clone())
		}
	}
	return out
}
