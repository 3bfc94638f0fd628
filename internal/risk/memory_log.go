package risk

import (
	"context"
	"sync"
)

// MemoryLog is an in-memory, process-lifetime IncidentLog.
type MemoryLog struct {
	mu        sync.RWMutex
	incidents []*Incident
}

// NewMemoryLog creates an empty incident log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append stores a copy of incident and sets its Seq.
func (l *MemoryLog) Append(ctx context.Context, incident *Incident) error {
	l.mu.Lock()
	incident.Seq = int64(len(l.incidents)) + 1
	inc := *incident
	l.incidents = append(l.incidents, &inc)
	l.mu.Unlock()
	return nil
}

// List returns matching incidents in insertion order. Entries are copies.
func (l *MemoryLog) List(ctx context.Context, filter IncidentFilter) ([]*Incident, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	// Seq is the slice index plus one, so skip straight past the cursor.
	start := 0
	if filter.AfterSeq > 0 {
		start = int(min(filter.AfterSeq, int64(len(l.incidents))))
	}

	result := make([]*Incident, 0, len(l.incidents)-start)
	for _, inc := range l.incidents[start:] {
		if !filter.Matches(inc) {
			continue
		}
		c := *inc
		result = append(result, &c)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

// Len returns the number of logged incidents.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.incidents)
}
