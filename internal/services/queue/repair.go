package queue

import (
	"sort"
	"sync"
	"time"
)

// RepairEntry is a queue removal that could not be applied.
type RepairEntry struct {
	Pool       string
	SessionID  string
	Attempts   int
	LastError  string
	RecordedAt time.Time
}

// RepairLog remembers failed removals until a later pass applies them.
type RepairLog struct {
	mu      sync.Mutex
	entries map[string]*RepairEntry
}

func NewRepairLog() *RepairLog {
	return &RepairLog{entries: make(map[string]*RepairEntry)}
}

func repairKey(pool, sessionID string) string {
	return pool + "\x00" + sessionID
}

// Record adds or bumps an entry.
func (l *RepairLog) Record(pool, sessionID string, err error, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := repairKey(pool, sessionID)
	e, ok := l.entries[k]
	if !ok {
		e = &RepairEntry{Pool: pool, SessionID: sessionID, RecordedAt: at}
		l.entries[k] = e
	}
	e.Attempts++
	if err != nil {
		e.LastError = err.Error()
	}
}

// Resolve drops an entry.
func (l *RepairLog) Resolve(pool, sessionID string) {
	l.mu.Lock()
	delete(l.entries, repairKey(pool, sessionID))
	l.mu.Unlock()
}

// Pending returns a snapshot ordered by record time.
func (l *RepairLog) Pending() []RepairEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RepairEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out
}

// Len returns the number of pending repairs.
func (l *RepairLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
