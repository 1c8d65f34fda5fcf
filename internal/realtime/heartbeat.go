package realtime

import (
	"sync"
	"time"
)

// HeartbeatStatus is the verdict of a heartbeat check.
type HeartbeatStatus int

const (
	HeartbeatOK HeartbeatStatus = iota
	HeartbeatWarning
	HeartbeatLost
)

func (s HeartbeatStatus) String() string {
	switch s {
	case HeartbeatOK:
		return "ok"
	case HeartbeatWarning:
		return "warning"
	case HeartbeatLost:
		return "lost"
	}
	return "unknown"
}

// HeartbeatCheck is the outcome of one Check.
type HeartbeatCheck struct {
	Status    HeartbeatStatus
	Missed    int
	Remaining int
}

// Heartbeat counts the checks a connection went without a ping. Once
// lost it stays lost.
type Heartbeat struct {
	mu        sync.Mutex
	timeout   time.Duration
	maxMissed int
	lastPing  time.Time
	missed    int
	lost      bool
}

func NewHeartbeat(timeout time.Duration, maxMissed int, now time.Time) *Heartbeat {
	if maxMissed < 1 {
		maxMissed = 1
	}
	return &Heartbeat{timeout: timeout, maxMissed: maxMissed, lastPing: now}
}

// Ping records a client ping and clears the missed count.
func (h *Heartbeat) Ping(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lost {
		return
	}
	h.lastPing = now
	h.missed = 0
}

// Check compares now against the last ping.
func (h *Heartbeat) Check(now time.Time) HeartbeatCheck {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lost {
		return HeartbeatCheck{Status: HeartbeatLost, Missed: h.missed}
	}
	if now.Sub(h.lastPing) <= h.timeout {
		return HeartbeatCheck{Status: HeartbeatOK, Missed: h.missed, Remaining: h.maxMissed - h.missed}
	}
	h.missed++
	if h.missed >= h.maxMissed {
		h.lost = true
		return HeartbeatCheck{Status: HeartbeatLost, Missed: h.missed}
	}
	return HeartbeatCheck{Status: HeartbeatWarning, Missed: h.missed, Remaining: h.maxMissed - h.missed}
}

// LastPing returns the time of the latest ping.
func (h *Heartbeat) LastPing() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastPing
}
