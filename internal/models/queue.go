package models

import (
	"strings"
	"time"
)

// UnassignedPool is the global pool of queued sessions without an agent.
const UnassignedPool = "unassigned"

const agentPoolPrefix = "agent:"

// AgentPool returns the pool name for a specific agent.
func AgentPool(agentID string) string {
	return agentPoolPrefix + agentID
}

// PoolAgent returns the agent id encoded in pool, if any.
func PoolAgent(pool string) (string, bool) {
	if !strings.HasPrefix(pool, agentPoolPrefix) {
		return "", false
	}
	return strings.TrimPrefix(pool, agentPoolPrefix), true
}

// PoolFor returns the pool a queued session belongs to.
func PoolFor(s *Session) string {
	if s != nil && s.AgentID != nil && *s.AgentID != "" {
		return AgentPool(*s.AgentID)
	}
	return UnassignedPool
}

// QueueEntry is the logical ranking tuple of a queued session.
type QueueEntry struct {
	SessionID     string
	PriorityScore int
	QueuedAt      time.Time
}

// Before reports whether e ranks ahead of other: higher score first, then
// earlier queuedAt, then the lower session id.
func (e QueueEntry) Before(other QueueEntry) bool {
	if e.PriorityScore != other.PriorityScore {
		return e.PriorityScore > other.PriorityScore
	}
	if !e.QueuedAt.Equal(other.QueuedAt) {
		return e.QueuedAt.Before(other.QueuedAt)
	}
	return e.SessionID < other.SessionID
}

// EntryFor builds the queue entry for a queued session.
func EntryFor(s *Session) QueueEntry {
	e := QueueEntry{SessionID: s.ID, PriorityScore: s.PriorityScore}
	if s.QueuedAt != nil {
		e.QueuedAt = *s.QueuedAt
	}
	return e
}

// QueueInfo is the position snapshot pushed to a waiting customer.
type QueueInfo struct {
	SessionID     string        `json:"sessionId"`
	Pool          string        `json:"pool"`
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"-"`
}

// EstimatedWaitSeconds returns the ETA in whole seconds.
func (q QueueInfo) EstimatedWaitSeconds() int {
	return int(q.EstimatedWait / time.Second)
}
