package queue

import (
	"time"

	"github.com/gotrs-io/gotrs-chat/internal/models"
)

// MaxScore is the highest priority score the sorted-set encoding can
// represent exactly in a float64.
const MaxScore = 899

const scoreScale = 1e13

// ClampScore bounds score to [0, MaxScore].
func ClampScore(score int) int {
	switch {
	case score < 0:
		return 0
	case score > MaxScore:
		return MaxScore
	}
	return score
}

// StampTime returns t at the precision stored in the ordering store.
func StampTime(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}

// EncodeScore maps (score desc, queuedAt asc) onto one ascending float:
// higher priority sorts first, then earlier enqueue time.
func EncodeScore(score int, queuedAt time.Time) float64 {
	return -float64(ClampScore(score))*scoreScale + float64(queuedAt.UnixMilli())
}

// EncodeEntry encodes a queue entry.
func EncodeEntry(e models.QueueEntry) float64 {
	return EncodeScore(e.PriorityScore, e.QueuedAt)
}
