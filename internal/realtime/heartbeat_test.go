package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeartbeatCheck(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	hb := NewHeartbeat(60*time.Second, 3, base)

	res := hb.Check(base.Add(30 * time.Second))
	assert.Equal(t, HeartbeatOK, res.Status)
	assert.Equal(t, 3, res.Remaining)

	res = hb.Check(base.Add(61 * time.Second))
	assert.Equal(t, HeartbeatWarning, res.Status)
	assert.Equal(t, 1, res.Missed)
	assert.Equal(t, 2, res.Remaining)

	res = hb.Check(base.Add(91 * time.Second))
	assert.Equal(t, HeartbeatWarning, res.Status)
	assert.Equal(t, 1, res.Remaining)

	res = hb.Check(base.Add(121 * time.Second))
	assert.Equal(t, HeartbeatLost, res.Status)
	assert.Equal(t, 3, res.Missed)

	hb.Ping(base.Add(122 * time.Second))
	assert.Equal(t, HeartbeatLost, hb.Check(base.Add(123*time.Second)).Status, "lost is final")
}

func TestHeartbeatPingResetsMissed(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	hb := NewHeartbeat(time.Minute, 2, base)

	assert.Equal(t, HeartbeatWarning, hb.Check(base.Add(2*time.Minute)).Status)
	hb.Ping(base.Add(2 * time.Minute))
	assert.Equal(t, base.Add(2*time.Minute), hb.LastPing())

	res := hb.Check(base.Add(150 * time.Second))
	assert.Equal(t, HeartbeatOK, res.Status)
	assert.Equal(t, 0, res.Missed)

	assert.Equal(t, HeartbeatWarning, hb.Check(base.Add(4*time.Minute)).Status)
	assert.Equal(t, HeartbeatLost, hb.Check(base.Add(5*time.Minute)).Status)
}

func TestHeartbeatStatusString(t *testing.T) {
	tests := map[HeartbeatStatus]string{
		HeartbeatOK:         "ok",
		HeartbeatWarning:    "warning",
		HeartbeatLost:       "lost",
		HeartbeatStatus(42): "unknown",
	}
	for status, want := range tests {
		assert.Equal(t, want, status.String())
	}
}
