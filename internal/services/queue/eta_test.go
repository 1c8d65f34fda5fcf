package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAverageHandlingTime(t *testing.T) {
	opts := AHTOptions{Min: time.Minute, Max: 20 * time.Minute, Default: 5 * time.Minute, OutlierFactor: 3}

	tests := []struct {
		name    string
		samples []time.Duration
		want    time.Duration
	}{
		{"no samples", nil, 5 * time.Minute},
		{"plain mean", []time.Duration{2 * time.Minute, 4 * time.Minute}, 3 * time.Minute},
		{"outlier dropped", []time.Duration{3 * time.Minute, 3 * time.Minute, 3 * time.Minute, 2 * time.Hour}, 3 * time.Minute},
		{"clamped low", []time.Duration{10 * time.Second}, time.Minute},
		{"clamped high", []time.Duration{time.Hour}, 20 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AverageHandlingTime(tt.samples, opts))
		})
	}
}

func TestEstimateWait(t *testing.T) {
	assert.Equal(t, 15*time.Minute, EstimateWait(3, 5*time.Minute))
	assert.Zero(t, EstimateWait(0, 5*time.Minute))
}

func TestEncodeScoreOrdering(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	assert.Less(t, EncodeScore(80, base.Add(time.Hour)), EncodeScore(79, base))
	assert.Less(t, EncodeScore(50, base), EncodeScore(50, base.Add(time.Millisecond)))
	assert.Equal(t, EncodeScore(MaxScore, base), EncodeScore(5000, base))
	assert.Equal(t, 0, ClampScore(-3))
}
