package cancellation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputePenaltyBoundaries(t *testing.T) {
	start := time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		notice  time.Duration
		percent int
		penalty int64
	}{
		{"already started", -time.Minute, 100, 5000},
		{"just before start", time.Minute, 100, 5000},
		{"just under two hours", 2*time.Hour - time.Second, 100, 5000},
		{"exactly two hours", 2 * time.Hour, 50, 2500},
		{"just under a day", 24*time.Hour - time.Second, 50, 2500},
		{"exactly a day", 24 * time.Hour, 25, 1250},
		{"just under two days", 48*time.Hour - time.Second, 25, 1250},
		{"exactly two days", 48 * time.Hour, 0, 0},
		{"a week out", 7 * 24 * time.Hour, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ComputePenalty(start, 5000, start.Add(-tt.notice))
			assert.Equal(t, tt.percent, p.Percent)
			assert.Equal(t, tt.penalty, p.PenaltyCents)
			assert.Equal(t, int64(5000), p.PenaltyCents+p.RefundCents)
		})
	}
}

func TestComputePenaltyRoundsHalfUp(t *testing.T) {
	start := time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC)
	now := start.Add(-36 * time.Hour) // 25%

	p := ComputePenalty(start, 1002, now)
	assert.Equal(t, int64(251), p.PenaltyCents) // 250.5
	assert.Equal(t, int64(751), p.RefundCents)

	p = ComputePenalty(start, 1001, now)
	assert.Equal(t, int64(250), p.PenaltyCents) // 250.25
	assert.Equal(t, int64(751), p.RefundCents)

	p = ComputePenalty(start, 3, start.Add(-12*time.Hour)) // 50% of 3 = 1.5
	assert.Equal(t, int64(2), p.PenaltyCents)
	assert.Equal(t, int64(1), p.RefundCents)
}

func TestComputePenaltySumsForAnyAmount(t *testing.T) {
	start := time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC)
	notices := []time.Duration{0, 3 * time.Hour, 30 * time.Hour, 72 * time.Hour}
	for amount := int64(0); amount <= 1000; amount += 7 {
		for _, n := range notices {
			p := ComputePenalty(start, amount, start.Add(-n))
			assert.Equal(t, amount, p.PenaltyCents+p.RefundCents)
			assert.GreaterOrEqual(t, p.RefundCents, int64(0))
		}
	}
}

func TestComputePenaltyWithoutPayment(t *testing.T) {
	start := time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC)
	p := ComputePenalty(start, 0, start.Add(-time.Hour))
	assert.Equal(t, Penalty{Percent: 100}, p)
}
