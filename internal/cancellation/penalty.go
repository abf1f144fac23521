package cancellation

import "time"

// Penalty is the share of a payment kept on cancellation.
type Penalty struct {
	Percent      int   `json:"percent"`
	PenaltyCents int64 `json:"penaltyCents"`
	RefundCents  int64 `json:"refundCents"`
}

type tier struct {
	within  time.Duration
	percent int
}

// Ordered by notice, shortest first. Notice of 48h or more is free.
var tiers = []tier{
	{within: 2 * time.Hour, percent: 100},
	{within: 24 * time.Hour, percent: 50},
	{within: 48 * time.Hour, percent: 25},
}

// PercentFor returns the penalty percentage for cancelling with the given notice.
// Negative notice (the appointment already started) is charged in full.
func PercentFor(notice time.Duration) int {
	for _, t := range tiers {
		if notice < t.within {
			return t.percent
		}
	}
	return 0
}

// ComputePenalty splits amountCents into penalty and refund for an appointment
// starting at start and cancelled at now. The penalty rounds half up to the
// cent and the two parts always sum to the amount.
func ComputePenalty(start time.Time, amountCents int64, now time.Time) Penalty {
	pct := PercentFor(start.Sub(now))
	if amountCents <= 0 {
		return Penalty{Percent: pct}
	}
	penalty := (amountCents*int64(pct) + 50) / 100
	return Penalty{
		Percent:      pct,
		PenaltyCents: penalty,
		RefundCents:  amountCents - penalty,
	}
}
