package reputation

import (
	"math"

	"github.com/relaypoint/email-gateway/internal/model"
)

// Penalty and bonus constants. Complaints are penalized ten times more
// steeply than bounces; mailbox providers weight them accordingly.
const (
	bounceCritical    = 2.0
	bouncePenalty     = 50.0
	complaintCritical = 0.1
	complaintPenalty  = 500.0
	engagementWeight  = 0.2

	bounceHighThreshold = 1.0
	lowScoreThreshold   = 50.0

	trendBand = 5.0
)

const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

const (
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Rates are delivery-outcome ratios expressed as percentages in [0, 100].
type Rates struct {
	BounceRate    float64 `json:"bounceRate"`
	ComplaintRate float64 `json:"complaintRate"`
	OpenRate      float64 `json:"openRate"`
	ClickRate     float64 `json:"clickRate"`
}

// Alert flags a reputation concern derived from the current window.
type Alert struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ComputeRates derives percentage rates from raw counts. A zero denominator
// yields a zero rate rather than propagating a division by zero.
func ComputeRates(c model.DeliveryCounts) Rates {
	var r Rates
	if c.Sent > 0 {
		r.BounceRate = float64(c.Bounced()) / float64(c.Sent) * 100
		r.ComplaintRate = float64(c.Complained) / float64(c.Sent) * 100
	}
	if c.Delivered > 0 {
		r.OpenRate = float64(c.Opened) / float64(c.Delivered) * 100
		r.ClickRate = float64(c.Clicked) / float64(c.Delivered) * 100
	}
	return r
}

// Score computes the bounded reputation score from the derived rates.
// It starts at 100, subtracts penalties for bounce and complaint rates above
// their critical thresholds, adds a small engagement bonus, and clamps the
// result to [0, 100].
func Score(r Rates) float64 {
	score := 100.0
	if r.BounceRate > bounceCritical {
		score -= (r.BounceRate - bounceCritical) * bouncePenalty
	}
	if r.ComplaintRate > complaintCritical {
		score -= (r.ComplaintRate - complaintCritical) * complaintPenalty
	}
	score += (r.OpenRate + r.ClickRate) / 2 * engagementWeight
	return clamp(round2(score), 0, 100)
}

// Trend compares the current score against the prior period. When the prior
// period has no sends there is nothing to compare against and the trend is
// stable.
func Trend(current, prior float64, priorSent int64) string {
	if priorSent == 0 {
		return TrendStable
	}
	delta := current - prior
	switch {
	case delta > trendBand:
		return TrendImproving
	case delta < -trendBand:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// Alerts derives the active alert set. A critical bounce alert supersedes the
// high one; the rest may co-exist.
func Alerts(r Rates, score float64) []Alert {
	var alerts []Alert
	switch {
	case r.BounceRate >= bounceCritical:
		alerts = append(alerts, Alert{
			Code:     "BOUNCE_RATE_CRITICAL",
			Severity: SeverityCritical,
			Message:  "bounce rate at or above 2%, sending reputation at risk",
		})
	case r.BounceRate >= bounceHighThreshold:
		alerts = append(alerts, Alert{
			Code:     "BOUNCE_RATE_HIGH",
			Severity: SeverityHigh,
			Message:  "bounce rate at or above 1%",
		})
	}
	if r.ComplaintRate >= complaintCritical {
		alerts = append(alerts, Alert{
			Code:     "COMPLAINT_RATE_CRITICAL",
			Severity: SeverityCritical,
			Message:  "complaint rate at or above 0.1%",
		})
	}
	if score < lowScoreThreshold {
		alerts = append(alerts, Alert{
			Code:     "REPUTATION_LOW",
			Severity: SeverityHigh,
			Message:  "reputation score below 50",
		})
	}
	return alerts
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
