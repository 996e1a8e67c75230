package reputation

import (
	"context"
	"fmt"
	"time"

	"github.com/relaypoint/email-gateway/internal/model"
	"github.com/relaypoint/email-gateway/internal/repository"
)

// Snapshot is the read-time reputation rollup for one company.
type Snapshot struct {
	CompanyID   string               `json:"companyId"`
	PeriodStart time.Time            `json:"periodStart"`
	PeriodEnd   time.Time            `json:"periodEnd"`
	Counts      model.DeliveryCounts `json:"counts"`
	Rates       Rates                `json:"rates"`
	Score       float64              `json:"reputationScore"`
	Trend       string               `json:"trend"`
	Alerts      []Alert              `json:"alerts"`
}

// Service computes reputation snapshots on demand from the analytics store.
// Nothing is persisted; the underlying per-event rows are the source of truth.
type Service struct {
	events repository.CHEventsRepository
	window time.Duration
	now    func() time.Time
}

func NewService(events repository.CHEventsRepository, windowDays int) *Service {
	if windowDays <= 0 {
		windowDays = 30
	}
	return &Service{
		events: events,
		window: time.Duration(windowDays) * 24 * time.Hour,
		now:    time.Now,
	}
}

// Snapshot aggregates the trailing window and the window before it, scoring
// both with the same formula so the trend comparison is apples to apples.
func (s *Service) Snapshot(ctx context.Context, companyID string) (*Snapshot, error) {
	end := s.now().UTC()
	start := end.Add(-s.window)
	priorStart := start.Add(-s.window)

	current, err := s.events.SumCounts(ctx, companyID, start, end)
	if err != nil {
		return nil, fmt.Errorf("aggregate current window: %w", err)
	}
	prior, err := s.events.SumCounts(ctx, companyID, priorStart, start)
	if err != nil {
		return nil, fmt.Errorf("aggregate prior window: %w", err)
	}

	rates := ComputeRates(current)
	score := Score(rates)
	priorScore := Score(ComputeRates(prior))

	return &Snapshot{
		CompanyID:   companyID,
		PeriodStart: start,
		PeriodEnd:   end,
		Counts:      current,
		Rates:       rates,
		Score:       score,
		Trend:       Trend(score, priorScore, prior.Sent),
		Alerts:      Alerts(rates, score),
	}, nil
}
