package service

import (
	"context"
	"math"

	"github.com/unclebandit/phishguard-backend/internal/model"
	"github.com/unclebandit/phishguard-backend/internal/repository"
)

// ComputeRates derives percentages from counters, rounded to two decimals.
// A zero denominator yields 0.
func ComputeRates(c model.Counters) model.Rates {
	return model.Rates{
		OpenRate:        percent(c.Opened, c.Sent),
		ClickRate:       percent(c.Clicked, c.Sent),
		ClickToOpenRate: percent(c.Clicked, c.Opened),
		SubmitRate:      percent(c.Submitted, c.Sent),
	}
}

func percent(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return math.Round(float64(num)/float64(den)*10000) / 100
}

type StatsService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	TargetRepo   repository.TargetRepositoryInterface
	TrainingRepo repository.TrainingRepositoryInterface
}

type CampaignStats struct {
	Campaign *model.Campaign `json:"campaign"`
	Targets  int             `json:"targets"`
	Counters model.Counters  `json:"counters"`
	Rates    model.Rates     `json:"rates"`
	Failures int             `json:"training_failures"`
}

type OverallStats struct {
	Counters model.Counters `json:"counters"`
	Rates    model.Rates    `json:"rates"`
}

func (s *StatsService) CampaignStats(ctx context.Context, campaignID int) (*CampaignStats, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	targets, err := s.TargetRepo.CountByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	failures, err := s.TrainingRepo.CountFailures(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignStats{
		Campaign: c,
		Targets:  targets,
		Counters: c.Counters,
		Rates:    ComputeRates(c.Counters),
		Failures: failures,
	}, nil
}

func (s *StatsService) Overall(ctx context.Context) (*OverallStats, error) {
	total, err := s.CampaignRepo.TotalCounters(ctx)
	if err != nil {
		return nil, err
	}
	return &OverallStats{Counters: total, Rates: ComputeRates(total)}, nil
}
