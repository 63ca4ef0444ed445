// Package validator joins pool telemetry with the registry mapping and runs
// the rating engine over the result.
package validator

import (
	"context"

	"github.com/hashtensor/validator/internal/mapping"
	"github.com/hashtensor/validator/internal/metrics"
	"github.com/hashtensor/validator/internal/rating"
)

// MetricsFetcher is the telemetry snapshot source.
type MetricsFetcher interface {
	FetchMetrics(ctx context.Context) (map[metrics.MinerKey]metrics.MinerMetrics, error)
}

// Service computes per-hotkey metrics and ratings.
type Service struct {
	fetcher         MetricsFetcher
	mapping         *mapping.Cache
	calculator      *rating.Calculator
	poolOwnerWallet string
}

func New(fetcher MetricsFetcher, cache *mapping.Cache, calculator *rating.Calculator, poolOwnerWallet string) *Service {
	return &Service{
		fetcher:         fetcher,
		mapping:         cache,
		calculator:      calculator,
		poolOwnerWallet: poolOwnerWallet,
	}
}

// HotkeyMetrics groups worker telemetry by registered hotkey. A registered
// worker missing from telemetry still appears with zero-valued metrics; the
// hotkey participates with score 0 instead of dropping out of the batch.
func (s *Service) HotkeyMetrics(ctx context.Context) (map[string][]metrics.MinerMetrics, error) {
	snapshot, err := s.fetcher.FetchMetrics(ctx)
	if err != nil {
		return nil, err
	}
	workerToHotkey, err := s.mapping.Mapping(ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[string][]metrics.MinerMetrics)
	for worker, hotkey := range workerToHotkey {
		key := metrics.MinerKey{Wallet: s.poolOwnerWallet, Worker: worker}
		m, ok := snapshot[key]
		if !ok {
			m = metrics.MinerMetrics{WorkerName: worker}
		}
		result[hotkey] = append(result[hotkey], m)
	}
	return result, nil
}

// ComputeRatings produces the score per hotkey for the current window.
func (s *Service) ComputeRatings(ctx context.Context) (map[string]float64, error) {
	hotkeyMetrics, err := s.HotkeyMetrics(ctx)
	if err != nil {
		return nil, err
	}
	return s.calculator.RateAll(hotkeyMetrics), nil
}
