package validator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashtensor/validator/internal/mapping"
	"github.com/hashtensor/validator/internal/metrics"
	"github.com/hashtensor/validator/internal/rating"
	"github.com/hashtensor/validator/internal/validator"
)

const poolWallet = "kaspa:testpool"

type fakeFetcher struct {
	snapshot map[metrics.MinerKey]metrics.MinerMetrics
}

func (f *fakeFetcher) FetchMetrics(context.Context) (map[metrics.MinerKey]metrics.MinerMetrics, error) {
	return f.snapshot, nil
}

func newService(t *testing.T, bindings map[string]string, snapshot map[metrics.MinerKey]metrics.MinerMetrics) *validator.Service {
	t.Helper()
	source := mapping.SourceFunc(func(context.Context) (map[string]string, error) {
		return bindings, nil
	})
	cache := mapping.NewCache(source, time.Minute)
	calc := rating.NewCalculator(rating.DefaultConfig())
	return validator.New(&fakeFetcher{snapshot: snapshot}, cache, calc, poolWallet)
}

func TestHotkeyMetricsGroupsByHotkey(t *testing.T) {
	svc := newService(t,
		map[string]string{
			"hk1.w1": "hk1",
			"hk1.w2": "hk1",
			"hk2.w1": "hk2",
		},
		map[metrics.MinerKey]metrics.MinerMetrics{
			{Wallet: poolWallet, Worker: "hk1.w1"}: {Uptime: 100, ValidShares: 10, WorkerName: "hk1.w1"},
			{Wallet: poolWallet, Worker: "hk1.w2"}: {Uptime: 200, ValidShares: 20, WorkerName: "hk1.w2"},
			{Wallet: poolWallet, Worker: "hk2.w1"}: {Uptime: 300, ValidShares: 30, WorkerName: "hk2.w1"},
		})

	got, err := svc.HotkeyMetrics(context.Background())
	require.NoError(t, err)
	assert.Len(t, got["hk1"], 2)
	assert.Len(t, got["hk2"], 1)
	assert.Equal(t, 30, got["hk2"][0].ValidShares)
}

func TestHotkeyMetricsZeroFillsMissingWorkers(t *testing.T) {
	// hk1.w2 is registered but reports no telemetry: it still appears, with
	// zeroed metrics, so the hotkey scores zero instead of vanishing.
	svc := newService(t,
		map[string]string{"hk1.w1": "hk1", "hk1.w2": "hk1"},
		map[metrics.MinerKey]metrics.MinerMetrics{
			{Wallet: poolWallet, Worker: "hk1.w1"}: {Uptime: 100, ValidShares: 10, WorkerName: "hk1.w1"},
		})

	got, err := svc.HotkeyMetrics(context.Background())
	require.NoError(t, err)
	require.Len(t, got["hk1"], 2)

	var filled metrics.MinerMetrics
	for _, m := range got["hk1"] {
		if m.WorkerName == "hk1.w2" {
			filled = m
		}
	}
	assert.Equal(t, metrics.MinerMetrics{WorkerName: "hk1.w2"}, filled)
}

func TestHotkeyMetricsIgnoresOtherWallets(t *testing.T) {
	svc := newService(t,
		map[string]string{"hk1.w1": "hk1"},
		map[metrics.MinerKey]metrics.MinerMetrics{
			{Wallet: "kaspa:someoneelse", Worker: "hk1.w1"}: {Uptime: 100, ValidShares: 99},
		})

	got, err := svc.HotkeyMetrics(context.Background())
	require.NoError(t, err)
	require.Len(t, got["hk1"], 1)
	// Telemetry under a foreign wallet does not count for the worker.
	assert.Zero(t, got["hk1"][0].ValidShares)
}

func TestComputeRatings(t *testing.T) {
	now := float64(time.Now().Unix())
	svc := newService(t,
		map[string]string{"hk1.w1": "hk1", "hk2.w1": "hk2"},
		map[metrics.MinerKey]metrics.MinerMetrics{
			{Wallet: poolWallet, Worker: "hk1.w1"}: {Uptime: now - 7200, ValidShares: 100, Difficulty: 2},
			{Wallet: poolWallet, Worker: "hk2.w1"}: {Uptime: now - 7200, ValidShares: 50, Difficulty: 2},
		})

	got, err := svc.ComputeRatings(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got["hk1"], 1e-9)
	assert.InDelta(t, 0.5, got["hk2"], 1e-9)
}
