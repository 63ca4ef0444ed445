package rating

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hashtensor/validator/internal/metrics"
)

// Arbitrary fixed timestamp for deterministic tests.
const fixedNow = 1_800_000_000

func newCalculator(t *testing.T) *Calculator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxDifficulty = 100_000
	return NewCalculator(cfg).WithNow(func() time.Time {
		return time.Unix(fixedNow, 0)
	})
}

func TestRateAllScenarios(t *testing.T) {
	cases := []struct {
		name     string
		snapshot map[string][]metrics.MinerMetrics
		want     map[string]float64
	}{
		{
			name: "single hotkey, single worker, perfect uptime",
			snapshot: map[string][]metrics.MinerMetrics{
				"hotkey1": {{Uptime: fixedNow - 3600, ValidShares: 100, Difficulty: 2.0}},
			},
			want: map[string]float64{"hotkey1": 1.0},
		},
		{
			name: "two hotkeys, one is more productive",
			snapshot: map[string][]metrics.MinerMetrics{
				"hotkey1": {{Uptime: fixedNow - 3600, ValidShares: 100, Difficulty: 2.0}},
				"hotkey2": {{Uptime: fixedNow - 3600, ValidShares: 50, Difficulty: 2.0}},
			},
			want: map[string]float64{"hotkey1": 1.0, "hotkey2": 0.5},
		},
		{
			name: "uptime penalty",
			snapshot: map[string][]metrics.MinerMetrics{
				"hotkey1": {{Uptime: fixedNow - 1800, ValidShares: 100, Difficulty: 2.0}},
				"hotkey2": {{Uptime: fixedNow - 3600, ValidShares: 100, Difficulty: 2.0}},
			},
			// 0.5^2 = 0.25
			want: map[string]float64{"hotkey1": 0.25, "hotkey2": 1.0},
		},
		{
			name: "multiple workers per hotkey",
			snapshot: map[string][]metrics.MinerMetrics{
				"hotkey1": {
					{Uptime: fixedNow - 3600, ValidShares: 50, Difficulty: 2.0},
					{Uptime: fixedNow - 1800, ValidShares: 50, Difficulty: 2.0},
				},
				"hotkey2": {{Uptime: fixedNow - 3600, ValidShares: 100, Difficulty: 2.0}},
			},
			// avg uptime 0.75, 0.75^2 = 0.5625
			want: map[string]float64{"hotkey1": 0.5625, "hotkey2": 1.0},
		},
		{
			name: "zero work still participates",
			snapshot: map[string][]metrics.MinerMetrics{
				"hotkey1": {{Uptime: fixedNow - 3600, ValidShares: 0, Difficulty: 2.0}},
				"hotkey2": {{Uptime: fixedNow - 3600, ValidShares: 100, Difficulty: 2.0}},
			},
			want: map[string]float64{"hotkey1": 0.0, "hotkey2": 1.0},
		},
		{
			name: "hotkey with no workers scores zero",
			snapshot: map[string][]metrics.MinerMetrics{
				"hotkey1": {},
				"hotkey2": {{Uptime: fixedNow - 3600, ValidShares: 100, Difficulty: 2.0}},
			},
			want: map[string]float64{"hotkey1": 0.0, "hotkey2": 1.0},
		},
		{
			name:     "empty snapshot",
			snapshot: map[string][]metrics.MinerMetrics{},
			want:     map[string]float64{},
		},
		{
			name: "all zero work",
			snapshot: map[string][]metrics.MinerMetrics{
				"hotkey1": {{Uptime: fixedNow - 3600, ValidShares: 0, Difficulty: 2.0}},
			},
			want: map[string]float64{"hotkey1": 0.0},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := newCalculator(t).RateAll(tc.snapshot)
			assert.Equal(t, len(tc.want), len(got))
			for hotkey, want := range tc.want {
				assert.InDelta(t, want, got[hotkey], 1e-9, "hotkey %s", hotkey)
			}
		})
	}
}

func TestFractionalUptimeBoundaries(t *testing.T) {
	calc := newCalculator(t)

	assert.Equal(t, 0.0, calc.FractionalUptime(fixedNow))
	assert.Equal(t, 1.0, calc.FractionalUptime(fixedNow-3600))
	assert.Equal(t, 0.5, calc.FractionalUptime(fixedNow-1800))
	// Future start means not online in this window at all.
	assert.Equal(t, 0.0, calc.FractionalUptime(fixedNow+10))
	// Starts before the window are fully spanned.
	assert.Equal(t, 1.0, calc.FractionalUptime(fixedNow-7200))
}

func TestRatingMonotonicInValidShares(t *testing.T) {
	base := map[string][]metrics.MinerMetrics{
		"hotkeyA": {{Uptime: fixedNow - 1800, ValidShares: 10, InvalidShares: 3, Difficulty: 50.0}},
		"hotkeyB": {{Uptime: fixedNow - 3600, ValidShares: 500, Difficulty: 50.0}},
	}
	calc := newCalculator(t)
	prev := -1.0
	for shares := 10; shares <= 500; shares += 70 {
		base["hotkeyA"][0].ValidShares = shares
		score := calc.RateAll(base)["hotkeyA"]
		assert.GreaterOrEqual(t, score, prev, "valid_shares=%d", shares)
		prev = score
	}
}

func TestDifficultyCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDifficulty = 100.0
	calc := NewCalculator(cfg).WithNow(func() time.Time { return time.Unix(fixedNow, 0) })

	atCeiling := calc.EffectiveWork([]metrics.MinerMetrics{{ValidShares: 10, Difficulty: 100.0}})
	assert.InDelta(t, 1000.0, atCeiling, 1e-9)

	// Above the ceiling the credited difficulty is capped and decayed, so
	// reporting implausible difficulty earns less than honest reporting.
	above := calc.EffectiveWork([]metrics.MinerMetrics{{ValidShares: 10, Difficulty: 200.0}})
	assert.InDelta(t, 1000.0*math.Exp(-1.0), above, 1e-6)
	assert.Less(t, above, atCeiling)
	assert.Greater(t, above, 0.0)
}

func TestShareQualityPenalty(t *testing.T) {
	calc := newCalculator(t)
	snapshot := map[string][]metrics.MinerMetrics{
		// Equal work, hotkey2 submitted as many invalid as valid shares.
		"hotkey1": {{Uptime: fixedNow - 3600, ValidShares: 100, Difficulty: 2.0}},
		"hotkey2": {{Uptime: fixedNow - 3600, ValidShares: 100, InvalidShares: 100, Difficulty: 2.0}},
	}
	got := calc.RateAll(snapshot)
	assert.InDelta(t, 1.0, got["hotkey1"], 1e-9)
	// quality 0.5, multiplier 1 - 0.5*0.5 = 0.75
	assert.InDelta(t, 0.75, got["hotkey2"], 1e-9)

	// No shares at all means no quality penalty.
	snapshot = map[string][]metrics.MinerMetrics{
		"hotkey1": {{Uptime: fixedNow - 3600}},
	}
	got = calc.RateAll(snapshot)
	assert.Equal(t, 0.0, got["hotkey1"])
}

func TestRoundingDigits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Digits = 2
	calc := NewCalculator(cfg).WithNow(func() time.Time { return time.Unix(fixedNow, 0) })
	snapshot := map[string][]metrics.MinerMetrics{
		"hotkey1": {{Uptime: fixedNow - 3600, ValidShares: 333, Difficulty: 1.0}},
		"hotkey2": {{Uptime: fixedNow - 3600, ValidShares: 1000, Difficulty: 1.0}},
	}
	got := calc.RateAll(snapshot)
	assert.Equal(t, 0.33, got["hotkey1"])
}
