// Package rating converts worker telemetry into bounded per-hotkey scores.
package rating

import (
	"math"
	"time"

	"github.com/hashtensor/validator/internal/metrics"
)

// Config tunes the rating formula.
type Config struct {
	// Window is the telemetry window the scores cover.
	Window time.Duration
	// UptimeAlpha is the exponent of the uptime penalty; higher values punish
	// partial uptime more severely.
	UptimeAlpha float64
	// MaxDifficulty caps the per-share difficulty credited to a worker.
	// Reported difficulty beyond it decays the contribution exponentially
	// instead of growing it.
	MaxDifficulty float64
	// InvalidSharesPenaltyFactor scales the share-quality penalty: 0 disables
	// it, 1 applies it in full.
	InvalidSharesPenaltyFactor float64
	// Digits is the number of decimal digits scores are rounded to.
	Digits int
}

// DefaultConfig mirrors the production deployment.
func DefaultConfig() Config {
	return Config{
		Window:                     time.Hour,
		UptimeAlpha:                2.0,
		MaxDifficulty:              1_000_000,
		InvalidSharesPenaltyFactor: 0.5,
		Digits:                     8,
	}
}

// Calculator computes scores. It is pure apart from the injectable clock and
// never fails: empty inputs yield empty or zero scores.
type Calculator struct {
	cfg Config
	now func() time.Time
}

func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg, now: time.Now}
}

// WithNow fixes the clock. Used in tests.
func (c *Calculator) WithNow(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// EffectiveWork is the difficulty-adjusted share volume of one hotkey's
// workers.
func (c *Calculator) EffectiveWork(workers []metrics.MinerMetrics) float64 {
	var total float64
	for _, m := range workers {
		total += float64(m.ValidShares) * math.Min(m.Difficulty, c.cfg.MaxDifficulty) * c.difficultyPenalty(m.Difficulty)
	}
	return total
}

// difficultyPenalty decays contribution for difficulty reported above the
// ceiling without ever zeroing it.
func (c *Calculator) difficultyPenalty(difficulty float64) float64 {
	if difficulty <= c.cfg.MaxDifficulty {
		return 1.0
	}
	return math.Exp(-(difficulty - c.cfg.MaxDifficulty) / c.cfg.MaxDifficulty)
}

// FractionalUptime converts a worker's start timestamp into the fraction of
// the window it was online.
func (c *Calculator) FractionalUptime(start float64) float64 {
	now := float64(c.now().Unix())
	if start > now {
		return 0.0
	}
	if start <= now-c.cfg.Window.Seconds() {
		return 1.0
	}
	return (now - start) / c.cfg.Window.Seconds()
}

// AvgUptime averages the workers' uptime fractions, clamped to [0, 1].
func (c *Calculator) AvgUptime(workers []metrics.MinerMetrics) float64 {
	if len(workers) == 0 {
		return 0.0
	}
	var sum float64
	for _, m := range workers {
		sum += clamp01(c.FractionalUptime(m.Uptime))
	}
	return clamp01(sum / float64(len(workers)))
}

// shareQuality is the fraction of a hotkey's shares that were valid, 1.0 when
// it submitted nothing.
func shareQuality(workers []metrics.MinerMetrics) float64 {
	var valid, invalid int
	for _, m := range workers {
		valid += m.ValidShares
		invalid += m.InvalidShares
	}
	total := valid + invalid
	if total == 0 {
		return 1.0
	}
	return float64(valid) / float64(total)
}

// RateAll scores every hotkey in the snapshot: effective work normalized by
// the batch maximum, penalized by uptime and share quality, clamped to [0, 1]
// and rounded for reproducibility.
func (c *Calculator) RateAll(snapshot map[string][]metrics.MinerMetrics) map[string]float64 {
	work := make(map[string]float64, len(snapshot))
	var maxWork float64
	for hotkey, workers := range snapshot {
		w := c.EffectiveWork(workers)
		work[hotkey] = w
		if w > maxWork {
			maxWork = w
		}
	}

	scores := make(map[string]float64, len(snapshot))
	for hotkey, workers := range snapshot {
		var normalized float64
		if maxWork > 0 {
			normalized = work[hotkey] / maxWork
		}
		penalized := normalized * math.Pow(c.AvgUptime(workers), c.cfg.UptimeAlpha)
		quality := shareQuality(workers)
		multiplier := 1.0 - (1.0-quality)*c.cfg.InvalidSharesPenaltyFactor
		scores[hotkey] = c.round(clamp01(penalized * multiplier))
	}
	return scores
}

func (c *Calculator) round(x float64) float64 {
	p := math.Pow(10, float64(c.cfg.Digits))
	return math.Round(x*p) / p
}

func clamp01(x float64) float64 {
	return math.Max(0.0, math.Min(1.0, x))
}
