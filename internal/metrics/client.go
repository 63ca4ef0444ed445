package metrics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"golang.org/x/sync/errgroup"
)

// MinerKey identifies one worker account on the pool.
type MinerKey struct {
	Wallet string
	Worker string
}

// MinerMetrics is one worker's telemetry over the rating window.
//
// Uptime is the unix timestamp the worker came online, as exported by the
// stratum bridge; the rating engine turns it into a window fraction.
// Difficulty is the average difficulty per valid share.
type MinerMetrics struct {
	Uptime          float64 `json:"uptime"`
	ValidShares     int     `json:"valid_shares"`
	InvalidShares   int     `json:"invalid_shares"`
	TotalDifficulty float64 `json:"total_difficulty"`
	Difficulty      float64 `json:"difficulty"`
	Hashrate        float64 `json:"hashrate"`
	WorkerName      string  `json:"worker_name,omitempty"`
}

// Client queries the pool's Prometheus endpoint for per-worker share and
// uptime series exported by the stratum bridge.
type Client struct {
	api             promv1.API
	window          time.Duration
	poolOwnerWallet string
}

// NewClient builds a telemetry client against a Prometheus base URL. Results
// are filtered to workers mining into poolOwnerWallet; an empty wallet
// disables the filter.
func NewClient(endpoint string, window time.Duration, poolOwnerWallet string) (*Client, error) {
	c, err := api.NewClient(api.Config{Address: endpoint})
	if err != nil {
		return nil, fmt.Errorf("creating prometheus client: %w", err)
	}
	return &Client{
		api:             promv1.NewAPI(c),
		window:          window,
		poolOwnerWallet: poolOwnerWallet,
	}, nil
}

func (c *Client) resolution() string {
	return fmt.Sprintf("%ds", int(c.window.Seconds()))
}

func (c *Client) fetchVector(ctx context.Context, query string) (map[MinerKey]float64, error) {
	value, _, err := c.api.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", query, err)
	}
	vector, ok := value.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("query %q returned %s, want vector", query, value.Type())
	}
	result := make(map[MinerKey]float64, len(vector))
	for _, sample := range vector {
		wallet := string(sample.Metric["wallet"])
		worker := string(sample.Metric["worker"])
		if wallet == "" || worker == "" {
			continue
		}
		result[MinerKey{Wallet: wallet, Worker: worker}] = float64(sample.Value)
	}
	return result, nil
}

// Uptimes returns the start timestamp per worker for everything reporting
// within the window.
func (c *Client) Uptimes(ctx context.Context) (map[MinerKey]float64, error) {
	query := fmt.Sprintf("last_over_time(ks_miner_uptime_seconds[%s])", c.resolution())
	return c.fetchVector(ctx, query)
}

// FetchMetrics assembles the full per-worker telemetry snapshot.
func (c *Client) FetchMetrics(ctx context.Context) (map[MinerKey]MinerMetrics, error) {
	res := c.resolution()
	var validShares, invalidShares, totalDiff, uptimes map[MinerKey]float64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		validShares, err = c.fetchVector(gctx,
			fmt.Sprintf("sum(increase(ks_valid_share_counter[%s])) by (wallet, worker)", res))
		return err
	})
	g.Go(func() (err error) {
		invalidShares, err = c.fetchVector(gctx,
			fmt.Sprintf("sum(increase(ks_invalid_share_counter[%s])) by (wallet, worker)", res))
		return err
	})
	g.Go(func() (err error) {
		totalDiff, err = c.fetchVector(gctx,
			fmt.Sprintf("sum(increase(ks_valid_share_diff_counter[%s])) by (wallet, worker)", res))
		return err
	})
	g.Go(func() (err error) {
		uptimes, err = c.Uptimes(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	windowSeconds := c.window.Seconds()
	result := make(map[MinerKey]MinerMetrics, len(validShares))
	for key, shares := range validShares {
		if c.poolOwnerWallet != "" && key.Wallet != c.poolOwnerWallet {
			continue
		}
		valid := int(math.Round(shares))
		diff := totalDiff[key]
		var avgDiff, hashrate float64
		if valid > 0 {
			avgDiff = diff / float64(valid)
			hashrate = float64(valid) * avgDiff * math.Exp2(32) / windowSeconds
		}
		result[key] = MinerMetrics{
			Uptime:          uptimes[key],
			ValidShares:     valid,
			InvalidShares:   int(math.Round(invalidShares[key])),
			TotalDifficulty: diff,
			Difficulty:      avgDiff,
			Hashrate:        hashrate,
			WorkerName:      key.Worker,
		}
	}
	return result, nil
}
