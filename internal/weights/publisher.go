// Package weights publishes computed ratings to the ledger on a fixed
// cadence.
package weights

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hashtensor/validator/internal/chain"
	"github.com/hashtensor/validator/internal/registry"
	"github.com/hashtensor/validator/internal/signing"
	"github.com/hashtensor/validator/internal/version"
)

// ErrIdentityMissing means this validator's hotkey is not registered on the
// subnet. The process cannot participate in weighting, so this error is
// fatal to the publish loop.
var ErrIdentityMissing = errors.New("validator hotkey not registered on subnet")

// Rater produces the per-hotkey score map.
type Rater interface {
	ComputeRatings(ctx context.Context) (map[string]float64, error)
}

// Ledger is the subset of the chain client the publisher needs.
type Ledger interface {
	Nodes(ctx context.Context, netuid int) ([]chain.Node, error)
	SetNodeWeights(ctx context.Context, keypair *signing.Keypair, netuid, validatorNodeID int, nodeIDs []int, weights []float64, versionKey uint64) error
}

// Publisher runs the rating engine and submits the result as subnet weights,
// at most once per interval. The interval watermark lives in the registry
// store so restarts do not reset the cadence.
type Publisher struct {
	store    *registry.Store
	ledger   Ledger
	rater    Rater
	keypair  *signing.Keypair
	netuid   int
	interval time.Duration
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func New(store *registry.Store, ledger Ledger, rater Rater, keypair *signing.Keypair, netuid int, interval time.Duration, logger *zap.SugaredLogger) *Publisher {
	return &Publisher{
		store:    store,
		ledger:   ledger,
		rater:    rater,
		keypair:  keypair,
		netuid:   netuid,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// RunOnce executes one publish tick. It is a no-op when the interval since
// the last successful publication has not elapsed. ErrIdentityMissing is the
// only error the caller should treat as fatal; everything else is retried on
// the next tick at the normal cadence.
func (p *Publisher) RunOnce(ctx context.Context) error {
	lastSet, err := p.store.LastSetWeightsTime()
	if err != nil {
		return err
	}
	now := float64(p.now().Unix())
	if now-lastSet < p.interval.Seconds() {
		p.logger.Debugw("weights set recently, skipping", "interval", p.interval)
		return nil
	}

	ratings, err := p.rater.ComputeRatings(ctx)
	if err != nil {
		return fmt.Errorf("computing ratings: %w", err)
	}
	if len(ratings) == 0 {
		p.logger.Warnw("no ratings computed, skipping weight set")
		return nil
	}
	if allZero(ratings) {
		p.logger.Warnw("all ratings are zero, skipping weight set")
		return nil
	}

	nodes, err := p.ledger.Nodes(ctx, p.netuid)
	if err != nil {
		return fmt.Errorf("listing subnet nodes: %w", err)
	}
	validatorNodeID := -1
	nodeIDs := make([]int, 0, len(nodes))
	nodeWeights := make([]float64, 0, len(nodes))
	for _, node := range nodes {
		if node.Hotkey == p.keypair.Address() {
			validatorNodeID = node.NodeID
		}
		nodeIDs = append(nodeIDs, node.NodeID)
		nodeWeights = append(nodeWeights, ratings[node.Hotkey])
	}
	if validatorNodeID < 0 {
		return fmt.Errorf("%w: %s", ErrIdentityMissing, p.keypair.Address())
	}

	p.logger.Infow("setting weights", "netuid", p.netuid, "validator_node_id", validatorNodeID)
	err = p.ledger.SetNodeWeights(ctx, p.keypair, p.netuid, validatorNodeID, nodeIDs, nodeWeights, version.SpecVersion)
	if err != nil {
		return err
	}
	// Persist the watermark only on success so the next tick retries.
	return p.store.SetLastSetWeightsTime(now)
}

func allZero(ratings map[string]float64) bool {
	for _, r := range ratings {
		if r != 0 {
			return false
		}
	}
	return true
}
