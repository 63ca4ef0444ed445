// Package syncer keeps the local registry eventually consistent with every
// reachable, sufficiently staked peer validator.
package syncer

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hashtensor/validator/internal/chain"
	"github.com/hashtensor/validator/internal/registry"
	"github.com/hashtensor/validator/internal/signing"
)

// Ledger lists the subnet's nodes.
type Ledger interface {
	Nodes(ctx context.Context, netuid int) ([]chain.Node, error)
}

// Config tunes one sync pass.
type Config struct {
	Netuid           int
	MinWeightedStake float64
	ProbeTimeout     time.Duration
	PageSize         int
}

// Orchestrator pulls peer registries incrementally and merges new bindings
// through the registry store's normal write path, so every invariant the
// local API enforces also holds for merged records.
type Orchestrator struct {
	store  *registry.Store
	ledger Ledger
	peers  PeerAPI
	cfg    Config
	logger *zap.SugaredLogger
	now    func() time.Time
}

func New(store *registry.Store, ledger Ledger, peers PeerAPI, cfg Config, logger *zap.SugaredLogger) *Orchestrator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	return &Orchestrator{
		store:  store,
		ledger: ledger,
		peers:  peers,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Run executes one sync pass. Per-peer failures are logged and skipped; only
// failing to list the subnet's nodes aborts the pass.
func (o *Orchestrator) Run(ctx context.Context) error {
	nodes, err := o.ledger.Nodes(ctx, o.cfg.Netuid)
	if err != nil {
		return err
	}

	var candidates []chain.Node
	for _, node := range nodes {
		if node.HasEndpoint() && node.StakeWeight() >= o.cfg.MinWeightedStake {
			candidates = append(candidates, node)
		}
	}
	o.logger.Infow("sync pass starting", "candidates", len(candidates))

	peers := o.probe(ctx, candidates)
	if len(peers) == 0 {
		o.logger.Warnw("no reachable peer validators")
		return nil
	}

	for _, peer := range peers {
		if err := o.syncPeer(ctx, peer); err != nil {
			// One failure event per unreachable or misbehaving peer; the
			// pass moves on.
			o.logger.Warnw("peer sync failed", "peer", peer.Hotkey, "error", err)
		}
	}
	return nil
}

// probe concurrently checks which candidates expose this service's API.
// Best-effort: a false negative only delays sync until the next pass.
func (o *Orchestrator) probe(ctx context.Context, candidates []chain.Node) []chain.Node {
	confirmed := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, node := range candidates {
		i, node := i, node
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, o.cfg.ProbeTimeout)
			defer cancel()
			confirmed[i] = o.peers.Probe(probeCtx, node)
			return nil
		})
	}
	_ = g.Wait()

	var peers []chain.Node
	for i, ok := range confirmed {
		if ok {
			peers = append(peers, candidates[i])
		}
	}
	return peers
}

func (o *Orchestrator) syncPeer(ctx context.Context, peer chain.Node) error {
	offset, err := o.store.PeerOffset(peer.Hotkey)
	if err != nil {
		return err
	}

	var added, skipped, failed int
	maxSeen := offset
	for page := 1; ; page++ {
		records, err := o.peers.FetchBindings(ctx, peer, offset, o.cfg.PageSize, page)
		if err != nil {
			return err
		}
		for _, record := range records {
			if record.RegistrationTime > maxSeen {
				maxSeen = record.RegistrationTime
			}
			switch o.merge(record) {
			case mergeAdded:
				added++
			case mergeSkipped:
				skipped++
			case mergeFailed:
				failed++
			}
		}
		if len(records) < o.cfg.PageSize {
			break
		}
	}

	// The watermark only advances when something new was merged; empty pages
	// must not creep it forward.
	if added > 0 && maxSeen > offset {
		if err := o.store.AdvancePeerOffset(peer.Hotkey, maxSeen, float64(o.now().Unix())); err != nil {
			return err
		}
	}
	o.logger.Infow("peer synced",
		"peer", peer.Hotkey, "added", added, "skipped", skipped, "failed", failed)
	return nil
}

type mergeResult int

const (
	mergeAdded mergeResult = iota
	mergeSkipped
	mergeFailed
)

// merge validates one fetched record and writes it through Bind. Peers are
// not trusted: the naming convention and the claim signature are re-checked
// at this ingestion point exactly as the local API checks them.
func (o *Orchestrator) merge(record PeerBinding) mergeResult {
	if !strings.Contains(record.Worker, record.Hotkey) {
		o.logger.Warnw("rejecting worker not containing its hotkey", "worker", record.Worker)
		return mergeFailed
	}

	claim := signing.RegistrationClaim{
		Hotkey:           record.Hotkey,
		RegistrationTime: record.RegistrationTime,
		Worker:           record.Worker,
	}
	if !signing.Verify(record.Hotkey, claim.Canonical(), record.Signature) {
		o.logger.Warnw("signature verification failed", "worker", record.Worker)
		return mergeFailed
	}

	err := o.store.Bind(record.Hotkey, record.Worker, record.Signature, record.RegistrationTime)
	switch {
	case err == nil:
		o.logger.Infow("merged worker from peer", "worker", record.Worker, "hotkey", record.Hotkey)
		return mergeAdded
	case errors.Is(err, registry.ErrWorkerExists):
		// Expected steady state once two validators have converged.
		return mergeSkipped
	default:
		o.logger.Warnw("failed to merge worker", "worker", record.Worker, "error", err)
		return mergeFailed
	}
}
