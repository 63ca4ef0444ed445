package weights_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hashtensor/validator/internal/chain"
	"github.com/hashtensor/validator/internal/logging"
	"github.com/hashtensor/validator/internal/registry"
	"github.com/hashtensor/validator/internal/signing"
	"github.com/hashtensor/validator/internal/version"
	"github.com/hashtensor/validator/internal/weights"
)

func newStore(t *testing.T) *registry.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	store, err := registry.New(db, 30)
	require.NoError(t, err)
	return store
}

type fakeRater struct {
	ratings map[string]float64
	err     error
	calls   int
}

func (f *fakeRater) ComputeRatings(context.Context) (map[string]float64, error) {
	f.calls++
	return f.ratings, f.err
}

type fakeLedger struct {
	nodes      []chain.Node
	submitErr  error
	submits    int
	gotNodeIDs []int
	gotWeights []float64
	gotVersion uint64
	gotSelf    int
}

func (f *fakeLedger) Nodes(context.Context, int) ([]chain.Node, error) {
	return f.nodes, nil
}

func (f *fakeLedger) SetNodeWeights(_ context.Context, _ *signing.Keypair, _ int, validatorNodeID int, nodeIDs []int, nodeWeights []float64, versionKey uint64) error {
	f.submits++
	f.gotSelf = validatorNodeID
	f.gotNodeIDs = nodeIDs
	f.gotWeights = nodeWeights
	f.gotVersion = versionKey
	return f.submitErr
}

func newPublisher(t *testing.T, store *registry.Store, ledger *fakeLedger, rater *fakeRater) (*weights.Publisher, *signing.Keypair) {
	t.Helper()
	kp, err := signing.Generate()
	require.NoError(t, err)
	ledger.nodes = append(ledger.nodes, chain.Node{Hotkey: kp.Address(), NodeID: 7})
	return weights.New(store, ledger, rater, kp, 16, time.Hour, logging.Nop()), kp
}

func TestPublishSubmitsWeights(t *testing.T) {
	store := newStore(t)
	ledger := &fakeLedger{nodes: []chain.Node{
		{Hotkey: "miner1", NodeID: 1},
		{Hotkey: "miner2", NodeID: 2},
	}}
	rater := &fakeRater{ratings: map[string]float64{"miner1": 0.8, "miner2": 0.2}}
	publisher, _ := newPublisher(t, store, ledger, rater)

	require.NoError(t, publisher.RunOnce(context.Background()))

	require.Equal(t, 1, ledger.submits)
	assert.Equal(t, 7, ledger.gotSelf)
	assert.Equal(t, []int{1, 2, 7}, ledger.gotNodeIDs)
	// The validator's own hotkey has no rating and gets weight zero.
	assert.Equal(t, []float64{0.8, 0.2, 0}, ledger.gotWeights)
	assert.Equal(t, uint64(version.SpecVersion), ledger.gotVersion)

	// Success persists the watermark.
	last, err := store.LastSetWeightsTime()
	require.NoError(t, err)
	assert.Greater(t, last, 0.0)
}

func TestPublishIntervalGate(t *testing.T) {
	store := newStore(t)
	ledger := &fakeLedger{nodes: []chain.Node{{Hotkey: "miner1", NodeID: 1}}}
	rater := &fakeRater{ratings: map[string]float64{"miner1": 0.5}}
	publisher, _ := newPublisher(t, store, ledger, rater)

	require.NoError(t, publisher.RunOnce(context.Background()))
	require.Equal(t, 1, ledger.submits)

	// A second tick inside the interval does not even compute ratings.
	require.NoError(t, publisher.RunOnce(context.Background()))
	assert.Equal(t, 1, ledger.submits)
	assert.Equal(t, 1, rater.calls)
}

func TestPublishSkipsDegenerateRatings(t *testing.T) {
	for _, tc := range []struct {
		name    string
		ratings map[string]float64
	}{
		{"empty", map[string]float64{}},
		{"all zero", map[string]float64{"miner1": 0, "miner2": 0}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t)
			ledger := &fakeLedger{}
			publisher, _ := newPublisher(t, store, ledger, &fakeRater{ratings: tc.ratings})

			require.NoError(t, publisher.RunOnce(context.Background()))
			assert.Zero(t, ledger.submits)

			// Skipping is not success: the watermark stays unset so the
			// next tick tries again.
			last, err := store.LastSetWeightsTime()
			require.NoError(t, err)
			assert.Equal(t, 0.0, last)
		})
	}
}

func TestPublishIdentityMissing(t *testing.T) {
	store := newStore(t)
	ledger := &fakeLedger{nodes: []chain.Node{{Hotkey: "miner1", NodeID: 1}}}
	rater := &fakeRater{ratings: map[string]float64{"miner1": 0.5}}
	kp, err := signing.Generate()
	require.NoError(t, err)
	publisher := weights.New(store, ledger, rater, kp, 16, time.Hour, logging.Nop())

	err = publisher.RunOnce(context.Background())
	assert.ErrorIs(t, err, weights.ErrIdentityMissing)
	assert.Zero(t, ledger.submits)
}

func TestPublishFailureLeavesWatermark(t *testing.T) {
	store := newStore(t)
	ledger := &fakeLedger{
		nodes:     []chain.Node{{Hotkey: "miner1", NodeID: 1}},
		submitErr: errors.New("submission failed"),
	}
	rater := &fakeRater{ratings: map[string]float64{"miner1": 0.5}}
	publisher, _ := newPublisher(t, store, ledger, rater)

	require.Error(t, publisher.RunOnce(context.Background()))

	last, err := store.LastSetWeightsTime()
	require.NoError(t, err)
	assert.Equal(t, 0.0, last)

	// With no watermark written the next tick retries immediately.
	ledger.submitErr = nil
	require.NoError(t, publisher.RunOnce(context.Background()))
	assert.Equal(t, 2, ledger.submits)
}
