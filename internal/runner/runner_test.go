package runner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/config"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/orderbook"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/status"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

type harness struct {
	mu        sync.Mutex
	chains    map[string]*fakeChain
	stores    map[string]*memStore
	panics    map[string]bool
	dials     atomic.Int32
	manifests *fakeManifests
	recorder  *status.Recorder
}

func newHarness() *harness {
	return &harness{
		chains:    map[string]*fakeChain{},
		stores:    map[string]*memStore{},
		panics:    map[string]bool{},
		manifests: &fakeManifests{},
		recorder:  status.NewRecorder(),
	}
}

func (h *harness) target(t *testing.T, i int) Target {
	t.Helper()
	fetch, err := model.NewFetchConfig(500, 2, 1, 1, 0)
	require.NoError(t, err)

	rpc := fmt.Sprintf("https://rpc-%d.example", i)
	id := model.NewOrderbookIdentifier(42161, common.BigToAddress(big.NewInt(int64(0xb0+i))))
	h.mu.Lock()
	h.chains[rpc] = &fakeChain{head: 170}
	h.stores[id.Key()] = &memStore{}
	h.mu.Unlock()

	return Target{
		OrderbookKey: fmt.Sprintf("ob-%d", i),
		NetworkKey:   "arbitrum",
		RPCs:         []string{rpc},
		Inputs: model.SyncInputs{
			Target: id,
			Config: model.SyncConfig{
				DeploymentBlock: 100,
				Fetch:           fetch,
				Finality:        model.FinalityConfig{Depth: 12},
			},
		},
	}
}

func (h *harness) store(target Target) *memStore {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stores[target.ID().Key()]
}

func (h *harness) chain(target Target) *fakeChain {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.chains[target.RPCs[0]]
}

func (h *harness) runner(t *testing.T, fallback bool) *Runner {
	t.Helper()
	decoder, err := orderbook.NewRegistry()
	require.NoError(t, err)

	r, err := New(Options{
		OpenSession: func(_ context.Context, target model.OrderbookIdentifier) (Session, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.panics[target.Key()] {
				panic("session pool corrupted")
			}
			store, ok := h.stores[target.Key()]
			if !ok {
				return nil, syncerr.Storage("open session", errors.New("no such store"))
			}
			return store, nil
		},
		DialChain: func(_ context.Context, urls []string) (Chain, error) {
			h.dials.Add(1)
			h.mu.Lock()
			defer h.mu.Unlock()
			c, ok := h.chains[urls[0]]
			if !ok {
				return nil, syncerr.Transport("dial rpc", fmt.Errorf("unreachable %s", urls[0]))
			}
			return c, nil
		},
		Manifests:         h.manifests,
		Decoder:           decoder,
		Bus:               h.recorder,
		Logger:            zaptest.NewLogger(t),
		FallbackToGenesis: fallback,
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestRunIsolatesFailingTarget(t *testing.T) {
	h := newHarness()
	targets := []Target{h.target(t, 0), h.target(t, 1), h.target(t, 2), h.target(t, 3)}
	h.chain(targets[2]).headErr = errors.New("invalid params: provider rejects eth_blockNumber")

	report := h.runner(t, true).Run(context.Background(), targets)

	assert.NotEmpty(t, report.RunID)
	assert.Len(t, report.Successes, 3)
	require.Len(t, report.Failures, 1)
	failure := report.Failures[0]
	assert.Equal(t, "ob-2", failure.OrderbookKey)
	assert.Equal(t, targets[2].ID(), failure.Target)
	assert.Equal(t, syncerr.StageWindow, failure.Stage)
	assert.Error(t, report.Err())

	for _, i := range []int{0, 1, 3} {
		assert.Equal(t, uint64(158), h.store(targets[i]).checkpoint, "target %d", i)
	}
	latest, ok := h.recorder.Latest(targets[2].ID())
	require.True(t, ok)
	assert.Equal(t, model.StateFailed, latest.State)
}

func TestRunRecoversPanickingTarget(t *testing.T) {
	h := newHarness()
	targets := []Target{h.target(t, 0), h.target(t, 1), h.target(t, 2)}
	h.panics[targets[1].ID().Key()] = true

	report := h.runner(t, true).Run(context.Background(), targets)

	assert.Len(t, report.Successes, 2)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "ob-1", report.Failures[0].OrderbookKey)
	assert.Equal(t, syncerr.StageSetup, report.Failures[0].Stage)
	assert.ErrorContains(t, report.Failures[0].Err, "panic")
}

func TestRunBoundedConcurrencyStillRunsEveryTarget(t *testing.T) {
	h := newHarness()
	var targets []Target
	for i := 0; i < 6; i++ {
		targets = append(targets, h.target(t, i))
	}
	r := h.runner(t, true)
	r.opts.MaxConcurrentTargets = 2

	report := r.Run(context.Background(), targets)
	assert.Len(t, report.Successes, 6)
	assert.Empty(t, report.Failures)
	assert.NoError(t, report.Err())
}

func TestEnginesAreReusedAcrossRuns(t *testing.T) {
	h := newHarness()
	targets := []Target{h.target(t, 0)}
	r := h.runner(t, true)

	first := r.Run(context.Background(), targets)
	require.Len(t, first.Successes, 1)
	second := r.Run(context.Background(), targets)
	require.Len(t, second.Successes, 1)

	assert.True(t, second.Successes[0].Outcome.CaughtUp())
	assert.Equal(t, int32(1), h.dials.Load())
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestFetchManifestsIsMemoized(t *testing.T) {
	h := newHarness()
	h.manifests.manifest = &model.Manifest{ManifestVersion: 1}
	target := h.target(t, 0)
	target.ManifestURL = "https://dumps.example/manifest.yaml"
	other := h.target(t, 1)
	other.ManifestURL = target.ManifestURL
	r := h.runner(t, true)

	out := r.FetchManifests(context.Background(), []Target{target, other})
	require.Len(t, out, 1)
	assert.NoError(t, out[target.ManifestURL].Err)
	r.FetchManifests(context.Background(), []Target{target})
	assert.Equal(t, int32(1), h.manifests.fetches.Load())

	r.Rebootstrap()
	r.FetchManifests(context.Background(), []Target{target})
	assert.Equal(t, int32(2), h.manifests.fetches.Load())
}

func TestFetchManifestsDoesNotMemoizeFailures(t *testing.T) {
	h := newHarness()
	h.manifests.fetchErr = syncerr.Manifest("fetch manifest", errors.New("503 service unavailable"))
	target := h.target(t, 0)
	target.ManifestURL = "https://dumps.example/manifest.yaml"
	r := h.runner(t, true)

	out := r.FetchManifests(context.Background(), []Target{target})
	assert.Error(t, out[target.ManifestURL].Err)
	r.FetchManifests(context.Background(), []Target{target})
	assert.Equal(t, int32(2), h.manifests.fetches.Load())
}

func TestRunSeedsFreshStoreOnce(t *testing.T) {
	h := newHarness()
	target := h.target(t, 0)
	target.ManifestURL = "https://dumps.example/manifest.yaml"
	h.store(target).dumpBlock = 150
	h.manifests.dump = "INSERT INTO sync_status VALUES (1);"
	h.manifests.manifest = &model.Manifest{
		ManifestVersion: 1,
		Networks: map[string]model.ManifestNetwork{
			"arbitrum": {ChainID: 42161, Orderbooks: []model.ManifestOrderbook{
				{Address: target.ID().AddressHex(), DumpURL: "https://dumps.example/ob.sql.gz", EndBlock: 150},
			}},
		},
	}
	r := h.runner(t, false)

	report := r.Run(context.Background(), []Target{target})
	require.Len(t, report.Successes, 1, "failures: %v", report.Failures)
	assert.Equal(t, uint64(151), report.Successes[0].Outcome.StartBlock)
	assert.Equal(t, 1, h.store(target).dumps())

	r.Run(context.Background(), []Target{target})
	r.Rebootstrap()
	report = r.Run(context.Background(), []Target{target})
	require.Len(t, report.Successes, 1)
	assert.Equal(t, int32(1), h.manifests.downloads.Load())
	assert.Equal(t, 1, h.store(target).dumps())
}

func TestRunManifestFailureWithoutFallback(t *testing.T) {
	h := newHarness()
	h.manifests.fetchErr = syncerr.Manifest("fetch manifest", errors.New("404 not found"))
	target := h.target(t, 0)
	target.ManifestURL = "https://dumps.example/manifest.yaml"

	report := h.runner(t, false).Run(context.Background(), []Target{target})
	require.Len(t, report.Failures, 1)
	assert.Equal(t, syncerr.StageManifest, report.Failures[0].Stage)
	assert.True(t, syncerr.Is(report.Failures[0].Err, syncerr.KindManifest))
	assert.Zero(t, h.store(target).checkpoint)
}

func TestRunManifestFailureFallsBackToGenesis(t *testing.T) {
	h := newHarness()
	h.manifests.fetchErr = syncerr.Manifest("fetch manifest", errors.New("404 not found"))
	target := h.target(t, 0)
	target.ManifestURL = "https://dumps.example/manifest.yaml"

	report := h.runner(t, true).Run(context.Background(), []Target{target})
	require.Len(t, report.Successes, 1)
	assert.Equal(t, uint64(100), report.Successes[0].Outcome.StartBlock)
}

func TestRunDialFailureIsSetupFailure(t *testing.T) {
	h := newHarness()
	target := h.target(t, 0)
	target.RPCs = []string{"https://unknown.example"}

	report := h.runner(t, true).Run(context.Background(), []Target{target})
	require.Len(t, report.Failures, 1)
	assert.Equal(t, syncerr.StageSetup, report.Failures[0].Stage)
	assert.True(t, syncerr.Is(report.Failures[0].Err, syncerr.KindTransport))
}

func TestCloseReleasesChains(t *testing.T) {
	h := newHarness()
	target := h.target(t, 0)
	meta := &fakeChain{head: 170}
	h.chains["https://meta.example"] = meta
	target.Inputs.MetadataRPCs = []string{"https://meta.example"}
	r := h.runner(t, true)

	report := r.Run(context.Background(), []Target{target})
	require.Len(t, report.Successes, 1)
	assert.Equal(t, int32(2), h.dials.Load())

	r.Close()
	assert.Equal(t, int32(1), h.chain(target).closed.Load())
	assert.Equal(t, int32(1), meta.closed.Load())
}

func TestBuildTargets(t *testing.T) {
	settings := config.Settings{
		Networks: map[string]config.Network{
			"arbitrum": {ChainID: 42161, RPCs: []string{"https://arb.example"}, ManifestURL: "https://dumps.example/m.yaml"},
		},
		Orderbooks: map[string]config.Orderbook{
			"b": {Network: "arbitrum", Address: "0x00000000000000000000000000000000000000b1", DeploymentBlock: 5},
			"a": {Network: "arbitrum", Address: "0x00000000000000000000000000000000000000b0", DeploymentBlock: 7},
		},
		Sync: config.SyncSettings{BatchSize: 100, MaxConcurrentBatches: 2, RetryAttempts: 3, FinalityDepth: 12},
	}

	targets, err := BuildTargets(settings)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "a", targets[0].OrderbookKey)
	assert.Equal(t, uint64(42161), targets[0].ID().ChainID)
	assert.Equal(t, "0x00000000000000000000000000000000000000b0", targets[0].ID().AddressHex())
	assert.Equal(t, uint64(7), targets[0].Inputs.Config.DeploymentBlock)
	assert.Equal(t, "https://dumps.example/m.yaml", targets[1].ManifestURL)

	settings.Orderbooks["b"] = config.Orderbook{Network: "arbitrum", Address: "0x00000000000000000000000000000000000000B0"}
	_, err = BuildTargets(settings)
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindConfig))
}
