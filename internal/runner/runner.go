package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/indexer"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/localdb"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/status"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/storage"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

// Chain is the RPC surface one target syncs through.
type Chain interface {
	indexer.LogSource
	indexer.MetadataFetcher
	Close()
}

// Session is a target's exclusive store handle for one run.
type Session interface {
	storage.Executor
	Close()
}

// ManifestSource fetches bootstrap manifests and their dumps.
type ManifestSource interface {
	Fetch(ctx context.Context, url string) (*model.Manifest, error)
	DownloadDump(ctx context.Context, url string) (string, error)
}

// Options wires a Runner.
type Options struct {
	OpenSession func(ctx context.Context, target model.OrderbookIdentifier) (Session, error)
	DialChain   func(ctx context.Context, urls []string) (Chain, error)
	Manifests   ManifestSource
	Decoder     indexer.Decoder
	Pipeline    indexer.Options
	Bus         status.Bus
	Logger      *zap.Logger

	// FallbackToGenesis lets a target sync from its deployment block when
	// its manifest or dump is unavailable.
	FallbackToGenesis bool
	// MaxConcurrentTargets bounds target fan-out; zero runs every target at once.
	MaxConcurrentTargets int
}

// ManifestResult is the outcome of fetching one manifest URL.
type ManifestResult struct {
	Manifest *model.Manifest
	Err      error
}

// ManifestMap is keyed by manifest URL.
type ManifestMap map[string]ManifestResult

// Success is a target that reached Reported.
type Success struct {
	OrderbookKey string
	Outcome      model.SyncOutcome
}

// Failure is a target that ended in Failed(stage).
type Failure struct {
	OrderbookKey string
	Target       model.OrderbookIdentifier
	Stage        syncerr.Stage
	Err          error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s (%s) failed at %s: %v", f.OrderbookKey, f.Target, f.Stage, f.Err)
}

// RunReport collects every target's result of one Run.
type RunReport struct {
	RunID     string
	Successes []Success
	Failures  []Failure
	Started   time.Time
	Finished  time.Time
}

// Err joins the target failures, or returns nil when every target succeeded.
func (r RunReport) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, failure := range r.Failures {
		errs = append(errs, failure)
	}
	return errors.Join(errs...)
}

type targetEngine struct {
	engine *indexer.Engine
	chains []Chain
}

func (t *targetEngine) close() {
	for _, c := range t.chains {
		c.Close()
	}
}

// Runner syncs many targets concurrently. One target's failure never cancels
// or blocks another.
type Runner struct {
	opts   Options
	logger *zap.Logger

	manifests *xsync.Map[string, *model.Manifest]
	seeded    *xsync.Map[string, struct{}]
	engines   *xsync.Map[string, *targetEngine]
}

func New(opts Options) (*Runner, error) {
	if opts.OpenSession == nil {
		return nil, syncerr.Configf("runner: session opener is required")
	}
	if opts.DialChain == nil {
		return nil, syncerr.Configf("runner: chain dialer is required")
	}
	if opts.Decoder == nil {
		return nil, syncerr.Configf("runner: decoder is required")
	}
	if opts.Bus == nil {
		opts.Bus = status.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		opts:      opts,
		logger:    logger,
		manifests: xsync.NewMap[string, *model.Manifest](),
		seeded:    xsync.NewMap[string, struct{}](),
		engines:   xsync.NewMap[string, *targetEngine](),
	}, nil
}

// FetchManifests fetches the manifest of every distinct URL among targets.
// Successful fetches are memoized until Rebootstrap; failures are retried on
// the next call.
func (r *Runner) FetchManifests(ctx context.Context, targets []Target) ManifestMap {
	out := make(ManifestMap)
	if r.opts.Manifests == nil {
		return out
	}

	urls := make([]string, 0, len(targets))
	for _, target := range targets {
		if target.ManifestURL == "" {
			continue
		}
		if _, ok := out[target.ManifestURL]; ok {
			continue
		}
		out[target.ManifestURL] = ManifestResult{}
		urls = append(urls, target.ManifestURL)
	}
	sort.Strings(urls)

	for _, url := range urls {
		if m, ok := r.manifests.Load(url); ok {
			out[url] = ManifestResult{Manifest: m}
			continue
		}
		m, err := r.opts.Manifests.Fetch(ctx, url)
		if err != nil {
			r.logger.Warn("manifest unavailable", zap.String("url", url), zap.Error(err))
			out[url] = ManifestResult{Err: err}
			continue
		}
		m, _ = r.manifests.LoadOrStore(url, m)
		out[url] = ManifestResult{Manifest: m}
	}
	return out
}

// Rebootstrap drops memoized manifests and the seeded set so the next Run
// fetches manifests again and may seed fresh stores.
func (r *Runner) Rebootstrap() {
	r.manifests.Clear()
	r.seeded.Clear()
}

// Close releases the RPC clients of every target engine.
func (r *Runner) Close() {
	r.engines.Range(func(key string, entry *targetEngine) bool {
		entry.close()
		return true
	})
	r.engines.Clear()
}

type targetResult struct {
	success *Success
	failure *Failure
}

// Run syncs every target once and waits for all of them.
func (r *Runner) Run(ctx context.Context, targets []Target) RunReport {
	report := RunReport{RunID: uuid.NewString(), Started: time.Now().UTC()}
	if len(targets) == 0 {
		report.Finished = time.Now().UTC()
		return report
	}

	manifests := r.FetchManifests(ctx, targets)

	size := r.opts.MaxConcurrentTargets
	if size <= 0 || size > len(targets) {
		size = len(targets)
	}
	pool := pond.NewPool(size)
	defer pool.StopAndWait()

	results := make([]targetResult, len(targets))
	group := pool.NewGroup()
	for i, target := range targets {
		group.Submit(func() {
			results[i] = r.runTarget(ctx, report.RunID, target, manifests)
		})
	}
	if err := group.Wait(); err != nil {
		r.logger.Error("target group failed", zap.Error(err))
	}

	for i, result := range results {
		switch {
		case result.success != nil:
			report.Successes = append(report.Successes, *result.success)
		case result.failure != nil:
			report.Failures = append(report.Failures, *result.failure)
		default:
			report.Failures = append(report.Failures, r.failure(targets[i], syncerr.StageSetup, errors.New("target did not report")))
		}
	}
	report.Finished = time.Now().UTC()

	r.logger.Info("run complete",
		zap.String("run_id", report.RunID),
		zap.Int("targets", len(targets)),
		zap.Int("successes", len(report.Successes)),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)),
	)
	return report
}

func (r *Runner) runTarget(ctx context.Context, runID string, target Target, manifests ManifestMap) (result targetResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("target panicked",
				zap.String("orderbook_key", target.OrderbookKey),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			failure := r.failure(target, syncerr.StageSetup, fmt.Errorf("panic: %v", rec))
			result = targetResult{failure: &failure}
		}
	}()

	fail := func(stage syncerr.Stage, err error) targetResult {
		if s, ok := syncerr.StageOf(err); ok {
			stage = s
		}
		failure := r.failure(target, stage, err)
		return targetResult{failure: &failure}
	}

	entry, err := r.engine(ctx, target)
	if err != nil {
		return fail(syncerr.StageSetup, err)
	}

	session, err := r.opts.OpenSession(ctx, target.ID())
	if err != nil {
		return fail(syncerr.StageSetup, err)
	}
	defer session.Close()

	inputs := target.Inputs
	dump, err := r.resolveDump(ctx, target, session, manifests)
	if err != nil {
		if !r.opts.FallbackToGenesis {
			return fail(syncerr.StageManifest, err)
		}
		r.logger.Warn("bootstrap dump unavailable, syncing from deployment block",
			zap.String("orderbook_key", target.OrderbookKey),
			zap.Uint64("deployment_block", inputs.Config.DeploymentBlock),
			zap.Error(err),
		)
	}
	inputs.DumpSQL = dump

	outcome, err := entry.engine.Run(ctx, indexer.RunRequest{RunID: runID, Store: session, Inputs: inputs})
	if err != nil {
		return fail(syncerr.StageSetup, err)
	}
	if inputs.HasDump() {
		r.seeded.Store(target.ID().Key(), struct{}{})
	}
	return targetResult{success: &Success{OrderbookKey: target.OrderbookKey, Outcome: outcome}}
}

func (r *Runner) failure(target Target, stage syncerr.Stage, err error) Failure {
	r.logger.Error("target failed",
		zap.String("orderbook_key", target.OrderbookKey),
		zap.Uint64("chain_id", target.ID().ChainID),
		zap.String("orderbook", target.ID().AddressHex()),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)
	return Failure{OrderbookKey: target.OrderbookKey, Target: target.ID(), Stage: stage, Err: err}
}

// engine returns the target's engine, creating it and its RPC clients on
// first use.
func (r *Runner) engine(ctx context.Context, target Target) (*targetEngine, error) {
	key := target.ID().Key()
	if entry, ok := r.engines.Load(key); ok {
		return entry, nil
	}

	logChain, err := r.opts.DialChain(ctx, target.RPCs)
	if err != nil {
		return nil, err
	}
	entry := &targetEngine{chains: []Chain{logChain}}
	metadata := logChain
	if len(target.Inputs.MetadataRPCs) > 0 && !sameURLs(target.Inputs.MetadataRPCs, target.RPCs) {
		metadata, err = r.opts.DialChain(ctx, target.Inputs.MetadataRPCs)
		if err != nil {
			entry.close()
			return nil, err
		}
		entry.chains = append(entry.chains, metadata)
	}

	deps := indexer.DefaultDeps(logChain, metadata, r.opts.Decoder, r.opts.Pipeline, r.opts.Bus, r.logger)
	entry.engine, err = indexer.NewEngine(target.ID(), deps)
	if err != nil {
		entry.close()
		return nil, err
	}

	actual, loaded := r.engines.LoadOrStore(key, entry)
	if loaded {
		entry.close()
	}
	return actual, nil
}

// resolveDump returns the dump SQL for a target whose store is still fresh
// and that this runner has not seeded yet. An empty result means no seeding.
func (r *Runner) resolveDump(ctx context.Context, target Target, store storage.Executor, manifests ManifestMap) (string, error) {
	if target.ManifestURL == "" {
		return "", nil
	}
	key := target.ID().Key()
	if _, ok := r.seeded.Load(key); ok {
		return "", nil
	}

	fresh, err := needsSeed(ctx, store, target.ID())
	if err != nil {
		return "", err
	}
	if !fresh {
		r.seeded.Store(key, struct{}{})
		return "", nil
	}

	result, ok := manifests[target.ManifestURL]
	if !ok {
		return "", syncerr.Manifest("resolve dump", fmt.Errorf("manifest %s was not fetched", target.ManifestURL))
	}
	if result.Err != nil {
		return "", result.Err
	}
	entry, ok := result.Manifest.Find(target.ID().ChainID, target.ID().AddressHex())
	if !ok {
		r.logger.Info("no dump published for target", zap.String("orderbook_key", target.OrderbookKey))
		return "", nil
	}

	dump, err := r.opts.Manifests.DownloadDump(ctx, entry.DumpURL)
	if err != nil {
		return "", err
	}
	r.logger.Info("bootstrap dump downloaded",
		zap.String("orderbook_key", target.OrderbookKey),
		zap.Uint64("dump_end_block", entry.EndBlock),
		zap.Int("bytes", len(dump)),
	)
	return dump, nil
}

// needsSeed reports whether the store has no schema yet or no checkpoint.
func needsSeed(ctx context.Context, store storage.Executor, target model.OrderbookIdentifier) (bool, error) {
	rows, err := storage.QueryJSON[[]localdb.TableRow](ctx, store, localdb.ExistingTables())
	if err != nil {
		return false, err
	}
	if len(indexer.MissingTables(rows)) > 0 {
		return true, nil
	}
	last, err := indexer.LoadLastSynced(ctx, store, target)
	if err != nil {
		return false, err
	}
	return last == 0, nil
}

func sameURLs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
