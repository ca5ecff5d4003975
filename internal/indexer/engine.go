package indexer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/metrics"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/status"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/storage"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

// Deps are the collaborators of an Engine.
type Deps struct {
	Bootstrap BootstrapPipeline
	Window    WindowPipeline
	Events    EventsPipeline
	Tokens    TokensPipeline
	Apply     ApplyPipeline
	Bus       status.Bus
	Logger    *zap.Logger
}

// DefaultDeps wires the default pipelines around the chain collaborators.
func DefaultDeps(source LogSource, metadata MetadataFetcher, decoder Decoder, opts Options, bus status.Bus, logger *zap.Logger) Deps {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Deps{
		Bootstrap: NewBootstrapStage(logger),
		Window:    NewWindowStage(source, opts, logger),
		Events:    NewEventsStage(source, decoder, opts, logger),
		Tokens:    NewTokensStage(metadata, opts, logger),
		Apply:     NewApplyStage(),
		Bus:       bus,
		Logger:    logger,
	}
}

// RunRequest is the input of one Engine run. Store is owned by the run.
type RunRequest struct {
	RunID  string
	Store  storage.Executor
	Inputs model.SyncInputs
}

// Engine drives one target through bootstrap, window, events, tokens, apply
// and report. Runs of one engine are serialized.
type Engine struct {
	target model.OrderbookIdentifier
	deps   Deps
	logger *zap.Logger

	mu           sync.Mutex
	state        model.SyncState
	bootstrapped bool
	backfill     backfillCursor
}

// backfillCursor walks a configured start override forward one window per
// successful run until it passes the checkpoint.
type backfillCursor struct {
	origin   *uint64
	next     uint64
	advanced bool
	done     bool
}

func NewEngine(target model.OrderbookIdentifier, deps Deps) (*Engine, error) {
	if deps.Bootstrap == nil || deps.Window == nil || deps.Events == nil || deps.Tokens == nil || deps.Apply == nil {
		return nil, syncerr.Configf("engine %s: every pipeline is required", target)
	}
	if deps.Bus == nil {
		deps.Bus = status.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{
		target: target,
		deps:   deps,
		logger: deps.Logger.With(
			zap.Uint64("chain_id", target.ChainID),
			zap.String("orderbook", target.AddressHex()),
		),
		state: model.StateCreated,
	}, nil
}

func (e *Engine) Target() model.OrderbookIdentifier {
	return e.target
}

// State returns the state reached by the latest run.
func (e *Engine) State() model.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// run carries per-run values through the stages.
type run struct {
	req      RunRequest
	window   model.BlockWindow
	backfill bool
	logs     int
	events   []model.DecodedEvent
	tokens   TokenEnrichment
	started  time.Time
}

// Run executes one sync. A failed stage ends the run in the failed state and
// the returned error carries the stage.
func (e *Engine) Run(ctx context.Context, req RunRequest) (model.SyncOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.Store == nil {
		return model.SyncOutcome{}, syncerr.AtStage(syncerr.StageSetup, syncerr.Configf("engine %s: store is required", e.target))
	}
	if req.Inputs.Target != e.target {
		return model.SyncOutcome{}, syncerr.AtStage(syncerr.StageSetup, syncerr.Configf("engine %s: inputs are for %s", e.target, req.Inputs.Target))
	}

	r := &run{req: req, started: time.Now()}
	e.state = model.StateCreated
	e.publish(ctx, r, status.Update{State: model.StateCreated})

	outcome, err := e.execute(ctx, r)
	if err != nil {
		e.fail(ctx, r, err)
		return model.SyncOutcome{}, err
	}
	return outcome, nil
}

func (e *Engine) execute(ctx context.Context, r *run) (model.SyncOutcome, error) {
	cfg := r.req.Inputs.Config
	store := r.req.Store

	if err := e.stage(syncerr.StageBootstrap, func() error { return e.bootstrap(ctx, r) }); err != nil {
		return model.SyncOutcome{}, err
	}
	e.advance(ctx, r, model.StateSchemaReady)

	err := e.stage(syncerr.StageWindow, func() error {
		windowCfg, err := e.windowConfig(ctx, r, cfg)
		if err != nil {
			return err
		}
		r.window, err = e.deps.Window.NextWindow(ctx, store, e.target, windowCfg)
		return err
	})
	if err != nil {
		return model.SyncOutcome{}, err
	}
	e.advance(ctx, r, model.StateWindowComputed)

	if r.window.Empty() {
		e.logger.Debug("caught up", zap.Uint64("from", r.window.Start), zap.Uint64("to", r.window.End))
		return e.report(ctx, r), nil
	}

	err = e.stage(syncerr.StageEvents, func() error {
		logs, err := e.deps.Events.Fetch(ctx, store, e.target, r.window, cfg.Fetch)
		if err != nil {
			return err
		}
		r.logs = len(logs)
		r.events, err = e.deps.Events.Decode(ctx, logs, cfg.Fetch)
		return err
	})
	if err != nil {
		return model.SyncOutcome{}, err
	}
	e.advance(ctx, r, model.StateEventsFetched)

	err = e.stage(syncerr.StageTokens, func() error {
		var err error
		r.tokens, err = e.deps.Tokens.Enrich(ctx, store, e.target, r.events, cfg.Fetch)
		if err != nil {
			return err
		}
		return e.checkTokenFailures(r)
	})
	if err != nil {
		return model.SyncOutcome{}, err
	}
	e.advance(ctx, r, model.StateTokensEnriched)

	err = e.stage(syncerr.StageApply, func() error {
		batch, err := e.deps.Apply.Apply(e.target, r.events, r.tokens.Decimals, r.window.End)
		if err != nil {
			return err
		}
		writes := r.tokens.Prefix
		writes.Extend(batch)
		return store.Execute(ctx, writes)
	})
	if err != nil {
		return model.SyncOutcome{}, err
	}
	e.advance(ctx, r, model.StateApplied)

	if r.backfill {
		e.backfill.next = r.window.End + 1
		e.backfill.advanced = true
	}

	return e.report(ctx, r), nil
}

// windowConfig swaps the start override for the backfill cursor. Once the
// cursor is past the checkpoint the override is spent and windows resume
// from the checkpoint.
func (e *Engine) windowConfig(ctx context.Context, r *run, cfg model.SyncConfig) (model.SyncConfig, error) {
	override := cfg.WindowOverrides.StartBlock
	if override == nil {
		e.backfill = backfillCursor{}
		return cfg, nil
	}
	if e.backfill.origin == nil || *e.backfill.origin != *override {
		origin := *override
		e.backfill = backfillCursor{origin: &origin, next: origin}
	}

	if !e.backfill.done && e.backfill.advanced {
		lastSynced, err := LoadLastSynced(ctx, r.req.Store, e.target)
		if err != nil {
			return cfg, err
		}
		if e.backfill.next > lastSynced {
			e.backfill.done = true
			e.logger.Info("backfill complete", zap.Uint64("from", *e.backfill.origin), zap.Uint64("last_synced", lastSynced))
		}
	}
	if e.backfill.done {
		cfg.WindowOverrides.StartBlock = nil
		return cfg, nil
	}

	next := e.backfill.next
	cfg.WindowOverrides.StartBlock = &next
	r.backfill = true
	return cfg, nil
}

// bootstrap ensures the schema once per engine and seeds the store when the
// run carries a dump.
func (e *Engine) bootstrap(ctx context.Context, r *run) error {
	store := r.req.Store
	if !e.bootstrapped {
		created, err := e.deps.Bootstrap.EnsureSchema(ctx, store)
		if err != nil {
			return err
		}
		if created {
			e.logger.Info("schema created")
		}
	}
	if r.req.Inputs.HasDump() {
		if err := e.deps.Bootstrap.SeedFromDump(ctx, store, e.target, r.req.Inputs.DumpSQL); err != nil {
			return err
		}
	}
	e.bootstrapped = true
	return nil
}

// checkTokenFailures fails the run when a token that moves vault balances has
// no decimals. Order-only tokens are tolerated and retried on a later run.
func (e *Engine) checkTokenFailures(r *run) error {
	if len(r.tokens.Failures) == 0 {
		return nil
	}
	for _, event := range r.events {
		var token string
		switch data := event.Data.(type) {
		case model.DepositV2:
			token = data.Token
		case model.WithdrawV2:
			token = data.Token
		default:
			continue
		}
		if err, ok := r.tokens.Failures[token]; ok {
			return fmt.Errorf("token %s metadata: %w", token, err)
		}
	}
	e.logger.Warn("token metadata missing for order tokens", zap.Int("tokens", len(r.tokens.Failures)))
	return nil
}

// report publishes the final update. The store has already committed, so a
// publish failure is logged and the run still succeeds.
func (e *Engine) report(ctx context.Context, r *run) model.SyncOutcome {
	outcome := model.SyncOutcome{
		Target:            e.target,
		StartBlock:        r.window.Start,
		EndBlock:          r.window.End,
		RawEventCount:     r.logs,
		DecodedEventCount: len(r.events),
	}

	err := e.stage(syncerr.StageReport, func() error {
		return e.deps.Bus.Publish(ctx, e.update(r, status.Update{
			State:   model.StateReported,
			Message: reportMessage(outcome),
		}))
	})
	if err != nil {
		e.logger.Warn("final status publish failed", zap.Error(err))
	}
	e.state = model.StateReported

	chainID := strconv.FormatUint(e.target.ChainID, 10)
	metrics.SyncOutcomes.WithLabelValues(chainID, e.target.AddressHex(), "success").Inc()
	if !outcome.CaughtUp() {
		metrics.LastSyncedBlock.WithLabelValues(chainID, e.target.AddressHex()).Set(float64(outcome.EndBlock))
		e.logger.Info("sync run complete",
			zap.Uint64("from", outcome.StartBlock),
			zap.Uint64("to", outcome.EndBlock),
			zap.Int("raw_events", outcome.RawEventCount),
			zap.Int("decoded_events", outcome.DecodedEventCount),
			zap.Int("tokens_fetched", r.tokens.Fetched),
			zap.Duration("elapsed", time.Since(r.started)),
		)
	}
	return outcome
}

func reportMessage(outcome model.SyncOutcome) string {
	if outcome.CaughtUp() {
		return "caught up"
	}
	return fmt.Sprintf("synced blocks %d-%d", outcome.StartBlock, outcome.EndBlock)
}

func (e *Engine) fail(ctx context.Context, r *run, err error) {
	e.state = model.StateFailed
	stage, _ := syncerr.StageOf(err)

	chainID := strconv.FormatUint(e.target.ChainID, 10)
	metrics.SyncOutcomes.WithLabelValues(chainID, e.target.AddressHex(), "failure").Inc()
	e.logger.Error("sync run failed", zap.String("stage", string(stage)), zap.Error(err))

	e.publish(ctx, r, status.Update{State: model.StateFailed, Stage: string(stage), Error: err.Error()})
}

func (e *Engine) advance(ctx context.Context, r *run, state model.SyncState) {
	e.state = state
	e.publish(ctx, r, status.Update{State: state})
}

// publish sends an intermediate update. Bus failures are logged and do not
// affect the run.
func (e *Engine) publish(ctx context.Context, r *run, update status.Update) {
	if err := e.deps.Bus.Publish(ctx, e.update(r, update)); err != nil {
		e.logger.Warn("status publish failed", zap.String("state", string(update.State)), zap.Error(err))
	}
}

func (e *Engine) update(r *run, update status.Update) status.Update {
	update.RunID = r.req.RunID
	update.Target = e.target
	update.StartBlock = r.window.Start
	update.EndBlock = r.window.End
	update.Events = len(r.events)
	update.Time = time.Now().UTC()
	return update
}

func (e *Engine) stage(stage syncerr.Stage, fn func() error) error {
	started := time.Now()
	err := fn()
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(started).Seconds())
	return syncerr.AtStage(stage, err)
}
