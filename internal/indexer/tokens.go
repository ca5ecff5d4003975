package indexer

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/localdb"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/metrics"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/retry"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/sqlstmt"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/storage"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

// TokensStage resolves metadata for tokens the local store has not seen.
type TokensStage struct {
	fetcher MetadataFetcher
	opts    Options
	logger  *zap.Logger
}

func NewTokensStage(fetcher MetadataFetcher, opts Options, logger *zap.Logger) *TokensStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokensStage{fetcher: fetcher, opts: opts.withDefaults(), logger: logger}
}

// Enrich returns upserts for newly fetched tokens and the decimals of every
// token known after the fetch. When every referenced token is already known
// no metadata call is made. Stored rows disagreeing on decimals fail the
// stage before any fetch.
func (s *TokensStage) Enrich(ctx context.Context, store storage.Executor, target model.OrderbookIdentifier, events []model.DecodedEvent, cfg model.FetchConfig) (TokenEnrichment, error) {
	rows, err := storage.QueryJSON[[]localdb.TokenDecimalsRow](ctx, store, localdb.TokenDecimals(target))
	if err != nil {
		return TokenEnrichment{}, err
	}
	known, err := KnownDecimals(rows)
	if err != nil {
		return TokenEnrichment{}, err
	}

	out := TokenEnrichment{
		Prefix:   sqlstmt.NewBatch(),
		Decimals: known,
		Failures: map[string]error{},
	}

	missing := MissingTokens(CollectTokens(events), known)
	if len(missing) == 0 {
		return out, nil
	}

	fetched, failures := s.fetchAll(ctx, missing, cfg)
	if err := ctx.Err(); err != nil {
		return TokenEnrichment{}, err
	}
	for _, meta := range fetched {
		out.Decimals[meta.Address] = meta.Decimals
		out.Prefix.Add(localdb.UpsertToken(target, meta))
	}
	out.Failures = failures
	out.Fetched = len(fetched)

	s.logger.Info("token metadata fetched",
		zap.String("target", target.Key()),
		zap.Int("missing", len(missing)),
		zap.Int("fetched", len(fetched)),
		zap.Int("failed", len(failures)),
	)
	return out, nil
}

// fetchAll fetches every token independently; one token failing does not
// stop the others.
func (s *TokensStage) fetchAll(ctx context.Context, tokens []string, cfg model.FetchConfig) ([]model.TokenMetadata, map[string]error) {
	policy := rpcPolicy(cfg, s.opts, s.logger).Named("erc20_metadata")

	results := make([]model.TokenMetadata, len(tokens))
	errs := make([]error, len(tokens))

	var g errgroup.Group
	g.SetLimit(s.opts.MetadataConcurrency)
	for i, token := range tokens {
		i, token := i, token
		g.Go(func() error {
			meta, err := retry.Do(ctx, policy, func(ctx context.Context) (model.TokenMetadata, error) {
				return s.fetcher.FetchTokenMetadata(ctx, common.HexToAddress(token))
			})
			if err != nil {
				errs[i] = err
				return nil
			}
			meta.Address = token
			results[i] = meta
			return nil
		})
	}
	_ = g.Wait()

	fetched := make([]model.TokenMetadata, 0, len(tokens))
	failures := make(map[string]error)
	for i, token := range tokens {
		if errs[i] != nil {
			failures[token] = errs[i]
			metrics.TokenFetchFailures.Inc()
			s.logger.Warn("token metadata fetch failed", zap.String("token", token), zap.Error(errs[i]))
			continue
		}
		fetched = append(fetched, results[i])
	}
	return fetched, failures
}

// KnownDecimals indexes stored token rows by normalized address. Two rows
// for the same token with different decimals are a consistency error.
func KnownDecimals(rows []localdb.TokenDecimalsRow) (map[string]uint8, error) {
	known := make(map[string]uint8, len(rows))
	for _, row := range rows {
		address := sqlstmt.NormalizeAddress(row.TokenAddress)
		if address == "" {
			continue
		}
		if existing, ok := known[address]; ok && existing != row.Decimals {
			return nil, syncerr.Consistencyf("token %s stored with decimals %d and %d", address, existing, row.Decimals)
		}
		known[address] = row.Decimals
	}
	return known, nil
}

// CollectTokens returns the distinct lower-cased tokens referenced by events,
// sorted.
func CollectTokens(events []model.DecodedEvent) []string {
	seen := make(map[string]struct{})
	add := func(token string) {
		token = sqlstmt.NormalizeAddress(token)
		if token != "" {
			seen[token] = struct{}{}
		}
	}
	addOrder := func(order model.Order) {
		for _, io := range order.ValidInputs {
			add(io.Token)
		}
		for _, io := range order.ValidOutputs {
			add(io.Token)
		}
	}

	for _, event := range events {
		switch data := event.Data.(type) {
		case model.DepositV2:
			add(data.Token)
		case model.WithdrawV2:
			add(data.Token)
		case model.AddOrderV3:
			addOrder(data.Order)
		case model.RemoveOrderV3:
			addOrder(data.Order)
		case model.ClearV3:
			addOrder(data.Alice)
			addOrder(data.Bob)
		}
	}

	tokens := make([]string, 0, len(seen))
	for token := range seen {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// MissingTokens returns tokens absent from known, preserving order.
func MissingTokens(tokens []string, known map[string]uint8) []string {
	missing := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := known[token]; !ok {
			missing = append(missing, token)
		}
	}
	return missing
}
