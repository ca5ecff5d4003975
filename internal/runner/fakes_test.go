package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/localdb"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/sqlstmt"
)

// memStore keeps just enough state for empty-window runs and seeding.
type memStore struct {
	mu         sync.Mutex
	tables     []string
	checkpoint uint64
	scripts    []string
	dumpBlock  uint64
	closed     atomic.Int32
}

func (m *memStore) Execute(_ context.Context, batch sqlstmt.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stmt := range batch.Statements() {
		if stmt.SQL == localdb.UpsertSyncStatusSQL {
			if block := stmt.Params[2].Any().(uint64); block > m.checkpoint {
				m.checkpoint = block
			}
		}
	}
	return nil
}

func (m *memStore) QueryJSON(_ context.Context, stmt sqlstmt.Statement) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch stmt.SQL {
	case localdb.ExistingTablesSQL:
		rows := make([]localdb.TableRow, 0, len(m.tables))
		for _, table := range m.tables {
			rows = append(rows, localdb.TableRow{TableName: table})
		}
		return json.Marshal(rows)
	case localdb.LastSyncedBlockSQL:
		if m.checkpoint == 0 {
			return []byte("[]"), nil
		}
		return json.Marshal([]localdb.SyncStatusRow{{LastSyncedBlock: m.checkpoint}})
	case localdb.TokenDecimalsSQL, localdb.KnownStoresSQL:
		return []byte("[]"), nil
	}
	return nil, fmt.Errorf("unexpected query: %s", stmt.SQL)
}

func (m *memStore) ExecScript(_ context.Context, script string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, script)
	if script == localdb.CreateTablesSQL {
		m.tables = append([]string(nil), localdb.RequiredTables...)
		return nil
	}
	m.checkpoint = m.dumpBlock
	return nil
}

func (m *memStore) Close() {
	m.closed.Add(1)
}

func (m *memStore) dumps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, script := range m.scripts {
		if script != localdb.CreateTablesSQL {
			n++
		}
	}
	return n
}

// fakeChain serves an empty chain with a fixed head.
type fakeChain struct {
	head    uint64
	headErr error
	closed  atomic.Int32
}

func (f *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeChain) FilterLogs(context.Context, uint64, uint64, []common.Address, []common.Hash) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeChain) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return 1_700_000_000 + number, nil
}

func (f *fakeChain) FetchTokenMetadata(context.Context, common.Address) (model.TokenMetadata, error) {
	return model.TokenMetadata{}, errors.New("invalid argument: no tokens on this chain")
}

func (f *fakeChain) Close() {
	f.closed.Add(1)
}

// fakeManifests counts fetches and downloads.
type fakeManifests struct {
	manifest  *model.Manifest
	fetchErr  error
	dump      string
	fetches   atomic.Int32
	downloads atomic.Int32
}

func (f *fakeManifests) Fetch(context.Context, string) (*model.Manifest, error) {
	f.fetches.Add(1)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.manifest, nil
}

func (f *fakeManifests) DownloadDump(context.Context, string) (string, error) {
	f.downloads.Add(1)
	return f.dump, nil
}
