package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/localdb"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/sqlstmt"
)

var (
	testOrderbook = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	testStore     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	knownStore    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenA        = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	tokenB        = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	ownerAddr     = "0xcccccccccccccccccccccccccccccccccccccccc"
	orderTopic    = common.HexToHash("0x01")
	storeSetTopic = common.HexToHash("0x02")
)

func testTarget() model.OrderbookIdentifier {
	return model.NewOrderbookIdentifier(42161, testOrderbook)
}

// memStore is an in-memory Executor answering the pipeline queries.
type memStore struct {
	mu          sync.Mutex
	tables      []string
	checkpoint  *uint64
	tokens      []localdb.TokenDecimalsRow
	stores      []localdb.StoreRow
	batches     []sqlstmt.Batch
	scripts     []string
	executeErr  error
	dumpSynced  uint64
	tableChecks int
}

func newMemStore() *memStore {
	return &memStore{}
}

func (m *memStore) lastSynced() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoint == nil {
		return 0, false
	}
	return *m.checkpoint, true
}

func (m *memStore) setCheckpoint(block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoint = &block
}

func (m *memStore) executed() []sqlstmt.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sqlstmt.Batch(nil), m.batches...)
}

func (m *memStore) Execute(_ context.Context, batch sqlstmt.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.executeErr != nil {
		return m.executeErr
	}
	for _, stmt := range batch.Statements() {
		switch stmt.SQL {
		case localdb.UpsertSyncStatusSQL:
			block := stmt.Params[2].Any().(uint64)
			if m.checkpoint == nil || *m.checkpoint < block {
				m.checkpoint = &block
			}
		case localdb.UpsertTokenSQL:
			m.tokens = append(m.tokens, localdb.TokenDecimalsRow{
				TokenAddress: stmt.Params[2].Any().(string),
				Decimals:     uint8(stmt.Params[5].Any().(int64)),
			})
		}
	}
	m.batches = append(m.batches, batch)
	return nil
}

func (m *memStore) QueryJSON(_ context.Context, stmt sqlstmt.Statement) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch stmt.SQL {
	case localdb.ExistingTablesSQL:
		m.tableChecks++
		rows := make([]localdb.TableRow, 0, len(m.tables))
		for _, table := range m.tables {
			rows = append(rows, localdb.TableRow{TableName: table})
		}
		return json.Marshal(rows)
	case localdb.LastSyncedBlockSQL:
		if m.checkpoint == nil {
			return []byte("[]"), nil
		}
		return json.Marshal([]localdb.SyncStatusRow{{LastSyncedBlock: *m.checkpoint}})
	case localdb.TokenDecimalsSQL:
		return json.Marshal(append([]localdb.TokenDecimalsRow{}, m.tokens...))
	case localdb.KnownStoresSQL:
		return json.Marshal(append([]localdb.StoreRow{}, m.stores...))
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
	if m.dumpSynced > 0 {
		block := m.dumpSynced
		m.checkpoint = &block
	}
	return nil
}

// fakeSource serves logs from memory. Later ranges answer first so completion
// order differs from block order.
type fakeSource struct {
	head       uint64
	logs       []types.Log
	err        error
	filterHits atomic.Int32
	tsHits     atomic.Int32

	mu        sync.Mutex
	addresses [][]common.Address
}

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeSource) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	f.filterHits.Add(1)
	f.mu.Lock()
	f.addresses = append(f.addresses, append([]common.Address(nil), addresses...))
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	delay := time.Duration((1000-fromBlock%1000)%7) * time.Millisecond
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(delay):
	}

	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber < fromBlock || log.BlockNumber > toBlock {
			continue
		}
		if !containsAddress(addresses, log.Address) || !containsHash(topic0, log.Topics[0]) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (f *fakeSource) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	f.tsHits.Add(1)
	return 1_700_000_000 + number*12, nil
}

func (f *fakeSource) queriedAddresses() [][]common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]common.Address(nil), f.addresses...)
}

func containsAddress(list []common.Address, address common.Address) bool {
	for _, candidate := range list {
		if candidate == address {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, hash common.Hash) bool {
	for _, candidate := range list {
		if candidate == hash {
			return true
		}
	}
	return false
}

// fakeDecoder decodes logs by transaction hash.
type fakeDecoder struct {
	events map[string]model.EventData
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{events: map[string]model.EventData{}}
}

func (d *fakeDecoder) Decode(record model.LogRecord) (model.DecodedEvent, *model.DecodeError) {
	data, ok := d.events[record.TxHash]
	if !ok {
		failure := model.NewDecodeError(record, fmt.Errorf("unknown log"))
		return model.NewDecodedEvent(record, model.Unknown{Topic0: record.Topic0(), Data: record.Data}), &failure
	}
	return model.NewDecodedEvent(record, data), nil
}

func (d *fakeDecoder) OrderBookTopics() []common.Hash { return []common.Hash{orderTopic} }
func (d *fakeDecoder) StoreSetTopic() common.Hash { return storeSetTopic }

// chainFixture builds logs and their decoded payloads together.
type chainFixture struct {
	source  *fakeSource
	decoder *fakeDecoder
	seq     int64
}

func newChainFixture(head uint64) *chainFixture {
	return &chainFixture{source: &fakeSource{head: head}, decoder: newFakeDecoder()}
}

func (c *chainFixture) add(block uint64, index uint, address common.Address, topic common.Hash, data model.EventData) {
	c.seq++
	txHash := common.BigToHash(big.NewInt(c.seq))
	c.source.logs = append(c.source.logs, types.Log{
		Address:     address,
		Topics:      []common.Hash{topic},
		BlockNumber: block,
		TxHash:      txHash,
		Index:       index,
	})
	if data != nil {
		c.decoder.events[txHash.Hex()] = data
	}
}

func (c *chainFixture) deposit(block uint64, index uint, token, amount string) {
	c.add(block, index, testOrderbook, orderTopic, model.DepositV2{
		Sender:               ownerAddr,
		Token:                token,
		VaultID:              "0x01",
		DepositAmountUint256: amount,
	})
}

// fakeMetadata returns canned token metadata.
type fakeMetadata struct {
	tokens map[string]model.TokenMetadata
	failed map[string]error
	calls  atomic.Int32
}

func (f *fakeMetadata) FetchTokenMetadata(_ context.Context, token common.Address) (model.TokenMetadata, error) {
	f.calls.Add(1)
	address := strings.ToLower(token.Hex())
	if err, ok := f.failed[address]; ok {
		return model.TokenMetadata{}, err
	}
	meta, ok := f.tokens[address]
	if !ok {
		return model.TokenMetadata{}, fmt.Errorf("invalid argument: no token %s", address)
	}
	return meta, nil
}
