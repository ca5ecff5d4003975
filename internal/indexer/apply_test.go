package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/localdb"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/sqlstmt"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

func sqlOf(batch sqlstmt.Batch) []string {
	var out []string
	for _, stmt := range batch.Statements() {
		out = append(out, stmt.SQL)
	}
	return out
}

func TestApplyOrdersEventsAndEndsWithCheckpoint(t *testing.T) {
	events := []model.DecodedEvent{
		decodedEvent(12, 0, model.WithdrawV2{Sender: ownerAddr, Token: tokenA, VaultID: "0x01", WithdrawAmountUint256: "500000"}),
		decodedEvent(10, 2, model.DepositV2{Sender: ownerAddr, Token: tokenA, VaultID: "0x01", DepositAmountUint256: "1500000"}),
		decodedEvent(11, 0, model.InterpreterStoreSet{StoreAddress: "0x11", Namespace: "1", Key: "0x01", Value: "0x02"}),
	}

	batch, err := NewApplyStage().Apply(testTarget(), events, map[string]uint8{tokenA: 6}, 158)
	require.NoError(t, err)

	assert.Equal(t, []string{
		localdb.InsertRawEventSQL, localdb.VaultBalanceChangeSQL,
		localdb.InsertRawEventSQL, localdb.UpsertStoreSetSQL,
		localdb.InsertRawEventSQL, localdb.VaultBalanceChangeSQL,
		localdb.UpsertSyncStatusSQL,
	}, sqlOf(batch))

	stmts := batch.Statements()
	assert.Equal(t, "deposit", stmts[1].Params[9].Any())
	assert.Equal(t, "1500000", stmts[1].Params[10].Any())
	assert.Equal(t, "1.5", stmts[1].Params[11].Any())
	assert.Equal(t, "withdraw", stmts[5].Params[9].Any())
	assert.Equal(t, "-0.5", stmts[5].Params[11].Any())
	assert.Equal(t, uint64(158), stmts[6].Params[2].Any())
}

func TestApplyOrderEnsuresVaults(t *testing.T) {
	order := model.Order{
		Owner:        ownerAddr,
		ValidInputs:  []model.IO{{Token: tokenA, VaultID: "0x01"}},
		ValidOutputs: []model.IO{{Token: tokenB, VaultID: "0x02"}},
	}
	events := []model.DecodedEvent{
		decodedEvent(10, 0, model.AddOrderV3{Sender: ownerAddr, OrderHash: "0xhash", Order: order}),
		decodedEvent(11, 0, model.RemoveOrderV3{Sender: ownerAddr, OrderHash: "0xhash", Order: order}),
	}

	batch, err := NewApplyStage().Apply(testTarget(), events, nil, 20)
	require.NoError(t, err)

	assert.Equal(t, []string{
		localdb.InsertRawEventSQL, localdb.UpsertOrderSQL,
		localdb.InsertOrderIOSQL, localdb.EnsureVaultSQL,
		localdb.InsertOrderIOSQL, localdb.EnsureVaultSQL,
		localdb.InsertRawEventSQL, localdb.UpsertOrderSQL,
		localdb.InsertOrderIOSQL, localdb.EnsureVaultSQL,
		localdb.InsertOrderIOSQL, localdb.EnsureVaultSQL,
		localdb.UpsertSyncStatusSQL,
	}, sqlOf(batch))

	stmts := batch.Statements()
	assert.Equal(t, int64(1), stmts[1].Params[8].Any())
	assert.Equal(t, int64(0), stmts[7].Params[8].Any())
}

func TestApplyMissingDecimalsFails(t *testing.T) {
	events := []model.DecodedEvent{
		decodedEvent(10, 0, model.DepositV2{Sender: ownerAddr, Token: tokenB, VaultID: "0x01", DepositAmountUint256: "1"}),
	}
	_, err := NewApplyStage().Apply(testTarget(), events, map[string]uint8{tokenA: 6}, 20)
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindConsistency))
}

func TestApplyEmptyWindowStillCheckpoints(t *testing.T) {
	batch, err := NewApplyStage().Apply(testTarget(), nil, nil, 99)
	require.NoError(t, err)
	assert.Equal(t, []string{localdb.UpsertSyncStatusSQL}, sqlOf(batch))
}

func TestScaleAmount(t *testing.T) {
	amount, err := ScaleAmount("123456789000000000000", 18)
	require.NoError(t, err)
	assert.Equal(t, "123.456789", amount.String())

	_, err = ScaleAmount("12x", 6)
	assert.True(t, syncerr.Is(err, syncerr.KindDecode))
}
