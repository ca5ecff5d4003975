package indexer

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/localdb"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/sqlstmt"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

// ApplyStage builds the write batch for a window.
type ApplyStage struct{}

func NewApplyStage() *ApplyStage {
	return &ApplyStage{}
}

// Apply emits, in (block_number, log_index) order, the raw event row and the
// projection statements of every event, followed by the checkpoint update.
// The checkpoint shares the batch so it only lands together with the rows.
func (ApplyStage) Apply(target model.OrderbookIdentifier, events []model.DecodedEvent, decimals map[string]uint8, endBlock uint64) (sqlstmt.Batch, error) {
	ordered := append([]model.DecodedEvent(nil), events...)
	model.SortEvents(ordered)

	batch := sqlstmt.NewBatch()
	for _, event := range ordered {
		raw, err := rawEventStatement(target, event)
		if err != nil {
			return sqlstmt.Batch{}, err
		}
		batch.Add(raw)

		stmts, err := eventStatements(target, event, decimals)
		if err != nil {
			return sqlstmt.Batch{}, fmt.Errorf("event %s:%d: %w", event.TransactionHash, event.LogIndex, err)
		}
		batch.Add(stmts...)
	}
	batch.Add(localdb.UpsertSyncStatus(target, endBlock))
	return batch, nil
}

func rawEventStatement(target model.OrderbookIdentifier, event model.DecodedEvent) (sqlstmt.Statement, error) {
	topics := event.Raw.Topics
	if topics == nil {
		topics = []string{}
	}
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return sqlstmt.Statement{}, syncerr.Decode("encode topics", err)
	}
	decodedJSON, err := json.Marshal(event.Data)
	if err != nil {
		return sqlstmt.Statement{}, syncerr.Decode("encode decoded event", err)
	}
	return localdb.InsertRawEvent(target, event, string(topicsJSON), string(decodedJSON)), nil
}

func eventStatements(target model.OrderbookIdentifier, event model.DecodedEvent, decimals map[string]uint8) ([]sqlstmt.Statement, error) {
	switch data := event.Data.(type) {
	case model.DepositV2:
		change, err := vaultChange(data.Sender, data.Token, data.VaultID, localdb.ChangeDeposit, data.DepositAmountUint256, decimals)
		if err != nil {
			return nil, err
		}
		return []sqlstmt.Statement{localdb.VaultBalanceChange(target, event, change)}, nil

	case model.WithdrawV2:
		change, err := vaultChange(data.Sender, data.Token, data.VaultID, localdb.ChangeWithdraw, data.WithdrawAmountUint256, decimals)
		if err != nil {
			return nil, err
		}
		return []sqlstmt.Statement{localdb.VaultBalanceChange(target, event, change)}, nil

	case model.AddOrderV3:
		return orderStatements(target, event, data.OrderHash, data.Order, true), nil

	case model.RemoveOrderV3:
		return orderStatements(target, event, data.OrderHash, data.Order, false), nil

	case model.ClearV3:
		return []sqlstmt.Statement{localdb.InsertClear(target, event, data)}, nil

	case model.InterpreterStoreSet:
		return []sqlstmt.Statement{localdb.UpsertStoreSet(target, event, data)}, nil

	default:
		return nil, nil
	}
}

func orderStatements(target model.OrderbookIdentifier, event model.DecodedEvent, orderHash string, order model.Order, active bool) []sqlstmt.Statement {
	stmts := make([]sqlstmt.Statement, 0, 1+2*(len(order.ValidInputs)+len(order.ValidOutputs)))
	stmts = append(stmts, localdb.UpsertOrder(target, event, orderHash, order, active))
	for i, io := range order.ValidInputs {
		stmts = append(stmts,
			localdb.InsertOrderIO(target, orderHash, localdb.IOInput, i, io),
			localdb.EnsureVault(target, order.Owner, io, event.BlockNumber),
		)
	}
	for i, io := range order.ValidOutputs {
		stmts = append(stmts,
			localdb.InsertOrderIO(target, orderHash, localdb.IOOutput, i, io),
			localdb.EnsureVault(target, order.Owner, io, event.BlockNumber),
		)
	}
	return stmts
}

func vaultChange(owner, token, vaultID string, changeType localdb.ChangeType, rawAmount string, decimals map[string]uint8) (localdb.VaultChange, error) {
	token = sqlstmt.NormalizeAddress(token)
	tokenDecimals, ok := decimals[token]
	if !ok {
		return localdb.VaultChange{}, syncerr.Consistencyf("no decimals known for token %s", token)
	}
	amount, err := ScaleAmount(rawAmount, tokenDecimals)
	if err != nil {
		return localdb.VaultChange{}, err
	}
	if changeType == localdb.ChangeWithdraw {
		amount = amount.Neg()
	}
	return localdb.VaultChange{
		Owner:     owner,
		Token:     token,
		VaultID:   vaultID,
		Type:      changeType,
		AmountRaw: rawAmount,
		Amount:    amount.String(),
	}, nil
}

// ScaleAmount converts a base-unit integer string into a fixed-point amount.
func ScaleAmount(raw string, decimals uint8) (decimal.Decimal, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return decimal.Decimal{}, syncerr.Decode("scale amount", fmt.Errorf("invalid uint256 %q", raw))
	}
	return decimal.NewFromBigInt(value, -int32(decimals)), nil
}
