package localdb

import (
	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/sqlstmt"
)

// Every template starts with $1 = chain_id and $2 = orderbook_address.

const InsertSchemaVersionSQL = `INSERT INTO db_metadata (id, schema_version) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`

const InsertRawEventSQL = `
INSERT INTO raw_events (
	chain_id, orderbook_address, transaction_hash, log_index, block_number, block_timestamp,
	address, event_type, topics, data, decoded
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::text::jsonb, $10, $11::text::jsonb)
ON CONFLICT DO NOTHING`

// VaultBalanceChangeSQL records a deposit or withdrawal and moves the vault
// balance only when the change row is new, so replayed windows never double
// count.
const VaultBalanceChangeSQL = `
WITH ins AS (
	INSERT INTO vault_balance_changes (
		chain_id, orderbook_address, transaction_hash, log_index, block_number, block_timestamp,
		owner, token, vault_id, change_type, amount_raw, amount
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::text::numeric, $12::text::numeric)
	ON CONFLICT DO NOTHING
	RETURNING chain_id, orderbook_address, owner, token, vault_id, amount, block_number
)
INSERT INTO vaults (chain_id, orderbook_address, owner, token, vault_id, balance, last_block)
SELECT chain_id, orderbook_address, owner, token, vault_id, amount, block_number FROM ins
ON CONFLICT (chain_id, orderbook_address, owner, token, vault_id)
DO UPDATE SET
	balance = vaults.balance + EXCLUDED.balance,
	last_block = GREATEST(vaults.last_block, EXCLUDED.last_block)`

const EnsureVaultSQL = `
INSERT INTO vaults (chain_id, orderbook_address, owner, token, vault_id, balance, last_block)
VALUES ($1, $2, $3, $4, $5, 0, $6)
ON CONFLICT DO NOTHING`

// UpsertOrderSQL only lets a later (block, log_index) change the order state.
const UpsertOrderSQL = `
INSERT INTO orders (
	chain_id, orderbook_address, order_hash, owner, interpreter, store, bytecode, nonce,
	active, added_block, updated_block, updated_log_index, updated_timestamp
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, ($9::bigint <> 0), $10, $10, $11, $12)
ON CONFLICT (chain_id, orderbook_address, order_hash)
DO UPDATE SET
	active = EXCLUDED.active,
	updated_block = EXCLUDED.updated_block,
	updated_log_index = EXCLUDED.updated_log_index,
	updated_timestamp = EXCLUDED.updated_timestamp
WHERE (orders.updated_block, orders.updated_log_index) < (EXCLUDED.updated_block, EXCLUDED.updated_log_index)`

const InsertOrderIOSQL = `
INSERT INTO order_ios (chain_id, orderbook_address, order_hash, io_type, io_index, token, vault_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT DO NOTHING`

const InsertClearSQL = `
INSERT INTO clears (
	chain_id, orderbook_address, transaction_hash, log_index, block_number, block_timestamp,
	sender, alice_owner, bob_owner, alice_input_token, alice_output_token,
	bob_input_token, bob_output_token, alice_bounty_vault_id, bob_bounty_vault_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT DO NOTHING`

// UpsertStoreSetSQL keeps the value written by the latest (block, log_index).
const UpsertStoreSetSQL = `
INSERT INTO interpreter_store_sets (
	chain_id, orderbook_address, store_address, namespace, key, value,
	block_number, log_index, transaction_hash
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (chain_id, orderbook_address, store_address, namespace, key)
DO UPDATE SET
	value = EXCLUDED.value,
	block_number = EXCLUDED.block_number,
	log_index = EXCLUDED.log_index,
	transaction_hash = EXCLUDED.transaction_hash
WHERE (interpreter_store_sets.block_number, interpreter_store_sets.log_index) <= (EXCLUDED.block_number, EXCLUDED.log_index)`

// UpsertTokenSQL never rewrites decimals; a row with different decimals is
// left untouched.
const UpsertTokenSQL = `
INSERT INTO erc20_tokens (chain_id, orderbook_address, token_address, name, symbol, decimals)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (chain_id, orderbook_address, token_address)
DO UPDATE SET name = EXCLUDED.name, symbol = EXCLUDED.symbol
WHERE erc20_tokens.decimals = EXCLUDED.decimals`

// UpsertSyncStatusSQL never moves the checkpoint backwards.
const UpsertSyncStatusSQL = `
INSERT INTO sync_status (chain_id, orderbook_address, last_synced_block, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (chain_id, orderbook_address)
DO UPDATE SET
	last_synced_block = GREATEST(sync_status.last_synced_block, EXCLUDED.last_synced_block),
	updated_at = now()`

func targetParams(target model.OrderbookIdentifier, rest ...sqlstmt.Value) []sqlstmt.Value {
	params := make([]sqlstmt.Value, 0, len(rest)+2)
	params = append(params, sqlstmt.U64(target.ChainID), sqlstmt.Text(target.AddressHex()))
	return append(params, rest...)
}

func InsertSchemaVersion() sqlstmt.Statement {
	return sqlstmt.New(InsertSchemaVersionSQL, sqlstmt.I64(SchemaVersion))
}

// InsertRawEvent stores the raw log with its decoded payload as JSON.
func InsertRawEvent(target model.OrderbookIdentifier, ev model.DecodedEvent, topicsJSON, decodedJSON string) sqlstmt.Statement {
	return sqlstmt.New(InsertRawEventSQL, targetParams(target,
		sqlstmt.Text(ev.TransactionHash),
		sqlstmt.U64(ev.LogIndex),
		sqlstmt.U64(ev.BlockNumber),
		sqlstmt.U64(ev.BlockTimestamp),
		sqlstmt.Text(ev.Address),
		sqlstmt.Text(string(ev.EventType)),
		sqlstmt.Text(topicsJSON),
		sqlstmt.Text(ev.Raw.Data),
		sqlstmt.OptionalText(decodedJSON),
	)...)
}

// ChangeType labels a vault balance change.
type ChangeType string

const (
	ChangeDeposit  ChangeType = "deposit"
	ChangeWithdraw ChangeType = "withdraw"
)

// VaultChange is one signed vault balance movement. Amount is the
// decimals-scaled value; AmountRaw is the token base-unit integer.
type VaultChange struct {
	Owner     string
	Token     string
	VaultID   string
	Type      ChangeType
	AmountRaw string
	Amount    string
}

func VaultBalanceChange(target model.OrderbookIdentifier, ev model.DecodedEvent, change VaultChange) sqlstmt.Statement {
	return sqlstmt.New(VaultBalanceChangeSQL, targetParams(target,
		sqlstmt.Text(ev.TransactionHash),
		sqlstmt.U64(ev.LogIndex),
		sqlstmt.U64(ev.BlockNumber),
		sqlstmt.U64(ev.BlockTimestamp),
		sqlstmt.Text(change.Owner),
		sqlstmt.Text(change.Token),
		sqlstmt.Text(change.VaultID),
		sqlstmt.Text(string(change.Type)),
		sqlstmt.Text(change.AmountRaw),
		sqlstmt.Text(change.Amount),
	)...)
}

func EnsureVault(target model.OrderbookIdentifier, owner string, io model.IO, block uint64) sqlstmt.Statement {
	return sqlstmt.New(EnsureVaultSQL, targetParams(target,
		sqlstmt.Text(owner),
		sqlstmt.Text(io.Token),
		sqlstmt.Text(io.VaultID),
		sqlstmt.U64(block),
	)...)
}

func UpsertOrder(target model.OrderbookIdentifier, ev model.DecodedEvent, orderHash string, order model.Order, active bool) sqlstmt.Statement {
	activeValue := sqlstmt.I64(0)
	if active {
		activeValue = sqlstmt.I64(1)
	}
	return sqlstmt.New(UpsertOrderSQL, targetParams(target,
		sqlstmt.Text(orderHash),
		sqlstmt.Text(order.Owner),
		sqlstmt.Text(order.Interpreter),
		sqlstmt.Text(order.Store),
		sqlstmt.Text(order.Bytecode),
		sqlstmt.Text(order.Nonce),
		activeValue,
		sqlstmt.U64(ev.BlockNumber),
		sqlstmt.U64(ev.LogIndex),
		sqlstmt.U64(ev.BlockTimestamp),
	)...)
}

// IO types for order_ios rows.
const (
	IOInput  = "input"
	IOOutput = "output"
)

func InsertOrderIO(target model.OrderbookIdentifier, orderHash, ioType string, index int, io model.IO) sqlstmt.Statement {
	return sqlstmt.New(InsertOrderIOSQL, targetParams(target,
		sqlstmt.Text(orderHash),
		sqlstmt.Text(ioType),
		sqlstmt.I64(int64(index)),
		sqlstmt.Text(io.Token),
		sqlstmt.Text(io.VaultID),
	)...)
}

func InsertClear(target model.OrderbookIdentifier, ev model.DecodedEvent, cleared model.ClearV3) sqlstmt.Statement {
	cfg := cleared.ClearConfig
	return sqlstmt.New(InsertClearSQL, targetParams(target,
		sqlstmt.Text(ev.TransactionHash),
		sqlstmt.U64(ev.LogIndex),
		sqlstmt.U64(ev.BlockNumber),
		sqlstmt.U64(ev.BlockTimestamp),
		sqlstmt.Text(cleared.Sender),
		sqlstmt.Text(cleared.Alice.Owner),
		sqlstmt.Text(cleared.Bob.Owner),
		sqlstmt.OptionalText(ioToken(cleared.Alice.ValidInputs, cfg.AliceInputIOIndex)),
		sqlstmt.OptionalText(ioToken(cleared.Alice.ValidOutputs, cfg.AliceOutputIOIndex)),
		sqlstmt.OptionalText(ioToken(cleared.Bob.ValidInputs, cfg.BobInputIOIndex)),
		sqlstmt.OptionalText(ioToken(cleared.Bob.ValidOutputs, cfg.BobOutputIOIndex)),
		sqlstmt.Text(cfg.AliceBountyVaultID),
		sqlstmt.Text(cfg.BobBountyVaultID),
	)...)
}

func ioToken(ios []model.IO, index uint64) string {
	if index >= uint64(len(ios)) {
		return ""
	}
	return ios[index].Token
}

func UpsertStoreSet(target model.OrderbookIdentifier, ev model.DecodedEvent, set model.InterpreterStoreSet) sqlstmt.Statement {
	return sqlstmt.New(UpsertStoreSetSQL, targetParams(target,
		sqlstmt.Text(set.StoreAddress),
		sqlstmt.Text(set.Namespace),
		sqlstmt.Text(set.Key),
		sqlstmt.Text(set.Value),
		sqlstmt.U64(ev.BlockNumber),
		sqlstmt.U64(ev.LogIndex),
		sqlstmt.Text(ev.TransactionHash),
	)...)
}

func UpsertToken(target model.OrderbookIdentifier, meta model.TokenMetadata) sqlstmt.Statement {
	return sqlstmt.New(UpsertTokenSQL, targetParams(target,
		sqlstmt.Text(meta.Address),
		sqlstmt.Text(meta.Name),
		sqlstmt.Text(meta.Symbol),
		sqlstmt.I64(int64(meta.Decimals)),
	)...)
}

func UpsertSyncStatus(target model.OrderbookIdentifier, lastSyncedBlock uint64) sqlstmt.Statement {
	return sqlstmt.New(UpsertSyncStatusSQL, targetParams(target, sqlstmt.U64(lastSyncedBlock))...)
}
