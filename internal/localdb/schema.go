package localdb

// SchemaVersion is bumped whenever the DDL changes incompatibly. Dumps built
// for another version are not seeded.
const SchemaVersion = 1

// RequiredTables lists every table the sync pipeline writes or reads.
var RequiredTables = []string{
	"db_metadata",
	"sync_status",
	"raw_events",
	"erc20_tokens",
	"vaults",
	"vault_balance_changes",
	"orders",
	"order_ios",
	"clears",
	"interpreter_store_sets",
}

// CreateTablesSQL is the canonical DDL. Every row carries the target
// (chain_id, orderbook_address) so dumps stay self-describing.
const CreateTablesSQL = `
CREATE TABLE IF NOT EXISTS db_metadata (
	id SMALLINT PRIMARY KEY CHECK (id = 1),
	schema_version INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sync_status (
	chain_id BIGINT NOT NULL,
	orderbook_address TEXT NOT NULL,
	last_synced_block BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, orderbook_address)
);

CREATE TABLE IF NOT EXISTS raw_events (
	chain_id BIGINT NOT NULL,
	orderbook_address TEXT NOT NULL,
	transaction_hash TEXT NOT NULL,
	log_index BIGINT NOT NULL,
	block_number BIGINT NOT NULL,
	block_timestamp BIGINT NOT NULL,
	address TEXT NOT NULL,
	event_type TEXT NOT NULL,
	topics JSONB NOT NULL,
	data TEXT NOT NULL,
	decoded JSONB,
	PRIMARY KEY (chain_id, orderbook_address, transaction_hash, log_index)
);
CREATE INDEX IF NOT EXISTS raw_events_block_idx ON raw_events (block_number, log_index);

CREATE TABLE IF NOT EXISTS erc20_tokens (
	chain_id BIGINT NOT NULL,
	orderbook_address TEXT NOT NULL,
	token_address TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	symbol TEXT NOT NULL DEFAULT '',
	decimals SMALLINT NOT NULL,
	PRIMARY KEY (chain_id, orderbook_address, token_address)
);

CREATE TABLE IF NOT EXISTS vaults (
	chain_id BIGINT NOT NULL,
	orderbook_address TEXT NOT NULL,
	owner TEXT NOT NULL,
	token TEXT NOT NULL,
	vault_id TEXT NOT NULL,
	balance NUMERIC NOT NULL DEFAULT 0,
	last_block BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (chain_id, orderbook_address, owner, token, vault_id)
);

CREATE TABLE IF NOT EXISTS vault_balance_changes (
	chain_id BIGINT NOT NULL,
	orderbook_address TEXT NOT NULL,
	transaction_hash TEXT NOT NULL,
	log_index BIGINT NOT NULL,
	block_number BIGINT NOT NULL,
	block_timestamp BIGINT NOT NULL,
	owner TEXT NOT NULL,
	token TEXT NOT NULL,
	vault_id TEXT NOT NULL,
	change_type TEXT NOT NULL,
	amount_raw NUMERIC NOT NULL,
	amount NUMERIC NOT NULL,
	PRIMARY KEY (chain_id, orderbook_address, transaction_hash, log_index)
);
CREATE INDEX IF NOT EXISTS vault_balance_changes_vault_idx
	ON vault_balance_changes (owner, token, vault_id, block_timestamp);

CREATE TABLE IF NOT EXISTS orders (
	chain_id BIGINT NOT NULL,
	orderbook_address TEXT NOT NULL,
	order_hash TEXT NOT NULL,
	owner TEXT NOT NULL,
	interpreter TEXT NOT NULL,
	store TEXT NOT NULL,
	bytecode TEXT NOT NULL,
	nonce TEXT NOT NULL,
	active BOOLEAN NOT NULL,
	added_block BIGINT NOT NULL,
	updated_block BIGINT NOT NULL,
	updated_log_index BIGINT NOT NULL,
	updated_timestamp BIGINT NOT NULL,
	PRIMARY KEY (chain_id, orderbook_address, order_hash)
);
CREATE INDEX IF NOT EXISTS orders_owner_idx ON orders (owner);

CREATE TABLE IF NOT EXISTS order_ios (
	chain_id BIGINT NOT NULL,
	orderbook_address TEXT NOT NULL,
	order_hash TEXT NOT NULL,
	io_type TEXT NOT NULL,
	io_index INTEGER NOT NULL,
	token TEXT NOT NULL,
	vault_id TEXT NOT NULL,
	PRIMARY KEY (chain_id, orderbook_address, order_hash, io_type, io_index)
);

CREATE TABLE IF NOT EXISTS clears (
	chain_id BIGINT NOT NULL,
	orderbook_address TEXT NOT NULL,
	transaction_hash TEXT NOT NULL,
	log_index BIGINT NOT NULL,
	block_number BIGINT NOT NULL,
	block_timestamp BIGINT NOT NULL,
	sender TEXT NOT NULL,
	alice_owner TEXT NOT NULL,
	bob_owner TEXT NOT NULL,
	alice_input_token TEXT,
	alice_output_token TEXT,
	bob_input_token TEXT,
	bob_output_token TEXT,
	alice_bounty_vault_id TEXT NOT NULL,
	bob_bounty_vault_id TEXT NOT NULL,
	PRIMARY KEY (chain_id, orderbook_address, transaction_hash, log_index)
);

CREATE TABLE IF NOT EXISTS interpreter_store_sets (
	chain_id BIGINT NOT NULL,
	orderbook_address TEXT NOT NULL,
	store_address TEXT NOT NULL,
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	block_number BIGINT NOT NULL,
	log_index BIGINT NOT NULL,
	transaction_hash TEXT NOT NULL,
	PRIMARY KEY (chain_id, orderbook_address, store_address, namespace, key)
);
`
