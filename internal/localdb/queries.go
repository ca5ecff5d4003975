package localdb

import (
	"fmt"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/sqlstmt"
)

const ExistingTablesSQL = `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema()`

const LastSyncedBlockSQL = `
SELECT last_synced_block FROM sync_status
WHERE chain_id = $1 AND orderbook_address = $2`

const TokenDecimalsSQL = `
SELECT token_address, decimals FROM erc20_tokens
WHERE chain_id = $1 AND orderbook_address = $2`

const KnownStoresSQL = `
SELECT DISTINCT store AS store_address FROM orders
WHERE chain_id = $1 AND orderbook_address = $2 AND store <> ''`

const vaultsSQL = `
SELECT
	v.owner, v.token, v.vault_id, v.balance::text AS balance, v.last_block,
	coalesce(t.symbol, '') AS symbol, coalesce(t.decimals, 0) AS decimals
FROM vaults v
LEFT JOIN erc20_tokens t
	ON t.chain_id = v.chain_id AND t.orderbook_address = v.orderbook_address AND t.token_address = v.token
WHERE v.chain_id = $1 AND v.orderbook_address = $2
/*OWNERS*/
/*TOKENS*/
/*HIDE_ZERO*/
ORDER BY v.owner, v.token, v.vault_id
/*PAGINATION*/`

const ordersSQL = `
SELECT
	o.order_hash, o.owner, o.interpreter, o.store, o.nonce, o.active,
	o.added_block, o.updated_block, o.updated_timestamp
FROM orders o
WHERE o.chain_id = $1 AND o.orderbook_address = $2
/*OWNERS*/
/*ACTIVE*/
ORDER BY o.added_block DESC, o.order_hash
/*PAGINATION*/`

const balanceChangesSQL = `
SELECT
	c.transaction_hash, c.log_index, c.block_number, c.block_timestamp,
	c.owner, c.token, c.vault_id, c.change_type,
	c.amount_raw::text AS amount_raw, c.amount::text AS amount
FROM vault_balance_changes c
WHERE c.chain_id = $1 AND c.orderbook_address = $2
/*OWNERS*/
/*TOKENS*/
/*VAULT*/
/*FROM_TS*/
/*TO_TS*/
ORDER BY c.block_number DESC, c.log_index DESC
/*PAGINATION*/`

// Row shapes decoded from QueryJSON results.

type TableRow struct {
	TableName string `json:"table_name"`
}

type SyncStatusRow struct {
	LastSyncedBlock uint64 `json:"last_synced_block"`
}

type TokenDecimalsRow struct {
	TokenAddress string `json:"token_address"`
	Decimals     uint8  `json:"decimals"`
}

type StoreRow struct {
	StoreAddress string `json:"store_address"`
}

type VaultRow struct {
	Owner     string `json:"owner"`
	Token     string `json:"token"`
	VaultID   string `json:"vault_id"`
	Balance   string `json:"balance"`
	LastBlock uint64 `json:"last_block"`
	Symbol    string `json:"symbol"`
	Decimals  uint8  `json:"decimals"`
}

type OrderRow struct {
	OrderHash        string `json:"order_hash"`
	Owner            string `json:"owner"`
	Interpreter      string `json:"interpreter"`
	Store            string `json:"store"`
	Nonce            string `json:"nonce"`
	Active           bool   `json:"active"`
	AddedBlock       uint64 `json:"added_block"`
	UpdatedBlock     uint64 `json:"updated_block"`
	UpdatedTimestamp uint64 `json:"updated_timestamp"`
}

type BalanceChangeRow struct {
	TransactionHash string `json:"transaction_hash"`
	LogIndex        uint64 `json:"log_index"`
	BlockNumber     uint64 `json:"block_number"`
	BlockTimestamp  uint64 `json:"block_timestamp"`
	Owner           string `json:"owner"`
	Token           string `json:"token"`
	VaultID         string `json:"vault_id"`
	ChangeType      string `json:"change_type"`
	AmountRaw       string `json:"amount_raw"`
	Amount          string `json:"amount"`
}

func ExistingTables() sqlstmt.Statement {
	return sqlstmt.New(ExistingTablesSQL)
}

func LastSyncedBlock(target model.OrderbookIdentifier) sqlstmt.Statement {
	return sqlstmt.New(LastSyncedBlockSQL, targetParams(target)...)
}

func TokenDecimals(target model.OrderbookIdentifier) sqlstmt.Statement {
	return sqlstmt.New(TokenDecimalsSQL, targetParams(target)...)
}

func KnownStores(target model.OrderbookIdentifier) sqlstmt.Statement {
	return sqlstmt.New(KnownStoresSQL, targetParams(target)...)
}

// Page bounds a listing; a zero Limit returns every row.
type Page struct {
	Limit  uint64
	Offset uint64
}

func (p Page) fragment(stmt *sqlstmt.Statement) string {
	if p.Limit == 0 {
		if p.Offset == 0 {
			return ""
		}
		return "OFFSET " + stmt.Bind(sqlstmt.U64(p.Offset))
	}
	return "LIMIT " + stmt.Bind(sqlstmt.U64(p.Limit)) + " OFFSET " + stmt.Bind(sqlstmt.U64(p.Offset))
}

// VaultFilter selects vaults. Owners and Tokens match case-insensitively.
type VaultFilter struct {
	Owners   []string
	Tokens   []string
	HideZero bool
	Page     Page
}

func Vaults(target model.OrderbookIdentifier, filter VaultFilter) (sqlstmt.Statement, error) {
	stmt := sqlstmt.New(vaultsSQL, targetParams(target)...)
	page := filter.Page.fragment(&stmt)
	hideZero := ""
	if filter.HideZero {
		hideZero = "AND v.balance <> 0"
	}
	err := replaceAll(&stmt, map[string]string{
		"/*OWNERS*/":     sqlstmt.InClause("v.owner", filter.Owners, sqlstmt.NormalizeAddress),
		"/*TOKENS*/":     sqlstmt.InClause("v.token", filter.Tokens, sqlstmt.NormalizeAddress),
		"/*HIDE_ZERO*/":  hideZero,
		"/*PAGINATION*/": page,
	})
	return stmt, err
}

// OrderFilter selects orders.
type OrderFilter struct {
	Owners     []string
	ActiveOnly bool
	Page       Page
}

func Orders(target model.OrderbookIdentifier, filter OrderFilter) (sqlstmt.Statement, error) {
	stmt := sqlstmt.New(ordersSQL, targetParams(target)...)
	page := filter.Page.fragment(&stmt)
	active := ""
	if filter.ActiveOnly {
		active = "AND o.active"
	}
	err := replaceAll(&stmt, map[string]string{
		"/*OWNERS*/":     sqlstmt.InClause("o.owner", filter.Owners, sqlstmt.NormalizeAddress),
		"/*ACTIVE*/":     active,
		"/*PAGINATION*/": page,
	})
	return stmt, err
}

// BalanceChangeFilter selects vault balance changes. FromTimestamp and
// ToTimestamp are inclusive unix seconds; zero disables the bound.
type BalanceChangeFilter struct {
	Owners        []string
	Tokens        []string
	VaultID       string
	FromTimestamp uint64
	ToTimestamp   uint64
	Page          Page
}

func BalanceChanges(target model.OrderbookIdentifier, filter BalanceChangeFilter) (sqlstmt.Statement, error) {
	stmt := sqlstmt.New(balanceChangesSQL, targetParams(target)...)

	// Fragments are bound in template order so placeholders stay sequential.
	fragments := []struct {
		marker string
		value  string
	}{
		{"/*OWNERS*/", sqlstmt.InClause("c.owner", filter.Owners, sqlstmt.NormalizeAddress)},
		{"/*TOKENS*/", sqlstmt.InClause("c.token", filter.Tokens, sqlstmt.NormalizeAddress)},
	}
	for _, f := range fragments {
		if err := stmt.ReplaceFragment(f.marker, f.value); err != nil {
			return stmt, err
		}
	}

	vault := ""
	if filter.VaultID != "" {
		vault = "AND c.vault_id = " + stmt.Bind(sqlstmt.Text(sqlstmt.NormalizeAddress(filter.VaultID)))
	}
	if err := stmt.ReplaceFragment("/*VAULT*/", vault); err != nil {
		return stmt, err
	}

	from := ""
	if filter.FromTimestamp > 0 {
		from = "AND c.block_timestamp >= " + stmt.Bind(sqlstmt.U64(filter.FromTimestamp))
	}
	if err := stmt.ReplaceFragment("/*FROM_TS*/", from); err != nil {
		return stmt, err
	}

	to := ""
	if filter.ToTimestamp > 0 {
		to = "AND c.block_timestamp <= " + stmt.Bind(sqlstmt.U64(filter.ToTimestamp))
	}
	if err := stmt.ReplaceFragment("/*TO_TS*/", to); err != nil {
		return stmt, err
	}

	if err := stmt.ReplaceFragment("/*PAGINATION*/", filter.Page.fragment(&stmt)); err != nil {
		return stmt, err
	}
	return stmt, nil
}

// replaceAll substitutes pre-rendered fragments; order does not matter since
// none of them binds parameters here.
func replaceAll(stmt *sqlstmt.Statement, fragments map[string]string) error {
	for marker, fragment := range fragments {
		if err := stmt.ReplaceFragment(marker, fragment); err != nil {
			return fmt.Errorf("render query: %w", err)
		}
	}
	return nil
}
