package model

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// OrderbookIdentifier partitions every persisted row, store and status record.
type OrderbookIdentifier struct {
	ChainID uint64         `json:"chain_id"`
	Address common.Address `json:"orderbook_address"`
}

func NewOrderbookIdentifier(chainID uint64, address common.Address) OrderbookIdentifier {
	return OrderbookIdentifier{ChainID: chainID, Address: address}
}

// AddressHex returns the lower-cased 0x address used in SQL rows.
func (id OrderbookIdentifier) AddressHex() string {
	return strings.ToLower(id.Address.Hex())
}

// Key is a stable map key, unique across chains.
func (id OrderbookIdentifier) Key() string {
	return fmt.Sprintf("%d:%s", id.ChainID, id.AddressHex())
}

func (id OrderbookIdentifier) String() string {
	return id.Key()
}
