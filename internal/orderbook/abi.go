package orderbook

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const orderV4Components = `[
  {"name": "owner", "type": "address"},
  {"name": "evaluable", "type": "tuple", "components": [
    {"name": "interpreter", "type": "address"},
    {"name": "store", "type": "address"},
    {"name": "bytecode", "type": "bytes"}
  ]},
  {"name": "validInputs", "type": "tuple[]", "components": [
    {"name": "token", "type": "address"},
    {"name": "vaultId", "type": "bytes32"}
  ]},
  {"name": "validOutputs", "type": "tuple[]", "components": [
    {"name": "token", "type": "address"},
    {"name": "vaultId", "type": "bytes32"}
  ]},
  {"name": "nonce", "type": "bytes32"}
]`

var orderBookABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "sender", "type": "address"},
      {"indexed": false, "name": "token", "type": "address"},
      {"indexed": false, "name": "vaultId", "type": "bytes32"},
      {"indexed": false, "name": "depositAmountUint256", "type": "uint256"}
    ],
    "name": "DepositV2",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "sender", "type": "address"},
      {"indexed": false, "name": "token", "type": "address"},
      {"indexed": false, "name": "vaultId", "type": "bytes32"},
      {"indexed": false, "name": "targetAmount", "type": "bytes32"},
      {"indexed": false, "name": "withdrawAmount", "type": "bytes32"},
      {"indexed": false, "name": "withdrawAmountUint256", "type": "uint256"}
    ],
    "name": "WithdrawV2",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "sender", "type": "address"},
      {"indexed": false, "name": "orderHash", "type": "bytes32"},
      {"indexed": false, "name": "order", "type": "tuple", "components": ` + orderV4Components + `}
    ],
    "name": "AddOrderV3",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "sender", "type": "address"},
      {"indexed": false, "name": "orderHash", "type": "bytes32"},
      {"indexed": false, "name": "order", "type": "tuple", "components": ` + orderV4Components + `}
    ],
    "name": "RemoveOrderV3",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "sender", "type": "address"},
      {"indexed": false, "name": "alice", "type": "tuple", "components": ` + orderV4Components + `},
      {"indexed": false, "name": "bob", "type": "tuple", "components": ` + orderV4Components + `},
      {"indexed": false, "name": "clearConfig", "type": "tuple", "components": [
        {"name": "aliceInputIOIndex", "type": "uint256"},
        {"name": "aliceOutputIOIndex", "type": "uint256"},
        {"name": "bobInputIOIndex", "type": "uint256"},
        {"name": "bobOutputIOIndex", "type": "uint256"},
        {"name": "aliceBountyVaultId", "type": "bytes32"},
        {"name": "bobBountyVaultId", "type": "bytes32"}
      ]}
    ],
    "name": "ClearV3",
    "type": "event"
  }
]`

const interpreterStoreABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "namespace", "type": "uint256"},
      {"indexed": false, "name": "key", "type": "bytes32"},
      {"indexed": false, "name": "value", "type": "bytes32"}
    ],
    "name": "Set",
    "type": "event"
  }
]`

var (
	orderBookABI     abi.ABI
	orderBookABIOnce sync.Once
	orderBookABIErr  error

	storeABI     abi.ABI
	storeABIOnce sync.Once
	storeABIErr  error
)

// OrderBookABI returns the parsed orderbook event ABI.
func OrderBookABI() (abi.ABI, error) {
	orderBookABIOnce.Do(func() {
		orderBookABI, orderBookABIErr = abi.JSON(strings.NewReader(orderBookABIJSON))
	})
	return orderBookABI, orderBookABIErr
}

// InterpreterStoreABI returns the parsed interpreter store event ABI.
func InterpreterStoreABI() (abi.ABI, error) {
	storeABIOnce.Do(func() {
		storeABI, storeABIErr = abi.JSON(strings.NewReader(interpreterStoreABIJSON))
	})
	return storeABI, storeABIErr
}
