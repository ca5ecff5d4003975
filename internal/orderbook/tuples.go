package orderbook

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Field order mirrors the ABI component order; nested tuples are copied by
// position.

type evaluableV4 struct {
	Interpreter common.Address
	Store       common.Address
	Bytecode    []byte
}

type ioV2 struct {
	Token   common.Address
	VaultId [32]byte
}

type orderV4 struct {
	Owner        common.Address
	Evaluable    evaluableV4
	ValidInputs  []ioV2
	ValidOutputs []ioV2
	Nonce        [32]byte
}

type clearConfigV2 struct {
	AliceInputIOIndex  *big.Int
	AliceOutputIOIndex *big.Int
	BobInputIOIndex    *big.Int
	BobOutputIOIndex   *big.Int
	AliceBountyVaultId [32]byte
	BobBountyVaultId   [32]byte
}

type depositV2Log struct {
	Sender               common.Address `abi:"sender"`
	Token                common.Address `abi:"token"`
	VaultId              [32]byte       `abi:"vaultId"`
	DepositAmountUint256 *big.Int       `abi:"depositAmountUint256"`
}

type withdrawV2Log struct {
	Sender                common.Address `abi:"sender"`
	Token                 common.Address `abi:"token"`
	VaultId               [32]byte       `abi:"vaultId"`
	TargetAmount          [32]byte       `abi:"targetAmount"`
	WithdrawAmount        [32]byte       `abi:"withdrawAmount"`
	WithdrawAmountUint256 *big.Int       `abi:"withdrawAmountUint256"`
}

type orderLog struct {
	Sender    common.Address `abi:"sender"`
	OrderHash [32]byte       `abi:"orderHash"`
	Order     orderV4        `abi:"order"`
}

type clearV3Log struct {
	Sender      common.Address `abi:"sender"`
	Alice       orderV4        `abi:"alice"`
	Bob         orderV4        `abi:"bob"`
	ClearConfig clearConfigV2  `abi:"clearConfig"`
}

type storeSetLog struct {
	Namespace *big.Int `abi:"namespace"`
	Key       [32]byte `abi:"key"`
	Value     [32]byte `abi:"value"`
}
