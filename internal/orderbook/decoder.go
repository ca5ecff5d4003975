package orderbook

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
)

// DecodeFunc decodes one log into an event payload.
type DecodeFunc func(record model.LogRecord) (model.EventData, error)

type registration struct {
	name   string
	decode DecodeFunc
}

// Registry maps topic0 to a decoder. It is safe for concurrent reads once
// built; Register must not race with Decode.
type Registry struct {
	decoders   map[string]registration
	orderbook  []common.Hash
	storeSetID common.Hash
}

// NewRegistry builds a registry with the orderbook and interpreter store
// decoders registered.
func NewRegistry() (*Registry, error) {
	obABI, err := OrderBookABI()
	if err != nil {
		return nil, fmt.Errorf("parse orderbook abi: %w", err)
	}
	storeABI, err := InterpreterStoreABI()
	if err != nil {
		return nil, fmt.Errorf("parse interpreter store abi: %w", err)
	}

	r := &Registry{decoders: make(map[string]registration)}
	for _, entry := range []struct {
		name  string
		build func(abi.Event) DecodeFunc
	}{
		{"DepositV2", decodeDeposit},
		{"WithdrawV2", decodeWithdraw},
		{"AddOrderV3", decodeAddOrder},
		{"RemoveOrderV3", decodeRemoveOrder},
		{"ClearV3", decodeClear},
	} {
		event, ok := obABI.Events[entry.name]
		if !ok {
			return nil, fmt.Errorf("orderbook abi missing event %s", entry.name)
		}
		r.Register(event.ID, entry.name, entry.build(event))
		r.orderbook = append(r.orderbook, event.ID)
	}

	set := storeABI.Events["Set"]
	r.storeSetID = set.ID
	r.Register(set.ID, "Set", decodeStoreSet(set))
	return r, nil
}

// Register adds or replaces the decoder for topic0.
func (r *Registry) Register(topic0 common.Hash, name string, fn DecodeFunc) {
	r.decoders[strings.ToLower(topic0.Hex())] = registration{name: name, decode: fn}
}

// OrderBookTopics returns the topic0 filter for orderbook logs.
func (r *Registry) OrderBookTopics() []common.Hash {
	return append([]common.Hash(nil), r.orderbook...)
}

// StoreSetTopic returns the topic0 of the interpreter store Set event.
func (r *Registry) StoreSetTopic() common.Hash {
	return r.storeSetID
}

// Decode maps record to a DecodedEvent. It never fails: unrecognized logs and
// malformed payloads become Unknown events keeping the raw bytes, and the
// second return carries the decode failure when there was one.
func (r *Registry) Decode(record model.LogRecord) (event model.DecodedEvent, decodeErr *model.DecodeError) {
	topic0 := record.Topic0()
	reg, ok := r.decoders[strings.ToLower(topic0)]
	if !ok {
		return model.NewDecodedEvent(record, model.Unknown{Topic0: topic0, Data: record.Data, Reason: "unrecognized topic0"}), nil
	}

	defer func() {
		if p := recover(); p != nil {
			failure := model.NewDecodeError(record, fmt.Errorf("%s decoder panic: %v", reg.name, p))
			event = unknownFrom(record, failure)
			decodeErr = &failure
		}
	}()

	data, err := reg.decode(record)
	if err != nil {
		failure := model.NewDecodeError(record, fmt.Errorf("%s: %w", reg.name, err))
		return unknownFrom(record, failure), &failure
	}
	return model.NewDecodedEvent(record, data), nil
}

func unknownFrom(record model.LogRecord, failure model.DecodeError) model.DecodedEvent {
	return model.NewDecodedEvent(record, model.Unknown{Topic0: record.Topic0(), Data: record.Data, Reason: failure.Error})
}

func decodeDeposit(event abi.Event) DecodeFunc {
	return func(record model.LogRecord) (model.EventData, error) {
		var out depositV2Log
		if err := unpackEvent(event, record, &out); err != nil {
			return nil, err
		}
		return model.DepositV2{
			Sender:               addressHex(out.Sender),
			Token:                addressHex(out.Token),
			VaultID:              bytes32Hex(out.VaultId),
			DepositAmountUint256: bigString(out.DepositAmountUint256),
		}, nil
	}
}

func decodeWithdraw(event abi.Event) DecodeFunc {
	return func(record model.LogRecord) (model.EventData, error) {
		var out withdrawV2Log
		if err := unpackEvent(event, record, &out); err != nil {
			return nil, err
		}
		return model.WithdrawV2{
			Sender:                addressHex(out.Sender),
			Token:                 addressHex(out.Token),
			VaultID:               bytes32Hex(out.VaultId),
			TargetAmount:          bytes32Hex(out.TargetAmount),
			WithdrawAmount:        bytes32Hex(out.WithdrawAmount),
			WithdrawAmountUint256: bigString(out.WithdrawAmountUint256),
		}, nil
	}
}

func decodeAddOrder(event abi.Event) DecodeFunc {
	return func(record model.LogRecord) (model.EventData, error) {
		var out orderLog
		if err := unpackEvent(event, record, &out); err != nil {
			return nil, err
		}
		return model.AddOrderV3{
			Sender:    addressHex(out.Sender),
			OrderHash: bytes32Hex(out.OrderHash),
			Order:     toOrder(out.Order),
		}, nil
	}
}

func decodeRemoveOrder(event abi.Event) DecodeFunc {
	return func(record model.LogRecord) (model.EventData, error) {
		var out orderLog
		if err := unpackEvent(event, record, &out); err != nil {
			return nil, err
		}
		return model.RemoveOrderV3{
			Sender:    addressHex(out.Sender),
			OrderHash: bytes32Hex(out.OrderHash),
			Order:     toOrder(out.Order),
		}, nil
	}
}

func decodeClear(event abi.Event) DecodeFunc {
	return func(record model.LogRecord) (model.EventData, error) {
		var out clearV3Log
		if err := unpackEvent(event, record, &out); err != nil {
			return nil, err
		}
		cfg := out.ClearConfig
		indexes := make([]uint64, 0, 4)
		for _, v := range []*big.Int{cfg.AliceInputIOIndex, cfg.AliceOutputIOIndex, cfg.BobInputIOIndex, cfg.BobOutputIOIndex} {
			if v == nil || !v.IsUint64() {
				return nil, fmt.Errorf("clear config io index out of range: %v", v)
			}
			indexes = append(indexes, v.Uint64())
		}
		return model.ClearV3{
			Sender: addressHex(out.Sender),
			Alice:  toOrder(out.Alice),
			Bob:    toOrder(out.Bob),
			ClearConfig: model.ClearConfig{
				AliceInputIOIndex:  indexes[0],
				AliceOutputIOIndex: indexes[1],
				BobInputIOIndex:    indexes[2],
				BobOutputIOIndex:   indexes[3],
				AliceBountyVaultID: bytes32Hex(cfg.AliceBountyVaultId),
				BobBountyVaultID:   bytes32Hex(cfg.BobBountyVaultId),
			},
		}, nil
	}
}

func decodeStoreSet(event abi.Event) DecodeFunc {
	return func(record model.LogRecord) (model.EventData, error) {
		var out storeSetLog
		if err := unpackEvent(event, record, &out); err != nil {
			return nil, err
		}
		return model.InterpreterStoreSet{
			StoreAddress: strings.ToLower(record.Address),
			Namespace:    common.BigToHash(out.Namespace).Hex(),
			Key:          bytes32Hex(out.Key),
			Value:        bytes32Hex(out.Value),
		}, nil
	}
}

func toOrder(o orderV4) model.Order {
	return model.Order{
		Owner:        addressHex(o.Owner),
		Interpreter:  addressHex(o.Evaluable.Interpreter),
		Store:        addressHex(o.Evaluable.Store),
		Bytecode:     hexutil.Encode(o.Evaluable.Bytecode),
		ValidInputs:  toIOs(o.ValidInputs),
		ValidOutputs: toIOs(o.ValidOutputs),
		Nonce:        bytes32Hex(o.Nonce),
	}
}

func toIOs(in []ioV2) []model.IO {
	out := make([]model.IO, 0, len(in))
	for _, io := range in {
		out = append(out, model.IO{Token: addressHex(io.Token), VaultID: bytes32Hex(io.VaultId)})
	}
	return out
}

func unpackEvent(event abi.Event, record model.LogRecord, out interface{}) error {
	if _, err := parseIndexedTopics(event, record.Topics); err != nil {
		return err
	}
	data, err := hexutil.Decode(record.Data)
	if err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.Unpack(data)
	if err != nil {
		return fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	if err := event.Inputs.Copy(out, values); err != nil {
		return fmt.Errorf("copy %s: %w", event.Name, err)
	}
	return nil
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return parseTopicHashes(topics[1:])
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func addressHex(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func bytes32Hex(b [32]byte) string {
	return common.Hash(b).Hex()
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
