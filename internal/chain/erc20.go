package chain

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
)

const erc20ABIStringJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"}
]`

// Some older tokens (MKR, SAI) return bytes32 for name and symbol.
const erc20ABIBytes32JSON = `[
  {"inputs": [], "name": "symbol", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"}
]`

type erc20ABIs struct {
	str     abi.ABI
	bytes32 abi.ABI
}

var (
	erc20Once sync.Once
	erc20     erc20ABIs
	erc20Err  error
)

func erc20ABI() (erc20ABIs, error) {
	erc20Once.Do(func() {
		erc20.str, erc20Err = abi.JSON(strings.NewReader(erc20ABIStringJSON))
		if erc20Err != nil {
			return
		}
		erc20.bytes32, erc20Err = abi.JSON(strings.NewReader(erc20ABIBytes32JSON))
	})
	return erc20, erc20Err
}

// FetchTokenMetadata loads ERC-20 decimals, symbol and name. Decimals are
// required; name and symbol fall back to bytes32 encodings and are left empty
// when neither decodes.
func (c *Client) FetchTokenMetadata(ctx context.Context, token common.Address) (model.TokenMetadata, error) {
	meta := model.TokenMetadata{Address: strings.ToLower(token.Hex())}

	parsed, err := erc20ABI()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 abi: %w", err)
	}

	call := func(method string, contractABI abi.ABI) ([]interface{}, error) {
		data, err := contractABI.Pack(method)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", method, err)
		}
		resp, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", method, err)
		}
		values, err := contractABI.Unpack(method, resp)
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", method, err)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("unpack %s: empty result", method)
		}
		return values, nil
	}

	values, err := call("decimals", parsed.str)
	if err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, err
	}
	meta.Decimals = decimals

	textField := func(method string) string {
		if values, err := call(method, parsed.str); err == nil {
			if text, ok := values[0].(string); ok {
				return text
			}
		}
		values, err := call(method, parsed.bytes32)
		if err != nil {
			c.logger.Debug("erc20 call failed", zap.String("method", method), zap.String("token", meta.Address), zap.Error(err))
			return ""
		}
		text, _ := bytes32ToString(values[0])
		return text
	}
	meta.Symbol = textField("symbol")
	meta.Name = textField("name")

	return meta, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case uint16:
		return uint8(v), nil
	case uint32:
		return uint8(v), nil
	case uint64:
		return uint8(v), nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("decimals out of range: %s", v)
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
