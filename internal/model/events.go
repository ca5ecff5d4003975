package model

// EventType tags a decoded event.
type EventType string

const (
	EventDepositV2           EventType = "DepositV2"
	EventWithdrawV2          EventType = "WithdrawV2"
	EventAddOrderV3          EventType = "AddOrderV3"
	EventRemoveOrderV3       EventType = "RemoveOrderV3"
	EventClearV3             EventType = "ClearV3"
	EventInterpreterStoreSet EventType = "InterpreterStoreSet"
	EventUnknown             EventType = "Unknown"
)

// EventData is the closed set of decoded payloads.
type EventData interface {
	EventType() EventType
}

// DepositV2 is the decoded DepositV2 payload. Amounts are base-10 integers.
type DepositV2 struct {
	Sender               string `json:"sender"`
	Token                string `json:"token"`
	VaultID              string `json:"vault_id"`
	DepositAmountUint256 string `json:"deposit_amount_uint256"`
}

// WithdrawV2 is the decoded WithdrawV2 payload. TargetAmount and
// WithdrawAmount are the raw 32-byte float encodings.
type WithdrawV2 struct {
	Sender                string `json:"sender"`
	Token                 string `json:"token"`
	VaultID               string `json:"vault_id"`
	TargetAmount          string `json:"target_amount"`
	WithdrawAmount        string `json:"withdraw_amount"`
	WithdrawAmountUint256 string `json:"withdraw_amount_uint256"`
}

// IO is one order input or output vault.
type IO struct {
	Token   string `json:"token"`
	VaultID string `json:"vault_id"`
}

// Order is an orderbook order as emitted in AddOrderV3/RemoveOrderV3/ClearV3.
type Order struct {
	Owner        string `json:"owner"`
	Interpreter  string `json:"interpreter"`
	Store        string `json:"store"`
	Bytecode     string `json:"bytecode"`
	ValidInputs  []IO   `json:"valid_inputs"`
	ValidOutputs []IO   `json:"valid_outputs"`
	Nonce        string `json:"nonce"`
}

type AddOrderV3 struct {
	Sender    string `json:"sender"`
	OrderHash string `json:"order_hash"`
	Order     Order  `json:"order"`
}

type RemoveOrderV3 struct {
	Sender    string `json:"sender"`
	OrderHash string `json:"order_hash"`
	Order     Order  `json:"order"`
}

// ClearConfig selects the IO indexes used by a clear.
type ClearConfig struct {
	AliceInputIOIndex  uint64 `json:"alice_input_io_index"`
	AliceOutputIOIndex uint64 `json:"alice_output_io_index"`
	BobInputIOIndex    uint64 `json:"bob_input_io_index"`
	BobOutputIOIndex   uint64 `json:"bob_output_io_index"`
	AliceBountyVaultID string `json:"alice_bounty_vault_id"`
	BobBountyVaultID   string `json:"bob_bounty_vault_id"`
}

type ClearV3 struct {
	Sender      string      `json:"sender"`
	Alice       Order       `json:"alice"`
	Bob         Order       `json:"bob"`
	ClearConfig ClearConfig `json:"clear_config"`
}

// InterpreterStoreSet is a Set log emitted by an interpreter store.
type InterpreterStoreSet struct {
	StoreAddress string `json:"store_address"`
	Namespace    string `json:"namespace"`
	Key          string `json:"key"`
	Value        string `json:"value"`
}

// Unknown keeps the raw bytes of a log no decoder accepted.
type Unknown struct {
	Topic0 string `json:"topic0"`
	Data   string `json:"data"`
	Reason string `json:"reason,omitempty"`
}

func (DepositV2) EventType() EventType { return EventDepositV2 }
func (WithdrawV2) EventType() EventType { return EventWithdrawV2 }
func (AddOrderV3) EventType() EventType { return EventAddOrderV3 }
func (RemoveOrderV3) EventType() EventType { return EventRemoveOrderV3 }
func (ClearV3) EventType() EventType { return EventClearV3 }
func (InterpreterStoreSet) EventType() EventType { return EventInterpreterStoreSet }
func (Unknown) EventType() EventType { return EventUnknown }
