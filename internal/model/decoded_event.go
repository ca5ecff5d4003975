package model

import "sort"

// DecodedEvent is a log decoded into one of the EventData variants.
type DecodedEvent struct {
	EventType       EventType `json:"event_type"`
	BlockNumber     uint64    `json:"block_number"`
	BlockTimestamp  uint64    `json:"block_timestamp"`
	TransactionHash string    `json:"transaction_hash"`
	LogIndex        uint64    `json:"log_index"`
	Address         string    `json:"address"`
	Data            EventData `json:"decoded_data"`
	Raw             LogRecord `json:"raw"`
}

// NewDecodedEvent builds an event for record carrying data.
func NewDecodedEvent(record LogRecord, data EventData) DecodedEvent {
	return DecodedEvent{
		EventType:       data.EventType(),
		BlockNumber:     record.BlockNumber,
		TransactionHash: record.TxHash,
		LogIndex:        record.LogIndex,
		Address:         record.Address,
		Data:            data,
		Raw:             record,
	}
}

// Less orders events by (block_number, log_index).
func (e DecodedEvent) Less(other DecodedEvent) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	return e.LogIndex < other.LogIndex
}

// SortEvents sorts events ascending by (block_number, log_index).
func SortEvents(events []DecodedEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Less(events[j])
	})
}

// SortLogs sorts raw logs ascending by (block_number, log_index).
func SortLogs(logs []LogRecord) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].LogIndex < logs[j].LogIndex
	})
}
