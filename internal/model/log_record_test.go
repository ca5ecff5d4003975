package model

import (
	"reflect"
	"testing"
)

func TestLogRecordTopic0(t *testing.T) {
	record := LogRecord{
		ChainID:     42161,
		BlockNumber: 36000000,
		TxHash:      "0xdef456",
		LogIndex:    12,
		Address:     "0x1111111111111111111111111111111111111111",
		Topics:      []string{"0xaaa", "0xbbb"},
		Data:        "0xdeadbeef",
	}
	if got := record.Topic0(); got != "0xaaa" {
		t.Fatalf("topic0 mismatch: got %q", got)
	}

	record.Topics = nil
	if got := record.Topic0(); got != "" {
		t.Fatalf("anonymous log topic0: got %q", got)
	}
}

func TestSortLogsByBlockThenIndex(t *testing.T) {
	logs := []LogRecord{
		{BlockNumber: 12, LogIndex: 0, TxHash: "c"},
		{BlockNumber: 10, LogIndex: 5, TxHash: "b"},
		{BlockNumber: 10, LogIndex: 1, TxHash: "a"},
		{BlockNumber: 11, LogIndex: 0, TxHash: "d"},
	}
	SortLogs(logs)

	got := make([]string, 0, len(logs))
	for _, log := range logs {
		got = append(got, log.TxHash)
	}
	want := []string{"a", "b", "d", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order mismatch: got %v want %v", got, want)
	}
}
