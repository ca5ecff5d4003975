package model

// BlockWindow is an inclusive block range. Start > End means empty.
type BlockWindow struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

func (w BlockWindow) Empty() bool {
	return w.Start > w.End
}

// Len returns the number of blocks in the window.
func (w BlockWindow) Len() uint64 {
	if w.Empty() {
		return 0
	}
	return w.End - w.Start + 1
}

// SyncOutcome is the immutable result of one successful engine run.
type SyncOutcome struct {
	Target            OrderbookIdentifier `json:"target"`
	StartBlock        uint64              `json:"start_block"`
	EndBlock          uint64              `json:"end_block"`
	RawEventCount     int                 `json:"raw_event_count"`
	DecodedEventCount int                 `json:"decoded_event_count"`
}

// CaughtUp reports whether the run found nothing to sync.
func (o SyncOutcome) CaughtUp() bool {
	return o.StartBlock > o.EndBlock
}
