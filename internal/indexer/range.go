package indexer

import (
	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// SplitRange splits a block range into batches of size batchSize.
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	if batchSize == 0 {
		return nil, syncerr.Configf("batch size must be greater than zero")
	}
	if to < from {
		return nil, syncerr.Configf("to block %d must be >= from block %d", to, from)
	}

	ranges := make([]BlockRange, 0, (to-from)/batchSize+1)
	start := from
	for start <= to {
		remaining := to - start + 1
		var end uint64
		if remaining <= batchSize {
			end = to
		} else {
			end = start + batchSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}

	return ranges, nil
}

// SplitWindow splits a non-empty window into fetch sub-ranges.
func SplitWindow(window model.BlockWindow, batchSize uint64) ([]BlockRange, error) {
	if window.Empty() {
		return nil, nil
	}
	return SplitRange(window.Start, window.End, batchSize)
}
