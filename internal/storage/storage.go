package storage

import (
	"context"
	"encoding/json"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/sqlstmt"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

// Executor runs statements against one target's store. Implementations apply
// a batch in insertion order and atomically: either every statement lands or
// none does.
type Executor interface {
	Execute(ctx context.Context, batch sqlstmt.Batch) error
	// QueryJSON returns the rows of stmt as a JSON array of objects.
	QueryJSON(ctx context.Context, stmt sqlstmt.Statement) ([]byte, error)
	// ExecScript runs a multi-statement script (DDL, dumps) atomically.
	ExecScript(ctx context.Context, script string) error
}

// QueryJSON runs stmt and decodes its rows into T.
func QueryJSON[T any](ctx context.Context, exec Executor, stmt sqlstmt.Statement) (T, error) {
	var out T
	raw, err := exec.QueryJSON(ctx, stmt)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, syncerr.Storage("decode query result", err)
	}
	return out, nil
}
