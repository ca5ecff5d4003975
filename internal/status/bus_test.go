package status

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
)

var target = model.NewOrderbookIdentifier(10, common.HexToAddress("0x00000000000000000000000000000000000000cd"))

type failingBus struct{ err error }

func (f failingBus) Publish(context.Context, Update) error { return f.err }

func TestJSONLBusAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "status.jsonl")
	bus := NewJSONLBus(path)

	require.NoError(t, bus.Publish(context.Background(), Update{Target: target, State: model.StateWindowComputed, StartBlock: 1, EndBlock: 9}))
	require.NoError(t, bus.Publish(context.Background(), Update{Target: target, State: model.StateReported}))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var states []model.SyncState
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var u Update
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &u))
		assert.Equal(t, target, u.Target)
		states = append(states, u.State)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []model.SyncState{model.StateWindowComputed, model.StateReported}, states)
}

func TestMultiJoinsErrorsAndKeepsPublishing(t *testing.T) {
	rec := NewRecorder()
	boom := errors.New("boom")
	bus := Multi{failingBus{err: boom}, nil, rec}

	err := bus.Publish(context.Background(), Update{Target: target, State: model.StateApplied})
	require.ErrorIs(t, err, boom)
	assert.Len(t, rec.Updates(), 1)
}

func TestRecorderLatestAndStates(t *testing.T) {
	rec := NewRecorder()
	other := model.NewOrderbookIdentifier(11, target.Address)
	ctx := context.Background()

	require.NoError(t, rec.Publish(ctx, Update{Target: target, State: model.StateCreated}))
	require.NoError(t, rec.Publish(ctx, Update{Target: other, State: model.StateFailed}))
	require.NoError(t, rec.Publish(ctx, Update{Target: target, State: model.StateReported}))

	latest, ok := rec.Latest(target)
	require.True(t, ok)
	assert.Equal(t, model.StateReported, latest.State)
	assert.Equal(t, []model.SyncState{model.StateCreated, model.StateReported}, rec.States(target))

	_, ok = rec.Latest(model.NewOrderbookIdentifier(12, target.Address))
	assert.False(t, ok)
}

func TestLogBusLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	bus := NewLogBus(zap.New(core))

	require.NoError(t, bus.Publish(context.Background(), Update{Target: target, State: model.StateReported, Message: "sync complete", EndBlock: 5}))
	require.NoError(t, bus.Publish(context.Background(), Update{Target: target, State: model.StateFailed, Stage: "apply", Error: "storage error"}))

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, "sync complete", entries[0].Message)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Equal(t, "apply", entries[1].ContextMap()["stage"])
}

func TestRedisBusReportsConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	err := NewRedisBus(client, "").Publish(context.Background(), Update{Target: target, State: model.StateReported})
	require.Error(t, err)
}
