package syncerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrapped(t *testing.T) {
	base := errors.New("connection reset")
	err := fmt.Errorf("fetch logs: %w", Transport("eth_getLogs", base))

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindTransport, kind)
	assert.True(t, Is(err, KindTransport))
	assert.False(t, Is(err, KindStorage))
	assert.ErrorIs(t, err, base)
}

func TestStageError(t *testing.T) {
	err := AtStage(StageApply, Storage("execute batch", errors.New("disk full")))

	stage, ok := StageOf(err)
	require.True(t, ok)
	assert.Equal(t, StageApply, stage)
	assert.True(t, Is(err, KindStorage))
	assert.Contains(t, err.Error(), "stage apply")
	assert.Nil(t, AtStage(StageApply, nil))
}
