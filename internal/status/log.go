package status

import (
	"context"

	"go.uber.org/zap"
)

// LogBus writes updates to a zap logger.
type LogBus struct {
	logger *zap.Logger
}

func NewLogBus(logger *zap.Logger) *LogBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogBus{logger: logger}
}

func (b *LogBus) Publish(_ context.Context, u Update) error {
	fields := []zap.Field{
		zap.Uint64("chain_id", u.Target.ChainID),
		zap.String("orderbook", u.Target.AddressHex()),
		zap.String("state", string(u.State)),
	}
	if u.RunID != "" {
		fields = append(fields, zap.String("run_id", u.RunID))
	}
	if u.Stage != "" {
		fields = append(fields, zap.String("stage", u.Stage))
	}
	if u.EndBlock > 0 {
		fields = append(fields, zap.Uint64("from", u.StartBlock), zap.Uint64("to", u.EndBlock))
	}
	if u.Events > 0 {
		fields = append(fields, zap.Int("events", u.Events))
	}

	msg := u.Message
	if msg == "" {
		msg = "sync status"
	}
	if u.Error != "" {
		b.logger.Error(msg, append(fields, zap.String("error", u.Error))...)
		return nil
	}
	b.logger.Info(msg, fields...)
	return nil
}
