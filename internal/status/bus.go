package status

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
)

// Update is one progress or outcome record for a target.
type Update struct {
	RunID      string                    `json:"run_id,omitempty"`
	Target     model.OrderbookIdentifier `json:"target"`
	State      model.SyncState           `json:"state"`
	Stage      string                    `json:"stage,omitempty"`
	Message    string                    `json:"message,omitempty"`
	StartBlock uint64                    `json:"start_block,omitempty"`
	EndBlock   uint64                    `json:"end_block,omitempty"`
	Events     int                       `json:"events,omitempty"`
	Error      string                    `json:"error,omitempty"`
	Time       time.Time                 `json:"time"`
}

// Bus receives status updates. Publishing must not block on slow consumers
// for longer than ctx allows.
type Bus interface {
	Publish(ctx context.Context, update Update) error
}

// Nop discards updates.
type Nop struct{}

func (Nop) Publish(context.Context, Update) error { return nil }

// Multi fans an update out to every bus and joins their errors.
type Multi []Bus

func (m Multi) Publish(ctx context.Context, update Update) error {
	var errs []error
	for _, bus := range m {
		if bus == nil {
			continue
		}
		if err := bus.Publish(ctx, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every update in memory.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, update Update) error {
	r.mu.Lock()
	r.updates = append(r.updates, update)
	r.mu.Unlock()
	return nil
}

// Updates returns a copy of the recorded updates in publish order.
func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

// Latest returns the most recent update for target.
func (r *Recorder) Latest(target model.OrderbookIdentifier) (Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.updates) - 1; i >= 0; i-- {
		if r.updates[i].Target == target {
			return r.updates[i], true
		}
	}
	return Update{}, false
}

// States returns the states published for target, in order.
func (r *Recorder) States(target model.OrderbookIdentifier) []model.SyncState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []model.SyncState
	for _, u := range r.updates {
		if u.Target == target {
			states = append(states, u.State)
		}
	}
	return states
}
