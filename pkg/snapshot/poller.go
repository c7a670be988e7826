package snapshot

import (
	"context"
	"time"

	"github.com/nainya/cfgstore/pkg/setting"
)

// Poller tracks one snapshot creation.
type Poller struct {
	m  *Manager
	id string
	// done closes when materialization ends in this process; nil for
	// pollers rebuilt from an id after it already ended.
	done <-chan struct{}
}

// ID returns the operation id.
func (p *Poller) ID() string { return p.id }

// Poll returns the current state of the operation. It has no side effects.
func (p *Poller) Poll(ctx context.Context) (*PollResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.m.poll(p.id)
}

// Done reports whether the operation has reached a terminal state.
func (p *Poller) Done() bool {
	res, err := p.m.poll(p.id)
	return err != nil || res.Status.Terminal()
}

// DefaultPollInterval is used by Wait when interval is not positive.
const DefaultPollInterval = time.Second

// Wait polls every interval until the operation is terminal or ctx ends. A
// failed snapshot is returned as a result, not an error.
func (p *Poller) Wait(ctx context.Context, interval time.Duration) (*PollResult, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := p.Poll(ctx)
		if err != nil {
			return nil, err
		}
		if res.Status.Terminal() {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.done:
		case <-ticker.C:
		}
	}
}

// Operation rebuilds the poller for an operation id.
func (m *Manager) Operation(id string) (*Poller, error) {
	if _, err := m.poll(id); err != nil {
		return nil, err
	}
	m.mu.Lock()
	done := m.waiters[id]
	m.mu.Unlock()
	return &Poller{m: m, id: id, done: done}, nil
}

func (m *Manager) poll(id string) (*PollResult, error) {
	if id == "" {
		return nil, setting.InvalidArgument("operation id must not be empty")
	}
	obj, err := m.db.Txn(false).First(tableSnapshots, indexOperation, id)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, setting.NotFound("operation %q not found", id)
	}
	snap := obj.(*Record).Snapshot.Clone()
	res := &PollResult{Status: snap.Status, Snapshot: snap}
	if snap.Status == StatusFailed {
		res.Error = snap.Error
	}
	return res, nil
}
