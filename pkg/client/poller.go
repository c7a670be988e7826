package client

import (
	"context"
	"time"

	"github.com/nainya/cfgstore/pkg/snapshot"
)

// SnapshotPoller tracks a snapshot creation on the server.
type SnapshotPoller struct {
	c    *Client
	id   string
	last *Operation
}

// ID returns the operation id.
func (p *SnapshotPoller) ID() string { return p.id }

// Done reports whether the last poll saw a terminal status.
func (p *SnapshotPoller) Done() bool {
	return p.last != nil && snapshot.Status(p.last.Status).Terminal()
}

// Poll fetches the current state of the operation.
func (p *SnapshotPoller) Poll(ctx context.Context) (*snapshot.PollResult, error) {
	var op Operation
	resp, err := p.c.rc.R().
		SetContext(ctx).
		SetPathParam("id", p.id).
		SetResult(&op).
		SetError(&ErrorBody{}).
		Get("/operations/{id}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	p.last = &op
	return pollResult(&op), nil
}

// Wait polls every interval until the operation finishes or ctx ends.
func (p *SnapshotPoller) Wait(ctx context.Context, interval time.Duration) (*snapshot.PollResult, error) {
	if p.Done() {
		return pollResult(p.last), nil
	}
	if interval <= 0 {
		interval = snapshot.DefaultPollInterval
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
		case <-ticker.C:
		}
	}
}

func pollResult(op *Operation) *snapshot.PollResult {
	res := &snapshot.PollResult{Status: snapshot.Status(op.Status)}
	if op.Snapshot != nil {
		res.Snapshot = op.Snapshot.Snapshot()
	}
	if op.Error != nil {
		res.Error = &snapshot.ErrorDetail{Code: op.Error.Code, Message: op.Error.Message}
	}
	return res
}
