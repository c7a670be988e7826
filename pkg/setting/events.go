package setting

import (
	"context"
	"time"
)

// EventType names a committed change.
type EventType string

const (
	EventPut      EventType = "put"
	EventDelete   EventType = "delete"
	EventLocked   EventType = "locked"
	EventUnlocked EventType = "unlocked"
)

// Event describes a committed mutation.
type Event struct {
	Type  EventType `json:"type"`
	Key   string    `json:"key"`
	Label *string   `json:"label"`
	ETag  string    `json:"etag"`
	Seq   uint64    `json:"seq"`
	At    time.Time `json:"at"`
}

// EventSink receives events after commit. Publish must not block for long
// and cannot fail the mutation.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

func (s *Store) publish(ctx context.Context, rev *Revision, m mutation) {
	if s.sink == nil {
		return
	}
	ev := Event{
		Type:  EventPut,
		Key:   rev.Setting.Key,
		Label: cloneString(rev.Setting.Label),
		ETag:  rev.Setting.ETag,
		Seq:   rev.Seq,
		At:    rev.Setting.LastModified,
	}
	switch {
	case rev.Deleted:
		ev.Type = EventDelete
	case m == mutationLock && rev.Setting.ReadOnly:
		ev.Type = EventLocked
	case m == mutationLock:
		ev.Type = EventUnlocked
	}
	s.sink.Publish(ctx, ev)
}
