// Package events publishes committed setting changes to Kafka or Redis
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/cfgstore/internal/metrics"
	"github.com/nainya/cfgstore/pkg/setting"
)

const (
	defaultBuffer      = 1024
	defaultSendTimeout = 5 * time.Second
)

// transport delivers one encoded event.
type transport interface {
	Name() string
	Send(ctx context.Context, key string, body []byte) error
	Close() error
}

// Publisher implements setting.EventSink. Events are queued and sent by a
// background goroutine; a full queue drops the event with a warning.
type Publisher struct {
	t       transport
	log     zerolog.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	queue     chan setting.Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func newPublisher(t transport, log zerolog.Logger, m *metrics.Metrics, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	p := &Publisher{
		t:       t,
		log:     log,
		metrics: m,
		timeout: defaultSendTimeout,
		queue:   make(chan setting.Event, buffer),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish queues ev. It never blocks.
func (p *Publisher) Publish(_ context.Context, ev setting.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.record(fmt.Errorf("queue full"))
		p.log.Warn().Str("key", ev.Key).Uint64("seq", ev.Seq).Msg("event queue full, dropping event")
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		err := p.send(ev)
		p.record(err)
		if err != nil {
			p.log.Error().Err(err).
				Str("sink", p.t.Name()).
				Str("key", ev.Key).
				Uint64("seq", ev.Seq).
				Msg("event publish failed")
		}
	}
}

func (p *Publisher) send(ev setting.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.t.Send(ctx, eventKey(ev), body)
}

func (p *Publisher) record(err error) {
	if p.metrics != nil {
		p.metrics.RecordEvent(p.t.Name(), err)
	}
}

// Close stops accepting events, sends what is queued and closes the
// transport.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
		<-p.done
		err = p.t.Close()
	})
	return err
}

// eventKey partitions events by setting so one setting's changes stay
// ordered.
func eventKey(ev setting.Event) string {
	if ev.Label == nil {
		return ev.Key + "\x00"
	}
	return ev.Key + "\x00" + *ev.Label
}
