package wal

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultCheckpointInterval is how often checkpoints are created
	DefaultCheckpointInterval = 10 * time.Minute
)

// FlushFunc writes the full state somewhere durable and returns the LSN it
// covers: every transaction at or below the mark is reflected in it.
type FlushFunc func() (mark uint64, err error)

// Checkpointer periodically flushes state, logs a checkpoint marker and
// drops segments the flush made redundant.
type Checkpointer struct {
	wal      *WAL
	interval time.Duration
	flushFn  FlushFunc
	log      zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCheckpointer creates a checkpointer
func NewCheckpointer(wal *WAL, flushFn FlushFunc, log zerolog.Logger) *Checkpointer {
	return &Checkpointer{
		wal:      wal,
		interval: DefaultCheckpointInterval,
		flushFn:  flushFn,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// SetInterval changes the checkpoint interval; call before Start
func (c *Checkpointer) SetInterval(interval time.Duration) {
	c.interval = interval
}

// Start starts the background loop
func (c *Checkpointer) Start() {
	go c.run()
}

// Stop stops the loop and waits for it to exit
func (c *Checkpointer) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Checkpointer) run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Checkpoint(); err != nil {
				c.log.Error().Err(err).Msg("checkpoint failed")
			}
		case <-c.stopCh:
			return
		}
	}
}

// Checkpoint flushes, then logs the marker and drops covered segments.
func (c *Checkpointer) Checkpoint() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	mark, err := c.flushFn()
	if err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	removed, err := c.wal.Checkpoint(mark)
	if err != nil {
		return fmt.Errorf("write checkpoint failed: %w", err)
	}

	c.log.Info().
		Uint64("mark", mark).
		Int("segments_removed", removed).
		Dur("duration", time.Since(start)).
		Msg("checkpoint complete")
	return nil
}
