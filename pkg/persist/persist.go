// ABOUTME: Durability for settings and snapshots on top of the WAL
// ABOUTME: Journals every change, checkpoints full state, recovers on open

package persist

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/nainya/cfgstore/pkg/setting"
	"github.com/nainya/cfgstore/pkg/snapshot"
	"github.com/nainya/cfgstore/pkg/wal"
)

// Options configure persistence.
type Options struct {
	// WALPath is the base path of the log segments. The checkpoint is
	// written next to it as <WALPath>.ckpt.
	WALPath            string
	CheckpointInterval time.Duration
	// NoSync skips fsync; tests only.
	NoSync bool
}

// checkpoint is the on-disk full state. Mark is the highest LSN whose
// transaction is reflected in it.
type checkpoint struct {
	Mark      uint64              `msgpack:"mark"`
	WrittenAt time.Time           `msgpack:"written_at"`
	Revisions []*setting.Revision `msgpack:"revisions"`
	Snapshots []*snapshot.Record  `msgpack:"snapshots"`
}

// RecoveryStats summarizes Open.
type RecoveryStats struct {
	CheckpointMark   uint64
	CheckpointRevs   int
	CheckpointSnaps  int
	Replayed         int
	Uncommitted      int
	SkippedEntries   int
	InterruptedSnaps int
}

// Persister owns the WAL, the checkpoint file and the checkpoint loop.
type Persister struct {
	opts   Options
	wal    *wal.WAL
	store  *setting.Store
	snaps  *snapshot.Manager
	cp     *wal.Checkpointer
	log    zerolog.Logger
	stats  RecoveryStats
	closed bool
}

// Open recovers store and snaps from disk, then journals all further
// changes. Both must be empty and must not be written to until Open returns.
func Open(opts Options, store *setting.Store, snaps *snapshot.Manager, log zerolog.Logger) (*Persister, error) {
	if opts.WALPath == "" {
		return nil, errors.New("persist: empty WAL path")
	}
	p := &Persister{
		opts:  opts,
		wal:   &wal.WAL{Path: opts.WALPath, NoSync: opts.NoSync},
		store: store,
		snaps: snaps,
		log:   log,
	}
	if err := p.wal.Open(); err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	if err := p.recover(); err != nil {
		p.wal.Close()
		return nil, err
	}

	j := &journal{wal: p.wal}
	store.SetJournal(j)
	snaps.SetJournal(j)

	// journaled, so the failure is not repeated on the next start
	n, err := snaps.FailInterrupted()
	if err != nil {
		p.wal.Close()
		return nil, fmt.Errorf("fail interrupted snapshots: %w", err)
	}
	p.stats.InterruptedSnaps = n

	p.cp = wal.NewCheckpointer(p.wal, p.flush, log)
	if opts.CheckpointInterval > 0 {
		p.cp.SetInterval(opts.CheckpointInterval)
		p.cp.Start()
	}

	log.Info().
		Str("wal", opts.WALPath).
		Uint64("checkpoint_mark", p.stats.CheckpointMark).
		Int("checkpoint_revisions", p.stats.CheckpointRevs).
		Int("checkpoint_snapshots", p.stats.CheckpointSnaps).
		Int("replayed", p.stats.Replayed).
		Int("uncommitted", p.stats.Uncommitted).
		Int("skipped", p.stats.SkippedEntries).
		Int("interrupted_snapshots", p.stats.InterruptedSnaps).
		Msg("state recovered")
	return p, nil
}

// Stats returns what Open recovered.
func (p *Persister) Stats() RecoveryStats {
	return p.stats
}

func (p *Persister) checkpointPath() string {
	return p.opts.WALPath + ".ckpt"
}

func (p *Persister) recover() error {
	ckpt, err := readCheckpoint(p.checkpointPath())
	if err != nil {
		return err
	}
	for _, rev := range ckpt.Revisions {
		if err := p.store.ApplyRevision(rev); err != nil {
			return fmt.Errorf("restore revision %d: %w", rev.Seq, err)
		}
	}
	for _, rec := range ckpt.Snapshots {
		if err := p.snaps.Restore(rec); err != nil {
			return fmt.Errorf("restore snapshot %q: %w", rec.Snapshot.Name, err)
		}
	}
	p.stats.CheckpointMark = ckpt.Mark
	p.stats.CheckpointRevs = len(ckpt.Revisions)
	p.stats.CheckpointSnaps = len(ckpt.Snapshots)

	ws, err := wal.NewRecovery(p.wal).Recover(ckpt.Mark, p.replay)
	if err != nil {
		return fmt.Errorf("replay wal: %w", err)
	}
	p.stats.Replayed = ws.ReplayedOperations
	p.stats.Uncommitted = ws.UncommittedTxns
	p.stats.SkippedEntries = ws.SkippedEntries
	return nil
}

func (p *Persister) replay(op wal.OpType, key, value []byte) error {
	switch op {
	case wal.OpRevision:
		var rev setting.Revision
		if err := msgpack.Unmarshal(value, &rev); err != nil {
			return fmt.Errorf("decode revision: %w", err)
		}
		return p.store.ApplyRevision(&rev)
	case wal.OpSnapshot:
		var rec snapshot.Record
		if err := msgpack.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		return p.snaps.Restore(&rec)
	}
	return fmt.Errorf("unexpected op %s", op)
}

// flush captures a consistent cut of both stores together with the log
// position it covers and writes it to the checkpoint file.
func (p *Persister) flush() (uint64, error) {
	var (
		mark    uint64
		records []*snapshot.Record
		err     error
	)
	view := p.store.Freeze(func() {
		records, err = p.snaps.Freeze(func() {
			mark = p.wal.LastLSN()
		})
	})
	if err != nil {
		return 0, err
	}
	revs, err := view.Revisions()
	if err != nil {
		return 0, err
	}

	ckpt := &checkpoint{Mark: mark, WrittenAt: time.Now().UTC(), Revisions: revs, Snapshots: records}
	if err := writeCheckpoint(p.checkpointPath(), ckpt, !p.opts.NoSync); err != nil {
		return 0, err
	}
	return mark, nil
}

// Checkpoint writes a checkpoint now.
func (p *Persister) Checkpoint() error {
	return p.cp.Checkpoint()
}

// Close waits for running snapshot materializations, stops the checkpoint
// loop, writes a final checkpoint and closes the log.
func (p *Persister) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.snaps.Close()
	if p.opts.CheckpointInterval > 0 {
		p.cp.Stop()
	}
	err := p.cp.Checkpoint()
	if cerr := p.wal.Close(); err == nil {
		err = cerr
	}
	return err
}

func readCheckpoint(path string) (*checkpoint, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &checkpoint{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ckpt checkpoint
	if err := msgpack.NewDecoder(bufio.NewReader(f)).Decode(&ckpt); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return &ckpt, nil
}

// writeCheckpoint replaces path atomically through a temp file and rename.
func writeCheckpoint(path string, ckpt *checkpoint, sync bool) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := msgpack.NewEncoder(w).Encode(ckpt); err != nil {
		f.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if sync {
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	if !sync {
		return nil
	}
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}

// journal adapts the WAL to the setting and snapshot journals.
type journal struct {
	wal *wal.WAL
}

func (j *journal) AppendRevision(rev *setting.Revision) error {
	payload, err := msgpack.Marshal(rev)
	if err != nil {
		return err
	}
	_, err = j.wal.Commit(wal.Record{Op: wal.OpRevision, Key: rev.Setting.ID(), Value: payload})
	return err
}

func (j *journal) AppendSnapshot(rec *snapshot.Record) error {
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = j.wal.Commit(wal.Record{Op: wal.OpSnapshot, Key: []byte(rec.Snapshot.Name), Value: payload})
	return err
}
