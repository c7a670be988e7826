package wal

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCheckpointWritesMarker(t *testing.T) {
	w := openTestWAL(t, t.TempDir())
	defer w.Close()

	w.Commit(Record{Op: OpRevision, Key: []byte("a")})
	mark := w.LastLSN()

	cp := NewCheckpointer(w, func() (uint64, error) { return mark, nil }, zerolog.Nop())
	if err := cp.Checkpoint(); err != nil {
		t.Fatal(err)
	}

	files, _ := w.Files()
	entries, err := ReadAll(files)
	if err != nil {
		t.Fatal(err)
	}
	if cp := lastCheckpoint(entries); cp == nil {
		t.Fatal("no checkpoint marker")
	}
}

func TestCheckpointTruncation(t *testing.T) {
	w := openTestWAL(t, t.TempDir())
	w.MaxFileSize = 150
	defer w.Close()

	for i := 0; i < 5; i++ {
		w.Commit(Record{Op: OpRevision, Key: []byte("k"), Value: make([]byte, 40)})
	}
	before, _ := w.Files()
	if len(before) < 3 {
		t.Fatalf("expected several segments, got %d", len(before))
	}

	mark := w.LastLSN()
	cp := NewCheckpointer(w, func() (uint64, error) { return mark, nil }, zerolog.Nop())
	if err := cp.Checkpoint(); err != nil {
		t.Fatal(err)
	}

	after, _ := w.Files()
	if len(after) != 1 {
		t.Errorf("expected only the active segment, got %d", len(after))
	}

	// entries above the mark survive truncation
	w.Commit(Record{Op: OpRevision, Key: []byte("late")})
	got, _ := collect(t, w, mark)
	if len(got) != 1 || got[0].key != "late" {
		t.Errorf("replayed %v", got)
	}
}

func TestTruncateKeepsSegmentsAboveMark(t *testing.T) {
	w := openTestWAL(t, t.TempDir())
	w.MaxFileSize = 150
	defer w.Close()

	w.Commit(Record{Op: OpRevision, Key: []byte("a"), Value: make([]byte, 40)})
	mark := w.LastLSN()
	w.Commit(Record{Op: OpRevision, Key: []byte("b"), Value: make([]byte, 40)})

	if _, err := w.Checkpoint(mark); err != nil {
		t.Fatal(err)
	}
	got, _ := collect(t, w, mark)
	if len(got) != 1 || got[0].key != "b" {
		t.Errorf("replayed %v", got)
	}
}

func TestCheckpointInterval(t *testing.T) {
	w := openTestWAL(t, t.TempDir())
	defer w.Close()

	var calls atomic.Int32
	cp := NewCheckpointer(w, func() (uint64, error) {
		calls.Add(1)
		return w.LastLSN(), nil
	}, zerolog.Nop())
	cp.SetInterval(10 * time.Millisecond)
	cp.Start()
	time.Sleep(100 * time.Millisecond)
	cp.Stop()

	if calls.Load() < 2 {
		t.Errorf("expected several checkpoints, got %d", calls.Load())
	}
}

func TestCheckpointFlushError(t *testing.T) {
	w := openTestWAL(t, t.TempDir())
	defer w.Close()

	boom := errors.New("disk full")
	cp := NewCheckpointer(w, func() (uint64, error) { return 0, boom }, zerolog.Nop())
	if err := cp.Checkpoint(); !errors.Is(err, boom) {
		t.Errorf("got %v", err)
	}
	if w.LastLSN() != 0 {
		t.Error("failed flush must not write a marker")
	}
}
