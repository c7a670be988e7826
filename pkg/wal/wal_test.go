package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestWAL(t *testing.T, dir string) *WAL {
	t.Helper()
	w := &WAL{Path: filepath.Join(dir, "cfgstore.wal"), NoSync: true}
	if err := w.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	return w
}

func TestEntryEncodeDecode(t *testing.T) {
	entry := &Entry{
		LSN:       42,
		TxnID:     100,
		OpType:    OpRevision,
		Key:       []byte("app/color"),
		Value:     []byte("payload"),
		Timestamp: time.Unix(0, 1700000000123456789),
	}

	decoded, err := DecodeEntry(entry.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded.LSN != entry.LSN || decoded.TxnID != entry.TxnID || decoded.OpType != entry.OpType {
		t.Errorf("header mismatch: got %s, want %s", decoded, entry)
	}
	if string(decoded.Key) != string(entry.Key) || string(decoded.Value) != string(entry.Value) {
		t.Errorf("body mismatch: got %q/%q", decoded.Key, decoded.Value)
	}
	if !decoded.Timestamp.Equal(entry.Timestamp) {
		t.Errorf("timestamp mismatch: got %v, want %v", decoded.Timestamp, entry.Timestamp)
	}
}

func TestEntryDecodeErrors(t *testing.T) {
	data := (&Entry{LSN: 1, OpType: OpCommit}).Encode()

	if _, err := DecodeEntry(data[:10]); err != ErrTruncated {
		t.Errorf("short frame: got %v", err)
	}

	flipped := append([]byte(nil), data...)
	flipped[3] ^= 0xFF
	if _, err := DecodeEntry(flipped); err != ErrCorrupted {
		t.Errorf("bit flip: got %v", err)
	}
}

func TestCommitAndRead(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)

	for i := 0; i < 3; i++ {
		if _, err := w.Commit(Record{Op: OpRevision, Key: []byte(fmt.Sprintf("k%d", i)), Value: []byte("v")}); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
	if w.LastLSN() != 6 {
		t.Errorf("last LSN = %d, want 6", w.LastLSN())
	}
	w.Close()

	files, _ := w.Files()
	entries, err := ReadAll(files)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 6 {
		t.Fatalf("got %d entries, want 6", len(entries))
	}
	for i, e := range entries {
		want := OpRevision
		if i%2 == 1 {
			want = OpCommit
		}
		if e.OpType != want || e.LSN != uint64(i+1) {
			t.Errorf("entry %d: %s", i, e)
		}
	}
}

func TestCommitRejectsMarkerOps(t *testing.T) {
	w := openTestWAL(t, t.TempDir())
	defer w.Close()

	if _, err := w.Commit(Record{Op: OpCheckpoint}); err == nil {
		t.Error("expected error committing a checkpoint op")
	}
	if w.LastLSN() != 0 {
		t.Errorf("rejected commit consumed LSNs: %d", w.LastLSN())
	}
}

func TestWALRotation(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)
	w.MaxFileSize = 200
	defer w.Close()

	for i := 0; i < 10; i++ {
		if _, err := w.Commit(Record{Op: OpRevision, Key: []byte("key"), Value: make([]byte, 50)}); err != nil {
			t.Fatal(err)
		}
	}

	files, _ := w.Files()
	if len(files) < 2 {
		t.Fatalf("expected rotation, got %d files", len(files))
	}
	entries, err := ReadAll(files)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 20 {
		t.Errorf("rotation lost entries: %d", len(entries))
	}
}

func TestWALReopen(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)
	for i := 0; i < 5; i++ {
		w.Commit(Record{Op: OpSnapshot, Key: []byte("s"), Value: []byte("v")})
	}
	last := w.LastLSN()
	w.Close()

	w2 := openTestWAL(t, dir)
	defer w2.Close()
	if w2.LastLSN() != last {
		t.Fatalf("reopened LSN = %d, want %d", w2.LastLSN(), last)
	}
	lsn, err := w2.Commit(Record{Op: OpSnapshot, Key: []byte("s")})
	if err != nil {
		t.Fatal(err)
	}
	if lsn != last+2 {
		t.Errorf("commit LSN = %d, want %d", lsn, last+2)
	}
}

func TestWALCorruptedEntry(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)
	for i := 0; i < 5; i++ {
		w.Commit(Record{Op: OpRevision, Key: []byte(fmt.Sprintf("key-%d", i)), Value: []byte("value")})
	}
	w.Close()

	files, _ := w.Files()
	fd, err := os.OpenFile(files[0], os.O_RDWR, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	// flip a byte inside the value of the first entry
	fd.WriteAt([]byte{0xAA}, EntryHeaderSize+6)
	fd.Close()

	reader := NewReader(files)
	defer reader.Close()
	count := 0
	for {
		if _, err := reader.Next(); err != nil {
			break
		}
		count++
	}
	if count != 9 || reader.Skipped != 1 {
		t.Errorf("read %d entries, skipped %d; want 9 and 1", count, reader.Skipped)
	}
}

func TestTornTail(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir)
	w.Commit(Record{Op: OpRevision, Key: []byte("a")})
	w.Close()

	files, _ := w.Files()
	fd, _ := os.OpenFile(files[0], os.O_WRONLY|os.O_APPEND, 0o644)
	fd.Write((&Entry{LSN: 3, OpType: OpRevision, Key: []byte("partial")}).Encode()[:20])
	fd.Close()

	entries, err := ReadAll(files)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2", len(entries))
	}
}

func TestMultipleLogsSameDirectory(t *testing.T) {
	dir := t.TempDir()
	a := &WAL{Path: filepath.Join(dir, "a.wal"), NoSync: true}
	b := &WAL{Path: filepath.Join(dir, "b.wal"), NoSync: true}
	for _, w := range []*WAL{a, b} {
		if err := w.Open(); err != nil {
			t.Fatal(err)
		}
		defer w.Close()
	}
	a.Commit(Record{Op: OpRevision, Key: []byte("a")})
	b.Commit(Record{Op: OpRevision, Key: []byte("b")})
	b.Commit(Record{Op: OpRevision, Key: []byte("b")})

	filesA, _ := a.Files()
	filesB, _ := b.Files()
	entriesA, _ := ReadAll(filesA)
	entriesB, _ := ReadAll(filesB)
	if len(entriesA) != 2 || len(entriesB) != 4 {
		t.Errorf("logs not isolated: a=%d b=%d", len(entriesA), len(entriesB))
	}
}

func BenchmarkCommit(b *testing.B) {
	w := &WAL{Path: filepath.Join(b.TempDir(), "bench.wal"), NoSync: true}
	if err := w.Open(); err != nil {
		b.Fatal(err)
	}
	defer w.Close()

	value := make([]byte, 256)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Commit(Record{Op: OpRevision, Key: []byte("bench"), Value: value})
	}
}
