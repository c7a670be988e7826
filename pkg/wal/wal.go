package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultMaxFileSize is the size at which the log rotates (64MB)
	DefaultMaxFileSize = 64 << 20
)

// WAL is a segmented write-ahead log. Segments are named <Path>.000,
// <Path>.001 and so on; only Checkpoint removes them.
type WAL struct {
	// Path is the base path for segments (e.g., "/data/cfgstore.wal")
	Path string

	// MaxFileSize overrides DefaultMaxFileSize when positive
	MaxFileSize int64

	// NoSync skips fsync on commit; tests only
	NoSync bool

	mu        sync.Mutex
	fd        *os.File
	lsn       atomic.Uint64
	fileSize  int64
	fileIndex int
	closed    bool
}

// Open opens the newest segment, or creates the first one.
func (w *WAL) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.Path), 0o755); err != nil {
		return err
	}
	files, err := w.findLogFiles()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		if err := w.openSegmentNoLock(0); err != nil {
			return err
		}
		w.lsn.Store(0)
		w.closed = false
		return nil
	}

	maxLSN, err := highestLSN(files)
	if err != nil {
		return err
	}
	w.lsn.Store(maxLSN)

	w.fileIndex = w.segmentIndex(files[len(files)-1])
	if err := w.openSegmentNoLock(w.fileIndex); err != nil {
		return err
	}
	w.closed = false
	return nil
}

func (w *WAL) openSegmentNoLock(index int) error {
	fd, err := os.OpenFile(w.logFilePath(index), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	stat, err := fd.Stat()
	if err != nil {
		fd.Close()
		return err
	}
	w.fd = fd
	w.fileIndex = index
	w.fileSize = stat.Size()
	return nil
}

// LastLSN returns the highest LSN handed out so far.
func (w *WAL) LastLSN() uint64 {
	return w.lsn.Load()
}

// Commit appends recs as one transaction followed by a commit marker, and
// syncs before returning. It returns the LSN of the commit marker.
func (w *WAL) Commit(recs ...Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrLogClosed
	}

	now := time.Now()
	var buf []byte
	txnID := w.lsn.Load() + 1
	for _, rec := range recs {
		if rec.Op != OpRevision && rec.Op != OpSnapshot {
			return 0, fmt.Errorf("%w: op %s cannot be committed", ErrInvalidEntry, rec.Op)
		}
		e := Entry{LSN: w.lsn.Add(1), TxnID: txnID, OpType: rec.Op, Key: rec.Key, Value: rec.Value, Timestamp: now}
		buf = append(buf, e.Encode()...)
	}
	commit := Entry{LSN: w.lsn.Add(1), TxnID: txnID, OpType: OpCommit, Timestamp: now}
	buf = append(buf, commit.Encode()...)

	if err := w.writeNoLock(buf); err != nil {
		return 0, err
	}
	return commit.LSN, nil
}

func (w *WAL) writeNoLock(data []byte) error {
	if w.fileSize > 0 && w.fileSize+int64(len(data)) > w.maxFileSize() {
		if err := w.rotateNoLock(); err != nil {
			return err
		}
	}
	n, err := w.fd.Write(data)
	w.fileSize += int64(n)
	if err != nil {
		return err
	}
	if w.NoSync {
		return nil
	}
	return w.fd.Sync()
}

func (w *WAL) maxFileSize() int64 {
	if w.MaxFileSize > 0 {
		return w.MaxFileSize
	}
	return DefaultMaxFileSize
}

// Close closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.fd.Close()
}

// rotateNoLock starts a new segment (caller must hold mu)
func (w *WAL) rotateNoLock() error {
	if err := w.fd.Sync(); err != nil {
		return err
	}
	if err := w.fd.Close(); err != nil {
		return err
	}
	return w.openSegmentNoLock(w.fileIndex + 1)
}

// Checkpoint records that all state up to mark is durable elsewhere. It
// starts a fresh segment holding only the marker, which keeps the LSN
// sequence recoverable, then removes older segments whose entries are all at
// or below mark. It returns how many segments were removed.
func (w *WAL) Checkpoint(mark uint64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrLogClosed
	}
	if w.fileSize > 0 {
		if err := w.rotateNoLock(); err != nil {
			return 0, err
		}
	}
	value := make([]byte, 8)
	binary.LittleEndian.PutUint64(value, mark)
	marker := Entry{LSN: w.lsn.Add(1), OpType: OpCheckpoint, Value: value, Timestamp: time.Now()}
	if err := w.writeNoLock(marker.Encode()); err != nil {
		return 0, err
	}

	files, err := w.findLogFiles()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if w.segmentIndex(f) >= w.fileIndex {
			continue
		}
		maxLSN, err := highestLSN([]string{f})
		if err != nil {
			return removed, err
		}
		if maxLSN > mark {
			continue
		}
		if err := os.Remove(f); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Files returns the segments in order.
func (w *WAL) Files() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.findLogFiles()
}

// baseName returns the base filename for segments (e.g., "cfgstore.wal")
func (w *WAL) baseName() string {
	return filepath.Base(w.Path)
}

// logFilePath returns the path for a segment with the given index
func (w *WAL) logFilePath(index int) string {
	return filepath.Join(filepath.Dir(w.Path), fmt.Sprintf("%s.%03d", w.baseName(), index))
}

func (w *WAL) segmentIndex(path string) int {
	var index int
	fmt.Sscanf(filepath.Base(path), w.baseName()+".%d", &index)
	return index
}

// findLogFiles returns all segments sorted by index
func (w *WAL) findLogFiles() ([]string, error) {
	dir := filepath.Dir(w.Path)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && w.isWALFile(entry.Name()) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return w.segmentIndex(files[i]) < w.segmentIndex(files[j])
	})
	return files, nil
}

// isWALFile reports whether name is exactly <base>.<digits>
func (w *WAL) isWALFile(name string) bool {
	var index int
	if _, err := fmt.Sscanf(name, w.baseName()+".%d", &index); err != nil {
		return false
	}
	return name == fmt.Sprintf("%s.%03d", w.baseName(), index)
}

// highestLSN reads files and returns the highest valid LSN
func highestLSN(files []string) (uint64, error) {
	entries, err := ReadAll(files)
	if err != nil {
		return 0, err
	}
	var maxLSN uint64
	for _, e := range entries {
		if e.LSN > maxLSN {
			maxLSN = e.LSN
		}
	}
	return maxLSN, nil
}
