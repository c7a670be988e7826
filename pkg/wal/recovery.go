package wal

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReplayFunc is called for each operation of a committed transaction
type ReplayFunc func(op OpType, key, value []byte) error

// Recovery replays committed transactions from the log
type Recovery struct {
	wal *WAL
}

// NewRecovery creates a recovery manager
func NewRecovery(wal *WAL) *Recovery {
	return &Recovery{wal: wal}
}

// RecoveryStats describes a replay
type RecoveryStats struct {
	TotalEntries       int
	SkippedEntries     int
	CommittedTxns      int
	UncommittedTxns    int
	ReplayedOperations int
	LastCheckpointLSN  uint64
}

// Recover replays every committed transaction whose entries all lie above
// after. Pass the mark stored with the last checkpoint, or 0 without one.
func (r *Recovery) Recover(after uint64, replay ReplayFunc) (*RecoveryStats, error) {
	stats := &RecoveryStats{}

	files, err := r.wal.Files()
	if err != nil {
		return nil, err
	}
	reader := NewReader(files)
	defer reader.Close()

	var entries []*Entry
	for {
		e, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	stats.TotalEntries = len(entries)
	stats.SkippedEntries = reader.Skipped

	if cp := lastCheckpoint(entries); cp != nil && len(cp.Value) == 8 {
		stats.LastCheckpointLSN = binary.LittleEndian.Uint64(cp.Value)
	}

	for _, txn := range groupByTransaction(entries) {
		if txn.StartLSN <= after {
			continue
		}
		if !txn.Committed {
			stats.UncommittedTxns++
			continue
		}
		stats.CommittedTxns++
		for _, entry := range txn.Entries {
			if err := replay(entry.OpType, entry.Key, entry.Value); err != nil {
				return stats, fmt.Errorf("replay failed at LSN %d: %w", entry.LSN, err)
			}
			stats.ReplayedOperations++
		}
	}
	return stats, nil
}

// Transaction is the group of entries sharing a TxnID
type Transaction struct {
	TxnID     uint64
	StartLSN  uint64
	Entries   []*Entry
	Committed bool
}

func groupByTransaction(entries []*Entry) []*Transaction {
	txnMap := make(map[uint64]*Transaction)
	var txnList []*Transaction

	for _, entry := range entries {
		if entry.OpType == OpCheckpoint {
			continue
		}
		txn, ok := txnMap[entry.TxnID]
		if !ok {
			txn = &Transaction{TxnID: entry.TxnID, StartLSN: entry.LSN}
			txnMap[entry.TxnID] = txn
			txnList = append(txnList, txn)
		}
		if entry.OpType == OpCommit {
			txn.Committed = true
		} else {
			txn.Entries = append(txn.Entries, entry)
		}
	}
	return txnList
}

func lastCheckpoint(entries []*Entry) *Entry {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].OpType == OpCheckpoint {
			return entries[i]
		}
	}
	return nil
}
