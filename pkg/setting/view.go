package setting

import (
	"bytes"
	"fmt"
	"iter"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/nainya/cfgstore/pkg/storage"
)

const (
	tableSettings  = "settings"
	tableRevisions = "revisions"

	indexID  = "id"
	indexSeq = "seq"
)

func revisionID(rev *Revision) []byte {
	return append(rev.Setting.ID(), storage.EncodeValues(storage.NewUint64Value(rev.Seq))...)
}

func seqKey(seq uint64) []byte {
	return storage.EncodeValues(storage.NewUint64Value(seq))
}

func encodeWith(fn func(*Revision) []byte) *storage.EncodedIndex {
	return &storage.EncodedIndex{Encode: func(obj interface{}) ([]byte, error) {
		rev, ok := obj.(*Revision)
		if !ok {
			return nil, fmt.Errorf("unexpected object %T", obj)
		}
		return fn(rev), nil
	}}
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			// Latest live revision per (key, label)
			tableSettings: {
				Name: tableSettings,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: encodeWith(func(r *Revision) []byte { return r.Setting.ID() }),
					},
				},
			},
			tableRevisions: {
				Name: tableRevisions,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: encodeWith(revisionID),
					},
					indexSeq: {
						Name:    indexSeq,
						Unique:  true,
						Indexer: encodeWith(func(r *Revision) []byte { return seqKey(r.Seq) }),
					},
				},
			},
		},
	}
}

// View is a frozen, read-only view of the store taken at a single instant.
// Writes committed after the view was opened are not visible through it.
type View struct {
	txn *memdb.Txn
}

// Get returns the current setting for (key, label), or nil.
func (v *View) Get(key string, label *string) (*Setting, error) {
	obj, err := v.txn.First(tableSettings, indexID, ID(key, label))
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	return &obj.(*Revision).Setting, nil
}

// GetAsOf returns the state of (key, label) at instant t: the latest revision
// modified at or before t, or nil when none exists or it was a delete.
func (v *View) GetAsOf(key string, label *string, t time.Time) (*Setting, error) {
	id := ID(key, label)
	from := append(append([]byte{}, id...), seqKey(^uint64(0))...)

	it, err := v.txn.ReverseLowerBound(tableRevisions, indexID, from)
	if err != nil {
		return nil, err
	}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rev := obj.(*Revision)
		if !bytes.Equal(rev.Setting.ID(), id) {
			break
		}
		if rev.Setting.LastModified.After(t) {
			continue
		}
		if rev.Deleted {
			return nil, nil
		}
		return &rev.Setting, nil
	}
	return nil, nil
}

// Current iterates current settings in identity order, starting at the
// first identity >= from and stopping once identities leave prefix.
func (v *View) Current(from, prefix []byte) (iter.Seq[*Setting], error) {
	revs, err := v.scan(tableSettings, from, prefix)
	if err != nil {
		return nil, err
	}
	return func(yield func(*Setting) bool) {
		for rev := range revs {
			if !yield(&rev.Setting) {
				return
			}
		}
	}, nil
}

// History iterates every revision in (identity, seq) order, with the same
// from/prefix bounds as Current.
func (v *View) History(from, prefix []byte) (iter.Seq[*Revision], error) {
	return v.scan(tableRevisions, from, prefix)
}

// RevisionsDesc iterates revisions newest first starting at seq <= before.
func (v *View) RevisionsDesc(before uint64) (iter.Seq[*Revision], error) {
	it, err := v.txn.ReverseLowerBound(tableRevisions, indexSeq, seqKey(before))
	if err != nil {
		return nil, err
	}
	return func(yield func(*Revision) bool) {
		for obj := it.Next(); obj != nil; obj = it.Next() {
			if !yield(obj.(*Revision)) {
				return
			}
		}
	}, nil
}

// Revisions returns every revision in the view in seq order.
func (v *View) Revisions() ([]*Revision, error) {
	it, err := v.txn.LowerBound(tableRevisions, indexSeq, seqKey(0))
	if err != nil {
		return nil, err
	}
	var out []*Revision
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*Revision))
	}
	return out, nil
}

func (v *View) scan(table string, from, prefix []byte) (iter.Seq[*Revision], error) {
	if bytes.Compare(from, prefix) < 0 {
		from = prefix
	}
	it, err := v.txn.LowerBound(table, indexID, from)
	if err != nil {
		return nil, err
	}
	return func(yield func(*Revision) bool) {
		for obj := it.Next(); obj != nil; obj = it.Next() {
			rev := obj.(*Revision)
			if !bytes.HasPrefix(rev.Setting.ID(), prefix) {
				return
			}
			if !yield(rev) {
				return
			}
		}
	}, nil
}
