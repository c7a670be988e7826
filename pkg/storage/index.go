// ABOUTME: memdb indexer over pre-encoded composite keys
// ABOUTME: Lets tables order rows by the order-preserving encoding in this package

package storage

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"
)

// EncodedIndex is a memdb indexer whose index value is computed by Encode.
// Lookups take a single pre-encoded []byte argument, so callers build keys
// with EncodeValues or EncodePrefix and the radix tree keeps their order.
type EncodedIndex struct {
	Encode func(obj interface{}) ([]byte, error)
}

var (
	_ memdb.SingleIndexer = (*EncodedIndex)(nil)
	_ memdb.PrefixIndexer = (*EncodedIndex)(nil)
)

// FromObject implements memdb.SingleIndexer
func (e *EncodedIndex) FromObject(raw interface{}) (bool, []byte, error) {
	key, err := e.Encode(raw)
	if err != nil {
		return false, nil, err
	}
	return len(key) > 0, key, nil
}

// FromArgs implements memdb.Indexer
func (e *EncodedIndex) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("encoded index takes one argument, got %d", len(args))
	}
	key, ok := args[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("encoded index argument must be []byte, got %T", args[0])
	}
	return key, nil
}

// PrefixFromArgs implements memdb.PrefixIndexer
func (e *EncodedIndex) PrefixFromArgs(args ...interface{}) ([]byte, error) {
	return e.FromArgs(args...)
}
