package setting

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

type etagFields struct {
	Key          string            `msgpack:"k"`
	Label        *string           `msgpack:"l"`
	Value        *string           `msgpack:"v"`
	ContentType  *string           `msgpack:"c"`
	Tags         map[string]string `msgpack:"t"`
	ReadOnly     bool              `msgpack:"r"`
	LastModified int64             `msgpack:"m"`
}

// computeETag hashes the canonical msgpack form of the setting content.
func computeETag(s *Setting) string {
	sum, err := Hash(etagFields{
		Key:          s.Key,
		Label:        s.Label,
		Value:        s.Value,
		ContentType:  s.ContentType,
		Tags:         s.Tags,
		ReadOnly:     s.ReadOnly,
		LastModified: s.LastModified.UnixNano(),
	})
	if err != nil {
		// every field is a plain value; encoding cannot fail
		panic(err)
	}
	return sum
}

// Hash returns the hex xxhash64 of v's msgpack encoding with sorted map keys.
func Hash(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode for hash: %w", err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(buf.Bytes())), nil
}
