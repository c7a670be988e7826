// ABOUTME: Core types for configuration settings and their revisions
// ABOUTME: A setting is addressed by key and an optional label

package setting

import (
	"time"

	"github.com/nainya/cfgstore/pkg/storage"
)

// Setting is a single configuration value addressed by (Key, Label).
// A nil Label is the null label, distinct from the empty string.
type Setting struct {
	Key          string            `msgpack:"key"`
	Label        *string           `msgpack:"label"`
	Value        *string           `msgpack:"value"`
	ContentType  *string           `msgpack:"content_type"`
	Tags         map[string]string `msgpack:"tags"`
	ETag         string            `msgpack:"etag"`
	LastModified time.Time         `msgpack:"last_modified"`
	ReadOnly     bool              `msgpack:"read_only"`
}

// Revision is an immutable record of a setting's state after a mutation.
// Deleted revisions are tombstones carrying the state that was removed.
type Revision struct {
	Seq     uint64  `msgpack:"seq"`
	Setting Setting `msgpack:"setting"`
	Deleted bool    `msgpack:"deleted"`
}

// ID returns the encoded identity of the setting.
func (s *Setting) ID() []byte {
	return ID(s.Key, s.Label)
}

// Clone returns a deep copy of s.
func (s *Setting) Clone() *Setting {
	out := *s
	out.Label = cloneString(s.Label)
	out.Value = cloneString(s.Value)
	out.ContentType = cloneString(s.ContentType)
	if s.Tags != nil {
		out.Tags = make(map[string]string, len(s.Tags))
		for k, v := range s.Tags {
			out.Tags[k] = v
		}
	}
	return &out
}

// LabelString renders the label for logs and error messages.
func (s *Setting) LabelString() string {
	return labelString(s.Label)
}

// ID encodes a (key, label) pair into its order-preserving identity.
func ID(key string, label *string) []byte {
	return storage.EncodeValues(storage.NewStringValue(key), storage.NewOptionalString(label))
}

// KeyPrefix encodes the prefix shared by the identities of every key that
// starts with prefix.
func KeyPrefix(prefix string) []byte {
	return storage.EncodePrefix([]byte(prefix))
}

// ParseID decodes an identity produced by ID.
func ParseID(id []byte) (string, *string, error) {
	vals, err := storage.DecodeValues(id)
	if err != nil {
		return "", nil, err
	}
	if len(vals) != 2 || vals[0].Type != storage.TYPE_BYTES {
		return "", nil, storage.ErrMalformedKey
	}
	if vals[1].IsNull() {
		return string(vals[0].Str), nil, nil
	}
	label := string(vals[1].Str)
	return string(vals[0].Str), &label, nil
}

// String returns a pointer to s.
func String(s string) *string { return &s }

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func labelString(label *string) string {
	if label == nil {
		return "\\0"
	}
	return *label
}

// Stats describes the size of the store.
type Stats struct {
	Settings  int
	Revisions int
	LastSeq   uint64
}
