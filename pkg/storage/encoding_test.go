// ABOUTME: Tests for composite key encoding
// ABOUTME: Verifies ordering, null handling, prefixes and roundtrip decoding

package storage

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestEncodeBytesOrdering(t *testing.T) {
	vals := []string{"", "a", "aa", "ab", "b", "b/c"}

	encoded := make([][]byte, len(vals))
	for i, v := range vals {
		encoded[i] = EncodeValues(NewStringValue(v))
	}

	for i := 0; i < len(encoded)-1; i++ {
		if bytes.Compare(encoded[i], encoded[i+1]) >= 0 {
			t.Errorf("Order violated: %q should be < %q", vals[i], vals[i+1])
		}
	}

	for i, enc := range encoded {
		decoded, err := DecodeValues(enc)
		if err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		if len(decoded) != 1 || string(decoded[0].Str) != vals[i] {
			t.Errorf("Roundtrip failed for %q: %+v", vals[i], decoded)
		}
	}
}

func TestNullSortsBeforeEmptyString(t *testing.T) {
	null := EncodeValues(NewStringValue("app"), NewNullValue())
	empty := EncodeValues(NewStringValue("app"), NewStringValue(""))
	dev := EncodeValues(NewStringValue("app"), NewStringValue("dev"))

	if bytes.Equal(null, empty) {
		t.Fatal("null label and empty label must encode differently")
	}
	if bytes.Compare(null, empty) >= 0 || bytes.Compare(empty, dev) >= 0 {
		t.Errorf("expected null < \"\" < \"dev\"")
	}

	decoded, err := DecodeValues(null)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 2 || !decoded[1].IsNull() {
		t.Errorf("expected second value to be null, got %+v", decoded)
	}
}

func TestOptionalString(t *testing.T) {
	label := "prod"
	if !NewOptionalString(nil).IsNull() {
		t.Error("nil should encode as null")
	}
	if v := NewOptionalString(&label); v.IsNull() || string(v.Str) != "prod" {
		t.Errorf("unexpected value %+v", v)
	}
}

func TestEncodeComposite(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 42, time.UTC)
	enc := EncodeValues(NewStringValue("key"), NewNullValue(), NewUint64Value(7), NewTimeValue(ts))

	decoded, err := DecodeValues(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 4 {
		t.Fatalf("expected 4 values, got %d", len(decoded))
	}
	if string(decoded[0].Str) != "key" {
		t.Errorf("key mismatch: %q", decoded[0].Str)
	}
	if !decoded[1].IsNull() {
		t.Error("expected null label")
	}
	if decoded[2].U64 != 7 {
		t.Errorf("seq mismatch: %d", decoded[2].U64)
	}
	if !decoded[3].Time.Equal(ts) {
		t.Errorf("time mismatch: %v != %v", decoded[3].Time, ts)
	}
}

func TestEncodeUint64Ordering(t *testing.T) {
	prev := EncodeValues(NewUint64Value(0))
	for _, u := range []uint64{1, 255, 256, 1 << 40, ^uint64(0)} {
		cur := EncodeValues(NewUint64Value(u))
		if bytes.Compare(prev, cur) >= 0 {
			t.Errorf("Order violated at %d", u)
		}
		prev = cur
	}
}

func TestEncodeTimeOrdering(t *testing.T) {
	base := time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(time.Nanosecond), time.Unix(0, 0), time.Now()}

	for i := 0; i < len(times)-1; i++ {
		a := EncodeValues(NewTimeValue(times[i]))
		b := EncodeValues(NewTimeValue(times[i+1]))
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("Order violated: %v should be < %v", times[i], times[i+1])
		}
	}
}

func TestEscapeSpecialBytes(t *testing.T) {
	raw := []byte{'a', 0x00, 0xFE, 0xFF, 'z'}
	enc := EncodeValues(NewBytesValue(raw))

	// tag + 2 plain + 3 escaped pairs + terminator
	if len(enc) != 1+2+6+1 {
		t.Errorf("unexpected encoded length %d", len(enc))
	}
	for i, b := range enc {
		if b == 0xFF && enc[i-1] != escapeByte {
			t.Errorf("raw 0xFF at %d", i)
		}
	}

	decoded, err := DecodeValues(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded[0].Str, raw) {
		t.Errorf("roundtrip mismatch: %v != %v", decoded[0].Str, raw)
	}
}

func TestEncodePrefix(t *testing.T) {
	prefix := EncodePrefix([]byte("app/"))
	for _, key := range []string{"app/", "app/a", "app/b/c"} {
		full := EncodeValues(NewStringValue(key), NewNullValue())
		if !bytes.HasPrefix(full, prefix) {
			t.Errorf("%q should match prefix", key)
		}
	}
	for _, key := range []string{"app", "apq/", "b"} {
		full := EncodeValues(NewStringValue(key), NewNullValue())
		if bytes.HasPrefix(full, prefix) {
			t.Errorf("%q should not match prefix", key)
		}
	}
}

func TestSuccessor(t *testing.T) {
	id := EncodeValues(NewStringValue("k"), NewNullValue())
	child := append(append([]byte{}, id...), EncodeValues(NewUint64Value(^uint64(0)))...)
	next := EncodeValues(NewStringValue("k"), NewStringValue(""))

	succ := Successor(id)
	if bytes.Compare(child, succ) >= 0 {
		t.Error("successor must exceed every extension of the key")
	}
	if bytes.Compare(succ, next) >= 0 {
		t.Error("successor must stay below the next setting id")
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := [][]byte{
		{TYPE_UINT64, 1, 2},
		{TYPE_BYTES, 'a', 'b'},
		{TYPE_BYTES, 'a', escapeByte},
		{9},
	}
	for _, c := range cases {
		if _, err := DecodeValues(c); !errors.Is(err, ErrMalformedKey) {
			t.Errorf("expected ErrMalformedKey for %v, got %v", c, err)
		}
	}
}
