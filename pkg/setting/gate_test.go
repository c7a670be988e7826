package setting

import (
	"testing"
)

func TestCheckMutationPrecedence(t *testing.T) {
	current := &Setting{Key: "k", ETag: "e1"}
	locked := &Setting{Key: "k", ETag: "e1", ReadOnly: true}

	tests := []struct {
		name     string
		existing *Setting
		cond     Conditions
		m        mutation
		want     Kind
	}{
		{"put missing", nil, Conditions{}, mutationPut, 0},
		{"add missing", nil, Conditions{IfNoneMatch: Any}, mutationPut, 0},
		{"add existing", current, Conditions{IfNoneMatch: Any}, mutationPut, KindPreconditionFailed},
		{"add existing read-only", locked, Conditions{IfNoneMatch: Any}, mutationPut, KindPreconditionFailed},
		{"if-match missing", nil, Conditions{IfMatch: "e1"}, mutationPut, KindPreconditionFailed},
		{"delete missing", nil, Conditions{}, mutationDelete, 0},
		{"lock missing", nil, Conditions{}, mutationLock, KindNotFound},
		{"read-only beats good etag", locked, Conditions{IfMatch: "e1"}, mutationPut, KindConflict},
		{"read-only beats bad etag", locked, Conditions{IfMatch: "zz"}, mutationDelete, KindConflict},
		{"unlock read-only", locked, Conditions{IfMatch: "e1"}, mutationLock, 0},
		{"unlock read-only stale", locked, Conditions{IfMatch: "zz"}, mutationLock, KindPreconditionFailed},
		{"good etag", current, Conditions{IfMatch: "e1"}, mutationPut, 0},
		{"wildcard etag", current, Conditions{IfMatch: Any}, mutationDelete, 0},
		{"stale etag", current, Conditions{IfMatch: "e0"}, mutationPut, KindPreconditionFailed},
		{"if-none-match equal", current, Conditions{IfNoneMatch: "e1"}, mutationPut, KindPreconditionFailed},
		{"if-none-match differs", current, Conditions{IfNoneMatch: "e0"}, mutationPut, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkMutation(tt.existing, tt.cond, tt.m, "k", nil)
			if got := KindOf(err); got != tt.want {
				t.Errorf("got %v (%v), want %v", got, err, tt.want)
			}
		})
	}
}

func TestCheckRead(t *testing.T) {
	s := &Setting{ETag: "e1"}
	if err := checkRead(s, ""); err != nil {
		t.Errorf("no condition: %v", err)
	}
	if err := checkRead(s, "e1"); KindOf(err) != KindNotModified {
		t.Errorf("matching etag: %v", err)
	}
	if err := checkRead(s, Any); KindOf(err) != KindNotModified {
		t.Errorf("wildcard: %v", err)
	}
	if err := checkRead(s, "e2"); err != nil {
		t.Errorf("different etag: %v", err)
	}
}

func TestErrorStatus(t *testing.T) {
	cases := map[Kind]int{
		KindInvalidArgument:    400,
		KindNotFound:           404,
		KindPreconditionFailed: 412,
		KindConflict:           409,
		KindNotModified:        304,
	}
	for kind, status := range cases {
		err := &Error{Kind: kind, Message: "x"}
		if StatusCode(err) != status {
			t.Errorf("%v: got %d, want %d", kind, StatusCode(err), status)
		}
	}
	if StatusCode(nil) != 200 {
		t.Error("nil error should be 200")
	}
}

func TestParseID(t *testing.T) {
	key, label, err := ParseID(ID("app/x", String("dev")))
	if err != nil || key != "app/x" || label == nil || *label != "dev" {
		t.Fatalf("unexpected %q %v %v", key, label, err)
	}
	key, label, err = ParseID(ID("app/x", nil))
	if err != nil || key != "app/x" || label != nil {
		t.Fatalf("unexpected %q %v %v", key, label, err)
	}
}
