package query

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/nainya/cfgstore/pkg/setting"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// PageRequest selects one page of a listing.
type PageRequest struct {
	PageSize int
	// After is the opaque continuation returned as Page.Next.
	After string
	// IfNoneMatch returns an empty page when it equals the page ETag.
	IfNoneMatch string
}

// Page is one page of results.
type Page[T any] struct {
	Items []T
	ETag  string
	// Next continues the listing; empty on the last page.
	Next string
	// NotModified is set when IfNoneMatch matched and Items were dropped.
	NotModified bool
}

// Size returns the effective page size.
func (r PageRequest) Size() (int, error) {
	switch {
	case r.PageSize == 0:
		return DefaultPageSize, nil
	case r.PageSize < 0 || r.PageSize > MaxPageSize:
		return 0, setting.InvalidArgument("page size %d must be between 1 and %d", r.PageSize, MaxPageSize)
	}
	return r.PageSize, nil
}

const (
	cursorSettings  = "s"
	cursorRevisions = "r"
	cursorLabels    = "l"
)

const cursorSep = "|"

// EncodeCursor builds a continuation token for a listing of the given kind
// resuming after pos.
func EncodeCursor(kind string, pos []byte) string {
	raw := string(kind) + cursorSep + string(pos)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor returns the position in cursor, or nil for an empty cursor.
func DecodeCursor(kind string, cursor string) ([]byte, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, setting.InvalidArgument("malformed continuation token")
	}
	tag, pos, ok := strings.Cut(string(raw), cursorSep)
	if !ok || tag != kind || pos == "" {
		return nil, setting.InvalidArgument("continuation token does not belong to this listing")
	}
	return []byte(pos), nil
}

// pageETag hashes the ETags of the items in page order.
func pageETag(tags []string) string {
	var buf bytes.Buffer
	for _, t := range tags {
		buf.WriteString(t)
		buf.WriteByte(0)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(buf.Bytes()))
}

// Finish sets the page ETag from the item ETags and applies ifNoneMatch.
func Finish[T any](page *Page[T], tags []string, ifNoneMatch string) *Page[T] {
	page.ETag = pageETag(tags)
	if ifNoneMatch != "" && (ifNoneMatch == setting.Any || ifNoneMatch == page.ETag) {
		page.Items = nil
		page.NotModified = true
	}
	return page
}

// FetchFunc loads one page of a listing.
type FetchFunc[T any] func(ctx context.Context, sel Selector, req PageRequest) (*Page[T], error)

// Pages walks every page of a listing. The i-th entry of
// sel.MatchConditions is sent as If-None-Match for page i. Ranging over the
// result again restarts from the first page.
func Pages[T any](ctx context.Context, fetch FetchFunc[T], sel Selector, pageSize int) iter.Seq2[*Page[T], error] {
	return func(yield func(*Page[T], error) bool) {
		req := PageRequest{PageSize: pageSize}
		for i := 0; ; i++ {
			req.IfNoneMatch = ""
			if i < len(sel.MatchConditions) {
				req.IfNoneMatch = sel.MatchConditions[i]
			}
			page, err := fetch(ctx, sel, req)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(page, nil) || page.Next == "" {
				return
			}
			req.After = page.Next
		}
	}
}
