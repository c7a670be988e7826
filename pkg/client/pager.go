package client

import (
	"context"
	"iter"
	"net/http"
	"net/url"
	"strings"
)

// Page is one page of a listing. A NotModified page has no items; its ETag
// matched the condition sent for that page.
type Page[T any] struct {
	Items       []T
	ETag        string
	NotModified bool
}

type fetchFunc[T any] func(ctx context.Context, after, ifNoneMatch string) (*Page[T], string, error)

// Pager walks a listing one page at a time. The i-th match condition is
// sent as If-None-Match for page i.
type Pager[T any] struct {
	fetch   fetchFunc[T]
	match   []string
	next    string
	index   int
	started bool
}

func newPager[T any](fetch fetchFunc[T], match []string) *Pager[T] {
	return &Pager[T]{fetch: fetch, match: match}
}

// More reports whether NextPage has another page to return.
func (p *Pager[T]) More() bool {
	return !p.started || p.next != ""
}

// NextPage fetches the next page.
func (p *Pager[T]) NextPage(ctx context.Context) (*Page[T], error) {
	var cond string
	if p.index < len(p.match) {
		cond = p.match[p.index]
	}
	page, next, err := p.fetch(ctx, p.next, cond)
	if err != nil {
		return nil, err
	}
	p.started = true
	p.next = next
	p.index++
	return page, nil
}

// Pages ranges over the remaining pages, stopping at the first error.
func (p *Pager[T]) Pages(ctx context.Context) iter.Seq2[*Page[T], error] {
	return func(yield func(*Page[T], error) bool) {
		for p.More() {
			page, err := p.NextPage(ctx)
			if !yield(page, err) || err != nil {
				return
			}
		}
	}
}

// All collects the items of every remaining page.
func (p *Pager[T]) All(ctx context.Context) ([]T, error) {
	var out []T
	for page, err := range p.Pages(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
	}
	return out, nil
}

// lister describes one listing endpoint and its fixed parameters.
type lister struct {
	path       string
	pathParams map[string]string
	params     url.Values
	headers    map[string]string
	pageSize   int
	match      []string
}

// listPager pages through a listing, converting wire items with conv.
func listPager[J, T any](c *Client, l lister, conv func(J) T) *Pager[T] {
	return newPager(func(ctx context.Context, after, ifNoneMatch string) (*Page[T], string, error) {
		var body List[J]
		req := c.rc.R().
			SetContext(ctx).
			SetPathParams(l.pathParams).
			SetQueryParamsFromValues(l.params).
			SetHeaders(l.headers).
			SetResult(&body).
			SetError(&ErrorBody{})
		if l.pageSize > 0 {
			req.SetQueryParam(ParamPageSize, itoa(l.pageSize))
		}
		if after != "" {
			req.SetQueryParam(ParamAfter, after)
		}
		if ifNoneMatch != "" {
			req.SetHeader(HeaderIfNoneMatch, ifNoneMatch)
		}
		resp, err := req.Get(l.path)
		if err := check(resp, err); err != nil {
			return nil, "", err
		}
		next := cursorFromLink(resp.Header().Get(HeaderLink))
		page := &Page[T]{ETag: resp.Header().Get(HeaderETag)}
		if resp.StatusCode() == http.StatusNotModified {
			page.NotModified = true
			return page, next, nil
		}
		page.Items = make([]T, 0, len(body.Items))
		for _, item := range body.Items {
			page.Items = append(page.Items, conv(item))
		}
		return page, next, nil
	}, l.match)
}

// cursorFromLink extracts the continuation cursor from a Link header of the
// form `</kv?after=...>; rel="next"`.
func cursorFromLink(link string) string {
	start := strings.IndexByte(link, '<')
	end := strings.IndexByte(link, '>')
	if start < 0 || end <= start || !strings.Contains(link[end:], `rel="next"`) {
		return ""
	}
	u, err := url.Parse(link[start+1 : end])
	if err != nil {
		return ""
	}
	return u.Query().Get(ParamAfter)
}
