// ABOUTME: Parser for key and label filter expressions
// ABOUTME: Produces All, Exact or Prefix filters and rejects other wildcards

package query

import (
	"sort"
	"strings"

	"github.com/nainya/cfgstore/pkg/setting"
)

// FilterKind is the shape of a parsed filter.
type FilterKind int

const (
	// FilterAll matches everything
	FilterAll FilterKind = iota
	// FilterExact matches any of a list of literal values
	FilterExact
	// FilterPrefix matches values starting with a literal prefix
	FilterPrefix
)

// NullLabel is the filter item that selects the null label.
const NullLabel = `\0`

// Filter is a parsed key or label filter.
type Filter struct {
	Kind   FilterKind
	Values []string // sorted, for FilterExact
	Null   bool     // FilterExact also matches the null value
	Prefix string   // for FilterPrefix
}

// ParseFilter parses a filter expression. allowNull enables the `\0` item
// used by label filters. Any '*' other than a single trailing one is
// rejected, as is a '*' inside a comma-separated list.
func ParseFilter(expr string, allowNull bool) (Filter, error) {
	if expr == "" || expr == "*" {
		return Filter{Kind: FilterAll}, nil
	}

	items, err := splitItems(expr)
	if err != nil {
		return Filter{}, err
	}

	if len(items) == 1 && items[0].star {
		return Filter{Kind: FilterPrefix, Prefix: items[0].text}, nil
	}

	f := Filter{Kind: FilterExact}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if it.star {
			return Filter{}, setting.InvalidArgument("filter %q: wildcard is not allowed in a list", expr)
		}
		if it.null {
			if !allowNull {
				return Filter{}, setting.InvalidArgument("filter %q: null is only valid for labels", expr)
			}
			f.Null = true
			continue
		}
		if !seen[it.text] {
			seen[it.text] = true
			f.Values = append(f.Values, it.text)
		}
	}
	sort.Strings(f.Values)
	return f, nil
}

type filterItem struct {
	text string
	star bool // ends in an unescaped '*'
	null bool
}

// splitItems splits on unescaped commas and resolves escapes.
func splitItems(expr string) ([]filterItem, error) {
	var (
		items []filterItem
		cur   strings.Builder
		star  bool
		raw   strings.Builder
	)
	flush := func() {
		items = append(items, filterItem{
			text: cur.String(),
			star: star,
			null: raw.String() == NullLabel,
		})
		cur.Reset()
		raw.Reset()
		star = false
	}

	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if star && c != ',' {
			return nil, setting.InvalidArgument("filter %q: '*' is only allowed at the end", expr)
		}
		switch c {
		case '\\':
			if i+1 >= len(expr) {
				return nil, setting.InvalidArgument("filter %q: dangling escape", expr)
			}
			raw.WriteByte(c)
			raw.WriteByte(expr[i+1])
			cur.WriteByte(expr[i+1])
			i++
		case '*':
			if cur.Len() == 0 && raw.Len() == 0 {
				return nil, setting.InvalidArgument("filter %q: leading '*' is not supported", expr)
			}
			star = true
		case ',':
			flush()
		default:
			raw.WriteByte(c)
			cur.WriteByte(c)
		}
	}
	flush()
	return items, nil
}

// Match reports whether value (nil for the null label) passes the filter.
func (f Filter) Match(value *string) bool {
	switch f.Kind {
	case FilterAll:
		return true
	case FilterPrefix:
		return value != nil && strings.HasPrefix(*value, f.Prefix)
	}
	if value == nil {
		return f.Null
	}
	i := sort.SearchStrings(f.Values, *value)
	return i < len(f.Values) && f.Values[i] == *value
}

// MatchString is Match for non-null values.
func (f Filter) MatchString(value string) bool {
	return f.Match(&value)
}
