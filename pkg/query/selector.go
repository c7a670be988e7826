package query

import (
	"strings"
	"time"

	"github.com/nainya/cfgstore/pkg/setting"
)

// Field names a projectable setting attribute.
type Field string

const (
	FieldKey          Field = "key"
	FieldLabel        Field = "label"
	FieldValue        Field = "value"
	FieldContentType  Field = "content_type"
	FieldETag         Field = "etag"
	FieldLastModified Field = "last_modified"
	FieldLocked       Field = "locked"
	FieldTags         Field = "tags"
)

var knownFields = map[Field]bool{
	FieldKey: true, FieldLabel: true, FieldValue: true, FieldContentType: true,
	FieldETag: true, FieldLastModified: true, FieldLocked: true, FieldTags: true,
}

// ParseFields parses a comma-separated field list.
func ParseFields(s string) ([]Field, error) {
	if s == "" {
		return nil, nil
	}
	var fields []Field
	for _, part := range strings.Split(s, ",") {
		f := Field(strings.TrimSpace(part))
		if !knownFields[f] {
			return nil, setting.InvalidArgument("unknown field %q", part)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// Selector chooses settings or revisions.
type Selector struct {
	KeyFilter      string
	LabelFilter    string
	TagsFilter     []string
	AcceptDatetime *time.Time
	Fields         []Field
	// MatchConditions holds previously seen page ETags, one per page index.
	MatchConditions []string
}

type tagCond struct {
	name, value string
}

// compiled is a validated Selector.
type compiled struct {
	key    Filter
	label  Filter
	tags   []tagCond
	asOf   *time.Time
	fields map[Field]bool
}

func compile(sel Selector) (*compiled, error) {
	key, err := ParseFilter(sel.KeyFilter, false)
	if err != nil {
		return nil, err
	}
	label, err := ParseFilter(sel.LabelFilter, true)
	if err != nil {
		return nil, err
	}
	c := &compiled{key: key, label: label, asOf: sel.AcceptDatetime}

	for _, expr := range sel.TagsFilter {
		name, value, ok := strings.Cut(expr, "=")
		if !ok || name == "" {
			return nil, setting.InvalidArgument("tags filter %q must be name=value", expr)
		}
		c.tags = append(c.tags, tagCond{name: name, value: value})
	}

	if len(sel.Fields) > 0 {
		c.fields = make(map[Field]bool, len(sel.Fields))
		for _, f := range sel.Fields {
			if !knownFields[f] {
				return nil, setting.InvalidArgument("unknown field %q", f)
			}
			c.fields[f] = true
		}
	}
	return c, nil
}

// match applies the key filter, then the label filter, then the tags.
func (c *compiled) match(s *setting.Setting) bool {
	if !c.key.MatchString(s.Key) || !c.label.Match(s.Label) {
		return false
	}
	for _, t := range c.tags {
		v, ok := s.Tags[t.name]
		if !ok || v != t.value {
			return false
		}
	}
	return true
}

// project returns a copy of s restricted to the selected fields.
func (c *compiled) project(s *setting.Setting) setting.Setting {
	out := s.Clone()
	if c.fields == nil {
		return *out
	}
	if !c.fields[FieldKey] {
		out.Key = ""
	}
	if !c.fields[FieldLabel] {
		out.Label = nil
	}
	if !c.fields[FieldValue] {
		out.Value = nil
	}
	if !c.fields[FieldContentType] {
		out.ContentType = nil
	}
	if !c.fields[FieldETag] {
		out.ETag = ""
	}
	if !c.fields[FieldLastModified] {
		out.LastModified = time.Time{}
	}
	if !c.fields[FieldLocked] {
		out.ReadOnly = false
	}
	if !c.fields[FieldTags] {
		out.Tags = nil
	}
	return *out
}

// Project applies a field list to s. An empty list keeps every field.
func Project(s *setting.Setting, fields []Field) (setting.Setting, error) {
	c, err := compile(Selector{Fields: fields})
	if err != nil {
		return setting.Setting{}, err
	}
	return c.project(s), nil
}
