// ABOUTME: Feature flag and secret reference views over plain settings
// ABOUTME: JSON values are edited in place so unknown attributes survive

package typed

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/nainya/cfgstore/pkg/setting"
)

const (
	// FeatureFlagPrefix starts the key of every feature flag.
	FeatureFlagPrefix = ".appconfig.featureflag/"

	FeatureFlagContentType = "application/vnd.microsoft.appconfig.ff+json;charset=utf-8"
)

// Filter is a client filter that conditions a feature flag.
type Filter struct {
	Name       string
	Parameters map[string]interface{}
}

// FeatureFlag is a setting whose value describes a feature switch.
type FeatureFlag struct {
	ID          string
	Label       *string
	Description string
	DisplayName string
	Enabled     bool
	Filters     []Filter
	Tags        map[string]string

	// ETag and ReadOnly come from the setting the flag was parsed from.
	ETag     string
	ReadOnly bool

	// raw is the value the flag was parsed from; fields not modelled
	// above are carried over from it.
	raw string
}

// FeatureFlagKey returns the setting key for a flag id.
func FeatureFlagKey(id string) string {
	return FeatureFlagPrefix + id
}

// IsFeatureFlag reports whether s holds a feature flag.
func IsFeatureFlag(s *setting.Setting) bool {
	return s.ContentType != nil && *s.ContentType == FeatureFlagContentType &&
		strings.HasPrefix(s.Key, FeatureFlagPrefix)
}

// ParseFeatureFlag reads a feature flag out of s.
func ParseFeatureFlag(s *setting.Setting) (*FeatureFlag, error) {
	if !strings.HasPrefix(s.Key, FeatureFlagPrefix) {
		return nil, setting.InvalidArgument("key %q is not a feature flag key", s.Key)
	}
	raw := ""
	if s.Value != nil {
		raw = *s.Value
	}
	if !gjson.Valid(raw) {
		return nil, setting.InvalidArgument("feature flag %q: value is not valid JSON", s.Key)
	}

	doc := gjson.Parse(raw)
	ff := &FeatureFlag{
		ID:          strings.TrimPrefix(s.Key, FeatureFlagPrefix),
		Label:       cloneString(s.Label),
		Description: doc.Get("description").String(),
		DisplayName: doc.Get("display_name").String(),
		Enabled:     doc.Get("enabled").Bool(),
		Tags:        cloneTags(s.Tags),
		ETag:        s.ETag,
		ReadOnly:    s.ReadOnly,
		raw:         raw,
	}
	if id := doc.Get("id"); id.Exists() && id.String() != ff.ID {
		return nil, setting.InvalidArgument("feature flag id %q does not match key %q", id.String(), s.Key)
	}

	for i, f := range doc.Get("conditions.client_filters").Array() {
		name := f.Get("name")
		if !name.Exists() {
			return nil, setting.InvalidArgument("feature flag %q: filter %d has no name", ff.ID, i)
		}
		filter := Filter{Name: name.String()}
		if params, ok := f.Get("parameters").Value().(map[string]interface{}); ok {
			filter.Parameters = params
		}
		ff.Filters = append(ff.Filters, filter)
	}
	return ff, nil
}

// Setting renders the flag as a setting. Attributes of the JSON value this
// flag was parsed from that it does not model are kept.
func (ff *FeatureFlag) Setting() (setting.Setting, error) {
	if ff.ID == "" {
		return setting.Setting{}, setting.InvalidArgument("feature flag id must not be empty")
	}
	raw := ff.raw
	if !gjson.Valid(raw) {
		raw = "{}"
	}

	filters := make([]map[string]interface{}, 0, len(ff.Filters))
	for _, f := range ff.Filters {
		entry := map[string]interface{}{"name": f.Name}
		if f.Parameters != nil {
			entry["parameters"] = f.Parameters
		}
		filters = append(filters, entry)
	}

	var err error
	for _, kv := range []struct {
		path  string
		value interface{}
	}{
		{"id", ff.ID},
		{"description", ff.Description},
		{"display_name", ff.DisplayName},
		{"enabled", ff.Enabled},
		{"conditions.client_filters", filters},
	} {
		if raw, err = sjson.Set(raw, kv.path, kv.value); err != nil {
			return setting.Setting{}, fmt.Errorf("set %s: %w", kv.path, err)
		}
	}

	return setting.Setting{
		Key:         FeatureFlagKey(ff.ID),
		Label:       cloneString(ff.Label),
		Value:       setting.String(raw),
		ContentType: setting.String(FeatureFlagContentType),
		Tags:        cloneTags(ff.Tags),
	}, nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
