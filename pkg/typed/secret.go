package typed

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/nainya/cfgstore/pkg/setting"
)

const SecretReferenceContentType = "application/vnd.microsoft.appconfig.keyvaultref+json;charset=utf-8"

// SecretReference is a setting that points at a secret held elsewhere.
type SecretReference struct {
	Key   string
	Label *string
	URI   string
	Tags  map[string]string

	ETag     string
	ReadOnly bool

	raw string
}

// IsSecretReference reports whether s holds a secret reference.
func IsSecretReference(s *setting.Setting) bool {
	return s.ContentType != nil && *s.ContentType == SecretReferenceContentType
}

// ParseSecretReference reads a secret reference out of s.
func ParseSecretReference(s *setting.Setting) (*SecretReference, error) {
	raw := ""
	if s.Value != nil {
		raw = *s.Value
	}
	if !gjson.Valid(raw) {
		return nil, setting.InvalidArgument("secret reference %q: value is not valid JSON", s.Key)
	}
	uri := gjson.Get(raw, "uri")
	if uri.Type != gjson.String {
		return nil, setting.InvalidArgument("secret reference %q: missing uri", s.Key)
	}
	return &SecretReference{
		Key:      s.Key,
		Label:    cloneString(s.Label),
		URI:      uri.String(),
		Tags:     cloneTags(s.Tags),
		ETag:     s.ETag,
		ReadOnly: s.ReadOnly,
		raw:      raw,
	}, nil
}

// Setting renders the reference as a setting, keeping unknown attributes of
// the value it was parsed from.
func (r *SecretReference) Setting() (setting.Setting, error) {
	if r.Key == "" {
		return setting.Setting{}, setting.InvalidArgument("key must not be empty")
	}
	raw := r.raw
	if !gjson.Valid(raw) {
		raw = "{}"
	}
	raw, err := sjson.Set(raw, "uri", r.URI)
	if err != nil {
		return setting.Setting{}, err
	}
	return setting.Setting{
		Key:         r.Key,
		Label:       cloneString(r.Label),
		Value:       setting.String(raw),
		ContentType: setting.String(SecretReferenceContentType),
		Tags:        cloneTags(r.Tags),
	}, nil
}
