package query

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nainya/cfgstore/pkg/setting"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		expr      string
		allowNull bool
		want      Filter
	}{
		{"", false, Filter{Kind: FilterAll}},
		{"*", false, Filter{Kind: FilterAll}},
		{"app", false, Filter{Kind: FilterExact, Values: []string{"app"}}},
		{"b,a,b", false, Filter{Kind: FilterExact, Values: []string{"a", "b"}}},
		{"app/*", false, Filter{Kind: FilterPrefix, Prefix: "app/"}},
		{`a\*`, false, Filter{Kind: FilterExact, Values: []string{"a*"}}},
		{`a\,b`, false, Filter{Kind: FilterExact, Values: []string{"a,b"}}},
		{`a\\`, false, Filter{Kind: FilterExact, Values: []string{`a\`}}},
		{`\0`, true, Filter{Kind: FilterExact, Null: true}},
		{`\0,dev`, true, Filter{Kind: FilterExact, Values: []string{"dev"}, Null: true}},
		{`\0x`, true, Filter{Kind: FilterExact, Values: []string{"0x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseFilter(tt.expr, tt.allowNull)
			if err != nil {
				t.Fatalf("ParseFilter(%q): %v", tt.expr, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFilterRejects(t *testing.T) {
	for _, expr := range []string{"*app", "a*b", "a*,b", "a,b*", "**", `a\`, "a**"} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseFilter(expr, false)
			if setting.KindOf(err) != setting.KindInvalidArgument {
				t.Errorf("ParseFilter(%q) = %v, want invalid argument", expr, err)
			}
		})
	}
	if _, err := ParseFilter(`\0`, false); setting.KindOf(err) != setting.KindInvalidArgument {
		t.Errorf("null item in key filter: %v", err)
	}
}

func TestFilterMatch(t *testing.T) {
	exact, _ := ParseFilter(`\0,dev`, true)
	if !exact.Match(nil) || !exact.MatchString("dev") || exact.MatchString("prod") {
		t.Error("exact filter with null")
	}
	prefix, _ := ParseFilter("app/*", true)
	if prefix.Match(nil) || !prefix.MatchString("app/x") || prefix.MatchString("ap") {
		t.Error("prefix filter")
	}
	all, _ := ParseFilter("", true)
	if !all.Match(nil) || !all.MatchString("") {
		t.Error("all filter")
	}
}

func TestParseFields(t *testing.T) {
	fields, err := ParseFields("key, value,etag")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Field{FieldKey, FieldValue, FieldETag}, fields); diff != "" {
		t.Error(diff)
	}
	if _, err := ParseFields("key,colour"); setting.KindOf(err) != setting.KindInvalidArgument {
		t.Errorf("unknown field: %v", err)
	}
}
