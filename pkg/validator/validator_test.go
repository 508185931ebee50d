package validator

import (
	"errors"
	"strings"
	"testing"
)

type item struct{ name string }

func (i item) Validate() error { return NotEmpty(i.name, "name") }

func TestValidators(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"all passes", All(nil, nil), ""},
		{"all returns first", All(nil, errors.New("first"), errors.New("second")), "first"},
		{"each", Each([]item{{"a"}, {""}}), "item 1: name must not be empty"},
		{"map", Map([]string{"x", ""}, NotEmpty, "names"), "names[1] must not be empty"},
		{"map dict sorted", MapDict(map[string]int{"b": 0, "a": 0}, func(k string, _ int) error { return errors.New(k) }, "entries"), "entries: a"},
		{"duplicates", NoDuplicates([]string{"a", "b", "a"}, "names"), "names contains duplicate value: a"},
		{"allowed", MatchesAllowed("loose", []string{"strict", "lenient"}, "undefined"), "undefined must be one of [strict lenient], got loose"},
		{"jinja", HasNoJinja("a{{ b }}", "name"), "name must not contain jinja templating"},
		{"no jinja", HasNoJinja("plain", "name"), ""},
		{"identifier", ValidIdentifier("_user1", "key"), ""},
		{"identifier digit first", ValidIdentifier("1user", "key"), `key "1user" is not a valid identifier`},
		{"identifier dash", ValidIdentifier("a-b", "key"), `key "a-b" is not a valid identifier`},
		{"identifier empty", ValidIdentifier("", "key"), "key must not be empty"},
	}
	for _, tc := range cases {
		if tc.want == "" {
			if tc.err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, tc.err)
			}
			continue
		}
		if tc.err == nil || !strings.Contains(tc.err.Error(), tc.want) {
			t.Fatalf("%s: got %v, want %q", tc.name, tc.err, tc.want)
		}
	}
}
