package jinja2

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFromGoStruct(t *testing.T) {
	type inner struct {
		N int `jinja:"n"`
	}
	type outer struct {
		Name    string `json:"name,omitempty"`
		Skip    string `json:"-"`
		Plain   bool
		Inner   *inner `json:"inner"`
		Missing *inner `json:"missing"`
		hidden  int
	}
	v := FromGo(outer{Name: "x", Skip: "s", Plain: true, Inner: &inner{N: 3}, hidden: 1})
	d, ok := v.(*DictValue)
	if !ok {
		t.Fatalf("want dict, got %T", v)
	}
	if diff := cmp.Diff([]string{"name", "Plain", "inner", "missing"}, d.Keys()); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	in, _ := d.Get("inner")
	n, _ := in.(*DictValue).Get("n")
	if n != IntValue(3) {
		t.Fatalf("inner.n = %#v", n)
	}
	if m, _ := d.Get("missing"); m.Kind() != KindNone {
		t.Fatalf("nil pointer converted to %s", m.Kind())
	}
}

func TestFromGoCollections(t *testing.T) {
	v := FromGo(map[string]int{"b": 2, "a": 1, "c": 3})
	if diff := cmp.Diff([]string{"a", "b", "c"}, v.(*DictValue).Keys()); diff != "" {
		t.Fatalf("map keys not sorted (-want +got):\n%s", diff)
	}
	l := FromGo([]any{1, "two", 3.5, nil, uint8(4)}).(ListValue)
	want := ListValue{IntValue(1), StringValue("two"), FloatValue(3.5), NoneValue{}, IntValue(4)}
	for i := range want {
		if !Equal(l[i], want[i]) {
			t.Fatalf("item %d: got %#v, want %#v", i, l[i], want[i])
		}
	}
	if got := FromGo([]string(nil)); got.Kind() != KindList || got.Truth() {
		t.Fatalf("nil slice converted to %#v", got)
	}
	if got := FromGo(StringValue("kept")); got != StringValue("kept") {
		t.Fatalf("Value not passed through: %#v", got)
	}
}

func TestEqual(t *testing.T) {
	cases := []struct {
		a, b Value
		want bool
	}{
		{IntValue(1), FloatValue(1), true},
		{IntValue(1), StringValue("1"), false},
		{NoneValue{}, nil, true},
		{ListValue{IntValue(1)}, ListValue{FloatValue(1)}, true},
		{ListValue{IntValue(1)}, ListValue{IntValue(1), IntValue(2)}, false},
		{NewDict(1).Set("a", IntValue(1)), NewDict(1).Set("a", IntValue(1)), true},
		{NewDict(1).Set("a", IntValue(1)), NewDict(1).Set("a", IntValue(2)), false},
		{BoolValue(true), IntValue(1), false},
	}
	for i, tc := range cases {
		if got := Equal(tc.a, tc.b); got != tc.want {
			t.Fatalf("case %d: Equal(%#v, %#v) = %v", i, tc.a, tc.b, got)
		}
	}
}

func TestDictKeepsInsertionOrder(t *testing.T) {
	d := NewDict(0).Set("z", IntValue(1)).Set("a", IntValue(2)).Set("z", IntValue(3))
	if diff := cmp.Diff([]string{"z", "a"}, d.Keys()); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	if v, _ := d.Get("z"); v != IntValue(3) {
		t.Fatalf("z = %#v", v)
	}
	var nilDict *DictValue
	if nilDict.Len() != 0 || nilDict.Truth() {
		t.Fatal("nil dict should be empty")
	}
}

func TestValueStrings(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{NoneValue{}, ""},
		{BoolValue(false), "false"},
		{IntValue(-4), "-4"},
		{FloatValue(2), "2"},
		{FloatValue(0.25), "0.25"},
		{ListValue{StringValue("a"), ListValue{IntValue(1)}}, "[a, [1]]"},
		{NewDict(0), "[object]"},
	}
	for _, tc := range cases {
		if got := tc.v.String(); got != tc.want {
			t.Fatalf("%#v: got %q, want %q", tc.v, got, tc.want)
		}
	}
}
