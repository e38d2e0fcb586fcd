package preset

import (
	"errors"
	"testing"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	if err := r.Register("one", newTunnel); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.Register("one", newTunnel); !errors.Is(err, ErrDuplicatePreset) {
		t.Fatalf("duplicate register error = %v, want %v", err, ErrDuplicatePreset)
	}

	if err := r.Register("", newTunnel); err == nil {
		t.Fatal("empty id accepted")
	}

	if err := r.Register("two", nil); err == nil {
		t.Fatal("nil factory accepted")
	}

	if _, err := r.Lookup("one"); err != nil {
		t.Fatalf("lookup: %v", err)
	}

	if _, err := r.Lookup("ghost"); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("unknown lookup error = %v, want %v", err, ErrUnknownPreset)
	}
}

func TestRegistryOrderAndNext(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		if err := r.Register(id, newTunnel); err != nil {
			t.Fatalf("register %q: %v", id, err)
		}
	}

	ids := r.IDs()
	want := []string{"a", "b", "c"}

	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}

	cases := []struct{ in, want string }{
		{"a", "b"},
		{"b", "c"},
		{"c", "a"},
		{"", "a"},
		{"ghost", "a"},
	}
	for _, tc := range cases {
		if got := r.Next(tc.in); got != tc.want {
			t.Fatalf("Next(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if got := NewRegistry().Next("a"); got != "" {
		t.Fatalf("Next on empty registry = %q, want empty", got)
	}
}

func TestBuiltinRegistry(t *testing.T) {
	t.Parallel()

	r := Builtin()

	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "tunnel" || ids[1] != "bars" {
		t.Fatalf("builtin ids = %v, want [tunnel bars]", ids)
	}
}
