package hashslot_test

import (
	"testing"

	"github.com/mickamy/govalkey/hashslot"
)

func TestOf_KnownValue(t *testing.T) {
	t.Parallel()
	if got := hashslot.Of([]byte("foo")); got != 12182 {
		t.Fatalf("Of(foo) = %d, want 12182", got)
	}
}

func TestOf_HashTagEquality(t *testing.T) {
	t.Parallel()
	a := hashslot.Of([]byte("{user1000}.following"))
	b := hashslot.Of([]byte("{user1000}.followers"))
	if a != b {
		t.Fatalf("Of mismatch across shared hash tag: %d != %d", a, b)
	}
}

func TestOf_EmptyBracesUseWholeKey(t *testing.T) {
	t.Parallel()
	a := hashslot.Of([]byte("foo{}{bar}"))
	b := hashslot.Of([]byte("foo{}{bar}"))
	if a != b {
		t.Fatalf("Of should be deterministic: %d != %d", a, b)
	}
	if string(hashslot.HashTag([]byte("foo{}{bar}"))) != "foo{}{bar}" {
		t.Fatalf("HashTag should be the whole key when the first {} is empty, got %q",
			hashslot.HashTag([]byte("foo{}{bar}")))
	}
}

func TestHashTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
		want string
	}{
		{"no braces", "mykey", "mykey"},
		{"simple tag", "{user1000}.following", "user1000"},
		{"unclosed brace", "{userkey", "{userkey"},
		{"empty tag", "{}foo", "{}foo"},
		{"nested braces use first close", "{a{b}c}", "a{b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := string(hashslot.HashTag([]byte(tt.key))); got != tt.want {
				t.Errorf("HashTag(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestOf_RangeInvariant(t *testing.T) {
	t.Parallel()

	keys := []string{"foo", "bar", "baz", "", "a", "{tag}key", "long-key-name-used-for-testing-range"}
	for _, k := range keys {
		slot := hashslot.Of([]byte(k))
		if slot >= hashslot.Count {
			t.Errorf("Of(%q) = %d, out of range [0, %d)", k, slot, hashslot.Count)
		}
	}
}

func TestUnknown_DistinctFromValidRange(t *testing.T) {
	t.Parallel()
	if hashslot.Unknown < hashslot.Count {
		t.Fatalf("Unknown (%d) must fall outside [0, %d)", hashslot.Unknown, hashslot.Count)
	}
}
