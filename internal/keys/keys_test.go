package keys

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		key  string
		want error
	}{
		{"string", nil},
		{"a/b/c", nil},
		{"", ErrEmpty},
		{strings.Repeat("k", MaxLen), nil},
		{strings.Repeat("k", MaxLen+1), ErrTooLong},
		{string([]byte{0xff, 0xfe}), ErrNotUTF8},
	}
	for _, tc := range cases {
		if err := Validate(tc.key); !errors.Is(err, tc.want) {
			t.Fatalf("Validate(%q) = %v want %v", tc.key, err, tc.want)
		}
	}
}

func TestValidateNamespace(t *testing.T) {
	if err := ValidateNamespace("cache"); err != nil {
		t.Fatalf("cache: %v", err)
	}
	for _, ns := range []string{"", "a:b"} {
		if err := ValidateNamespace(ns); !errors.Is(err, ErrBadSpace) {
			t.Fatalf("ValidateNamespace(%q) = %v", ns, err)
		}
	}
}

func TestStorage(t *testing.T) {
	if got := Storage("nc", "cache", "k:1"); got != "nc:cache:k:1" {
		t.Fatalf("Storage = %q", got)
	}
}
