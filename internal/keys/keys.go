package keys

import (
	"errors"
	"unicode/utf8"
)

// MaxLen bounds a cache key in bytes.
const MaxLen = 1024

var (
	ErrEmpty    = errors.New("key is empty")
	ErrTooLong  = errors.New("key exceeds maximum length")
	ErrNotUTF8  = errors.New("key is not valid UTF-8")
	ErrBadSpace = errors.New("namespace must be non-empty and must not contain ':'")
)

// Validate reports whether key can be used as a cache key.
func Validate(key string) error {
	switch {
	case key == "":
		return ErrEmpty
	case len(key) > MaxLen:
		return ErrTooLong
	case !utf8.ValidString(key):
		return ErrNotUTF8
	}
	return nil
}

// ValidateNamespace rejects names that would make storage keys ambiguous.
func ValidateNamespace(ns string) error {
	if ns == "" {
		return ErrBadSpace
	}
	for i := 0; i < len(ns); i++ {
		if ns[i] == ':' {
			return ErrBadSpace
		}
	}
	return nil
}

// Storage composes the isolated storage key "<prefix>:<ns>:<key>".
func Storage(prefix, ns, key string) string {
	return prefix + ":" + ns + ":" + key
}
