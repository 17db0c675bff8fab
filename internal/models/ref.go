package models

import (
	"fmt"
	"strings"
)

// Ref is an object-storage reference encoded as "<store>:<path>".
// The store part names a bucket or namespace understood by the configured
// storage provider; the path part is the object key inside it.
type Ref struct {
	Store string
	Path  string
}

// ParseRef splits a "<store>:<path>" reference.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	i := strings.Index(s, ":")
	if i <= 0 || i == len(s)-1 {
		return Ref{}, fmt.Errorf("invalid object reference %q, want <store>:<path>", s)
	}
	return Ref{Store: s[:i], Path: s[i+1:]}, nil
}

func (r Ref) String() string {
	return r.Store + ":" + r.Path
}

// IsZero reports whether the reference is unset.
func (r Ref) IsZero() bool {
	return r.Store == "" && r.Path == ""
}

// Key returns the provider object key for this reference.
func (r Ref) Key() string {
	return strings.TrimLeft(r.Path, "/")
}
