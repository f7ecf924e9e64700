package id

import (
	"strings"
	"testing"
)

func TestNewIsUniqueAndPathSafe(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		v := New()
		if strings.ContainsAny(v, `/\ `) {
			t.Fatalf("id %q is not path safe", v)
		}
		if _, dup := seen[v]; dup {
			t.Fatalf("duplicate id %q", v)
		}
		seen[v] = struct{}{}
	}
}
