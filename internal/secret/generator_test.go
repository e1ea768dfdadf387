package secret

import (
	"regexp"
	"testing"
)

var hexSecret = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestGenerateFormat(t *testing.T) {
	s, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !hexSecret.MatchString(s) {
		t.Errorf("secret %q is not 64 lowercase hex characters", s)
	}
}

func TestGenerateDistinct(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		s, err := Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if !hexSecret.MatchString(s) {
			t.Fatalf("secret %q is not 64 lowercase hex characters", s)
		}
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate secret after %d calls: %s", i, s)
		}
		seen[s] = struct{}{}
	}
}

func TestFixed(t *testing.T) {
	gen := Fixed("a", "b")
	for _, want := range []string{"a", "b"} {
		got, err := gen()
		if err != nil {
			t.Fatalf("gen: %v", err)
		}
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	if _, err := gen(); err == nil {
		t.Error("expected error once values are exhausted")
	}
}
