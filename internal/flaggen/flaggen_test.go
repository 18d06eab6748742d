package flaggen_test

import (
	"regexp"
	"strings"
	"testing"

	"ctfcore/internal/flaggen"
)

func TestFlagFormat(t *testing.T) {
	g := flaggen.New("ctf")

	flag, err := g.Flag()
	if err != nil {
		t.Fatalf("Flag() returned error: %v", err)
	}

	if !strings.HasPrefix(flag, "ctf{") || !strings.HasSuffix(flag, "}") {
		t.Errorf("flag %q does not match prefix{token} shape", flag)
	}

	token := strings.TrimSuffix(strings.TrimPrefix(flag, "ctf{"), "}")
	if ok, _ := regexp.MatchString("^[0-9a-f]{32}$", token); !ok {
		t.Errorf("token %q is not 32 hex characters", token)
	}
}

func TestFlagUniqueness(t *testing.T) {
	g := flaggen.New("ctf")

	seen := make(map[string]bool)
	for range 1000 {
		flag, err := g.Flag()
		if err != nil {
			t.Fatalf("Flag() returned error: %v", err)
		}
		if seen[flag] {
			t.Fatalf("duplicate flag generated: %s", flag)
		}
		seen[flag] = true
	}
}
