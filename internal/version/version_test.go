package version

import (
	"strings"
	"testing"
)

func TestCurrent(t *testing.T) {
	b := Current()
	if b.Version == "" || b.Commit == "" || b.Date == "" {
		t.Fatalf("build info has empty fields: %+v", b)
	}
}

func TestString(t *testing.T) {
	s := String()
	for _, part := range []string{"version=", "commit=", "date="} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, missing %q", s, part)
		}
	}
}

func TestStringMatchesCurrent(t *testing.T) {
	b := Current()
	s := String()
	if !strings.Contains(s, "version="+b.Version) {
		t.Errorf("String() = %q does not embed Current().Version = %q", s, b.Version)
	}
}
