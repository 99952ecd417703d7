package util

import (
	"strings"
	"testing"
)

func TestWrapString(t *testing.T) {
	text := "Concurrency model: pool (bounded worker pool) or cooperative (single event loop, calls interleave while suspended)"
	out := WrapString(text)

	for _, line := range strings.Split(out, "\n") {
		if len(line) > Wrap {
			t.Errorf("line longer than %d: %q", Wrap, line)
		}
	}
	if strings.Join(strings.Fields(out), " ") != text {
		t.Fatalf("words changed: %q", out)
	}
	if WrapString("") != "" {
		t.Fatal("expect empty output")
	}
}
