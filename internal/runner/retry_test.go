package runner

import (
	"testing"
	"time"
)

func TestBackoffBounds(t *testing.T) {
	cases := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 640 * time.Millisecond, 960 * time.Millisecond},
		{2, 1280 * time.Millisecond, 1920 * time.Millisecond},
		{10, 16 * time.Second, 24 * time.Second},
	}
	for _, tc := range cases {
		for i := 0; i < 50; i++ {
			d := Backoff(tc.attempt)
			if d < tc.min || d > tc.max {
				t.Fatalf("Backoff(%d) = %s, want within [%s, %s]", tc.attempt, d, tc.min, tc.max)
			}
		}
	}
}

func TestSplayWithinWindow(t *testing.T) {
	if Splay(0) != 0 {
		t.Fatalf("zero window must not delay")
	}
	for i := 0; i < 100; i++ {
		if d := Splay(time.Second); d < 0 || d >= time.Second {
			t.Fatalf("splay %s outside [0, 1s)", d)
		}
	}
}
