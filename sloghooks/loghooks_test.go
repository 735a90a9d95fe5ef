package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestSamplingAndLevels(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := New(l, Options{ReadEvery: 10})

	for i := 0; i < 30; i++ {
		h.NearHit("cache")
	}
	h.SubscriptionLost("cache", errors.New("reset"))

	out := buf.String()
	if n := strings.Count(out, "nearcache.near_hit"); n != 3 {
		t.Fatalf("sampled hits = %d, want 3\n%s", n, out)
	}
	if !strings.Contains(out, "level=WARN msg=nearcache.subscription_lost ns=cache err=reset") {
		t.Fatalf("missing lost line:\n%s", out)
	}
}

func TestNilLogger(t *testing.T) {
	h := New(nil, Options{})
	h.NearMiss("cache")
	h.Resynced("cache", 1, 1)
}
