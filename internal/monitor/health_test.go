package monitor

import (
	"runtime"
	"testing"
	"time"

	"github.com/hackclub/tshare/internal/session"
)

type fakeStats session.Stats

func (f fakeStats) Stats() session.Stats { return session.Stats(f) }

func TestReporterHealth(t *testing.T) {
	r := NewReporter(fakeStats{Total: 3, Live: 2, Ended: 1, Owners: 2, Viewers: 5})
	r.now = func() time.Time { return r.started.Add(90 * time.Second) }

	h := r.Health()
	if h.Status != "ok" {
		t.Errorf("Status = %q, want ok", h.Status)
	}
	if h.UptimeSeconds != 90 {
		t.Errorf("UptimeSeconds = %d, want 90", h.UptimeSeconds)
	}
	if h.SessionsTotal != 3 || h.SessionsLive != 2 || h.SessionsEnded != 1 {
		t.Errorf("session counts = %d/%d/%d", h.SessionsTotal, h.SessionsLive, h.SessionsEnded)
	}
	if h.OwnersAttached != 2 || h.ViewersAttached != 5 {
		t.Errorf("attached = %d owners, %d viewers", h.OwnersAttached, h.ViewersAttached)
	}
	if h.Goroutines <= 0 {
		t.Errorf("Goroutines = %d", h.Goroutines)
	}
}

func TestReporterRSS(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("process memory not inspected on this platform")
	}
	r := NewReporter(fakeStats{})
	rss, ok := r.rss()
	if !ok || rss == 0 {
		t.Errorf("rss = %d, ok = %v", rss, ok)
	}
}
