package edge

import (
	"testing"
	"time"
)

func TestAttemptLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newAttemptLimiter(1, 2)
	l.now = func() time.Time { return now }

	if l.blocked("s|1.2.3.4") {
		t.Fatal("fresh key should not be blocked")
	}
	l.fail("s|1.2.3.4")
	if l.blocked("s|1.2.3.4") {
		t.Fatal("one failure should leave budget for another")
	}
	l.fail("s|1.2.3.4")
	if !l.blocked("s|1.2.3.4") {
		t.Fatal("key should be blocked after using the burst")
	}
	if l.blocked("s|5.6.7.8") {
		t.Error("other clients must not share the bucket")
	}

	now = now.Add(time.Second)
	if l.blocked("s|1.2.3.4") {
		t.Error("token should refill after a second")
	}
}

func TestAttemptLimiterBlockedDoesNotCharge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newAttemptLimiter(1, 1)
	l.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		if l.blocked("k") {
			t.Fatalf("check %d blocked a key with no failures", i)
		}
	}
	if len(l.entries) != 0 {
		t.Errorf("checks created %d entries", len(l.entries))
	}
}

func TestAttemptLimiterPrunesIdle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newAttemptLimiter(1, 1)
	l.now = func() time.Time { return now }

	l.fail("a")
	now = now.Add(2 * limiterIdle)
	l.fail("b")
	if _, ok := l.entries["a"]; ok {
		t.Error("idle entry not pruned")
	}
}

func TestNilLimiterAllows(t *testing.T) {
	l := newAttemptLimiter(0, 0)
	for i := 0; i < 100; i++ {
		l.fail("k")
		if l.blocked("k") {
			t.Fatal("disabled limiter blocked an attempt")
		}
	}
}
