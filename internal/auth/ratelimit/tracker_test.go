package ratelimit

import (
	"strings"
	"testing"
	"time"
)

func TestCheckAllowedUnknownKey(t *testing.T) {
	tr := NewTracker(5, 15*time.Minute)
	ok, msg := tr.CheckAllowed("1.2.3.4")
	if !ok || msg != "" {
		t.Fatalf("unknown key should be allowed: ok=%v msg=%q", ok, msg)
	}
}

func TestLockoutAfterMaxFailures(t *testing.T) {
	tr := NewTracker(5, 15*time.Minute)
	base := time.Now().UTC()
	tr.nowF = func() time.Time { return base }

	for i := 0; i < 4; i++ {
		tr.RecordFailure("1.2.3.4")
		if ok, _ := tr.CheckAllowed("1.2.3.4"); !ok {
			t.Fatalf("attempt %d should still be allowed", i+1)
		}
	}
	tr.RecordFailure("1.2.3.4")

	ok, msg := tr.CheckAllowed("1.2.3.4")
	if ok {
		t.Fatal("5th failure should lock the key out")
	}
	if !strings.Contains(msg, "seconds") {
		t.Errorf("lockout message should disclose remaining wait, got %q", msg)
	}

	// Other keys are unaffected.
	if ok, _ := tr.CheckAllowed("5.6.7.8"); !ok {
		t.Error("other keys must not be locked out")
	}
}

func TestLockoutExpiryResetsCounter(t *testing.T) {
	tr := NewTracker(5, 15*time.Minute)
	base := time.Now().UTC()
	tr.nowF = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		tr.RecordFailure("1.2.3.4")
	}
	if ok, _ := tr.CheckAllowed("1.2.3.4"); ok {
		t.Fatal("should be locked out inside the window")
	}

	// Just before the window closes: still locked.
	tr.nowF = func() time.Time { return base.Add(15*time.Minute - time.Second) }
	if ok, _ := tr.CheckAllowed("1.2.3.4"); ok {
		t.Fatal("should still be locked out one second before expiry")
	}

	// Window elapsed: allowed again, counter reset to zero.
	tr.nowF = func() time.Time { return base.Add(15 * time.Minute) }
	if ok, _ := tr.CheckAllowed("1.2.3.4"); !ok {
		t.Fatal("lockout expiry should allow the attempt")
	}
	if tr.records["1.2.3.4"].failures != 0 {
		t.Errorf("counter should reset on expiry, got %d", tr.records["1.2.3.4"].failures)
	}
}

func TestResetKeepsRecord(t *testing.T) {
	tr := NewTracker(5, 15*time.Minute)
	tr.RecordFailure("1.2.3.4")
	tr.Reset("1.2.3.4")
	r, ok := tr.records["1.2.3.4"]
	if !ok {
		t.Fatal("Reset should keep the record")
	}
	if r.failures != 0 {
		t.Errorf("failures: want 0, got %d", r.failures)
	}
}
