package sqlite

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) sleep(d time.Duration) { c.slept = append(c.slept, d) }

func TestRetrySucceedsWithoutError(t *testing.T) {
	clock := &fakeClock{}
	calls := 0
	err := retryOnDBLock(DefaultRetryConfig(), func() error {
		calls++
		return nil
	}, clock.sleep)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 || len(clock.slept) != 0 {
		t.Fatalf("calls = %d, sleeps = %d", calls, len(clock.slept))
	}
}

func TestRetryDoesNotRetryOtherErrors(t *testing.T) {
	clock := &fakeClock{}
	boom := errors.New("constraint failed")
	calls := 0
	err := retryOnDBLock(DefaultRetryConfig(), func() error {
		calls++
		return boom
	}, clock.sleep)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-lock errors must not retry, got %d calls", calls)
	}
}

func TestRetryRecoversFromLockContention(t *testing.T) {
	clock := &fakeClock{}
	calls := 0
	err := retryOnDBLock(DefaultRetryConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	}, clock.sleep)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(clock.slept) != 2 {
		t.Fatalf("sleeps = %d, want 2", len(clock.slept))
	}
	// Exponential backoff: the second delay is at least twice the base.
	cfg := DefaultRetryConfig()
	if clock.slept[0] < cfg.BaseDelay || clock.slept[1] < 2*cfg.BaseDelay {
		t.Fatalf("delays too short: %v", clock.slept)
	}
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	clock := &fakeClock{}
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond}
	calls := 0
	err := retryOnDBLock(cfg, func() error {
		calls++
		return errors.New("database table is locked")
	}, clock.sleep)
	if err == nil {
		t.Fatal("expected the final lock error to surface")
	}
	if calls != cfg.MaxRetries+1 {
		t.Fatalf("calls = %d, want %d", calls, cfg.MaxRetries+1)
	}
}

func TestIsDBLocked(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"database is locked", true},
		{"database table is locked", true},
		{"sqlite_busy: cannot commit", true},
		{"SQLITE_BUSY", true},
		{"UNIQUE constraint failed", false},
		{"no such table: proposals", false},
	}
	for _, tc := range cases {
		if got := isDBLocked(errors.New(tc.msg)); got != tc.want {
			t.Errorf("isDBLocked(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}
