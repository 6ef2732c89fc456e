package providers

import (
	"context"
	"testing"
	"time"

	apperrors "optionscope/internal/errors"
)

// fakeClockThrottle wires a throttle to a manual clock; sleeps advance it.
func fakeClockThrottle(t *testing.T, limit RateLimit) (*throttle, *time.Time, *[]time.Duration) {
	t.Helper()
	th := newThrottle(limit)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var slept []time.Duration
	th.now = func() time.Time { return now }
	th.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		now = now.Add(d)
		return nil
	}
	return th, &now, &slept
}

func TestThrottlePacesRequests(t *testing.T) {
	th, now, slept := fakeClockThrottle(t, RateLimit{RequestsPerSecond: 2})
	ctx := context.Background()

	if err := th.wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 0 {
		t.Fatalf("first request slept %v, want none", *slept)
	}

	// A back-to-back request waits the full 500ms interval.
	if err := th.wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 1 || (*slept)[0] != 500*time.Millisecond {
		t.Fatalf("slept %v, want [500ms]", *slept)
	}

	// A request arriving 200ms into the interval sleeps the remainder.
	*now = now.Add(200 * time.Millisecond)
	if err := th.wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 2 || (*slept)[1] != 300*time.Millisecond {
		t.Fatalf("slept %v, want remainder 300ms", *slept)
	}

	// A request past the interval proceeds immediately.
	*now = now.Add(2 * time.Second)
	if err := th.wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 2 {
		t.Fatalf("slept %v, want no further sleeps", *slept)
	}
}

func TestThrottleDailyBudget(t *testing.T) {
	th, now, _ := fakeClockThrottle(t, RateLimit{RequestsPerDay: 2})
	ctx := context.Background()

	if err := th.wait(ctx); err != nil {
		t.Fatal(err)
	}
	if err := th.wait(ctx); err != nil {
		t.Fatal(err)
	}

	err := th.wait(ctx)
	if !apperrors.Is(err, apperrors.ErrRateLimited) {
		t.Fatalf("third request err = %v, want ErrRateLimited", err)
	}

	// The budget resets a day after first use.
	*now = now.Add(25 * time.Hour)
	if err := th.wait(ctx); err != nil {
		t.Fatalf("post-reset request err = %v, want nil", err)
	}

	used, total, _ := th.budget()
	if used != 1 || total != 2 {
		t.Errorf("budget = %d/%d after reset, want 1/2", used, total)
	}
}

func TestThrottleUnlimited(t *testing.T) {
	th, _, slept := fakeClockThrottle(t, RateLimit{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := th.wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if len(*slept) != 0 {
		t.Fatalf("unlimited throttle slept %v", *slept)
	}
}

func TestSleepCtxHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sleepCtx(ctx, time.Hour); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
