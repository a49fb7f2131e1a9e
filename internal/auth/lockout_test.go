package auth

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockoutTracker_BlocksAfterMaxAttempts(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(LockoutConfig{MaxAttempts: 5, Duration: time.Hour}, clock)
	const ip = "10.0.0.1"

	for i := 1; i <= 4; i++ {
		remaining := tr.RecordFailure(ip)
		assert.Equal(t, 5-i, remaining, "after failure %d", i)
		assert.False(t, tr.IsBlocked(ip), "blocked after %d failures", i)
	}

	assert.Equal(t, 0, tr.RecordFailure(ip))
	assert.True(t, tr.IsBlocked(ip))
	assert.Equal(t, 0, tr.RemainingAttempts(ip))
	assert.Equal(t, 60, tr.RemainingLockoutMinutes(ip))
}

func TestLockoutTracker_RemainingLockoutMinutesRoundsUp(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(LockoutConfig{MaxAttempts: 1, Duration: time.Hour}, clock)
	const ip = "10.0.0.2"

	tr.RecordFailure(ip)

	clock.Advance(30*time.Minute + 10*time.Second)
	assert.Equal(t, 30, tr.RemainingLockoutMinutes(ip))

	clock.Advance(29*time.Minute + 49*time.Second)
	assert.Equal(t, 1, tr.RemainingLockoutMinutes(ip))

	assert.Equal(t, 0, tr.RemainingLockoutMinutes("10.9.9.9"), "unknown address")
}

func TestLockoutTracker_ExpiresAfterDuration(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(LockoutConfig{MaxAttempts: 5, Duration: time.Hour}, clock)
	const ip = "9.9.9.9"

	for range 5 {
		tr.RecordFailure(ip)
	}
	require.True(t, tr.IsBlocked(ip))

	clock.Advance(time.Hour)
	assert.True(t, tr.IsBlocked(ip), "still blocked at exactly the lockout duration")

	clock.Advance(time.Second)
	assert.False(t, tr.IsBlocked(ip))
	assert.Equal(t, 5, tr.RemainingAttempts(ip))
	assert.Equal(t, 0, tr.StatsSnapshot().TrackedIPs, "record removed on expiry")
}

func TestLockoutTracker_CountingRecordNeverExpires(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(LockoutConfig{MaxAttempts: 5, Duration: time.Hour}, clock)
	const ip = "9.9.9.9"

	for range 4 {
		tr.RecordFailure(ip)
	}
	clock.Advance(61 * time.Minute)

	assert.False(t, tr.IsBlocked(ip))
	assert.Equal(t, 1, tr.RemainingAttempts(ip), "old failures still count")
	assert.Equal(t, 4, tr.Status(ip).FailedAttempts)
	assert.Equal(t, 0, tr.Prune(), "prune leaves counting records alone")

	assert.Equal(t, 0, tr.RecordFailure(ip))
	assert.True(t, tr.IsBlocked(ip), "fifth failure blocks regardless of spacing")
}

func TestLockoutTracker_RecordSuccessResets(t *testing.T) {
	tr := NewLockoutTracker(LockoutConfig{MaxAttempts: 5, Duration: time.Hour})
	const ip = "10.0.0.4"

	for range 3 {
		tr.RecordFailure(ip)
	}
	tr.RecordSuccess(ip)

	assert.Equal(t, 5, tr.RemainingAttempts(ip))
	assert.False(t, tr.IsBlocked(ip))
}

func TestLockoutTracker_Unblock(t *testing.T) {
	tr := NewLockoutTracker(LockoutConfig{MaxAttempts: 2, Duration: time.Hour})
	const ip = "10.0.0.5"

	assert.False(t, tr.Unblock(ip), "nothing to unblock")

	tr.RecordFailure(ip)
	tr.RecordFailure(ip)
	require.True(t, tr.IsBlocked(ip))

	assert.True(t, tr.Unblock(ip))
	assert.False(t, tr.IsBlocked(ip))
	assert.False(t, tr.Unblock(ip))
}

func TestLockoutTracker_StatsSnapshot(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(LockoutConfig{MaxAttempts: 2, Duration: 90 * time.Second}, clock)

	tr.RecordFailure("a")
	tr.RecordFailure("b")
	tr.RecordFailure("b")

	stats := tr.StatsSnapshot()
	assert.Equal(t, LockoutStats{
		TrackedIPs:          2,
		BlockedIPs:          1,
		TotalFailedAttempts: 3,
		MaxAttempts:         2,
		LockoutMinutes:      2,
	}, stats)
}

func TestLockoutTracker_Status(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(LockoutConfig{MaxAttempts: 3, Duration: time.Hour}, clock)

	clean := tr.Status("10.1.1.1")
	assert.Equal(t, IPStatus{IP: "10.1.1.1", RemainingAttempts: 3}, clean)

	tr.RecordFailure("10.1.1.1")
	status := tr.Status("10.1.1.1")
	assert.Equal(t, 1, status.FailedAttempts)
	assert.Equal(t, 2, status.RemainingAttempts)
	assert.False(t, status.Blocked)
	require.NotNil(t, status.LastAttemptAt)
	assert.Equal(t, clock.Now(), *status.LastAttemptAt)
}

func TestLockoutTracker_Prune(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(LockoutConfig{MaxAttempts: 1, Duration: time.Minute}, clock)

	tr.RecordFailure("old")
	clock.Advance(2 * time.Minute)
	tr.RecordFailure("fresh")

	assert.Equal(t, 1, tr.Prune())
	assert.Equal(t, 1, tr.StatsSnapshot().TrackedIPs)
}

func TestLockoutTracker_EvictsOldestNonBlocked(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(LockoutConfig{MaxAttempts: 2, Duration: time.Hour, MaxTrackedIPs: 3}, clock)

	tr.RecordFailure("blocked")
	tr.RecordFailure("blocked")
	clock.Advance(time.Second)
	tr.RecordFailure("oldest")
	clock.Advance(time.Second)
	tr.RecordFailure("newer")
	clock.Advance(time.Second)
	tr.RecordFailure("newest")

	assert.Equal(t, 3, tr.StatsSnapshot().TrackedIPs)
	assert.True(t, tr.IsBlocked("blocked"), "blocked records are never evicted")
	assert.Equal(t, 0, tr.Status("oldest").FailedAttempts, "oldest tracking record evicted")
	assert.Equal(t, 1, tr.Status("newer").FailedAttempts)
	assert.Equal(t, 1, tr.Status("newest").FailedAttempts)
}

func TestLockoutTracker_EvictionSkipsWhenAllBlocked(t *testing.T) {
	tr := NewLockoutTracker(LockoutConfig{MaxAttempts: 1, Duration: time.Hour, MaxTrackedIPs: 2})

	for _, ip := range []string{"a", "b", "c"} {
		tr.RecordFailure(ip)
	}
	for _, ip := range []string{"a", "b", "c"} {
		assert.True(t, tr.IsBlocked(ip), "%s should stay blocked", ip)
	}
}

func TestLockoutTracker_OnBlocked(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(LockoutConfig{MaxAttempts: 2, Duration: time.Hour}, clock)

	var calls []string
	var until time.Time
	tr.SetOnBlocked(func(ip string, u time.Time) {
		calls = append(calls, ip)
		until = u
	})

	tr.RecordFailure("10.0.0.9")
	tr.RecordFailure("10.0.0.9")
	tr.RecordFailure("10.0.0.9")

	assert.Equal(t, []string{"10.0.0.9"}, calls, "callback fires once per transition")
	assert.Equal(t, clock.Now().Add(time.Hour), until)
}

func TestLockoutTracker_Defaults(t *testing.T) {
	cfg := NewLockoutTracker(LockoutConfig{}).Config()
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, DefaultLockoutDuration, cfg.Duration)
}

func TestLockoutTracker_ConcurrentFailuresSameIP(t *testing.T) {
	tr := NewLockoutTracker(LockoutConfig{MaxAttempts: 1000, Duration: time.Hour})
	const ip = "10.2.2.2"

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				tr.RecordFailure(ip)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, tr.Status(ip).FailedAttempts, "no lost updates")
}

func TestLockoutTracker_ConcurrentMixedOperations(t *testing.T) {
	tr := NewLockoutTracker(LockoutConfig{MaxAttempts: 3, Duration: time.Hour, MaxTrackedIPs: 16})

	var wg sync.WaitGroup
	for g := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				ip := fmt.Sprintf("10.3.%d.%d", g, i%8)
				switch i % 5 {
				case 0:
					tr.RecordSuccess(ip)
				case 1:
					tr.IsBlocked(ip)
				case 2:
					tr.StatsSnapshot()
				default:
					tr.RecordFailure(ip)
				}
			}
		}()
	}
	wg.Wait()

	stats := tr.StatsSnapshot()
	assert.GreaterOrEqual(t, stats.TrackedIPs, 0)
	assert.LessOrEqual(t, stats.BlockedIPs, stats.TrackedIPs)
}
