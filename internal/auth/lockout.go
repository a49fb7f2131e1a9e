package auth

import (
	"sync"
	"sync/atomic"
	"time"
)

// Lockout defaults.
const (
	DefaultMaxAttempts     = 5
	DefaultLockoutDuration = time.Hour
)

// LockoutConfig holds configuration for the per-IP lockout tracker.
type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
	// MaxTrackedIPs bounds the number of records. When full, the least
	// recently seen non-blocked record is evicted. 0 means unbounded.
	MaxTrackedIPs int
}

// IPStatus is a point-in-time view of one address.
type IPStatus struct {
	IP                      string     `json:"ip"`
	FailedAttempts          int        `json:"failed_attempts"`
	Blocked                 bool       `json:"blocked"`
	RemainingAttempts       int        `json:"remaining_attempts"`
	RemainingLockoutMinutes int        `json:"remaining_lockout_minutes"`
	LastAttemptAt           *time.Time `json:"last_attempt_at,omitempty"`
}

// LockoutStats summarises the tracker.
type LockoutStats struct {
	TrackedIPs          int `json:"tracked_ips"`
	BlockedIPs          int `json:"blocked_ips"`
	TotalFailedAttempts int `json:"total_failed_attempts"`
	MaxAttempts         int `json:"max_attempts"`
	LockoutMinutes      int `json:"lockout_minutes"`
}

// attemptRecord is the mutable state for one IP. A record removed from the
// map is marked deleted under its own lock so a writer that loaded it
// concurrently retries against a fresh record instead of updating a
// detached one.
type attemptRecord struct {
	mu            sync.Mutex
	count         int
	lastAttemptAt time.Time
	blocked       bool
	deleted       bool
}

// LockoutTracker counts failed logins per client IP and blocks an address
// after MaxAttempts failures until Duration has passed since its last
// attempt. Unrelated addresses never contend on a shared lock.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type LockoutTracker struct {
	cfg     LockoutConfig
	records sync.Map // ip -> *attemptRecord
	size    atomic.Int64
	now     func() time.Time

	onBlocked atomic.Pointer[func(ip string, until time.Time)]
}

// NewLockoutTracker creates a tracker. Zero values in cfg select the defaults.
func NewLockoutTracker(cfg LockoutConfig) *LockoutTracker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultLockoutDuration
	}
	if cfg.MaxTrackedIPs < 0 {
		cfg.MaxTrackedIPs = 0
	}
	return &LockoutTracker{cfg: cfg, now: time.Now}
}

// SetOnBlocked registers a callback invoked once each time an address
// transitions into the blocked state. It runs outside the tracker's locks.
func (t *LockoutTracker) SetOnBlocked(fn func(ip string, until time.Time)) {
	t.onBlocked.Store(&fn)
}

// Config returns the effective configuration.
func (t *LockoutTracker) Config() LockoutConfig {
	return t.cfg
}

// expired reports whether rec is a block whose window has elapsed. Records
// that are still counting never expire; only eviction removes them.
// Caller holds rec.mu.
func (t *LockoutTracker) expired(rec *attemptRecord, now time.Time) bool {
	return rec.blocked && now.Sub(rec.lastAttemptAt) > t.cfg.Duration
}

// remove detaches rec from the map. Caller holds rec.mu.
func (t *LockoutTracker) remove(ip string, rec *attemptRecord) {
	rec.deleted = true
	if t.records.CompareAndDelete(ip, rec) {
		t.size.Add(-1)
	}
}

func (t *LockoutTracker) load(ip string) (*attemptRecord, bool) {
	v, ok := t.records.Load(ip)
	if !ok {
		return nil, false
	}
	return v.(*attemptRecord), true
}

// IsBlocked reports whether ip is currently blocked. A block whose window
// has elapsed is removed here, returning the address to a clean state.
func (t *LockoutTracker) IsBlocked(ip string) bool {
	rec, ok := t.load(ip)
	if !ok {
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.deleted {
		return false
	}
	if t.expired(rec, t.now()) {
		t.remove(ip, rec)
		return false
	}
	return rec.blocked
}

// RecordFailure counts a failed attempt from ip and returns how many
// attempts remain before the address is blocked (0 once blocked). Failures
// accumulate until a success, an unblock or the end of a block.
func (t *LockoutTracker) RecordFailure(ip string) int {
	for {
		rec := t.loadOrCreate(ip)

		rec.mu.Lock()
		if rec.deleted {
			rec.mu.Unlock()
			continue
		}

		now := t.now()
		if t.expired(rec, now) {
			rec.count = 0
			rec.blocked = false
		}

		rec.count++
		rec.lastAttemptAt = now

		newlyBlocked := false
		if rec.count >= t.cfg.MaxAttempts && !rec.blocked {
			rec.blocked = true
			newlyBlocked = true
		}
		remaining := max(t.cfg.MaxAttempts-rec.count, 0)
		rec.mu.Unlock()

		if newlyBlocked {
			if fn := t.onBlocked.Load(); fn != nil && *fn != nil {
				(*fn)(ip, now.Add(t.cfg.Duration))
			}
		}
		return remaining
	}
}

func (t *LockoutTracker) loadOrCreate(ip string) *attemptRecord {
	if rec, ok := t.load(ip); ok {
		return rec
	}

	fresh := &attemptRecord{}
	v, loaded := t.records.LoadOrStore(ip, fresh)
	if loaded {
		return v.(*attemptRecord)
	}

	if n := t.size.Add(1); t.cfg.MaxTrackedIPs > 0 && n > int64(t.cfg.MaxTrackedIPs) {
		t.evictOne(ip)
	}
	return fresh
}

// evictOne removes the least recently seen non-blocked record other than
// keep. Blocked records are never evicted, so the map may exceed the bound
// when every tracked address is blocked.
func (t *LockoutTracker) evictOne(keep string) {
	var (
		victimIP   string
		victimRec  *attemptRecord
		victimSeen time.Time
	)

	t.records.Range(func(key, value any) bool {
		ip := key.(string)
		if ip == keep {
			return true
		}
		rec := value.(*attemptRecord)

		rec.mu.Lock()
		candidate := !rec.deleted && !rec.blocked
		seen := rec.lastAttemptAt
		rec.mu.Unlock()

		if candidate && (victimRec == nil || seen.Before(victimSeen)) {
			victimIP, victimRec, victimSeen = ip, rec, seen
		}
		return true
	})

	if victimRec == nil {
		return
	}

	victimRec.mu.Lock()
	// Re-check: the record may have been blocked or removed since the scan.
	if !victimRec.deleted && !victimRec.blocked {
		t.remove(victimIP, victimRec)
	}
	victimRec.mu.Unlock()
}

// RecordSuccess clears all state for ip.
func (t *LockoutTracker) RecordSuccess(ip string) {
	t.Unblock(ip)
}

// Unblock removes any record for ip and reports whether one existed.
func (t *LockoutTracker) Unblock(ip string) bool {
	rec, ok := t.load(ip)
	if !ok {
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.deleted {
		return false
	}
	t.remove(ip, rec)
	return true
}

// RemainingAttempts returns how many failures ip may still make before
// being blocked.
func (t *LockoutTracker) RemainingAttempts(ip string) int {
	return t.Status(ip).RemainingAttempts
}

// RemainingLockoutMinutes returns the time left on ip's block rounded up to
// whole minutes, or 0 if it is not blocked.
func (t *LockoutTracker) RemainingLockoutMinutes(ip string) int {
	return t.Status(ip).RemainingLockoutMinutes
}

// Status returns a consistent snapshot of ip's state.
func (t *LockoutTracker) Status(ip string) IPStatus {
	status := IPStatus{IP: ip, RemainingAttempts: t.cfg.MaxAttempts}

	rec, ok := t.load(ip)
	if !ok {
		return status
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := t.now()
	if rec.deleted || t.expired(rec, now) {
		return status
	}

	last := rec.lastAttemptAt
	status.FailedAttempts = rec.count
	status.Blocked = rec.blocked
	status.RemainingAttempts = max(t.cfg.MaxAttempts-rec.count, 0)
	status.LastAttemptAt = &last
	if rec.blocked {
		status.RemainingLockoutMinutes = ceilMinutes(t.cfg.Duration - now.Sub(rec.lastAttemptAt))
	}
	return status
}

// StatsSnapshot summarises every live record. Expired blocks are removed
// as they are encountered.
func (t *LockoutTracker) StatsSnapshot() LockoutStats {
	stats := LockoutStats{
		MaxAttempts:    t.cfg.MaxAttempts,
		LockoutMinutes: ceilMinutes(t.cfg.Duration),
	}

	now := t.now()
	t.records.Range(func(key, value any) bool {
		rec := value.(*attemptRecord)

		rec.mu.Lock()
		defer rec.mu.Unlock()

		if rec.deleted {
			return true
		}
		if t.expired(rec, now) {
			t.remove(key.(string), rec)
			return true
		}

		stats.TrackedIPs++
		stats.TotalFailedAttempts += rec.count
		if rec.blocked {
			stats.BlockedIPs++
		}
		return true
	})
	return stats
}

// Prune removes every block whose window has elapsed and returns how many
// were removed. Counting records are left to eviction.
func (t *LockoutTracker) Prune() int {
	removed := 0
	now := t.now()
	t.records.Range(func(key, value any) bool {
		rec := value.(*attemptRecord)
		rec.mu.Lock()
		if !rec.deleted && t.expired(rec, now) {
			t.remove(key.(string), rec)
			removed++
		}
		rec.mu.Unlock()
		return true
	})
	return removed
}

func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}
