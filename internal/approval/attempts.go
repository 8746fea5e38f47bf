package approval

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	attemptWindow     = time.Hour
	maxTrackedIDs     = 1024
	attemptPruneEvery = time.Minute
	// One log line per identity per minute, with a small burst.
	attemptLogRate  = rate.Limit(1.0 / 60)
	attemptLogBurst = 3
)

// attemptLog counts refused decision attempts per identity inside a sliding
// window. The map is capped and pruned so hostile callers cannot grow it.
type attemptLog struct {
	mu        sync.Mutex
	entries   map[string]*attempter
	lastPrune time.Time
	now       func() time.Time
}

type attempter struct {
	limiter     *rate.Limiter
	count       int
	windowStart time.Time
	lastSeen    time.Time
}

func newAttemptLog() *attemptLog {
	return &attemptLog{
		entries: make(map[string]*attempter),
		now:     time.Now,
	}
}

// record counts one attempt and reports the count in the current window and
// whether this attempt may be logged.
func (l *attemptLog) record(identity string) (int, bool) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) >= attemptPruneEvery {
		l.prune(now)
	}

	e, ok := l.entries[identity]
	if !ok {
		if len(l.entries) >= maxTrackedIDs {
			l.evictOldest()
		}
		e = &attempter{
			limiter:     rate.NewLimiter(attemptLogRate, attemptLogBurst),
			windowStart: now,
		}
		l.entries[identity] = e
	}
	if now.Sub(e.windowStart) > attemptWindow {
		e.count = 0
		e.windowStart = now
	}
	e.count++
	e.lastSeen = now
	return e.count, e.limiter.AllowN(now, 1)
}

func (l *attemptLog) prune(now time.Time) {
	for id, e := range l.entries {
		if now.Sub(e.lastSeen) > attemptWindow {
			delete(l.entries, id)
		}
	}
	l.lastPrune = now
}

func (l *attemptLog) evictOldest() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, e := range l.entries {
		if oldestID == "" || e.lastSeen.Before(oldest) {
			oldestID, oldest = id, e.lastSeen
		}
	}
	delete(l.entries, oldestID)
}

func (l *attemptLog) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
