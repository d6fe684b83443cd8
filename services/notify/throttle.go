package notifysvc

import (
	"sync"
	"time"

	"github.com/trezcool/hadiri/core"
)

// Throttle suppresses repeats of the same notification key within a
// per-severity window. Steady-state repeats ("no match found" on every
// capture tick) collapse to one message; errors get a shorter window so
// real faults keep surfacing.
type Throttle struct {
	next    core.Notifier
	windows map[core.Severity]time.Duration
	now     func() time.Time

	mu          sync.Mutex
	lastEmitted map[string]time.Time
}

var _ core.Notifier = (*Throttle)(nil)

func NewThrottle(next core.Notifier, conf *core.Config) *Throttle {
	return &Throttle{
		next: next,
		windows: map[core.Severity]time.Duration{
			core.SeverityInfo:    conf.Notify.InfoWindow,
			core.SeveritySuccess: conf.Notify.InfoWindow,
			core.SeverityWarning: conf.Notify.WarningWindow,
			core.SeverityError:   conf.Notify.ErrorWindow,
		},
		now:         time.Now,
		lastEmitted: make(map[string]time.Time),
	}
}

func (t *Throttle) Notify(n core.Notification) {
	if !t.shouldEmit(n.Key, n.Severity) {
		return
	}
	t.next.Notify(n)
}

func (t *Throttle) shouldEmit(key string, sev core.Severity) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.lastEmitted[key]; ok && now.Sub(last) < t.windows[sev] {
		return false
	}
	t.lastEmitted[key] = now
	return true
}

// Reset forgets emission history, e.g. when a new session starts.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastEmitted = make(map[string]time.Time)
}
