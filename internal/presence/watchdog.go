package presence

import (
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// DefaultDebounce limits timer reschedules to about one per display frame.
const DefaultDebounce = 16 * time.Millisecond

// Watchdog returns the kiosk to idle after a silence interval. It is owned
// by the controller loop: every method must be called from a loop task, and
// expiry is delivered back through post.
//
// Activity always stamps the last-activity time, but the timer is only
// rescheduled once per debounce interval. When the timer fires it re-checks
// the stamp, so activity recorded just before expiry still wins.
type Watchdog struct {
	clock    clockwork.Clock
	post     func(func()) bool
	onExpire func()
	limiter  *rate.Limiter

	running      bool
	timeout      time.Duration
	gen          uint64
	timer        clockwork.Timer
	lastActivity time.Time
}

// NewWatchdog builds a stopped watchdog. onExpire runs on the loop at most
// once per Start.
func NewWatchdog(clock clockwork.Clock, post func(func()) bool, debounce time.Duration, onExpire func()) *Watchdog {
	w := &Watchdog{
		clock:    clock,
		post:     post,
		onExpire: onExpire,
	}
	if debounce > 0 {
		w.limiter = rate.NewLimiter(rate.Every(debounce), 1)
	}
	return w
}

// Start arms the watchdog for timeout. It is a no-op while running.
func (w *Watchdog) Start(timeout time.Duration) {
	if w.running {
		return
	}
	w.running = true
	w.timeout = timeout
	w.lastActivity = w.clock.Now()
	w.schedule(timeout)
}

// RecordActivity pushes the deadline out to now+timeout. It reports false
// when the watchdog is stopped.
func (w *Watchdog) RecordActivity() bool {
	if !w.running {
		return false
	}
	now := w.clock.Now()
	w.lastActivity = now
	if w.limiter == nil || w.limiter.AllowN(now, 1) {
		w.schedule(w.timeout)
	}
	return true
}

// Stop disarms the watchdog. Any timer already in flight is ignored when it
// lands. Stop is a no-op when stopped.
func (w *Watchdog) Stop() {
	if !w.running {
		return
	}
	w.running = false
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watchdog) Running() bool { return w.running }

// LastActivity returns when activity was last recorded, or the start time.
func (w *Watchdog) LastActivity() time.Time { return w.lastActivity }

// Deadline returns when the watchdog will expire absent further activity.
// It is zero when stopped.
func (w *Watchdog) Deadline() time.Time {
	if !w.running {
		return time.Time{}
	}
	return w.lastActivity.Add(w.timeout)
}

func (w *Watchdog) schedule(d time.Duration) {
	w.gen++
	gen := w.gen
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = w.clock.AfterFunc(d, func() {
		w.post(func() { w.fire(gen) })
	})
}

func (w *Watchdog) fire(gen uint64) {
	if !w.running || gen != w.gen {
		return
	}
	idle := w.clock.Since(w.lastActivity)
	if idle < w.timeout {
		w.schedule(w.timeout - idle)
		return
	}
	w.running = false
	w.timer = nil
	w.onExpire()
}
