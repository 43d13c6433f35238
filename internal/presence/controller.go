// Package presence decides whether the kiosk shows the idle video or the
// live embedded session. The Controller owns the presentation mode, the
// session resource lifecycle and the inactivity watchdog, and runs every
// transition on a single event loop.
package presence

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kiosk-presence/kiosk/internal/delivery"
	"github.com/kiosk-presence/kiosk/internal/metrics"
)

const (
	DefaultTimeout          = 25 * time.Second
	DefaultProvisionTimeout = 15 * time.Second
)

// ActivitySource reports user input observed on the page.
type ActivitySource interface {
	OnActivity(fn func(delivery.Signal)) (off func())
}

type Options struct {
	// Timeout is the inactivity interval before returning to idle.
	Timeout time.Duration
	// Debounce bounds how often activity reschedules the watchdog timer.
	Debounce time.Duration
	// ProvisionTimeout bounds how long a session may take to come up.
	ProvisionTimeout time.Duration
	// Signals lists the input kinds that count as activity. Empty means all.
	Signals []delivery.Signal
	Clock   clockwork.Clock
}

type Controller struct {
	opts     Options
	clock    clockwork.Clock
	adapter  delivery.Adapter
	activity ActivitySource
	accepted map[delivery.Signal]bool

	loop *loop // state transitions
	out  *loop // observer callbacks, kept off the state loop

	// Owned by loop.
	mode       Mode
	life       lifecycle
	watchdog   *Watchdog
	warning    bool
	lastReason Reason
	lastErr    string
	disposed   bool

	obsMu     sync.Mutex
	nextObs   uint64
	observers map[uint64]func(State)
	eventObs  map[uint64]func(delivery.Event)

	closed atomic.Bool
}

// New builds an idle controller. activity may be nil.
func New(adapter delivery.Adapter, activity ActivitySource, opts Options) *Controller {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ProvisionTimeout <= 0 {
		opts.ProvisionTimeout = DefaultProvisionTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	c := &Controller{
		opts:      opts,
		clock:     opts.Clock,
		adapter:   adapter,
		activity:  activity,
		loop:      newLoop(),
		out:       newLoop(),
		life:      lifecycle{adapter: adapter},
		observers: make(map[uint64]func(State)),
		eventObs:  make(map[uint64]func(delivery.Event)),
	}
	if len(opts.Signals) > 0 {
		c.accepted = make(map[delivery.Signal]bool, len(opts.Signals))
		for _, s := range opts.Signals {
			c.accepted[s] = true
		}
	}
	c.watchdog = NewWatchdog(c.clock, c.loop.post, opts.Debounce, func() {
		c.deactivate(ReasonInactivity)
	})
	return c
}

// Activate switches to Live and starts provisioning the session. It is a
// no-op when already Live. Provisioning completes asynchronously; a failure
// returns the controller to Idle and is reported in State.LastError.
func (c *Controller) Activate() error {
	var err error
	if !c.loop.do(func() { err = c.activate() }) {
		return ErrDisposed
	}
	return err
}

// Deactivate switches to Idle and tears the session down. It is a no-op when
// already Idle.
func (c *Controller) Deactivate() {
	c.loop.do(func() { c.deactivate(ReasonRequested) })
}

// RecordActivity reports user input. Signals the controller is not
// configured to accept, and signals while Idle, are ignored.
func (c *Controller) RecordActivity(sig delivery.Signal) {
	c.loop.do(func() { c.recordActivity(sig) })
}

// EmitUIEvent forwards ev to the live session. The result is advisory: false
// means there was no session or the adapter could not hand the event on.
func (c *Controller) EmitUIEvent(ev delivery.UIEvent) bool {
	var session delivery.Session
	c.loop.do(func() {
		if h := c.life.handle; h != nil && h.ready {
			session = h.session
		}
	})
	if session == nil {
		return false
	}
	return session.Send(ev)
}

// Mode returns the current presentation mode.
func (c *Controller) Mode() Mode {
	return c.State().Mode
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	var st State
	if !c.loop.do(func() { st = c.state() }) {
		return State{Mode: Idle, Adapter: c.adapter.Name(), LastReason: ReasonDisposed}
	}
	return st
}

// Subscribe registers fn to receive a State after every transition. fn runs
// off the state loop and may call back into the controller.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.obsMu.Unlock()
	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

// OnEvent registers fn to receive every player event from the live session
// after the controller has applied it.
func (c *Controller) OnEvent(fn func(delivery.Event)) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.eventObs[id] = fn
	c.obsMu.Unlock()
	return func() {
		c.obsMu.Lock()
		delete(c.eventObs, id)
		c.obsMu.Unlock()
	}
}

// Close disposes the controller: the session is torn down, the watchdog
// stopped and the loop shut. Later calls return immediately.
func (c *Controller) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.loop.do(func() {
		c.deactivate(ReasonDisposed)
		c.watchdog.Stop()
		c.disposed = true
	})
	c.loop.close()
	c.out.stop()
	return nil
}

func (c *Controller) activate() error {
	if c.disposed {
		return ErrDisposed
	}
	if c.mode == Live {
		return nil
	}

	h, created := c.life.provision(c.clock.Now())
	if !created {
		return nil
	}

	c.mode = Live
	c.warning = false
	c.lastErr = ""
	metrics.Activations.Inc()
	metrics.LiveSessions.Set(1)
	log.Printf("presence: session %s activating via %s", h.ID, c.adapter.Name())

	c.watchdog.Start(c.opts.Timeout)

	c.life.acquire(h, h.session.Subscribe(func(ev delivery.Event) {
		c.loop.post(func() {
			if c.life.current(h) {
				c.handleEvent(h, ev)
			}
		})
	}))
	if c.activity != nil {
		c.life.acquire(h, c.activity.OnActivity(func(sig delivery.Signal) {
			c.loop.post(func() {
				if c.life.current(h) {
					c.recordActivity(sig)
				}
			})
		}))
	}

	go c.provision(h)
	c.notify()
	return nil
}

// provision runs off the loop and posts its result back as a continuation.
func (c *Controller) provision(h *SessionHandle) {
	ctx, cancel := context.WithTimeout(h.ctx, c.opts.ProvisionTimeout)
	defer cancel()

	start := time.Now()
	err := h.session.Provision(ctx)
	metrics.ProvisionDuration.WithLabelValues(c.adapter.Name()).Observe(time.Since(start).Seconds())

	c.loop.post(func() { c.provisioned(h, err) })
}

func (c *Controller) provisioned(h *SessionHandle, err error) {
	if !c.life.current(h) {
		// The session ended while provisioning; make sure nothing it
		// created outlives it.
		if terr := h.session.Teardown(); terr != nil {
			log.Printf("presence: teardown orphaned session %s: %v", h.ID, terr)
		}
		return
	}
	if err != nil {
		metrics.ProvisionFailures.WithLabelValues(c.adapter.Name()).Inc()
		c.lastErr = fmt.Errorf("%w: %w", ErrProvisioning, err).Error()
		log.Printf("presence: session %s: %s", h.ID, c.lastErr)
		c.deactivate(ReasonProvisioning)
		return
	}
	h.ready = true
	log.Printf("presence: session %s ready", h.ID)
	c.notify()
}

func (c *Controller) deactivate(reason Reason) {
	if c.mode == Idle {
		return
	}
	// The watchdog goes first so no expiry can land on a dead session.
	c.watchdog.Stop()
	h := c.life.teardown()

	c.mode = Idle
	c.warning = false
	c.lastReason = reason
	metrics.Deactivations.WithLabelValues(string(reason)).Inc()
	metrics.LiveSessions.Set(0)
	if h != nil {
		log.Printf("presence: session %s ended (%s) after %s", h.ID, reason, c.clock.Since(h.StartedAt).Round(time.Millisecond))
	}
	c.notify()
}

func (c *Controller) recordActivity(sig delivery.Signal) {
	if c.accepted != nil && !c.accepted[sig] && sig != delivery.SignalExternal {
		return
	}
	c.watchdog.RecordActivity()
}

func (c *Controller) handleEvent(h *SessionHandle, ev delivery.Event) {
	changed := false
	switch {
	case ev.Type.Terminal():
		c.forward(ev)
		reason := ReasonDisconnected
		if ev.Type == delivery.EventAFKTimedOut {
			reason = ReasonAFKTimedOut
		}
		c.deactivate(reason)
		return
	case ev.Type == delivery.EventAFKWarning:
		changed = !c.warning
		c.warning = true
	case ev.Type.Activity():
		if ev.Type == delivery.EventAFKWarningDeactivate && c.warning {
			c.warning = false
			changed = true
		}
		if ev.Type == delivery.EventReady && !h.ready {
			// Some players report ready before Provision returns.
			h.ready = true
			changed = true
		}
		c.watchdog.RecordActivity()
	}
	c.forward(ev)
	if changed {
		c.notify()
	}
}

func (c *Controller) state() State {
	st := State{
		Mode:       c.mode,
		Adapter:    c.adapter.Name(),
		Warning:    c.warning,
		LastReason: c.lastReason,
		LastError:  c.lastErr,
	}
	if h := c.life.handle; h != nil {
		st.SessionID = h.ID
		st.Ready = h.ready
	}
	if c.watchdog.Running() {
		last := c.watchdog.LastActivity()
		deadline := c.watchdog.Deadline()
		st.LastActivityAt = &last
		st.Deadline = &deadline
	}
	return st
}

// notify hands the current state to observers on the output loop.
func (c *Controller) notify() {
	st := c.state()
	c.obsMu.Lock()
	fns := make([]func(State), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()
	if len(fns) == 0 {
		return
	}
	c.out.post(func() {
		for _, fn := range fns {
			fn(st)
		}
	})
}

func (c *Controller) forward(ev delivery.Event) {
	c.obsMu.Lock()
	fns := make([]func(delivery.Event), 0, len(c.eventObs))
	for _, fn := range c.eventObs {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()
	if len(fns) == 0 {
		return
	}
	c.out.post(func() {
		for _, fn := range fns {
			fn(ev)
		}
	})
}
