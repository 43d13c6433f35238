package presence

import (
	"log"
	"runtime/debug"
	"sync"
)

// loop runs tasks one at a time on a single goroutine. Every controller
// state change happens inside a task, so transitions never overlap. Posting
// never blocks, which lets timer and listener callbacks post while the
// loop itself is waiting on them.
type loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

func newLoop() *loop {
	l := &loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// post queues fn. It reports false once the loop is closed.
func (l *loop) post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// do runs fn on the loop and waits for it. It must not be called from a
// task. It reports false if the loop was closed before fn could run.
func (l *loop) do(fn func()) bool {
	ran := make(chan struct{})
	if !l.post(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		// Closed with fn still queued; close drains the queue, so wait for it.
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// stop stops accepting tasks. Tasks already queued still run. It does not
// wait, so it is safe to call from a task.
func (l *loop) stop() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// close stops the loop and waits for queued tasks to finish. It must not be
// called from a task.
func (l *loop) close() {
	l.stop()
	<-l.done
}

func (l *loop) run() {
	defer close(l.done)
	for range l.wake {
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				closed := l.closed
				l.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			runTask(fn)
		}
	}
}

func runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("presence: recovered panic in loop task: %v\n%s", r, debug.Stack())
		}
	}()
	fn()
}
