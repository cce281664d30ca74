package widget

import (
	"sync"
	"time"
)

// Timer is an armed one-shot callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts wall time and one-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Executor runs tasks one at a time, in order.
type Executor interface {
	// Post queues fn. It reports false once the executor is stopped.
	Post(fn func()) bool
}

// Loop is an Executor backed by a single goroutine. Every mutation of a
// widget's window and playback state runs on it.
type Loop struct {
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func NewLoop() *Loop {
	l := &Loop{
		tasks: make(chan func(), 64),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.quit:
			return
		}
	}
}

func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Stop ends the loop and waits for the running task to return. Queued tasks
// are dropped. It must not be called from a task.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.quit) })
	<-l.done
}
