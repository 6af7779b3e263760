package observer

import "sync"

// chanLoop is the delivery loop shared by backends whose native events arrive
// on a Go channel fed from a foreign goroutine. Everything it runs, native
// events and posted functions alike, runs on the goroutine calling runLoop.
type chanLoop struct {
	posts    chan func()
	quit     chan struct{}
	quitOnce sync.Once
	exited   chan struct{}
}

func newChanLoop() *chanLoop {
	return &chanLoop{
		posts:  make(chan func()),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// Post hands fn to the loop goroutine
func (l *chanLoop) Post(fn func()) bool {
	select {
	case <-l.exited:
		return false
	default:
	}
	select {
	case l.posts <- fn:
		return true
	case <-l.exited:
		return false
	}
}

// Quit asks runLoop to return
func (l *chanLoop) Quit() {
	l.quitOnce.Do(func() { close(l.quit) })
}

// runLoop processes events until Quit, a closed events channel (reported as
// closedErr) or a handler error.
func runLoop[T any](l *chanLoop, ready func(), events <-chan T, closedErr error, handle func(T) error) error {
	defer close(l.exited)
	ready()
	for {
		select {
		case <-l.quit:
			return nil
		case fn := <-l.posts:
			fn()
		case ev, ok := <-events:
			if !ok {
				return closedErr
			}
			if err := handle(ev); err != nil {
				return err
			}
		}
	}
}
