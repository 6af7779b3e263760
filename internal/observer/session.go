package observer

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/bryanchriswhite/windowobserver/internal/event"
	"github.com/bryanchriswhite/windowobserver/internal/logger"
	"github.com/bryanchriswhite/windowobserver/internal/metrics"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of a Session
type State int

const (
	NotStarted State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session observes the windows of one process.
//
// A Session moves from NotStarted to Running on Start and to Stopped on Stop
// or Close; Stopped is terminal. The native handle is released exactly once,
// including when an unstopped Session is garbage collected.
type Session struct {
	backend Backend
	pid     int

	mu      sync.Mutex
	state   State
	filter  event.Filter
	core    *sessionCore
	cleanup runtime.Cleanup
	log     *zerolog.Logger
}

// New creates a session for pid in the NotStarted state
func New(backend Backend, pid int, filter event.Filter) *Session {
	return &Session{
		backend: backend,
		pid:     pid,
		filter:  filter,
		log:     logger.WithSession("observer", pid, backend.Name()),
	}
}

// Start creates and starts a session
func Start(backend Backend, pid int, filter event.Filter) (*Session, error) {
	s := New(backend, pid, filter)
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// PID returns the observed process id
func (s *Session) PID() int {
	return s.pid
}

// Backend returns the backend name
func (s *Session) Backend() string {
	return s.backend.Name()
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Filter returns the active event filter
func (s *Session) Filter() event.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// Events returns the ordered event stream. It is closed when the session
// stops or the observed process goes away. Before Start it returns nil.
//
// After Stop the stream still yields the results that were pending; callers
// must drain it or use Close, which discards them.
func (s *Session) Events() <-chan event.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.core == nil {
		return nil
	}
	return s.core.queue.out
}

// Start verifies preconditions, spawns the delivery thread and returns once
// the native loop is running with its subscriptions registered.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Running:
		return ErrAlreadyStarted
	case Stopped:
		return ErrAlreadyStopped
	}

	// Preconditions fail before any thread or native handle exists.
	if err := s.backend.Check(s.pid); err != nil {
		return err
	}

	core := &sessionCore{
		backend: s.backend.Name(),
		pid:     s.pid,
		queue:   newResultQueue(),
		done:    make(chan struct{}),
		log:     s.log,
	}
	ready := make(chan error, 1)
	go core.deliver(s.backend, s.filter, ready)

	if err := <-ready; err != nil {
		<-core.done
		core.queue.abandon()
		s.log.Debug().Err(err).Msg("Observer failed to start")
		return err
	}

	s.core = core
	s.state = Running
	s.cleanup = runtime.AddCleanup(s, func(c *sessionCore) {
		c.log.Warn().Msg("Session collected without Stop, releasing native handle")
		c.shutdown(true)
	}, core)

	s.log.Info().Str("filter", s.filter.String()).Msg("Observer started")
	return nil
}

// Stop asks the native loop to exit, joins the delivery thread and ends the
// event stream after the pending results. A second Stop returns
// ErrAlreadyStopped.
func (s *Session) Stop() error {
	return s.stop(false)
}

// Close is Stop without the lifecycle error, for defer and io.Closer.
// Results not yet read are discarded.
func (s *Session) Close() error {
	if err := s.stop(true); err != nil && !errors.Is(err, ErrAlreadyStopped) {
		return err
	}
	return nil
}

func (s *Session) stop(abandon bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Stopped:
		return ErrAlreadyStopped
	case NotStarted:
		s.state = Stopped
		return nil
	}

	s.state = Stopped
	s.cleanup.Stop()
	if err := s.core.shutdown(abandon); err != nil {
		return fmt.Errorf("failed to release observer: %w", err)
	}
	s.log.Info().Msg("Observer stopped")
	return nil
}

// AddEvent starts observing kind without restarting the session
func (s *Session) AddEvent(kind event.Kind) error {
	return s.updateFilter(func(f event.Filter) event.Filter { return f.With(kind) })
}

// RemoveEvent stops observing kind without restarting the session
func (s *Session) RemoveEvent(kind event.Kind) error {
	return s.updateFilter(func(f event.Filter) event.Filter { return f.Without(kind) })
}

// SetFilter replaces the whole filter without restarting the session
func (s *Session) SetFilter(f event.Filter) error {
	return s.updateFilter(func(event.Filter) event.Filter { return f })
}

func (s *Session) updateFilter(change func(event.Filter) event.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Running {
		return ErrNotRunning
	}
	next := change(s.filter)
	if next == s.filter {
		return nil
	}
	if err := s.core.apply(next); err != nil {
		return err
	}
	s.log.Debug().
		Str("from", s.filter.String()).
		Str("to", next.String()).
		Msg("Filter updated")
	s.filter = next
	return nil
}

// sessionCore is the part of a session the delivery thread uses. It holds no
// reference to the Session, so an abandoned Session can be collected and its
// cleanup can still release the hook.
type sessionCore struct {
	backend string
	pid     int
	queue   *resultQueue
	done    chan struct{}
	log     *zerolog.Logger

	// Written by the delivery thread before readiness is signalled.
	hook   Hook
	interp *Interpreter

	once       sync.Once
	releaseErr error
}

func (c *sessionCore) deliver(b Backend, filter event.Filter, ready chan<- error) {
	defer close(c.done)
	defer c.queue.close()

	// Native delivery only happens on the thread that registered for it.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	hook, app, err := b.Open(c.pid)
	if err != nil {
		ready <- err
		return
	}
	defer func() {
		if err := hook.Release(); err != nil {
			c.releaseErr = err
			c.log.Error().Err(err).Msg("Failed to release native hook")
		}
	}()

	if err := hook.Register(Signals(filter)); err != nil {
		ready <- err
		return
	}

	c.hook = hook
	c.interp = NewInterpreter(app, filter, c.emit)
	if err := c.interp.Prime(); err != nil {
		if IsSessionEnding(err) {
			ready <- err
			return
		}
		c.log.Warn().Err(err).Msg("Failed to snapshot initial windows")
	}

	signalled := false
	runErr := hook.Run(func() {
		if !signalled {
			signalled = true
			metrics.ActiveSessions.WithLabelValues(c.backend).Inc()
			ready <- nil
		}
	}, c.handle)

	if !signalled {
		if runErr == nil {
			runErr = &PlatformError{Backend: c.backend, Op: "run loop", Err: errors.New("loop exited before becoming ready")}
		}
		ready <- runErr
		return
	}
	metrics.ActiveSessions.WithLabelValues(c.backend).Dec()

	if runErr != nil {
		c.log.Error().Err(runErr).Msg("Native loop failed")
		c.emit(event.Result{Err: runErr})
	}
}

// handle runs on the delivery thread for every owned notification
func (c *sessionCore) handle(n Notification) {
	metrics.NotificationsTotal.WithLabelValues(c.backend, n.Signal.String()).Inc()

	dispatched, err := c.interp.Interpret(n)
	if err != nil {
		c.log.Warn().Err(err).Msg("Observed process is gone, ending session")
		c.hook.Quit()
		return
	}
	if !dispatched {
		c.log.Trace().Stringer("signal", n.Signal).Msg("Notification not dispatched")
	}
}

func (c *sessionCore) emit(r event.Result) {
	if r.Err != nil {
		metrics.ErrorsTotal.WithLabelValues(c.backend).Inc()
		c.log.Debug().Err(r.Err).Msg("Translation error")
	} else {
		metrics.EventsTotal.WithLabelValues(c.backend, r.Payload.Event.Kind.String()).Inc()
	}
	// A stopped consumer makes this a no-op.
	c.queue.push(r)
}

// apply re-registers the native subscription for f on the delivery thread
func (c *sessionCore) apply(f event.Filter) error {
	result := make(chan error, 1)
	posted := c.hook.Post(func() {
		if err := c.hook.Register(Signals(f)); err != nil {
			result <- err
			return
		}
		c.interp.SetFilter(f)
		result <- nil
	})
	if !posted {
		return ErrNotRunning
	}
	select {
	case err := <-result:
		return err
	case <-c.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrNotRunning
		}
	}
}

// shutdown quits the loop and waits for the delivery thread. Only the first
// call does anything.
func (c *sessionCore) shutdown(abandon bool) error {
	var err error
	c.once.Do(func() {
		c.hook.Quit()
		<-c.done
		if abandon {
			c.queue.abandon()
		}
		err = c.releaseErr
	})
	return err
}
