// Package scheduler debounces recompilation requests per scene object and
// keeps at most one compilation in flight for each.
//
// Per object the state machine is:
//
//	Idle --Submit--> Scheduled --window elapses--> Compiling --done--> Idle
//	Compiling --Submit--> CompilingScheduled --done--> Scheduled or Compiling
//
// A new edit inside the debounce window restarts the window. It never
// cancels a compilation that is already running; instead exactly one
// follow-up runs with the latest request once the current one resolves.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/chazu/partsmith/pkg/engine"
	"github.com/chazu/partsmith/pkg/params"
	"github.com/chazu/partsmith/pkg/scene"
)

// DefaultDelay is the debounce window.
const DefaultDelay = 300 * time.Millisecond

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("scheduler: closed")

// Request is the input for one compilation. Schema travels with it so the
// result is stored beside the parameter definitions it was compiled under.
type Request struct {
	Source  string
	Schema  params.Schema
	Binding params.Binding
}

// CompileFunc runs one compilation. It must honour ctx cancellation.
type CompileFunc func(ctx context.Context, req Request) engine.Result

// ApplyFunc receives the result of the latest compilation started for id.
// Results of cancelled or superseded compilations are never delivered.
type ApplyFunc func(id scene.ID, req Request, res engine.Result)

// Status is the advisory per-object status reported to observers.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusCompiling Status = "compiling"
	StatusError     Status = "error"
)

// StatusFunc observes status changes. err is set with StatusError.
type StatusFunc func(id scene.ID, status Status, err error)

// State is an object's position in the scheduling state machine.
type State int

const (
	Idle State = iota
	Scheduled
	Compiling
	CompilingScheduled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Compiling:
		return "compiling"
	case CompilingScheduled:
		return "compiling+scheduled"
	}
	return "unknown"
}

type job struct {
	state      State
	pending    *Request
	latest     *Request // last submitted; nil once the job settles
	timerArmed bool
	debounced  func(func())
	gen        uint64 // bumped on every arm; older fires are stale
	seq        uint64
	cancel     context.CancelFunc
}

// Scheduler coordinates recompilation for many objects.
type Scheduler struct {
	compile  CompileFunc
	apply    ApplyFunc
	onStatus StatusFunc
	delay    time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	jobs   map[scene.ID]*job
	closed bool
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDelay sets the debounce window.
func WithDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithStatus registers a status observer.
func WithStatus(fn StatusFunc) Option {
	return func(s *Scheduler) { s.onStatus = fn }
}

// New returns a running Scheduler.
func New(compile CompileFunc, apply ApplyFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		compile: compile,
		apply:   apply,
		delay:   DefaultDelay,
		logger:  slog.Default(),
		jobs:    make(map[scene.ID]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.stop = context.WithCancel(context.Background())
	return s
}

// Submit schedules a compilation of req for id after the debounce window.
// Only the latest request submitted for an object is ever compiled.
func (s *Scheduler) Submit(id scene.ID, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	j, ok := s.jobs[id]
	if !ok {
		j = &job{debounced: debounce.New(s.delay)}
		s.jobs[id] = j
	}
	req.Binding = req.Binding.Clone()
	j.pending = &req
	j.latest = &req
	switch j.state {
	case Idle:
		j.state = Scheduled
	case Compiling:
		j.state = CompilingScheduled
	}
	j.timerArmed = true
	j.gen++
	gen := j.gen
	j.debounced(func() { s.fire(id, j, gen) })
	s.logger.Debug("recompile scheduled", "object", id, "state", j.state)
	return nil
}

// fire runs when an object's debounce window elapses. While the object is
// compiling, completion picks the pending request up instead. A fire from a
// window that a later Submit restarted is ignored; its timer may already
// have been blocked on s.mu when Submit re-armed.
func (s *Scheduler) fire(id scene.ID, j *job, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.jobs[id] != j || j.gen != gen {
		return
	}
	j.timerArmed = false
	if j.state == Scheduled && j.pending != nil {
		s.start(id, j)
	}
}

// start launches the pending request. Caller holds s.mu.
func (s *Scheduler) start(id scene.ID, j *job) {
	req := *j.pending
	j.pending = nil
	j.seq++
	seq := j.seq
	ctx, cancel := context.WithCancel(s.ctx)
	j.cancel = cancel
	j.state = Compiling

	s.wg.Add(1)
	go s.run(ctx, id, j, seq, req)
}

func (s *Scheduler) run(ctx context.Context, id scene.ID, j *job, seq uint64, req Request) {
	defer s.wg.Done()
	s.logger.Debug("compiling", "object", id, "seq", seq)
	s.status(id, StatusCompiling, nil)
	res := s.compile(ctx, req)

	s.mu.Lock()
	current := !s.closed && s.jobs[id] == j && j.seq == seq && ctx.Err() == nil
	s.mu.Unlock()

	if current {
		s.apply(id, req, res)
		// The object now reflects req, or keeps its last good source.
		s.mu.Lock()
		if s.jobs[id] == j && j.seq == seq && j.pending == nil {
			j.latest = nil
		}
		s.mu.Unlock()
		if res.OK() {
			s.status(id, StatusIdle, nil)
		} else {
			s.status(id, StatusError, res.Error())
		}
	} else {
		s.logger.Debug("compile result discarded", "object", id, "seq", seq)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[id] != j || j.seq != seq {
		return
	}
	j.cancel()
	j.cancel = nil
	switch {
	case s.closed, j.pending == nil:
		j.state = Idle
		j.latest = nil
	case j.timerArmed:
		j.state = Scheduled
	default:
		s.start(id, j)
	}
}

// status notifies the observer. It is never called with s.mu held, so
// observers may call back into the scheduler.
func (s *Scheduler) status(id scene.ID, st Status, err error) {
	if s.onStatus == nil {
		return
	}
	s.onStatus(id, st, err)
}

// Cancel drops any pending compilation for id without invoking the compiler
// and cancels a running one; its result is discarded.
func (s *Scheduler) Cancel(id scene.ID) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.jobs, id)
	if j.cancel != nil {
		j.cancel()
	}
	j.pending = nil
	j.state = Idle
	s.mu.Unlock()
	s.logger.Debug("recompile cancelled", "object", id)
}

// Latest returns the most recent request submitted for id while it is
// scheduled or compiling. Once the job settles there is none.
func (s *Scheduler) Latest(id scene.ID) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.state == Idle || j.latest == nil {
		return Request{}, false
	}
	req := *j.latest
	req.Binding = req.Binding.Clone()
	return req, true
}

// State returns the scheduling state of id.
func (s *Scheduler) State(id scene.ID) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return j.state
	}
	return Idle
}

// Close cancels everything and waits for running compilations to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stop()
	s.mu.Unlock()
	s.wg.Wait()
}
