// Package history records reversible scene edits as commands and provides
// linear undo and redo.
package history

import (
	"errors"
	"log/slog"
	"time"

	"github.com/chazu/partsmith/pkg/caderr"
)

// Command is one reversible edit. Do applies it, Undo reverts it, and Do may
// be called again after Undo to redo it.
type Command interface {
	Do() error
	Undo() error
	Label() string
}

// Entry is a command on one of the stacks.
type Entry struct {
	Command Command
	At      time.Time
}

// State is the manager's phase. Outside of a call it is always Idle.
type State int

const (
	Idle State = iota
	Recording
	Undoing
	Redoing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Undoing:
		return "undoing"
	case Redoing:
		return "redoing"
	}
	return "unknown"
}

// ErrBusy is returned when a command is issued while another is running,
// for example from inside a Command's Do.
var ErrBusy = errors.New("history: another command is in progress")

// Manager holds the undo and redo stacks. It is not safe for concurrent
// use; the editor calls it under its own lock.
type Manager struct {
	undo  []Entry
	redo  []Entry
	limit int
	state State

	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLimit caps the undo stack; the oldest entries are dropped. Zero means
// unlimited.
func WithLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.limit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets the time source for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New returns an empty Manager.
func New(opts ...Option) *Manager {
	m := &Manager{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Do runs cmd and, if it succeeds, records it and clears the redo stack. A
// failed command leaves both stacks untouched.
func (m *Manager) Do(cmd Command) error {
	if m.state != Idle {
		return ErrBusy
	}
	m.state = Recording
	defer func() { m.state = Idle }()

	if err := cmd.Do(); err != nil {
		return err
	}
	m.undo = append(m.undo, Entry{Command: cmd, At: m.now()})
	if n := len(m.redo); n > 0 {
		m.logger.Debug("redo stack discarded", "entries", n)
	}
	m.redo = nil
	if m.limit > 0 && len(m.undo) > m.limit {
		m.undo = append([]Entry(nil), m.undo[len(m.undo)-m.limit:]...)
	}
	m.logger.Debug("recorded", "command", cmd.Label(), "depth", len(m.undo))
	return nil
}

// Undo reverts the most recent command and moves it to the redo stack. If
// the command's Undo fails the entry stays where it was.
func (m *Manager) Undo() (Entry, error) {
	if m.state != Idle {
		return Entry{}, ErrBusy
	}
	if len(m.undo) == 0 {
		return Entry{}, caderr.New(caderr.NothingToUndo, "nothing to undo")
	}
	m.state = Undoing
	defer func() { m.state = Idle }()

	e := m.undo[len(m.undo)-1]
	if err := e.Command.Undo(); err != nil {
		return Entry{}, err
	}
	m.undo = m.undo[:len(m.undo)-1]
	m.redo = append(m.redo, e)
	m.logger.Debug("undone", "command", e.Command.Label())
	return e, nil
}

// Redo re-applies the most recently undone command.
func (m *Manager) Redo() (Entry, error) {
	if m.state != Idle {
		return Entry{}, ErrBusy
	}
	if len(m.redo) == 0 {
		return Entry{}, caderr.New(caderr.NothingToRedo, "nothing to redo")
	}
	m.state = Redoing
	defer func() { m.state = Idle }()

	e := m.redo[len(m.redo)-1]
	if err := e.Command.Do(); err != nil {
		return Entry{}, err
	}
	m.redo = m.redo[:len(m.redo)-1]
	m.undo = append(m.undo, e)
	m.logger.Debug("redone", "command", e.Command.Label())
	return e, nil
}

func (m *Manager) CanUndo() bool { return len(m.undo) > 0 }
func (m *Manager) CanRedo() bool { return len(m.redo) > 0 }

// Depth returns the sizes of the undo and redo stacks.
func (m *Manager) Depth() (undo, redo int) { return len(m.undo), len(m.redo) }
