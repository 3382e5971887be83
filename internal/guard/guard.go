// Package guard implements the unsaved-changes guard: a small state machine
// that intercepts navigation away from a dirty form, plus the application-wide
// single-owner registry that holds at most one active guard.
package guard

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Guard states.
const (
	StateIdle       = "idle"
	StateDialogOpen = "dialog-open"
	StateSaving     = "saving"
)

// Hooks are the form-supplied callbacks a Guard drives.
type Hooks struct {
	// IsDirty reports whether the guarded form has unsaved changes.
	IsDirty func() bool
	// Save persists the form. Called for "Save & Leave".
	Save func(ctx context.Context) error
	// Navigate performs the deferred navigation once it is allowed.
	Navigate func(target string)
	// Discard drops the form's dirty state. Called for "Leave".
	Discard func()
}

// Guard is the per-form unsaved-changes state machine. Not safe for
// concurrent use; each form instance owns one.
type Guard struct {
	id     string
	hooks  Hooks
	logger *zap.Logger

	state   string
	pending string
}

// New creates a Guard in the idle state. The id identifies the owning form
// in the shared registry.
func New(id string, hooks Hooks, logger *zap.Logger) *Guard {
	if hooks.IsDirty == nil || hooks.Navigate == nil {
		panic("guard: IsDirty and Navigate hooks are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{id: id, hooks: hooks, logger: logger, state: StateIdle}
}

// ID identifies the owning form.
func (g *Guard) ID() string { return g.id }

// State returns the current state.
func (g *Guard) State() string { return g.state }

// PendingTarget returns the navigation target held while the dialog is open.
func (g *Guard) PendingTarget() string { return g.pending }

// Attempt intercepts a navigation attempt. If the form is clean the
// navigation proceeds immediately and Attempt returns true. If dirty, the
// guard moves to dialog-open, holds the target, and returns false.
func (g *Guard) Attempt(target string) bool {
	if g.state != StateIdle {
		// A second attempt while the dialog is open replaces the target.
		g.pending = target
		return false
	}
	if !g.hooks.IsDirty() {
		g.hooks.Navigate(target)
		return true
	}
	g.state = StateDialogOpen
	g.pending = target
	return false
}

// SaveAndLeave saves the form, then navigates. On save failure the dialog
// stays open and the error is returned.
func (g *Guard) SaveAndLeave(ctx context.Context) error {
	if g.state != StateDialogOpen {
		return fmt.Errorf("guard: SaveAndLeave in state %q", g.state)
	}
	if g.hooks.Save == nil {
		return fmt.Errorf("guard: no save hook configured")
	}

	g.state = StateSaving
	if err := g.hooks.Save(ctx); err != nil {
		g.state = StateDialogOpen
		g.logger.Warn("guard: save before leave failed",
			zap.String("guard_id", g.id), zap.Error(err))
		return err
	}

	target := g.pending
	g.state = StateIdle
	g.pending = ""
	g.hooks.Navigate(target)
	return nil
}

// Leave discards unsaved changes and navigates immediately.
func (g *Guard) Leave() error {
	if g.state != StateDialogOpen {
		return fmt.Errorf("guard: Leave in state %q", g.state)
	}
	if g.hooks.Discard != nil {
		g.hooks.Discard()
	}
	target := g.pending
	g.state = StateIdle
	g.pending = ""
	g.hooks.Navigate(target)
	return nil
}

// Stay cancels the pending navigation and returns to idle.
func (g *Guard) Stay() error {
	if g.state != StateDialogOpen {
		return fmt.Errorf("guard: Stay in state %q", g.state)
	}
	g.state = StateIdle
	g.pending = ""
	return nil
}

// Registry is the application-wide single-owner slot for the active guard.
// At most one form's guard may be registered at a time; a second owner must
// wait for (or force) the first to unregister. Registration by the same id
// replaces the previous guard silently (remount of the same form).
type Registry struct {
	mu     sync.Mutex
	owner  string
	active *Guard
}

// NewRegistry creates an empty guard registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register installs g as the active guard. It fails if a different owner
// currently holds the slot.
func (r *Registry) Register(g *Guard) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil && r.owner != g.id {
		return fmt.Errorf("guard: slot held by %q, cannot register %q", r.owner, g.id)
	}
	r.owner = g.id
	r.active = g
	return nil
}

// Unregister releases the slot if id is the current owner. Unregistering a
// non-owner is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owner == id {
		r.owner = ""
		r.active = nil
	}
}

// Active returns the registered guard, or nil.
func (r *Registry) Active() *Guard {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}
