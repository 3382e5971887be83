package guard

import (
	"context"
	"errors"
	"testing"
)

type fixture struct {
	dirty     bool
	saveErr   error
	saved     int
	discarded int
	navigated []string
}

func (f *fixture) hooks() Hooks {
	return Hooks{
		IsDirty: func() bool { return f.dirty },
		Save: func(ctx context.Context) error {
			f.saved++
			if f.saveErr != nil {
				return f.saveErr
			}
			f.dirty = false
			return nil
		},
		Navigate: func(target string) { f.navigated = append(f.navigated, target)},
		Discard:  func() { f.discarded++; f.dirty = false },
	}
}

func TestAttempt_cleanNavigatesImmediately(t *testing.T) {
	f := &fixture{dirty: false}
	g := New("books-form", f.hooks(), nil)

	if !g.Attempt("/books") {
		t.Fatal("Attempt = false for clean form")
	}
	if g.State() != StateIdle {
		t.Errorf("state = %q, want idle", g.State())
	}
	if len(f.navigated) != 1 || f.navigated[0] != "/books" {
		t.Errorf("navigated = %v", f.navigated)
	}
}

func TestAttempt_dirtyOpensDialog(t *testing.T) {
	f := &fixture{dirty: true}
	g := New("books-form", f.hooks(), nil)

	if g.Attempt("/books") {
		t.Fatal("Attempt = true for dirty form")
	}
	if g.State() != StateDialogOpen {
		t.Errorf("state = %q, want dialog-open", g.State())
	}
	if g.PendingTarget() != "/books" {
		t.Errorf("pending = %q", g.PendingTarget())
	}
	if len(f.navigated) != 0 {
		t.Errorf("navigated = %v, want none", f.navigated)
	}
}

func TestSaveAndLeave_success(t *testing.T) {
	f := &fixture{dirty: true}
	g := New("books-form", f.hooks(), nil)
	g.Attempt("/books")

	if err := g.SaveAndLeave(context.Background()); err != nil {
		t.Fatalf("SaveAndLeave error: %v", err)
	}
	if f.saved != 1 {
		t.Errorf("saved = %d, want 1", f.saved)
	}
	if g.State() != StateIdle {
		t.Errorf("state = %q, want idle", g.State())
	}
	if len(f.navigated) != 1 || f.navigated[0] != "/books" {
		t.Errorf("navigated = %v", f.navigated)
	}
}

func TestSaveAndLeave_failureKeepsDialogOpen(t *testing.T) {
	f := &fixture{dirty: true, saveErr: errors.New("backend down")}
	g := New("books-form", f.hooks(), nil)
	g.Attempt("/books")

	if err := g.SaveAndLeave(context.Background()); err == nil {
		t.Fatal("expected save error")
	}
	if g.State() != StateDialogOpen {
		t.Errorf("state = %q, want dialog-open", g.State())
	}
	if len(f.navigated) != 0 {
		t.Errorf("navigated = %v, want none", f.navigated)
	}
}

func TestLeave_discardsAndNavigates(t *testing.T) {
	f := &fixture{dirty: true}
	g := New("books-form", f.hooks(), nil)
	g.Attempt("/books")

	if err := g.Leave(); err != nil {
		t.Fatalf("Leave error: %v", err)
	}
	if f.discarded != 1 {
		t.Errorf("discarded = %d, want 1", f.discarded)
	}
	if f.saved != 0 {
		t.Errorf("saved = %d, want 0", f.saved)
	}
	if len(f.navigated) != 1 {
		t.Errorf("navigated = %v", f.navigated)
	}
	if g.State() != StateIdle {
		t.Errorf("state = %q, want idle", g.State())
	}
}

func TestStay_cancelsNavigation(t *testing.T) {
	f := &fixture{dirty: true}
	g := New("books-form", f.hooks(), nil)
	g.Attempt("/books")

	if err := g.Stay(); err != nil {
		t.Fatalf("Stay error: %v", err)
	}
	if g.State() != StateIdle {
		t.Errorf("state = %q, want idle", g.State())
	}
	if g.PendingTarget() != "" {
		t.Errorf("pending = %q, want empty", g.PendingTarget())
	}
	if len(f.navigated) != 0 {
		t.Errorf("navigated = %v, want none", f.navigated)
	}
}

func TestTransitions_invalidStates(t *testing.T) {
	f := &fixture{dirty: false}
	g := New("books-form", f.hooks(), nil)

	if err := g.SaveAndLeave(context.Background()); err == nil {
		t.Error("SaveAndLeave from idle should fail")
	}
	if err := g.Leave(); err == nil {
		t.Error("Leave from idle should fail")
	}
	if err := g.Stay(); err == nil {
		t.Error("Stay from idle should fail")
	}
}

func TestSecondAttempt_replacesPendingTarget(t *testing.T) {
	f := &fixture{dirty: true}
	g := New("books-form", f.hooks(), nil)
	g.Attempt("/books")
	g.Attempt("/authors")

	if g.PendingTarget() != "/authors" {
		t.Errorf("pending = %q, want /authors", g.PendingTarget())
	}
}

func TestRegistry_singleOwner(t *testing.T) {
	r := NewRegistry()
	f1 := &fixture{}
	f2 := &fixture{}
	g1 := New("books-form", f1.hooks(), nil)
	g2 := New("authors-form", f2.hooks(), nil)

	if err := r.Register(g1); err != nil {
		t.Fatalf("Register g1 error: %v", err)
	}
	if err := r.Register(g2); err == nil {
		t.Fatal("Register g2 should fail while g1 holds the slot")
	}
	if r.Active() != g1 {
		t.Error("Active != g1")
	}

	r.Unregister("books-form")
	if err := r.Register(g2); err != nil {
		t.Fatalf("Register g2 after unregister error: %v", err)
	}
}

func TestRegistry_sameOwnerReRegisters(t *testing.T) {
	r := NewRegistry()
	f := &fixture{}
	g1 := New("books-form", f.hooks(), nil)
	g2 := New("books-form", f.hooks(), nil)

	if err := r.Register(g1); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := r.Register(g2); err != nil {
		t.Fatalf("re-Register by same owner error: %v", err)
	}
	if r.Active() != g2 {
		t.Error("Active != g2 after remount")
	}
}

func TestRegistry_unregisterNonOwnerIsNoop(t *testing.T) {
	r := NewRegistry()
	f := &fixture{}
	g := New("books-form", f.hooks(), nil)
	if err := r.Register(g); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	r.Unregister("authors-form")
	if r.Active() != g {
		t.Error("Active guard dropped by non-owner unregister")
	}
}
