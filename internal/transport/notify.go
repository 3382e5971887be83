package transport

import (
	"context"
	"sync"

	"github.com/quazardous/qdadm/model"
)

// Toast is a queued notification returned to the client alongside the
// page state.
type Toast struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// toastCollector gathers notifications raised while one request builds or
// mutates a page so they can be returned in the response body.
type toastCollector struct {
	mu     sync.Mutex
	toasts []Toast
}

func newToastCollector() *toastCollector {
	return &toastCollector{}
}

func (c *toastCollector) Success(msg string) {
	c.mu.Lock()
	c.toasts = append(c.toasts, Toast{Level: "success", Message: msg})
	c.mu.Unlock()
}

func (c *toastCollector) Error(msg string) {
	c.mu.Lock()
	c.toasts = append(c.toasts, Toast{Level: "error", Message: msg})
	c.mu.Unlock()
}

// Toasts returns the collected notifications in arrival order.
func (c *toastCollector) Toasts() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Toast, len(c.toasts))
	copy(out, c.toasts)
	return out
}

// requestConfirmer answers confirmation dialogs with a decision the client
// already made. Destructive endpoints require the client to resubmit with
// confirm=true after showing the dialog; the first, unconfirmed request
// returns the dialog descriptor instead of executing.
type requestConfirmer struct {
	approved bool
	asked    bool
	dialog   model.ConfirmationDescriptor
}

func (c *requestConfirmer) Confirm(_ context.Context, d model.ConfirmationDescriptor) bool {
	c.asked = true
	c.dialog = d
	return c.approved
}

var _ model.Notifier = (*toastCollector)(nil)
var _ model.Confirmer = (*requestConfirmer)(nil)
