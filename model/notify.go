package model

import "context"

// Notifier is the fire-and-forget toast contract. Implementations queue
// messages for the hosting surface to deliver; failures to deliver are not
// reported back.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Confirmer is the modal-confirmation contract. Confirm blocks until the
// user answers or the context is done; a done context counts as a decline.
type Confirmer interface {
	Confirm(ctx context.Context, c ConfirmationDescriptor) bool
}
