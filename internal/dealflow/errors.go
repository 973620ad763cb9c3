// internal/dealflow/errors.go
package dealflow

import (
	"fmt"

	"github.com/chanvault/chanvault-backend/internal/models"
)

// InvalidTransitionError means the deal is not in a state that admits the
// event. Callers should refresh their view of the deal rather than retry.
type InvalidTransitionError struct {
	Status models.DealStatus
	Event  EventKind
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: event %s not allowed in state %s", e.Event, e.Status)
}

// UnauthorizedError means the actor's role may never submit this event,
// or the submitted payload does not match the actor. Not retryable.
type UnauthorizedError struct {
	Actor Actor
	Event EventKind
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("actor %s is not authorized to submit event %s", e.Actor, e.Event)
}
