// Package actor identifies the user or job performing an operation.
//
// Services build an Actor from the identity headers the gateway forwards and
// carry it in the request context; audit entries and logs read it back.
package actor

import (
	"context"
	"fmt"
)

// Actor is the caller of a core operation.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Role is one of the hospital roles ("Admin General", "Medico", ...).
	Role string `json:"role"`
}

// String returns a string representation of the actor for logging
func (a *Actor) String() string {
	if a == nil {
		return "system"
	}
	return fmt.Sprintf("%s (%s)", a.Name, a.Role)
}

type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor from the context, or nil when absent.
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return a
}

// OrSystem returns the context actor, falling back to the system actor.
func OrSystem(ctx context.Context) *Actor {
	if a := FromContext(ctx); a != nil {
		return a
	}
	return System()
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

const systemID = "00000000-0000-0000-0000-000000000000"

// System is the actor for scheduled jobs and CLI maintenance commands.
func System() *Actor {
	return &Actor{
		ID:   systemID,
		Name: "Sistema",
		Role: "Sistema",
	}
}

// IsSystem returns true if the actor represents the system.
func (a *Actor) IsSystem() bool {
	return a == nil || a.ID == systemID
}
