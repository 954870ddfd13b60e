package core

import (
	"context"
	"time"
)

// User is an operator acting inside one company.
type User struct {
	ID        int
	CompanyID int
	Username  string
	Email     string
	Role      string
	IsActive  bool
	CreatedAt time.Time
}

// UserService provides user lookup operations.
type UserService interface {
	// GetByID returns a user by primary key.
	GetByID(ctx context.Context, userID int) (*User, error)
}

// PermissionChecker decides whether an actor may convert a document.
// It is evaluated before any document is read.
type PermissionChecker interface {
	CanConvert(ctx context.Context, actorID, tenantID, documentID int) (bool, error)
}

// AllowAll grants every conversion. Used by the CLI and in tests.
type AllowAll struct{}

func (AllowAll) CanConvert(context.Context, int, int, int) (bool, error) { return true, nil }

type actorKey struct{}

// WithActor attaches the acting user id to ctx.
func WithActor(ctx context.Context, actorID int) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the acting user id, if any.
func ActorFromContext(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(actorKey{}).(int)
	return id, ok
}
