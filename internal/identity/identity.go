// Package identity binds the authenticated application user to a request
// context and resolves it to a stored user record.
package identity

import (
	"context"
	"fmt"

	"github.com/snowgoose/snowgoose/internal/schema"
)

type userKey struct{}

// WithUserID returns a child context carrying the authenticated user id.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

// UserIDFrom returns the user id bound to ctx, if any.
func UserIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok && id != ""
}

// UserFinder loads a user by id.
type UserFinder interface {
	FindUser(ctx context.Context, id string) (*schema.User, error)
}

// Resolver implements schema.UserResolver on top of a UserFinder.
type Resolver struct {
	users UserFinder
}

var _ schema.UserResolver = (*Resolver)(nil)

func NewResolver(users UserFinder) *Resolver {
	return &Resolver{users: users}
}

// CurrentUser fails with schema.ErrUnauthenticated when no user is bound to
// ctx or the bound id does not exist.
func (r *Resolver) CurrentUser(ctx context.Context) (*schema.User, error) {
	id, ok := UserIDFrom(ctx)
	if !ok {
		return nil, schema.ErrUnauthenticated
	}
	u, err := r.users.FindUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrUnauthenticated, err)
	}
	return u, nil
}
