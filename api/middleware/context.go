package middleware

import (
	"context"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Principal is whoever authenticated the request: a user via Auth or a print
// worker via WorkerAuth.
type Principal struct {
	UserID   string
	Role     enums.Role
	WorkerID string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func WithUserID(ctx context.Context, userID string) context.Context {
	p, _ := PrincipalFromContext(ctx)
	p.UserID = userID
	return WithPrincipal(ctx, p)
}

func WithWorkerID(ctx context.Context, workerID string) context.Context {
	p, _ := PrincipalFromContext(ctx)
	p.WorkerID = workerID
	return WithPrincipal(ctx, p)
}

func UserIDFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.UserID
}

func RoleFromContext(ctx context.Context) enums.Role {
	p, _ := PrincipalFromContext(ctx)
	return p.Role
}

func WorkerIDFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.WorkerID
}
