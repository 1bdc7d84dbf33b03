package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/leaderboard-ledger/internal/domain"
)

// IdentityHeader carries the caller identity when a trusted gateway has
// already authenticated the request.
const IdentityHeader = "X-Player-Identity"

type contextKey struct{}

type resolved struct {
	id  domain.Identity
	err error
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, resolved{id: id})
}

func withError(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, contextKey{}, resolved{err: err})
}

// IdentityFrom returns the caller identity resolved by Middleware. It
// returns ErrMissingToken when the request carried no credentials and the
// verification error when they were rejected.
func IdentityFrom(ctx context.Context) (domain.Identity, error) {
	r, ok := ctx.Value(contextKey{}).(resolved)
	if !ok {
		return "", ErrMissingToken
	}
	return r.id, r.err
}

// Middleware resolves the caller of each request. With a nil verifier the
// IdentityHeader is trusted as-is; otherwise an Authorization bearer token
// is required. Failures are recorded on the context, not answered, so public
// routes still serve anonymous callers.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if v == nil {
				id := domain.Identity(strings.TrimSpace(r.Header.Get(IdentityHeader)))
				if id.Valid() {
					ctx = WithIdentity(ctx, id)
				}
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				ctx = withError(ctx, ErrInvalidToken)
			} else if id, err := v.Verify(token); err != nil {
				ctx = withError(ctx, err)
			} else {
				ctx = WithIdentity(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
