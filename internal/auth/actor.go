// Package auth identifies the actor behind an HTTP request. Credential
// checks happen upstream; this package only carries the asserted identity
// so every ledger block can name who performed the action.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// ActorHeader carries the acting user's name.
const ActorHeader = "X-Actor"

type ctxKey struct{}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

// ActorFromContext returns the actor stored by Middleware, or "".
func ActorFromContext(ctx context.Context) string {
	a, _ := ctx.Value(ctxKey{}).(string)
	return a
}

// Middleware reads ActorHeader into the request context. Requests under
// /api/ without an actor are rejected with 401.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				http.Error(w, "missing "+ActorHeader+" header", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}
