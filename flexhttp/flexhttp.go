// Package flexhttp opens a flexdi request scope around each HTTP
// request, so handlers resolve request-lifetime dependencies that are
// torn down when the response is written.
package flexhttp

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cal-pratt/flexdi"
)

type ctxKey struct{}

// Middleware wraps handlers with a request scope spawned from the given
// application scope. The scope opens before the handler runs and closes
// after it returns, releasing request-scoped resources in reverse
// construction order.
func Middleware(app *flexdi.ApplicationScope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope, err := app.RequestScope()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			ctx := r.Context()
			if err := scope.Open(ctx); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			defer scope.Close(ctx)

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxKey{}, scope)))
		})
	}
}

// Attach registers the scope middleware on a chi router.
func Attach(r chi.Router, app *flexdi.ApplicationScope) {
	r.Use(Middleware(app))
}

// RequestScopeFrom returns the request scope the middleware placed on
// the context.
func RequestScopeFrom(ctx context.Context) (*flexdi.RequestScope, bool) {
	s, ok := ctx.Value(ctxKey{}).(*flexdi.RequestScope)
	return s, ok
}

// Resolve resolves T from the request's scope. Handlers use this to pull
// their dependencies:
//
//	func listUsers(w http.ResponseWriter, r *http.Request) {
//		repo, err := flexhttp.Resolve[*UserRepo](r)
//		...
//	}
func Resolve[T any](r *http.Request) (T, error) {
	var zero T
	scope, ok := RequestScopeFrom(r.Context())
	if !ok {
		return zero, flexdi.SetupError{Reason: "no request scope on context; is the middleware attached?"}
	}
	v, err := scope.ResolveType(r.Context(), flexdi.TypeOf[T]())
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, flexdi.SetupError{Reason: "resolved value has unexpected type"}
	}
	return out, nil
}
