// Package middleware provides onion-model wrappers around the dispatch
// function sitting between the handler and the local service.
//
//	Chain(A, B, C)(dispatch) → A(B(C(dispatch)))
//	Execution order: A.before → B.before → C.before → dispatch → C.after → B.after → A.after
package middleware

import (
	"context"

	"sqlgate/message"
)

type HandlerFunc func(ctx context.Context, call *message.Call) (*message.Result, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one, applied in registration order.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
