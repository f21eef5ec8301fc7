// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

// Package middleware provides composable HTTP middleware combinators.
package middleware

import "net/http"

// Middleware is a function that wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain composes middlewares so the first one in the slice is the
// outermost wrapper, executed first on the way in.
func Chain(middlewares ...Middleware) Middleware {
	return func(handler http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			handler = middlewares[i](handler)
		}
		return handler
	}
}

// RouteBuilder registers routes on a ServeMux with a shared middleware
// chain.
type RouteBuilder struct {
	mux         *http.ServeMux
	middlewares []Middleware
}

// NewRouteBuilder creates a RouteBuilder over the given ServeMux.
func NewRouteBuilder(mux *http.ServeMux) *RouteBuilder {
	return &RouteBuilder{mux: mux}
}

// With returns a new builder whose chain is extended with the given
// middlewares. The receiver is unchanged.
func (rb *RouteBuilder) With(middlewares ...Middleware) *RouteBuilder {
	chain := make([]Middleware, 0, len(rb.middlewares)+len(middlewares))
	chain = append(chain, rb.middlewares...)
	chain = append(chain, middlewares...)
	return &RouteBuilder{mux: rb.mux, middlewares: chain}
}

// Handle registers a handler wrapped in the builder's chain.
func (rb *RouteBuilder) Handle(pattern string, handler http.Handler) {
	if len(rb.middlewares) > 0 {
		handler = Chain(rb.middlewares...)(handler)
	}
	rb.mux.Handle(pattern, handler)
}

// HandleFunc registers a handler function wrapped in the builder's chain.
func (rb *RouteBuilder) HandleFunc(pattern string, handlerFunc http.HandlerFunc) {
	rb.Handle(pattern, handlerFunc)
}
