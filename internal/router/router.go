// Package router dispatches protocol lines to handlers by key.
package router

import (
	"sort"

	"github.com/sam-hudson02/wallsync-client/internal/logging"
)

// Handler receives the value of a routed line.
type Handler func(payload string)

// Route binds a key to a handler.
type Route struct {
	Key     string
	Handler Handler
}

// Router maps keys to handlers. It is not safe for concurrent use; the
// connection's event loop owns it.
type Router struct {
	routes map[string]Handler
}

// New creates a router with the given routes.
func New(routes ...Route) *Router {
	r := &Router{routes: make(map[string]Handler)}
	r.AddRoutes(routes...)
	return r
}

// AddRoutes registers routes, replacing any existing handler for a key.
func (r *Router) AddRoutes(routes ...Route) {
	for _, route := range routes {
		logging.Debug("adding route", logging.String("key", route.Key))
		r.routes[route.Key] = route.Handler
	}
}

// DeleteRoute removes a route. Removing an unknown key does nothing.
func (r *Router) DeleteRoute(key string) {
	delete(r.routes, key)
}

// Route invokes the handler for key. It reports whether one was found.
func (r *Router) Route(key, payload string) bool {
	handler, ok := r.routes[key]
	if !ok {
		logging.Info("no route found", logging.String("key", key))
		return false
	}
	handler(payload)
	return true
}

// Has reports whether key is routed.
func (r *Router) Has(key string) bool {
	_, ok := r.routes[key]
	return ok
}

// Keys returns the routed keys in sorted order.
func (r *Router) Keys() []string {
	keys := make([]string, 0, len(r.routes))
	for k := range r.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
