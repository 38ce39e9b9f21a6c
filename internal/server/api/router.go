package api

import (
	"context"
	"log/slog"
	"net"
	"strings"

	"github.com/Alia5/VIIPMI/internal/server/host"
)

// Request contains route parameters and additional args from the command.
type Request struct {
	Ctx     context.Context
	Params  map[string]string
	Payload string
}

// Response holds the JSON string to return to the client.
type Response struct {
	JSON string
}

// HandlerFunc processes a request and populates the response.
// Returns an error on failure. The logger provided is a connection-scoped logger
// enriched with remote address metadata by the API server.
type HandlerFunc func(req *Request, res *Response, logger *slog.Logger) error

// StreamHandlerFunc handles a long-lived connection bound to one interface.
// The handler owns the connection until it returns; the server closes it
// afterwards. A returned error is logged by the server.
type StreamHandlerFunc func(conn net.Conn, iface *host.Attached, logger *slog.Logger) error

// Router implements simple path pattern matching with placeholders in {name}.
type Router struct {
	routes       []route[HandlerFunc]
	streamRoutes []route[StreamHandlerFunc]
}

type route[H any] struct {
	pattern string
	parts   []string
	// names holds the placeholder name per segment, "" for literals.
	names   []string
	handler H
}

func newRoute[H any](pattern string, h H) route[H] {
	orig := strings.Split(pattern, "/")
	r := route[H]{pattern: strings.ToLower(pattern), handler: h}
	for _, seg := range orig {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			r.parts = append(r.parts, "")
			r.names = append(r.names, seg[1:len(seg)-1])
			continue
		}
		r.parts = append(r.parts, strings.ToLower(seg))
		r.names = append(r.names, "")
	}
	return r
}

func (r route[H]) match(parts []string) (map[string]string, bool) {
	if len(r.parts) != len(parts) {
		return nil, false
	}
	params := map[string]string{}
	for i, p := range parts {
		if r.names[i] != "" {
			params[r.names[i]] = p
			continue
		}
		if r.parts[i] != p {
			return nil, false
		}
	}
	return params, true
}

func matchAny[H any](routes []route[H], path string) (H, map[string]string) {
	parts := strings.Split(strings.ToLower(path), "/")
	for _, rt := range routes {
		if params, ok := rt.match(parts); ok {
			return rt.handler, params
		}
	}
	var zero H
	return zero, nil
}

// NewRouter returns a new Router instance.
func NewRouter() *Router { return &Router{} }

// Register registers a handler for a path pattern like "device/{id}/status".
func (r *Router) Register(pattern string, handler HandlerFunc) {
	r.routes = append(r.routes, newRoute(pattern, handler))
}

// RegisterStream registers a StreamHandler for long-lived TCP connections.
// The pattern must carry an {id} placeholder naming the interface.
func (r *Router) RegisterStream(pattern string, handler StreamHandlerFunc) {
	r.streamRoutes = append(r.streamRoutes, newRoute(pattern, handler))
}

// Match returns the HandlerFunc and params if the given path matches any
// registered pattern. Returns nil if none match.
func (r *Router) Match(path string) (HandlerFunc, map[string]string) {
	return matchAny(r.routes, path)
}

// MatchStream returns the StreamHandler and params if the given path matches
// any registered stream pattern. Returns nil if none match.
func (r *Router) MatchStream(path string) (StreamHandlerFunc, map[string]string) {
	return matchAny(r.streamRoutes, path)
}

// Patterns lists the registered request and stream patterns.
func (r *Router) Patterns() (routes, streams []string) {
	for _, rt := range r.routes {
		routes = append(routes, rt.pattern)
	}
	for _, rt := range r.streamRoutes {
		streams = append(streams, rt.pattern)
	}
	return routes, streams
}
