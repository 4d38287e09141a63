// Package dispatch maps source paths to handlers and guest link ids to
// routable paths.
package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/SergeiKhy/guest-urls/internal/models"
)

var (
	ErrUnresolvedPath = errors.New("path does not resolve to a handler")
	ErrInvalidLinkID  = errors.New("invalid guest link id")
	ErrDuplicateRoute = errors.New("route already registered")
)

// GuestRoutePrefix is the path prefix every guest link lives under.
const GuestRoutePrefix = "/link/"

var guestRoute = regexp.MustCompile(`^/link/(?P<id>[a-zA-Z0-9+/_=]{1,32})/$`)

// Response is what a proxied handler produces.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func NewResponse(status int, contentType string, body []byte) *Response {
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &Response{Status: status, Header: h, Body: body}
}

// Text is a text/plain response.
func Text(status int, body string) *Response {
	return NewResponse(status, "text/plain; charset=utf-8", []byte(body))
}

// Handler serves a resolved source path. args are the positional groups of
// the matched pattern, kwargs its named groups.
type Handler interface {
	ServeGuest(r *http.Request, args []string, kwargs map[string]string) (*Response, error)
}

type HandlerFunc func(r *http.Request, args []string, kwargs map[string]string) (*Response, error)

func (f HandlerFunc) ServeGuest(r *http.Request, args []string, kwargs map[string]string) (*Response, error) {
	return f(r, args, kwargs)
}

// Match is the result of resolving a path.
type Match struct {
	Route   string
	Handler Handler
	Args    []string
	Kwargs  map[string]string
}

type route struct {
	name    string
	pattern *regexp.Regexp
	handler Handler
}

// Router is an ordered table of regexp routes; the first match wins.
type Router struct {
	mu     sync.RWMutex
	routes []route
}

func NewRouter() *Router {
	return &Router{}
}

// Handle registers h under name for pattern. The pattern is anchored at
// both ends if it is not already.
func (rt *Router) Handle(name, pattern string, h Handler) error {
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^" + pattern
	}
	if !strings.HasSuffix(pattern, "$") {
		pattern += "$"
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("failed to compile route %q: %w", name, err)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	for _, r := range rt.routes {
		if r.name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateRoute, name)
		}
	}

	rt.routes = append(rt.routes, route{name: name, pattern: re, handler: h})
	return nil
}

func (rt *Router) HandleFunc(name, pattern string, f HandlerFunc) error {
	return rt.Handle(name, pattern, f)
}

// Resolve finds the handler for path. Named groups become kwargs and, when
// present, suppress positional args.
func (rt *Router) Resolve(path string) (*Match, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	for _, r := range rt.routes {
		groups := r.pattern.FindStringSubmatch(path)
		if groups == nil {
			continue
		}

		m := &Match{
			Route:   r.name,
			Handler: r.handler,
			Args:    []string{},
			Kwargs:  map[string]string{},
		}

		names := r.pattern.SubexpNames()
		for i := 1; i < len(groups); i++ {
			if names[i] != "" {
				m.Kwargs[names[i]] = groups[i]
			}
		}
		if len(m.Kwargs) == 0 {
			m.Args = append(m.Args, groups[1:]...)
		}

		return m, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnresolvedPath, path)
}

// Routes returns the registered route names in match order.
func (rt *Router) Routes() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	names := make([]string, 0, len(rt.routes))
	for _, r := range rt.routes {
		names = append(names, r.name)
	}
	return names
}

// RouteFor returns the guest path for id: /link/{id}/.
func (rt *Router) RouteFor(id string) (string, error) {
	return RouteFor(id)
}

func RouteFor(id string) (string, error) {
	if !models.LinkIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLinkID, id)
	}
	return GuestRoutePrefix + id + "/", nil
}

// ParseRoute is the inverse of RouteFor.
func ParseRoute(path string) (string, error) {
	groups := guestRoute.FindStringSubmatch(path)
	if groups == nil {
		return "", fmt.Errorf("%w: %s", ErrUnresolvedPath, path)
	}
	return groups[guestRoute.SubexpIndex("id")], nil
}
