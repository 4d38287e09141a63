package dispatch

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// UpstreamRoute is the catch-all pattern the upstream handler is mounted on.
const UpstreamRoute = `^(?P<path>/.*)$`

// MaxUpstreamBody is the largest upstream response body served to a guest.
const MaxUpstreamBody = 10 << 20

var ErrUpstreamTooLarge = errors.New("upstream response body too large")

// headers forwarded from the guest request; cookies and auth never are
var forwardedRequestHeaders = []string{"Accept", "Accept-Language", "User-Agent"}

var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Set-Cookie":          true,
	"Content-Length":      true,
}

// Upstream fetches the source path from another server.
type Upstream struct {
	base   *url.URL
	client *http.Client
}

func NewUpstream(baseURL string, timeout time.Duration) (*Upstream, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid upstream url %q: scheme must be http or https", baseURL)
	}

	return &Upstream{
		base:   base,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (u *Upstream) ServeGuest(r *http.Request, _ []string, kwargs map[string]string) (*Response, error) {
	target := u.base.String() + kwargs["path"]

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	for _, h := range forwardedRequestHeaders {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxUpstreamBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	if len(body) > MaxUpstreamBody {
		return nil, fmt.Errorf("%w: %s", ErrUpstreamTooLarge, target)
	}

	header := make(http.Header)
	for k, vs := range resp.Header {
		if hopByHopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	return &Response{Status: resp.StatusCode, Header: header, Body: body}, nil
}
