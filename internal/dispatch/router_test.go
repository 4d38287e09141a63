package dispatch_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SergeiKhy/guest-urls/internal/dispatch"
	"github.com/SergeiKhy/guest-urls/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(r *http.Request, args []string, kwargs map[string]string) (*dispatch.Response, error) {
	return dispatch.Text(http.StatusOK, "OK"), nil
}

// articleRouter mirrors a typical archive url table
func articleRouter(t *testing.T) *dispatch.Router {
	rt := dispatch.NewRouter()
	require.NoError(t, rt.HandleFunc("articles", `/articles/`, ok))
	require.NoError(t, rt.HandleFunc("articles-year", `/articles/([0-9]{4})/`, ok))
	require.NoError(t, rt.HandleFunc("articles-month", `/articles/([0-9]{4})/([0-9]{2})/`, ok))
	require.NoError(t, rt.HandleFunc("archive-year", `/archive/(?P<year>[0-9]{4})/`, ok))
	require.NoError(t, rt.HandleFunc("archive-month", `/archive/(?P<year>[0-9]{4})/(?P<month>[0-9]{2})/`, ok))
	return rt
}

func TestRouter_Resolve(t *testing.T) {
	rt := articleRouter(t)

	tests := []struct {
		path   string
		route  string
		args   []string
		kwargs map[string]string
	}{
		{"/articles/", "articles", []string{}, map[string]string{}},
		{"/articles/2014/", "articles-year", []string{"2014"}, map[string]string{}},
		{"/articles/2014/07/", "articles-month", []string{"2014", "07"}, map[string]string{}},
		{"/archive/2014/", "archive-year", []string{}, map[string]string{"year": "2014"}},
		{"/archive/2014/07/", "archive-month", []string{}, map[string]string{"year": "2014", "month": "07"}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			m, err := rt.Resolve(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.route, m.Route)
			assert.Equal(t, tt.args, m.Args)
			assert.Equal(t, tt.kwargs, m.Kwargs)

			resp, err := m.Handler.ServeGuest(httptest.NewRequest(http.MethodGet, tt.path, nil), m.Args, m.Kwargs)
			require.NoError(t, err)
			assert.Equal(t, "OK", string(resp.Body))
		})
	}
}

func TestRouter_ResolveUnknown(t *testing.T) {
	rt := articleRouter(t)

	for _, path := range []string{"/", "/articles", "/articles/14/", "/a/b/c"} {
		_, err := rt.Resolve(path)
		assert.ErrorIs(t, err, dispatch.ErrUnresolvedPath, path)
	}
}

func TestRouter_FirstMatchWins(t *testing.T) {
	rt := dispatch.NewRouter()
	require.NoError(t, rt.HandleFunc("specific", `/a/b/c`, ok))
	require.NoError(t, rt.HandleFunc("catch-all", dispatch.UpstreamRoute, ok))

	m, err := rt.Resolve("/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, "specific", m.Route)

	m, err = rt.Resolve("/x/y")
	require.NoError(t, err)
	assert.Equal(t, "catch-all", m.Route)
	assert.Equal(t, "/x/y", m.Kwargs["path"])
	assert.Equal(t, []string{"specific", "catch-all"}, rt.Routes())
}

func TestRouter_HandleErrors(t *testing.T) {
	rt := dispatch.NewRouter()
	require.NoError(t, rt.HandleFunc("a", `/a/`, ok))

	assert.ErrorIs(t, rt.HandleFunc("a", `/b/`, ok), dispatch.ErrDuplicateRoute)
	assert.Error(t, rt.HandleFunc("bad", `/(unclosed/`, ok))
}

func TestRouteFor_RoundTrip(t *testing.T) {
	rt := dispatch.NewRouter()

	for i := 0; i < 100; i++ {
		id := models.NewLinkID()

		path, err := rt.RouteFor(id)
		require.NoError(t, err)
		assert.Equal(t, "/link/"+id+"/", path)

		parsed, err := dispatch.ParseRoute(path)
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}
}

func TestRouteFor_Charset(t *testing.T) {
	path, err := dispatch.RouteFor("aZ09+_=")
	require.NoError(t, err)
	id, err := dispatch.ParseRoute(path)
	require.NoError(t, err)
	assert.Equal(t, "aZ09+_=", id)

	for _, bad := range []string{"", "has-dash", "0123456789abcdef0123456789abcdef0", "sp ace"} {
		_, err := dispatch.RouteFor(bad)
		assert.ErrorIs(t, err, dispatch.ErrInvalidLinkID, bad)
	}
}

func TestParseRoute_Rejects(t *testing.T) {
	for _, path := range []string{"/link/", "/link/abc", "/links/abc/", "/link/ab-c/"} {
		_, err := dispatch.ParseRoute(path)
		assert.ErrorIs(t, err, dispatch.ErrUnresolvedPath, path)
	}
}

func TestUpstream_ServeGuest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Empty(t, r.Header.Get("Cookie"))
		assert.Equal(t, "text/html", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Set-Cookie", "session=secret")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("upstream " + r.URL.RequestURI()))
	}))
	defer upstream.Close()

	u, err := dispatch.NewUpstream(upstream.URL+"/", time.Second)
	require.NoError(t, err)

	rt := dispatch.NewRouter()
	require.NoError(t, rt.Handle("upstream", dispatch.UpstreamRoute, u))

	m, err := rt.Resolve("/reports/42?format=pdf")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/link/abc/", nil)
	req.Header.Set("Cookie", "session=guest")
	req.Header.Set("Accept", "text/html")

	resp, err := m.Handler.ServeGuest(req, m.Args, m.Kwargs)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.Status)
	assert.Equal(t, "upstream /reports/42?format=pdf", string(resp.Body))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Empty(t, resp.Header.Get("Set-Cookie"))
}

func TestNewUpstream_InvalidURL(t *testing.T) {
	_, err := dispatch.NewUpstream("ftp://example.com", time.Second)
	assert.Error(t, err)
}

func TestUpstream_RejectsOversizedBody(t *testing.T) {
	for _, tt := range []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"at limit", dispatch.MaxUpstreamBody, false},
		{"over limit", dispatch.MaxUpstreamBody + 1, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(make([]byte, tt.size))
			}))
			defer upstream.Close()

			u, err := dispatch.NewUpstream(upstream.URL, 5*time.Second)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/link/abc/", nil)
			resp, err := u.ServeGuest(req, nil, map[string]string{"path": "/big"})
			if tt.wantErr {
				assert.ErrorIs(t, err, dispatch.ErrUpstreamTooLarge)
				assert.Nil(t, resp)
				return
			}
			require.NoError(t, err)
			assert.Len(t, resp.Body, tt.size)
		})
	}
}
