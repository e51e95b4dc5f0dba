package site

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hiddengate/gateway-service/internal/config"
	"hiddengate/gateway-service/internal/gate"
)

const sessionCookieName = "hiddengate.session-token"

func adminConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{Admin: config.AdminCfg{
		SecretSegment: "xyz123",
		SigningSecret: "0123456789abcdef0123456789abcdef",
		Username:      "admin",
		Password:      "s3cret-pass",
	}}
	require.NoError(t, cfg.Normalize())
	require.NoError(t, cfg.Validate())
	return cfg
}

func build(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	g, err := Build(cfg, zerolog.Nop())
	require.NoError(t, err)
	return g.Handler
}

type client struct {
	t       *testing.T
	h       http.Handler
	cookies map[string]*http.Cookie
}

func newClient(t *testing.T, h http.Handler) *client {
	return &client{t: t, h: h, cookies: map[string]*http.Cookie{}}
}

func (c *client) do(r *http.Request) *httptest.ResponseRecorder {
	for _, ck := range c.cookies {
		r.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	c.h.ServeHTTP(w, r)
	for _, ck := range w.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}
	return w
}

func (c *client) get(target string) *httptest.ResponseRecorder {
	return c.do(httptest.NewRequest(http.MethodGet, "http://blog.local"+target, nil))
}

func (c *client) postForm(target string, form url.Values) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "http://blog.local"+target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(r)
}

func (c *client) csrf() string {
	ck, ok := c.cookies["hiddengate.csrf-token"]
	require.True(c.t, ok, "csrf cookie not issued")
	return ck.Value
}

// login walks the browser flow: protected page, login page, form post.
func (c *client) login(password string) *httptest.ResponseRecorder {
	w := c.get("/xyz123/login")
	require.Equal(c.t, http.StatusOK, w.Code)
	return c.postForm("/api/auth/callback/credentials", url.Values{
		"username":  {"admin"},
		"password":  {password},
		"csrfToken": {c.csrf()},
	})
}

func TestGateway_UnauthenticatedRedirect(t *testing.T) {
	c := newClient(t, build(t, adminConfig(t)))
	w := c.get("/xyz123/create")

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/xyz123/login?callbackUrl="+url.QueryEscape("http://blog.local/xyz123/create"), w.Header().Get("Location"))

	w = c.get("/xyz123/edit/my-post?tab=seo&q=a+b")
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "http://blog.local/xyz123/edit/my-post?tab=seo&q=a+b", loc.Query().Get("callbackUrl"))
}

// Full browser round trip: redirect, login page, form post, rewritten page.
func TestGateway_LoginThenRewrite(t *testing.T) {
	c := newClient(t, build(t, adminConfig(t)))

	w := c.get("/xyz123/create")
	require.Equal(t, http.StatusFound, w.Code)
	loginURL := w.Header().Get("Location")

	w = c.get(loginURL)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `action="/api/auth/callback/credentials"`)
	assert.Contains(t, body, `name="callbackUrl" value="/xyz123/create"`)
	assert.NotContains(t, body, "secure-admin-zone")

	w = c.postForm("/api/auth/callback/credentials", url.Values{
		"username":    {"admin"},
		"password":    {"s3cret-pass"},
		"callbackUrl": {"/xyz123/create"},
		"csrfToken":   {c.csrf()},
	})
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/xyz123/create", w.Header().Get("Location"))
	require.Contains(t, c.cookies, sessionCookieName)

	w = c.get("/xyz123/create")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Create New Article")
	assert.NotContains(t, w.Body.String(), "secure-admin-zone")
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "same-origin", w.Header().Get("Referrer-Policy"))

	w = c.get("/xyz123/edit/hello-world")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hello-world")

	w = c.get("/xyz123")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Signed in as admin")
	assert.Contains(t, w.Body.String(), `href="/xyz123/create"`)
}

func TestGateway_PhysicalUnreachable(t *testing.T) {
	h := build(t, adminConfig(t))
	anon := newClient(t, h)
	admin := newClient(t, h)
	admin.login("s3cret-pass")
	require.Contains(t, admin.cookies, sessionCookieName)

	missing := anon.get("/no-such-page")
	require.Equal(t, http.StatusNotFound, missing.Code)

	for _, c := range []*client{anon, admin} {
		for _, p := range []string{"/secure-admin-zone/create", "/secure-admin-zone", "/secure-admin-zone/login", "/secure-admin-zone/edit/x", "/Secure-Admin-Zone/create", "/a/../secure-admin-zone/"} {
			w := c.get(p)
			assert.Equal(t, http.StatusNotFound, w.Code, p)
			assert.Equal(t, missing.Body.String(), w.Body.String(), p)
			assert.Equal(t, missing.Header().Get("Content-Type"), w.Header().Get("Content-Type"), p)
		}
	}
}

func TestGateway_LoginPageWhenSignedIn(t *testing.T) {
	c := newClient(t, build(t, adminConfig(t)))
	c.login("s3cret-pass")

	for i := 0; i < 3; i++ {
		w := c.get("/xyz123/login")
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/xyz123", w.Header().Get("Location"))
	}
	w := c.get("/xyz123/login?callbackUrl=" + url.QueryEscape("https://evil.example/steal"))
	assert.Equal(t, "/xyz123", w.Header().Get("Location"))
}

func TestGateway_WrongPassword(t *testing.T) {
	h := build(t, adminConfig(t))
	wrongPass := newClient(t, h).login("nope")

	c := newClient(t, h)
	c.get("/xyz123/login")
	wrongUser := c.postForm("/api/auth/callback/credentials", url.Values{
		"username":  {"root"},
		"password":  {"s3cret-pass"},
		"csrfToken": {c.csrf()},
	})

	assert.Equal(t, http.StatusFound, wrongPass.Code)
	assert.Equal(t, wrongPass.Code, wrongUser.Code)
	assert.Equal(t, wrongPass.Body.Bytes(), wrongUser.Body.Bytes())
	assert.Equal(t, wrongPass.Header().Get("Location"), wrongUser.Header().Get("Location"))

	w := c.get(wrongUser.Header().Get("Location"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, strings.Count(w.Body.String(), `class="error"`))
	assert.Contains(t, w.Body.String(), "Invalid username or password.")
}

func TestGateway_PublicWithoutAdminConfig(t *testing.T) {
	cfg := &config.Config{}
	require.NoError(t, cfg.Normalize())
	c := newClient(t, build(t, cfg))

	w := c.get("/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<h1>Home</h1>")

	w = c.get("/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","components":{"gate":"ok","admin":"not_configured"}}`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, c.get("/secure-admin-zone/create").Code)

	w = c.get("/api/auth/session")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())
}

func TestAdminConfigPartial(t *testing.T) {
	cfg := adminConfig(t)
	cfg.Admin.SigningSecret = ""
	c := newClient(t, build(t, cfg))

	w := c.get("/xyz123/create")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, gate.ConfigErrorBody, w.Body.String())
	assert.Equal(t, http.StatusOK, c.get("/").Code)
}

func TestSignOutFlow(t *testing.T) {
	c := newClient(t, build(t, adminConfig(t)))
	c.login("s3cret-pass")
	w := c.get("/xyz123")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `action="/api/auth/signout"`)

	w = c.postForm("/api/auth/signout", url.Values{"csrfToken": {c.csrf()}})
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	assert.NotContains(t, c.cookies, sessionCookieName)

	assert.Equal(t, http.StatusFound, c.get("/xyz123").Code)
}

func TestUpstreamMode(t *testing.T) {
	var seen []string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.RequestURI())
		w.Write([]byte("from upstream"))
	}))
	defer backend.Close()

	cfg := adminConfig(t)
	cfg.Upstream.Origin = backend.URL
	h := build(t, cfg)
	c := newClient(t, h)

	w := c.get("/articles/hello?page=2")
	assert.Equal(t, "from upstream", w.Body.String())

	c.get("/api/auth/csrf")
	w = c.postForm("/api/auth/callback/credentials", url.Values{
		"username":  {"admin"},
		"password":  {"s3cret-pass"},
		"csrfToken": {c.csrf()},
	})
	require.Equal(t, http.StatusFound, w.Code)

	w = c.get("/xyz123/edit/p-1?x=1&y=%20z")
	assert.Equal(t, "from upstream", w.Body.String())

	assert.Equal(t, []string{"/articles/hello?page=2", "/secure-admin-zone/edit/p-1?x=1&y=%20z"}, seen)
}

func TestUpstreamMode_PhysicalTreeMatchesOriginNotFound(t *testing.T) {
	const notFoundPage = "<html><h1>404 | This page could not be found.</h1></html>"
	var seen []string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.RequestURI())
		if strings.HasPrefix(r.URL.Path, "/secure-admin-zone") {
			w.Write([]byte("admin page"))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(notFoundPage))
	}))
	defer backend.Close()

	cfg := adminConfig(t)
	cfg.Upstream.Origin = backend.URL
	h := build(t, cfg)
	anon := newClient(t, h)
	admin := newClient(t, h)
	admin.get("/api/auth/csrf")
	w := admin.postForm("/api/auth/callback/credentials", url.Values{
		"username":  {"admin"},
		"password":  {"s3cret-pass"},
		"csrfToken": {admin.csrf()},
	})
	require.Equal(t, http.StatusFound, w.Code)

	missing := anon.get("/no-such-page")
	require.Equal(t, http.StatusNotFound, missing.Code)
	require.Equal(t, notFoundPage, missing.Body.String())

	seen = nil
	for _, c := range []*client{anon, admin} {
		for _, p := range []string{"/secure-admin-zone/create", "/secure-admin-zone/x?y=1", "/SECURE-ADMIN-ZONE/login"} {
			w := c.get(p)
			assert.Equal(t, http.StatusNotFound, w.Code, p)
			assert.Equal(t, missing.Body.String(), w.Body.String(), p)
			assert.Equal(t, missing.Header().Get("Content-Type"), w.Header().Get("Content-Type"), p)
		}
	}
	for _, uri := range seen {
		assert.Equal(t, cfg.Upstream.NotFoundPath, uri)
	}
	assert.Len(t, seen, 6)
}

func TestGateway_HeadOnAdminPage(t *testing.T) {
	c := newClient(t, build(t, adminConfig(t)))
	c.login("s3cret-pass")
	require.Contains(t, c.cookies, sessionCookieName)

	w := c.do(httptest.NewRequest(http.MethodHead, "http://blog.local/xyz123", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))

	w = c.do(httptest.NewRequest(http.MethodHead, "http://blog.local/xyz123/create", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	c := newClient(t, build(t, adminConfig(t)))
	w := c.get("/metrics")
	assert.Equal(t, http.StatusOK, w.Code)

	cfg := adminConfig(t)
	cfg.Metrics.Disabled = true
	c = newClient(t, build(t, cfg))
	assert.Equal(t, http.StatusNotFound, c.get("/metrics").Code)
}
