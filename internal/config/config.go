package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPhysicalPrefix is the internal route tree that renders the admin pages.
const DefaultPhysicalPrefix = "/secure-admin-zone"

// AuthPrefix is the route tree owned by the credential endpoints.
const AuthPrefix = "/api/auth"

// Environment variables that override the admin section. These are operator
// secrets and are expected to come from the process environment rather than
// a checked-in file.
const (
	EnvSecretSegment = "ADMIN_SECRET_URL_SEGMENT"
	EnvSigningSecret = "ADMIN_SIGNING_SECRET"
	EnvAdminUsername = "ADMIN_USERNAME"
	EnvAdminPassword = "ADMIN_PASSWORD"
	EnvListen        = "HIDDENGATE_LISTEN"
	EnvPublicOrigin  = "HIDDENGATE_PUBLIC_ORIGIN"
)

var ErrAdminNotConfigured = errors.New("admin area not configured")

type ServerCfg struct {
	Listen         string   `yaml:"listen"`
	ReadTimeoutMs  int      `yaml:"read_timeout_ms"`
	WriteTimeoutMs int      `yaml:"write_timeout_ms"`
	TLSCertFile    string   `yaml:"tls_cert_file"`
	TLSKeyFile     string   `yaml:"tls_key_file"`
	TrustedProxies []string `yaml:"trusted_proxies"` // CIDRs allowed to set X-Forwarded-*
	PublicOrigin   string   `yaml:"public_origin"`   // e.g. https://blog.example.com; derived per request if empty

	TrustedProxyCIDRs []*net.IPNet `yaml:"-"`
}

type AdminCfg struct {
	SecretSegment  string `yaml:"secret_segment"`
	PhysicalPrefix string `yaml:"physical_prefix"`
	SigningSecret  string `yaml:"signing_secret"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
}

type SessionCfg struct {
	CookieName string `yaml:"cookie_name"`
	TTLHours   int    `yaml:"ttl_hours"`
	Issuer     string `yaml:"issuer"`
	SkewSec    int    `yaml:"skew_sec"`
	Domain     string `yaml:"domain"`
	SameSite   string `yaml:"same_site"` // Lax | Strict | None
	Secure     bool   `yaml:"secure"`
}

type LoginCfg struct {
	MaxAttempts int `yaml:"max_attempts"` // per client IP per window
	WindowSec   int `yaml:"window_sec"`
}

type UpstreamCfg struct {
	Origin        string `yaml:"origin"` // empty: pages are rendered in-process
	TimeoutMs     int    `yaml:"timeout_ms"`
	IdleTimeoutMs int    `yaml:"idle_timeout_ms"`
	MaxIdleConns  int    `yaml:"max_idle_conns"`
	// Consecutive failures before requests fail fast, and for how long.
	BreakerFailures int `yaml:"breaker_failures"`
	BreakerOpenSec  int `yaml:"breaker_open_sec"`
	// NotFoundPath is requested from the origin in place of any path inside
	// the physical admin tree, so those answers match the origin's own 404.
	NotFoundPath string `yaml:"not_found_path"`
}

type LoggingCfg struct {
	Level string `yaml:"level"` // info|debug
}

type MetricsCfg struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path"`
}

type Config struct {
	Server   ServerCfg   `yaml:"server"`
	Admin    AdminCfg    `yaml:"admin"`
	Session  SessionCfg  `yaml:"session"`
	Login    LoginCfg    `yaml:"login"`
	Upstream UpstreamCfg `yaml:"upstream"`
	Logging  LoggingCfg  `yaml:"logging"`
	Metrics  MetricsCfg  `yaml:"metrics"`
}

// Identity is the single administrative principal.
type Identity struct {
	Username string
	Password string
}

// Load reads the YAML file at path (a missing file is not an error), applies
// environment overrides and fills defaults. The returned Config must be
// treated as read-only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Admin.SecretSegment, EnvSecretSegment)
	set(&c.Admin.SigningSecret, EnvSigningSecret)
	set(&c.Admin.Username, EnvAdminUsername)
	set(&c.Admin.Password, EnvAdminPassword)
	set(&c.Server.Listen, EnvListen)
	set(&c.Server.PublicOrigin, EnvPublicOrigin)
}

// Normalize applies defaults and derives computed fields. Load calls it;
// callers building a Config by hand must call it before use.
func (c *Config) Normalize() error {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.ReadTimeoutMs == 0 {
		c.Server.ReadTimeoutMs = 5000
	}
	if c.Server.WriteTimeoutMs == 0 {
		c.Server.WriteTimeoutMs = 15000
	}
	c.Server.PublicOrigin = strings.TrimRight(c.Server.PublicOrigin, "/")
	c.Server.TrustedProxyCIDRs = c.Server.TrustedProxyCIDRs[:0]
	for _, s := range c.Server.TrustedProxies {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return fmt.Errorf("invalid trusted proxy %q: %w", s, err)
		}
		c.Server.TrustedProxyCIDRs = append(c.Server.TrustedProxyCIDRs, n)
	}

	c.Admin.SecretSegment = strings.Trim(strings.TrimSpace(c.Admin.SecretSegment), "/")
	if c.Admin.PhysicalPrefix == "" {
		c.Admin.PhysicalPrefix = DefaultPhysicalPrefix
	}
	c.Admin.PhysicalPrefix = strings.TrimRight(c.Admin.PhysicalPrefix, "/")

	if c.Session.CookieName == "" {
		c.Session.CookieName = "hiddengate.session-token"
	}
	if c.Session.TTLHours == 0 {
		c.Session.TTLHours = 7 * 24
	}
	if c.Session.Issuer == "" {
		c.Session.Issuer = "hiddengate"
	}
	if c.Session.SkewSec == 0 {
		c.Session.SkewSec = 30
	}
	if c.Session.SameSite == "" {
		c.Session.SameSite = "Lax"
	}

	if c.Login.MaxAttempts == 0 {
		c.Login.MaxAttempts = 10
	}
	if c.Login.WindowSec == 0 {
		c.Login.WindowSec = 60
	}

	if c.Upstream.TimeoutMs == 0 {
		c.Upstream.TimeoutMs = 10000
	}
	if c.Upstream.IdleTimeoutMs == 0 {
		c.Upstream.IdleTimeoutMs = 90000
	}
	if c.Upstream.MaxIdleConns == 0 {
		c.Upstream.MaxIdleConns = 100
	}
	if c.Upstream.BreakerFailures == 0 {
		c.Upstream.BreakerFailures = 5
	}
	if c.Upstream.BreakerOpenSec == 0 {
		c.Upstream.BreakerOpenSec = 30
	}
	if c.Upstream.NotFoundPath == "" {
		c.Upstream.NotFoundPath = "/hiddengate-not-found"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	return nil
}

// Validate rejects structurally broken configuration. Missing admin secrets
// are deliberately not reported here: public traffic must keep working and
// the admin area reports them per request instead (see AdminReady).
func (c *Config) Validate() error {
	switch strings.ToLower(c.Session.SameSite) {
	case "lax", "strict", "none":
	default:
		return errors.New("session.same_site must be 'Lax', 'Strict' or 'None'")
	}
	if strings.EqualFold(c.Session.SameSite, "none") && !c.Session.Secure {
		return errors.New("session.same_site=None requires session.secure")
	}
	if c.Session.TTLHours < 0 {
		return errors.New("session.ttl_hours must be positive")
	}
	if !strings.HasPrefix(c.Admin.PhysicalPrefix, "/") || c.Admin.PhysicalPrefix == "/" {
		return errors.New("admin.physical_prefix must be an absolute path below /")
	}
	if pathsOverlap(c.Admin.PhysicalPrefix, AuthPrefix) {
		return errors.New("admin.physical_prefix must not overlap " + AuthPrefix)
	}
	if seg := c.Admin.SecretSegment; seg != "" {
		if strings.ContainsAny(seg, "/?#%\\") {
			return errors.New("admin.secret_segment must be a single path component")
		}
		if seg == "." || seg == ".." {
			return errors.New("admin.secret_segment must not be a dot segment")
		}
		first := strings.SplitN(strings.TrimPrefix(c.Admin.PhysicalPrefix, "/"), "/", 2)[0]
		if strings.EqualFold(seg, first) {
			return errors.New("admin.secret_segment must differ from the physical prefix")
		}
		if seg == strings.SplitN(strings.TrimPrefix(AuthPrefix, "/"), "/", 2)[0] {
			return errors.New("admin.secret_segment must not shadow " + AuthPrefix)
		}
	}
	if c.Login.MaxAttempts < 0 || c.Login.WindowSec < 0 {
		return errors.New("login limits must be >= 0")
	}
	if o := c.Server.PublicOrigin; o != "" {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") || (u.Path != "" && u.Path != "/") {
			return errors.New("server.public_origin must be scheme://host[:port]")
		}
	}
	if o := c.Upstream.Origin; o != "" {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return errors.New("upstream.origin must be an absolute http(s) URL")
		}
	}
	if p := c.Upstream.NotFoundPath; !strings.HasPrefix(p, "/") || p == "/" ||
		pathsOverlap(p, c.Admin.PhysicalPrefix) || pathsOverlap(p, AuthPrefix) ||
		(c.Admin.SecretSegment != "" && pathsOverlap(p, "/"+c.Admin.SecretSegment)) {
		return errors.New("upstream.not_found_path must be an absolute path outside the admin and auth trees")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return errors.New("server.tls_cert_file and server.tls_key_file must be set together")
	}
	return nil
}

// pathsOverlap reports whether either path equals the other or lies below it
// at a segment boundary, ignoring case as the physical prefix match does.
func pathsOverlap(a, b string) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	if !strings.EqualFold(a, b[:len(a)]) {
		return false
	}
	return len(a) == len(b) || b[len(a)] == '/'
}

// SecretSegment returns the path component that stands in for /admin.
func (c *Config) SecretSegment() (string, bool) {
	return c.Admin.SecretSegment, c.Admin.SecretSegment != ""
}

// SigningSecret returns the session token key material.
func (c *Config) SigningSecret() ([]byte, bool) {
	if c.Admin.SigningSecret == "" {
		return nil, false
	}
	return []byte(c.Admin.SigningSecret), true
}

// AdminIdentity returns the single administrative principal.
func (c *Config) AdminIdentity() (Identity, bool) {
	id := Identity{Username: c.Admin.Username, Password: c.Admin.Password}
	return id, id.Username != "" && id.Password != ""
}

// AdminReady reports which admin settings are missing, if any.
func (c *Config) AdminReady() error {
	var missing []string
	if _, ok := c.SecretSegment(); !ok {
		missing = append(missing, "secret_segment")
	}
	if _, ok := c.SigningSecret(); !ok {
		missing = append(missing, "signing_secret")
	}
	if _, ok := c.AdminIdentity(); !ok {
		missing = append(missing, "username/password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrAdminNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLHours) * time.Hour
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutMs) * time.Millisecond
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutMs) * time.Millisecond
}
