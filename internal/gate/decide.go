// Package gate is the routing decision engine in front of the admin area. It
// combines a path classification with a session verification result into
// exactly one action per request.
package gate

import (
	"net/http"
	"net/url"

	"hiddengate/gateway-service/internal/httputil"
	"hiddengate/gateway-service/internal/route"
	"hiddengate/gateway-service/internal/session"
)

type Action int

const (
	PassThrough Action = iota
	Rewrite
	Redirect
	Reject
)

func (a Action) String() string {
	switch a {
	case PassThrough:
		return "pass"
	case Rewrite:
		return "rewrite"
	case Redirect:
		return "redirect"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// CallbackParam carries the page to return to after login.
const CallbackParam = "callbackUrl"

// Decision is the single outcome for a request. Target is the internal path
// for Rewrite (the query string is kept unchanged) and the Location for
// Redirect. Status is set for Redirect and Reject.
type Decision struct {
	Action Action
	Target string
	Status int
}

// Request is everything Decide looks at.
type Request struct {
	Class   route.Classification
	Session session.Status
	// Configured is false when any admin setting is missing.
	Configured bool
	// Path and RawQuery are the request URL as the client sent it.
	Path     string
	RawQuery string
	// Origin is scheme://host of the site, used to build and validate
	// callback URLs.
	Origin string
}

// Engine holds the prefixes decisions are built from.
type Engine struct {
	Classifier route.Classifier
}

func NewEngine(c route.Classifier) Engine {
	return Engine{Classifier: c}
}

// Root is the public address of the admin area, e.g. /xyz123.
func (e Engine) Root() string { return "/" + e.Classifier.Segment }

// LoginPath is the public address of the login page.
func (e Engine) LoginPath() string { return e.Root() + "/login" }

// Decide is a pure function of req.
func (e Engine) Decide(req Request) Decision {
	switch req.Class.Kind {
	case route.AuthCallback, route.Public:
		return Decision{Action: PassThrough}
	case route.PhysicalAdmin:
		return Decision{Action: Reject, Status: http.StatusNotFound}
	case route.SecretAdmin:
	default:
		return Decision{Action: Reject, Status: http.StatusNotFound}
	}

	if !req.Configured {
		return Decision{Action: Reject, Status: http.StatusInternalServerError}
	}
	valid := req.Session == session.Valid

	if req.Class.IsLogin {
		if valid {
			return Decision{Action: Redirect, Target: e.loginReturn(req), Status: http.StatusFound}
		}
		return Decision{Action: Rewrite, Target: e.Classifier.PhysicalPrefix + "/login"}
	}

	if valid {
		return Decision{Action: Rewrite, Target: e.Classifier.PhysicalPrefix + req.Class.Rest}
	}
	back := req.Origin + req.Path
	if req.RawQuery != "" {
		back += "?" + req.RawQuery
	}
	return Decision{
		Action: Redirect,
		Target: e.LoginPath() + "?" + CallbackParam + "=" + url.QueryEscape(back),
		Status: http.StatusFound,
	}
}

// loginReturn picks where an already signed-in admin visiting the login page
// goes: the callback when it is same-origin and not the login page itself,
// otherwise the admin root.
func (e Engine) loginReturn(req Request) string {
	q, err := url.ParseQuery(req.RawQuery)
	if err != nil {
		return e.Root()
	}
	target, ok := e.SafeCallback(q.Get(CallbackParam), req.Origin)
	if !ok {
		return e.Root()
	}
	return target
}

// SafeCallback validates a callback URL as a post-login redirect target.
// Besides being same-origin it must not lead back to the login page or into
// the physical tree, either of which would loop or 404.
func (e Engine) SafeCallback(raw, origin string) (string, bool) {
	target, ok := httputil.SameOriginTarget(raw, origin)
	if !ok {
		return "", false
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", false
	}
	c := e.Classifier.Classify(u.Path)
	if c.Kind == route.PhysicalAdmin || (c.Kind == route.SecretAdmin && c.IsLogin) {
		return "", false
	}
	return target, true
}
