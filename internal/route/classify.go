// Package route classifies request paths into the four route classes the
// gateway distinguishes.
package route

import (
	"path"
	"strings"
)

type Kind int

const (
	Public Kind = iota
	AuthCallback
	PhysicalAdmin
	SecretAdmin
)

func (k Kind) String() string {
	switch k {
	case Public:
		return "public"
	case AuthCallback:
		return "auth_callback"
	case PhysicalAdmin:
		return "physical_admin"
	case SecretAdmin:
		return "secret_admin"
	default:
		return "unknown"
	}
}

// Classification is derived per request from the path alone.
type Classification struct {
	Kind    Kind
	IsLogin bool // only meaningful for SecretAdmin
	// Path is the cleaned path the classification was computed from.
	Path string
	// Rest is the remainder after the secret segment ("" or "/..."),
	// set only for SecretAdmin.
	Rest string
}

// Classifier holds the prefixes a path is matched against. The zero value of
// Segment means the admin gate is not configured and nothing classifies as
// SecretAdmin.
type Classifier struct {
	Segment        string // without slashes
	PhysicalPrefix string // e.g. /secure-admin-zone
	AuthPrefix     string // e.g. /api/auth
}

// Clean normalises p the way the classifier sees it: rooted, with dot
// segments and duplicate slashes resolved.
func Clean(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

// Classify is a pure function of p and the classifier's prefixes.
// PhysicalAdmin takes precedence over every other class.
func (c Classifier) Classify(p string) Classification {
	p = Clean(p)

	if hasPathPrefix(p, c.PhysicalPrefix, true) {
		return Classification{Kind: PhysicalAdmin, Path: p}
	}
	if hasPathPrefix(p, c.AuthPrefix, false) {
		return Classification{Kind: AuthCallback, Path: p}
	}
	if c.Segment != "" {
		root := "/" + c.Segment
		if hasPathPrefix(p, root, false) {
			rest := p[len(root):]
			return Classification{
				Kind:    SecretAdmin,
				IsLogin: rest == "/login",
				Path:    p,
				Rest:    rest,
			}
		}
	}
	return Classification{Kind: Public, Path: p}
}

// hasPathPrefix reports whether p equals prefix or continues it at a segment
// boundary. The physical prefix is matched with fold=true so a case-folding
// upstream cannot be reached under a different spelling.
func hasPathPrefix(p, prefix string, fold bool) bool {
	if prefix == "" || prefix == "/" || len(p) < len(prefix) {
		return false
	}
	head := p[:len(prefix)]
	if fold && !strings.EqualFold(head, prefix) || !fold && head != prefix {
		return false
	}
	return len(p) == len(prefix) || p[len(prefix)] == '/'
}
