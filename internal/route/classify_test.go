package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var testClassifier = Classifier{
	Segment:        "xyz123",
	PhysicalPrefix: "/secure-admin-zone",
	AuthPrefix:     "/api/auth",
}

func TestClassify(t *testing.T) {
	cases := []struct {
		path    string
		kind    Kind
		isLogin bool
		rest    string
	}{
		{"/", Public, false, ""},
		{"", Public, false, ""},
		{"/articles/hello-world", Public, false, ""},
		{"/xyz1234", Public, false, ""},
		{"/xyz12", Public, false, ""},
		{"/api", Public, false, ""},
		{"/api/authx", Public, false, ""},

		{"/api/auth", AuthCallback, false, ""},
		{"/api/auth/callback/credentials", AuthCallback, false, ""},
		{"/api/auth/session", AuthCallback, false, ""},

		{"/secure-admin-zone", PhysicalAdmin, false, ""},
		{"/secure-admin-zone/", PhysicalAdmin, false, ""},
		{"/secure-admin-zone/login", PhysicalAdmin, false, ""},
		{"/secure-admin-zone/edit/some-slug", PhysicalAdmin, false, ""},
		{"/SECURE-ADMIN-ZONE/create", PhysicalAdmin, false, ""},
		{"//secure-admin-zone/create", PhysicalAdmin, false, ""},
		{"/public/../secure-admin-zone/create", PhysicalAdmin, false, ""},
		{"/xyz123/../secure-admin-zone", PhysicalAdmin, false, ""},
		{"/secure-admin-zonex", Public, false, ""},

		{"/xyz123", SecretAdmin, false, ""},
		{"/xyz123/", SecretAdmin, false, ""},
		{"/xyz123/create", SecretAdmin, false, "/create"},
		{"/xyz123/edit/my-post", SecretAdmin, false, "/edit/my-post"},
		{"/xyz123/login", SecretAdmin, true, "/login"},
		{"/xyz123/login/", SecretAdmin, true, "/login"},
		{"/xyz123/login/extra", SecretAdmin, false, "/login/extra"},
		{"/xyz123/./login", SecretAdmin, true, "/login"},
		{"/XYZ123/create", Public, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			got := testClassifier.Classify(tc.path)
			assert.Equal(t, tc.kind, got.Kind)
			assert.Equal(t, tc.isLogin, got.IsLogin)
			if tc.kind == SecretAdmin {
				assert.Equal(t, tc.rest, got.Rest)
			}
		})
	}
}

func TestClassify_Unconfigured(t *testing.T) {
	c := Classifier{PhysicalPrefix: "/secure-admin-zone", AuthPrefix: "/api/auth"}

	assert.Equal(t, Public, c.Classify("/").Kind)
	assert.Equal(t, Public, c.Classify("/xyz123/create").Kind)
	assert.Equal(t, PhysicalAdmin, c.Classify("/secure-admin-zone/create").Kind)
	assert.Equal(t, AuthCallback, c.Classify("/api/auth/csrf").Kind)
}

func TestClassify_PhysicalWinsOverlap(t *testing.T) {
	c := Classifier{Segment: "secure-admin-zone", PhysicalPrefix: "/secure-admin-zone", AuthPrefix: "/api/auth"}
	assert.Equal(t, PhysicalAdmin, c.Classify("/secure-admin-zone/create").Kind)
	assert.Equal(t, PhysicalAdmin, c.Classify("/secure-admin-zone/login").Kind)
}

func TestClassify_Idempotent(t *testing.T) {
	for _, p := range []string{"/", "/xyz123/create", "/xyz123/login", "/secure-admin-zone", "/api/auth/x", "/a/../b"} {
		first := testClassifier.Classify(p)
		second := testClassifier.Classify(p)
		assert.Equal(t, first, second, p)
		// Classifying the cleaned path again gives the same answer.
		assert.Equal(t, first, testClassifier.Classify(first.Path), p)
	}
}
