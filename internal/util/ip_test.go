package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACIP(t *testing.T) {
	key := []byte("k")
	assert.Equal(t, HMACIP("203.0.113.5", key), HMACIP("203.0.113.200", key), "same /24")
	assert.NotEqual(t, HMACIP("203.0.113.5", key), HMACIP("203.0.114.5", key))
	assert.Equal(t, HMACIP("2001:db8:1::1", key), HMACIP("2001:db8:1:ffff::2", key), "same /48")
	assert.NotEqual(t, HMACIP("203.0.113.5", key), HMACIP("203.0.113.5", []byte("other")))
	assert.Len(t, HMACIP("203.0.113.5", key), 16)
	assert.Equal(t, "unknown", HMACIP("nope", key))
}

func TestIPTagger(t *testing.T) {
	a, b := NewIPTagger(), NewIPTagger()
	assert.Equal(t, a.Tag("198.51.100.1"), a.Tag("198.51.100.9"))
	assert.NotEqual(t, a.Tag("198.51.100.1"), b.Tag("198.51.100.1"), "keys are per tagger")
	var nilTagger *IPTagger
	assert.Equal(t, "unknown", nilTagger.Tag("198.51.100.1"))
}
