package util

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net"
)

// HMACIP truncates IPv4 to /24 (IPv6 to /48), then HMACs the network for
// logs. Equal networks map to equal tags under the same key.
func HMACIP(ipStr string, key []byte) string {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "unknown"
	}
	var cidr string
	if v4 := ip.To4(); v4 != nil {
		cidr = v4.Mask(net.CIDRMask(24, 32)).String()
	} else {
		cidr = ip.Mask(net.CIDRMask(48, 128)).String()
	}
	m := hmac.New(sha256.New, key)
	m.Write([]byte(cidr))
	return hex.EncodeToString(m.Sum(nil))[:16]
}

// IPTagger anonymises client addresses for security logs with a key that
// lives only as long as the process.
type IPTagger struct {
	key []byte
}

func NewIPTagger() *IPTagger {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic("util: crypto/rand unavailable: " + err.Error())
	}
	return &IPTagger{key: key}
}

func (t *IPTagger) Tag(ip string) string {
	if t == nil {
		return "unknown"
	}
	return HMACIP(ip, t.key)
}
