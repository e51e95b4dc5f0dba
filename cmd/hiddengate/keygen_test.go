package main

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hiddengate/gateway-service/internal/config"
)

func TestWriteSecrets(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSecrets(&buf, rand.Reader))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	seg, ok := strings.CutPrefix(lines[0], config.EnvSecretSegment+"=")
	require.True(t, ok)
	assert.Len(t, seg, 26)
	assert.Equal(t, strings.ToLower(seg), seg)

	secret, ok := strings.CutPrefix(lines[1], config.EnvSigningSecret+"=")
	require.True(t, ok)
	assert.Len(t, secret, 43)

	// The generated segment is accepted as configuration.
	cfg := &config.Config{Admin: config.AdminCfg{SecretSegment: seg, SigningSecret: secret}}
	require.NoError(t, cfg.Normalize())
	assert.NoError(t, cfg.Validate())
}

func TestWriteSecrets_ShortRandom(t *testing.T) {
	err := writeSecrets(&bytes.Buffer{}, strings.NewReader("short"))
	assert.Error(t, err)
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("HIDDENGATE_CONFIG", "/etc/hiddengate.yaml")
	configPath = ""
	assert.Equal(t, "/etc/hiddengate.yaml", resolveConfigPath())

	configPath = "/tmp/x.yaml"
	defer func() { configPath = "" }()
	assert.Equal(t, "/tmp/x.yaml", resolveConfigPath())
}
