package main

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"hiddengate/gateway-service/internal/config"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a fresh secret segment and signing secret as environment assignments",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeSecrets(cmd.OutOrStdout(), rand.Reader)
	},
}

var segmentEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func writeSecrets(w io.Writer, rnd io.Reader) error {
	seg := make([]byte, 16)
	if _, err := io.ReadFull(rnd, seg); err != nil {
		return err
	}
	secret := make([]byte, 32)
	if _, err := io.ReadFull(rnd, secret); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s=%s\n%s=%s\n",
		config.EnvSecretSegment, strings.ToLower(segmentEncoding.EncodeToString(seg)),
		config.EnvSigningSecret, base64.RawURLEncoding.EncodeToString(secret))
	return err
}
