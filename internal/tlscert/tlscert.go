// Package tlscert generates throwaway self-signed certificates with the host
// openssl binary for servers started in HTTPS mode without a cert pair.
package tlscert

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Generated is a freshly minted certificate pair in a temporary directory.
// Cleanup removes the directory.
type Generated struct {
	CertPath string
	KeyPath  string
	dir      string
}

// Generate shells out to openssl for an RSA 2048 self-signed pair. The
// returned pair lives in a fresh temp directory owned by the caller.
func Generate(opensslBin string, days int, subject string) (*Generated, error) {
	if opensslBin == "" {
		opensslBin = "openssl"
	}
	if days <= 0 {
		days = 365
	}
	if subject == "" {
		subject = "/CN=localhost"
	}

	dir, err := os.MkdirTemp("", "taskd-ssl-")
	if err != nil {
		return nil, fmt.Errorf("create cert dir: %w", err)
	}
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")

	cmd := exec.Command(opensslBin,
		"req", "-x509", "-nodes",
		"-newkey", "rsa:2048",
		"-days", strconv.Itoa(days),
		"-subj", subject,
		"-keyout", keyPath,
		"-out", certPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("openssl failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	slog.Info("generated self-signed certificate", "subject", subject, "days", days)
	return &Generated{CertPath: certPath, KeyPath: keyPath, dir: dir}, nil
}

// Cleanup removes the temporary certificate directory.
func (g *Generated) Cleanup() {
	if g == nil || g.dir == "" {
		return
	}
	os.RemoveAll(g.dir)
}
