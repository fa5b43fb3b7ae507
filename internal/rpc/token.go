package rpc

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// tokenFileName returns the per-port token file name. Port scoping
// lets several servers on one machine hold independent secrets.
func tokenFileName(port int) string {
	return fmt.Sprintf("rpc-%d.token", port)
}

// TokenPath resolves the token file location in the user config dir.
func TokenPath(port int) (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "nexus3", tokenFileName(port)), nil
}

// LoadOrCreateToken reads the port-scoped secret, generating and
// persisting one with mode 0600 on first startup.
func LoadOrCreateToken(port int) (string, error) {
	path, err := TokenPath(port)
	if err != nil {
		return "", err
	}
	if raw, err := os.ReadFile(path); err == nil {
		token := strings.TrimSpace(string(raw))
		if token != "" {
			return token, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write token file: %w", err)
	}
	return token, nil
}

// ReadToken loads the existing secret for a client connecting to port.
func ReadToken(port int) (string, error) {
	path, err := TokenPath(port)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// checkBearer compares the Authorization header against the secret in
// constant time.
func checkBearer(header, token string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	presented := header[len(prefix):]
	return subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}
