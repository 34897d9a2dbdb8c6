package http

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/taskd/internal/config"
)

// authMiddleware enforces Basic Auth when credentials are configured. The
// provider is consulted per request so file reloads take effect immediately.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var auth *config.BasicAuth
		if s.auth != nil {
			auth = s.auth.Current()
		}
		if auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		username, password, ok := parseBasicHeader(r.Header.Get("Authorization"))
		if !ok || !verifyCredentials(auth, username, password) {
			sendAuthChallenge(w, auth.Realm)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseBasicHeader(header string) (username, password string, ok bool) {
	if !strings.HasPrefix(header, "Basic ") {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len("Basic "):]))
	if err != nil {
		return "", "", false
	}
	username, password, ok = strings.Cut(string(decoded), ":")
	return username, password, ok
}

// verifyCredentials compares username and the SHA-256 of the password in
// constant time.
func verifyCredentials(auth *config.BasicAuth, username, password string) bool {
	sum := sha256.Sum256([]byte(password))
	hash := hex.EncodeToString(sum[:])
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(auth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(hash), []byte(auth.PasswordSHA256)) == 1
	return userOK && passOK
}

func sendAuthChallenge(w http.ResponseWriter, realm string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q, charset="UTF-8"`, realm))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte("Authentication required"))
}
