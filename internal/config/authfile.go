package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// BasicAuth is the credential set protecting the API, loaded from a JSON
// file. Password hashes are lowercase hex SHA-256.
type BasicAuth struct {
	Username       string
	PasswordSHA256 string
	Realm          string
}

type authFile struct {
	Enabled        *bool  `json:"enabled"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	PasswordSHA256 string `json:"password_sha256"`
	Realm          string `json:"realm"`
}

// LoadBasicAuth reads the auth file. A missing file or enabled=false means
// auth is off and returns (nil, nil). A present but malformed file is an
// error: silently running unprotected would be worse.
func LoadBasicAuth(path string) (*BasicAuth, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read auth file: %w", err)
	}
	var raw authFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse auth file: %w", err)
	}
	if raw.Enabled != nil && !*raw.Enabled {
		return nil, nil
	}
	username := strings.TrimSpace(raw.Username)
	if username == "" {
		return nil, errors.New("auth file is missing username")
	}
	hash := strings.TrimSpace(raw.PasswordSHA256)
	if hash != "" && raw.Password != "" {
		return nil, errors.New("auth file must set only one of password or password_sha256")
	}
	if raw.Password != "" {
		sum := sha256.Sum256([]byte(raw.Password))
		hash = hex.EncodeToString(sum[:])
	}
	if hash == "" {
		return nil, errors.New("auth file is missing password or password_sha256")
	}
	realm := strings.TrimSpace(raw.Realm)
	if realm == "" {
		realm = "Scheduler"
	}
	return &BasicAuth{
		Username:       username,
		PasswordSHA256: strings.ToLower(hash),
		Realm:          realm,
	}, nil
}

// AuthProvider serves the current auth credentials and reloads them when the
// file changes. Reload failures keep the previous credentials.
type AuthProvider struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	stopChan chan struct{}

	mu      sync.RWMutex
	current *BasicAuth
}

// NewAuthProvider loads the file once and prepares the watcher. The initial
// load is strict: a broken auth file fails startup.
func NewAuthProvider(path string) (*AuthProvider, error) {
	auth, err := LoadBasicAuth(path)
	if err != nil {
		return nil, err
	}
	return &AuthProvider{
		path:     path,
		debounce: 300 * time.Millisecond,
		current:  auth,
	}, nil
}

// Current returns the active credentials, or nil when auth is disabled.
func (p *AuthProvider) Current() *BasicAuth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Start begins watching the auth file. A file that does not exist yet is not
// an error; auth simply stays off until a restart.
func (p *AuthProvider) Start() error {
	if p.path == "" {
		return nil
	}
	if _, err := os.Stat(p.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(p.path); err != nil {
		w.Close()
		return err
	}
	p.watcher = w
	p.stopChan = make(chan struct{})
	go p.watchLoop()
	slog.Info("auth file watcher started", "path", p.path)
	return nil
}

// Stop halts the watcher.
func (p *AuthProvider) Stop() {
	if p.watcher == nil {
		return
	}
	close(p.stopChan)
	p.watcher.Close()
}

func (p *AuthProvider) watchLoop() {
	var debounceTimer *time.Timer
	for {
		select {
		case <-p.stopChan:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(p.debounce, p.reload)

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("auth file watcher error", "error", err)
		}
	}
}

func (p *AuthProvider) reload() {
	auth, err := LoadBasicAuth(p.path)
	if err != nil {
		slog.Error("auth file reload failed, keeping previous credentials", "error", err)
		return
	}
	p.mu.Lock()
	p.current = auth
	p.mu.Unlock()
	if auth == nil {
		slog.Info("auth disabled after reload", "path", p.path)
	} else {
		slog.Info("auth credentials reloaded", "path", p.path, "username", auth.Username)
	}
}
