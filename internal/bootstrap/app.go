// Package bootstrap assembles the full service: store, engine, HTTP surface,
// TLS, auth hot reload, and tracing, with ordered startup and shutdown.
package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	nethttp "net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/taskd/internal/accounts"
	"github.com/nextlevelbuilder/taskd/internal/config"
	"github.com/nextlevelbuilder/taskd/internal/engine"
	"github.com/nextlevelbuilder/taskd/internal/executor"
	"github.com/nextlevelbuilder/taskd/internal/http"
	"github.com/nextlevelbuilder/taskd/internal/store"
	"github.com/nextlevelbuilder/taskd/internal/tlscert"
	"github.com/nextlevelbuilder/taskd/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

// Run starts the service and blocks until SIGINT or SIGTERM.
func Run(cfg *config.Config) error {
	if err := cfg.Normalize(); err != nil {
		return err
	}

	ctx := context.Background()
	stopTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
	})
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}

	policy := accounts.NewSystemPolicy(cfg.DefaultAccount)
	st, err := store.Open(cfg.DBPath, policy)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	auth, err := config.NewAuthProvider(cfg.AuthPath)
	if err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	if err := auth.Start(); err != nil {
		slog.Warn("auth file watcher unavailable", "error", err)
	}
	defer auth.Stop()

	exec := executor.New(cfg.TaskTimeout, cfg.ConditionTimeout)
	eng := engine.New(st, exec)

	srv := http.NewServer(st, eng, policy, http.Options{
		Auth:         auth,
		BasePath:     cfg.BasePath,
		StaticRoot:   cfg.StaticRoot,
		RateLimitRPM: cfg.RateLimitRPM,
	})

	listener, generated, err := buildListener(cfg)
	if err != nil {
		return err
	}
	defer generated.Cleanup()

	httpServer := &nethttp.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Boot tasks run to completion before the API accepts traffic.
	eng.Start()

	serveErr := make(chan error, 1)
	go func() {
		scheme := "http"
		if cfg.EnableSSL || cfg.SSLCert != "" {
			scheme = "https"
		}
		slog.Info("server listening",
			"addr", listener.Addr().String(), "scheme", scheme, "base_path", cfg.BasePath)
		serveErr <- httpServer.Serve(listener)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			eng.Stop()
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}

	// Shutdown tasks fire after the listener closes, before the store does.
	eng.Stop()

	if err := stopTracing(shutdownCtx); err != nil {
		slog.Warn("tracing shutdown incomplete", "error", err)
	}
	return nil
}

// buildListener opens the TCP listener, wrapping it in TLS when enabled.
// SSL with no cert pair gets a generated self-signed one.
func buildListener(cfg *config.Config) (net.Listener, *tlscert.Generated, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	network := "tcp"
	if cfg.EnableIPv6 {
		network = "tcp6"
	}
	listener, err := net.Listen(network, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	useTLS := cfg.EnableSSL || (cfg.SSLCert != "" && cfg.SSLKey != "")
	if !useTLS {
		return listener, nil, nil
	}

	certPath, keyPath := cfg.SSLCert, cfg.SSLKey
	var generated *tlscert.Generated
	if certPath == "" || keyPath == "" {
		generated, err = tlscert.Generate(cfg.OpenSSLBin, cfg.SSLDays, cfg.SSLSubject)
		if err != nil {
			listener.Close()
			return nil, nil, err
		}
		certPath, keyPath = generated.CertPath, generated.KeyPath
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		listener.Close()
		generated.Cleanup()
		return nil, nil, fmt.Errorf("load certificate: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	return tls.NewListener(listener, tlsConfig), generated, nil
}
