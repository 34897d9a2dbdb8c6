// Package cmd holds the taskd command line interface.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/taskd/internal/bootstrap"
	"github.com/nextlevelbuilder/taskd/internal/config"
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := config.FromEnv()
	var noSSL, noIPv6 bool

	cmd := &cobra.Command{
		Use:   "taskd",
		Short: "Shell task scheduler with a web UI",
		Long: `taskd runs shell scripts on cron schedules, condition polls, or
system boot/shutdown events, stores results in SQLite, and serves a REST API
with a bundled web UI. Flags override SCHEDULER_* environment variables.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noSSL {
				cfg.EnableSSL = false
			}
			if noIPv6 {
				cfg.EnableIPv6 = false
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
			return bootstrap.Run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Host, "host", cfg.Host, "listen address")
	flags.IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	flags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to SQLite database file")
	flags.StringVar(&cfg.SSLCert, "ssl-cert", cfg.SSLCert, "PEM certificate file for HTTPS")
	flags.StringVar(&cfg.SSLKey, "ssl-key", cfg.SSLKey, "PEM private key file for HTTPS")
	flags.BoolVar(&cfg.EnableSSL, "ssl", cfg.EnableSSL, "enable HTTPS (self-signed when no cert pair given)")
	flags.BoolVar(&noSSL, "no-ssl", false, "disable HTTPS even if the environment enables it")
	flags.StringVar(&cfg.AuthPath, "auth", cfg.AuthPath, "path to Basic Auth JSON config")
	flags.StringVar(&cfg.BasePath, "base-path", cfg.BasePath, "base URL path to mount under")
	flags.BoolVar(&cfg.EnableIPv6, "ipv6", cfg.EnableIPv6, "prefer IPv6 sockets")
	flags.BoolVar(&noIPv6, "no-ipv6", false, "force IPv4 sockets even if the environment prefers IPv6")
	flags.StringVar(&cfg.StaticRoot, "static-root", cfg.StaticRoot, "directory holding the web UI")
	flags.StringVar(&cfg.DefaultAccount, "default-account", cfg.DefaultAccount, "fallback account for new tasks")

	return cmd
}
