package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/vbus/internal/api"
	"github.com/nerrad567/vbus/internal/infrastructure/config"
)

// defaultTokenTTL is the lifetime of tokens minted by "vbusd token".
const defaultTokenTTL = 24 * time.Hour

// newRootCmd builds the command tree. Without a subcommand vbusd serves.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "vbusd",
		Short: "Virtual device/driver bus daemon",
		Long: `vbusd hosts a virtual bus on which drivers and devices register,
bind by name and announce themselves through uevents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, configPath)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("VBUS_CONFIG"),
		"path to the YAML config file (default: built-in settings; env VBUS_CONFIG)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the bus daemon until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd, configPath)
			},
		},
		newVersionCmd(),
		newTokenCmd(&configPath),
	)
	return root
}

func serve(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	return run(cmd.Context(), cfg)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "vbusd version %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}

// newTokenCmd mints a bearer token for the mutating API routes, signed
// with the configured JWT secret.
func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for attribute writes, rescan and hotplug",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Security.JWT.Secret == "" {
				return errors.New("security.jwt.secret is not set")
			}

			token, err := api.IssueToken(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, subject, ttl)
			if err != nil {
				return fmt.Errorf("issuing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject, recorded in the API log")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "token lifetime")
	return cmd
}

// loadConfig reads path, or falls back to the built-in defaults when path
// is empty. Environment overrides apply in both cases.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg, err := config.Default()
		if err != nil {
			return nil, fmt.Errorf("loading default config: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}
