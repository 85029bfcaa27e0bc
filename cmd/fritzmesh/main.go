package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rcourtman/fritzmesh/internal/config"
	"github.com/rcourtman/fritzmesh/pkg/server"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var opts config.Options

var rootCmd = &cobra.Command{
	Use:   "fritzmesh",
	Short: "FRITZ!Box mesh overview mirror",
	Long: `fritzmesh logs into a FRITZ!Box, mirrors its mesh overview page and serves it
together with live telemetry, optionally below a Home Assistant ingress path.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(opts)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return server.Run(cmd.Context(), cfg)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (default /etc/fritzmesh, or /data/options.json with --hassio)")
	flags.BoolVar(&opts.HassIO, "hassio", false, "run as Home Assistant add-on")
	flags.BoolVar(&opts.NoCache, "nocache", false, "do not load or save the cache file")
	flags.StringVar(&opts.EnvFile, "env-file", "", "environment file to load (default .env)")

	rootCmd.Flags().IntVar(&opts.Port, "port", 0, "listen port")
	rootCmd.Flags().StringVar(&opts.BindAddress, "bind", "", "listen address")
	rootCmd.Flags().StringVar(&opts.CacheFile, "cache-file", "", "cache file path")
	rootCmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&opts.LogFormat, "log-format", "", "log format (auto, json, console)")
	rootCmd.Flags().BoolVar(&opts.MockMode, "mock", false, "mirror an in-process demo router instead of a real one")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "fritzmesh %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Fprintf(out, "Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Fprintf(out, "Commit: %s\n", GitCommit)
		}
	},
}

// legacyFlags are single-dash switches accepted by older init scripts.
var legacyFlags = map[string]string{
	"-hassio":  "--hassio",
	"-nocache": "--nocache",
}

func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if replacement, ok := legacyFlags[strings.ToLower(arg)]; ok {
			arg = replacement
		}
		out = append(out, arg)
	}
	return out
}

func main() {
	rootCmd.SetArgs(normalizeArgs(os.Args[1:]))
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
