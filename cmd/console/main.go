// Package main provides the entry point for the Dataherald console server
// and its command line client.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dataherald/console/cmd/console/config"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "console",
	Short: "Dataherald admin console",
	Long: `Serve and administer the Dataherald admin console.

The server stores generated queries and API keys in DuckDB and exposes them
over Arrow Flight. The client commands talk to a running server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Commands share flag names such as --database, so bind the flags
		// of the command being run only.
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return fmt.Errorf("failed to bind flags: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("server", "localhost:8815", "console server address (client commands)")
	rootCmd.PersistentFlags().String("token", "", "bearer token or API key (client commands)")
	rootCmd.PersistentFlags().String("server-ca", "", "CA certificate of a TLS server (client commands)")

	viper.SetEnvPrefix("CONSOLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Dataherald Console\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", commit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, over the defaults and applies
// flag and environment overrides on top.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path := viper.GetString("config"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if viper.IsSet("log-level") {
		cfg.LogLevel = viper.GetString("log-level")
	}
	if viper.IsSet("address") {
		cfg.Address = viper.GetString("address")
	}
	if viper.IsSet("database") {
		cfg.Database = viper.GetString("database")
	}
	if viper.IsSet("tls") {
		cfg.TLS.Enabled = viper.GetBool("tls")
	}
	if viper.IsSet("tls-cert") {
		cfg.TLS.CertFile = viper.GetString("tls-cert")
	}
	if viper.IsSet("tls-key") {
		cfg.TLS.KeyFile = viper.GetString("tls-key")
	}
	if viper.IsSet("auth") {
		cfg.Auth.Enabled = viper.GetBool("auth")
	}
	if viper.IsSet("auth-type") {
		cfg.Auth.Type = viper.GetString("auth-type")
	}
	if viper.IsSet("jwt-secret") {
		cfg.Auth.JWTAuth.Secret = viper.GetString("jwt-secret")
	}
	if viper.IsSet("metrics") {
		cfg.Metrics.Enabled = viper.GetBool("metrics")
	}
	if viper.IsSet("metrics-address") {
		cfg.Metrics.Address = viper.GetString("metrics-address")
	}
	if viper.IsSet("census") {
		cfg.Census.Enabled = viper.GetBool("census")
	}
	if viper.IsSet("census-schedule") {
		cfg.Census.Schedule = viper.GetString("census-schedule")
	}
	if viper.IsSet("cache") {
		cfg.Cache.Enabled = viper.GetBool("cache")
	}
	if viper.IsSet("max-connections") {
		cfg.MaxConnections = viper.GetInt("max-connections")
	}
	if viper.IsSet("shutdown-timeout") {
		cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(w io.Writer, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}

	logger := zerolog.New(w).
		Level(logLevel).
		With().
		Timestamp().
		Str("service", "dataherald-console")

	if logLevel == zerolog.DebugLevel {
		zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
			if i := strings.LastIndexByte(file, '/'); i >= 0 {
				file = file[i+1:]
			}
			return fmt.Sprintf("%s:%d", file, line)
		}
		logger = logger.Caller()
	}

	return logger.Logger()
}
