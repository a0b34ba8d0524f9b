// File: cmd/linkctl/root.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/momentics/hioload-link/control"
	"github.com/momentics/hioload-link/internal/logging"
)

const Version = "0.4.0"

// newRootCmd builds the command tree around its own viper instance. Flags
// may also be set as HIOLOAD_<FLAG> environment variables, read from the
// process environment, .env and .env.local.
func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:          "linkctl",
		Short:        "hioload-link session layer tool",
		Long:         fmt.Sprintf("linkctl (v%s)\n\nServe, probe and send to framed TCP endpoints.", Version),
		SilenceUsage: true,
	}
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		initEnv(v)
		return v.BindPFlags(cmd.Flags())
	}

	key := "config"
	root.PersistentFlags().String(key, "", "TOML config file; absent keys keep their defaults")
	key = "log-level"
	root.PersistentFlags().String(key, "", "log level (trace, debug, info, warn, error); overrides the config file")
	key = "metrics-addr"
	root.PersistentFlags().String(key, "", "address serving Prometheus metrics on /metrics, e.g. :9102")

	root.AddCommand(newServeCmd(v), newSendCmd(v), newProtocolsCmd(), newVersionCmd())
	return root
}

func initEnv(v *viper.Viper) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v.SetEnvPrefix("hioload")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// loadConfig reads the config file named by --config and applies flag overrides.
func loadConfig(v *viper.Viper) (control.Config, error) {
	cfg := control.DefaultConfig()
	if path := v.GetString("config"); path != "" {
		loaded, err := control.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if lvl := v.GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if addr := v.GetString("metrics-addr"); addr != "" {
		cfg.MetricsAddr = addr
	}
	return cfg, cfg.Validate()
}

// newLogger configures the process logger. HIOLOAD_LOG_LEVEL wins over the config.
func newLogger(cfg control.Config) zerolog.Logger {
	l := logging.ConfigureRuntime()
	if os.Getenv(logging.EnvLogLevel) != "" {
		return l
	}
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		l = l.Level(lvl)
	}
	return l
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of linkctl",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "linkctl v%s\n", Version)
		},
	}
}
