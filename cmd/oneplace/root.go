package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anita5511/oneplace/internal/buildinfo"
	"github.com/anita5511/oneplace/internal/config"
	"github.com/anita5511/oneplace/internal/logging"
)

// global flags
var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "oneplace",
	Short: fmt.Sprintf("oneplace dashboard backend (version: %s, commit: %s)", buildinfo.Version, buildinfo.CommitHash),
	Long: `oneplace serves the personal dashboard API. It exchanges a verified Google
identity token for a session token and proxies news and weather for the
signed in user.`,
	Version: buildinfo.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envErr := config.LoadDotEnv(envFile)
		configPath, configErr := initConfig()
		logging.Init(logging.Options{
			Level:   viper.GetString(config.LogLevelKey),
			Format:  viper.GetString(config.LogFormatKey),
			NoColor: viper.GetBool(config.LogNoColorKey),
		})
		// handle errors after logging is initialized
		if envErr != nil {
			return envErr
		}
		if configErr != nil {
			return configErr
		}
		if configPath != "" {
			log.Debug().Msgf("using config file: %s", configPath)
		}
		return nil
	},
}

// BeQuietError signals that the failure was already reported.
type BeQuietError struct{}

func (BeQuietError) Error() string { return "" }

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.As(err, &BeQuietError{}) {
			log.Error().Err(err).Msg("execution failed")
		}
		os.Exit(1)
	}
}

func init() {
	// setup pre-flag logger
	logging.InitDefault()
	config.SetDefaults(viper.GetViper())

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional .env file exported before reading configuration")

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	_ = viper.BindPFlag(config.LogLevelKey, rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console, json)")
	_ = viper.BindPFlag(config.LogFormatKey, rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.PersistentFlags().Bool("no-color", false, "Disable color output")
	_ = viper.BindPFlag(config.LogNoColorKey, rootCmd.PersistentFlags().Lookup("no-color"))

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

func initConfig() (string, error) {
	if cfgFile == "" {
		return "", nil
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("reading config %s: %w", cfgFile, err)
	}
	return viper.ConfigFileUsed(), nil
}
