package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/relaychain/noded/config"
)

var (
	homeDir    string
	configPath string
	conf       = config.DefaultConfig()
)

// RootCmd is the root command for noded. Every subcommand reads its
// configuration through viper, from the file named by the required
// --config flag.
var RootCmd = &cobra.Command{
	Use:   "noded",
	Short: "A node reactor core (CatchUp / KeepUp / Validate)",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return parseConfig(cmd)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "directory for data and relative config paths")
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the node's config TOML file")
	RootCmd.PersistentFlags().String("log-level", conf.LogLevel, "log level: debug, info, error, none")
	RootCmd.PersistentFlags().String("log-format", conf.LogFormat, "log format: plain, json")
	_ = RootCmd.MarkPersistentFlagRequired("config")
}

// parseConfig reads the config file named by --config, applies
// command-line flag overrides, and validates the result. All tuning
// lives in config: no environment variables are consumed.
func parseConfig(cmd *cobra.Command) error {
	if homeDir == "" {
		homeDir = defaultHomeDir()
	}
	conf.SetRoot(homeDir)
	config.EnsureRoot(homeDir)

	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading --config %q: %w", configPath, err)
	}
	if err := v.Unmarshal(conf); err != nil {
		return err
	}

	if cmd.Flags().Changed("log-level") {
		conf.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-format") {
		conf.LogFormat, _ = cmd.Flags().GetString("log-format")
	}

	return conf.ValidateBasic()
}

func defaultHomeDir() string {
	dir, err := homeDirOrDot()
	if err != nil {
		return config.DefaultNodedDir
	}
	return filepath.Join(dir, config.DefaultNodedDir)
}
