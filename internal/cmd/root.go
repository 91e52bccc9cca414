package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quillback/parley/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Chat bridge for a long-lived interactive CLI agent",
	Long: `Parley keeps one interactive CLI agent alive on a pseudo-terminal and
bridges it to a chat surface. Messages become agent turns, slash commands
control the session, and crashes trigger supervised restarts.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/parley/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/parley")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PARLEY")
	// Replace dots with underscores for nested keys in env vars
	// e.g., PARLEY_TRANSPORT_SLACK_BOT_TOKEN for transport.slack.bot_token
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
