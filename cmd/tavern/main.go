package main

import (
	"os"
	"strings"

	"github.com/go-go-golems/tavern/cmd/tavern/cmds"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "tavern",
	Short: "tavern styles, segments and stores persona chat sessions",
	// the logger is set up again once --log-level and co are parsed
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return InitLogger(logConfigFromViper())
	},
	SilenceUsage: true,
}

func initFlags() error {
	viper.SetEnvPrefix("tavern")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	err := viper.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		return err
	}

	if err := InitLogger(logConfigFromViper()); err != nil {
		// PersistentPreRunE reports the bad setting, log with the defaults until then
		return InitLogger(&logConfig{})
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.tavern/config.yaml)")

	if err := initFlags(); err != nil {
		panic(err)
	}

	cmds.RegisterCommands(rootCmd)
}
