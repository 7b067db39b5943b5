package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papapumpkin/helix/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "helix",
	Short: "Track component generations and run improvement cycles",
	Long: `Helix records the lineage of a component as numbered, sealed generations,
keeps versioned blueprints of it, and drives the TEST, ANALYZE, APPLY,
ADVANCE, VALIDATE improvement cycle that produces each new generation.`,
	SilenceUsage: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context; cycles stop at the next phase boundary.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default .helix.yaml)")
	pf.BoolP("verbose", "v", false, "log to stderr")
	pf.String("data-dir", "", "directory holding history, blueprints and archive (default .helix)")
	pf.String("component", "", "name of the tracked component")
	pf.String("log-level", "", "log level: debug, info, warn, error")

	_ = viper.BindPFlag("data_dir", pf.Lookup("data-dir"))
	_ = viper.BindPFlag("component", pf.Lookup("component"))
	_ = viper.BindPFlag("log.level", pf.Lookup("log-level"))
}

func initConfig() {
	if cfgFile, _ := rootCmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".helix")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
	}

	config.BindEnv()

	// It's fine if no config file is found; we use defaults.
	_ = viper.ReadInConfig()
}
