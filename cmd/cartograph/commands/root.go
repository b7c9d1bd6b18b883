package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moorhen/cartograph/internal/config"
	"github.com/moorhen/cartograph/internal/logging"
)

const Version = "0.1.0"

var (
	configPath   string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "cartograph",
	Short: "Cartograph - Multi-Cloud Infrastructure Knowledge Graph",
	Long: `Cartograph discovers cloud resources into a queryable knowledge graph,
watches the graph for drift and anomalies, and routes corrective changes
through an approval workflow.`,
	Version: Version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the YAML configuration file (empty = built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Log level: debug, info, warn or error (overrides the config file)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(versionCmd)
}

// HandleError prints error and exits
func HandleError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}

// loadConfig loads, overrides and validates the configuration shared by all
// subcommands, then initializes logging from it.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	HandleError(err, "Failed to load configuration")

	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	HandleError(cfg.Validate(), "Configuration error")

	logging.Initialize(cfg.LogLevel)
	return cfg
}
