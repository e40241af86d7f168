package main

import (
	"github.com/spf13/cobra"

	"github.com/gilchrisn/slim-clustering/pkg/train"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "slim",
	Short: "Graph classification with a soft-clustering regularizer",
	Long: `slim trains a graph classifier whose node embeddings are regularized by a
Student's-t soft clustering against learned centers.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(trainCmd, inspectCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig builds the configuration from defaults, the config file and flags
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*train.Config, error) {
	cfg := train.NewConfig()
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, err
		}
	}
	v := cfg.Viper()
	for key, flag := range bindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.Set("logging.level", logLevel)
	}
	return cfg, nil
}
