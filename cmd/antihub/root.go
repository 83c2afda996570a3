package main

import (
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/config"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	appCfg := &config.AppConfig{}
	rootCmd := &cobra.Command{
		Use:          "antihub",
		Short:        "AntiHub quota tracking and credential routing backend",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&appCfg.ConfigPath, "config", "", "path to config.yaml (defaults to $"+config.ConfigPathEnv+" or "+config.DefaultConfigPath+")")
	rootCmd.PersistentFlags().BoolVar(&appCfg.MockProvider, "mock-provider", false, "route chat traffic to the in-memory mock provider")

	rootCmd.AddCommand(
		newServeCmd(appCfg),
		newMigrateCmd(appCfg),
		newRecoverCmd(appCfg),
		newUserCmd(appCfg),
		newTokenCmd(appCfg),
	)
	return rootCmd
}
