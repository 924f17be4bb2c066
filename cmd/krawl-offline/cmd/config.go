package cmd

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-krawl-offline/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.toml",
	Run: func(cmd *cobra.Command, args []string) {
		path := config.DefaultConfigFilePath
		if cfgFile != "" {
			path = cfgFile
		}
		if err := config.WriteDefault(path); err != nil {
			log.WithError(err).Fatal("Failed to write default config")
		}
		fmt.Printf("Wrote %s\n", path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		shown := globalConfig
		if shown.APIKey != "" {
			shown.APIKey = "***"
		}
		data, err := json.MarshalIndent(shown, "", "  ")
		if err != nil {
			log.WithError(err).Fatal("Failed to render configuration")
		}
		fmt.Println(string(data))
	},
}
