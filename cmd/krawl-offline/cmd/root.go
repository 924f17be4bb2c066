package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-krawl-offline/internal/api"
	"go-krawl-offline/internal/config"
	"go-krawl-offline/internal/models"
	"go-krawl-offline/internal/quota"
	"go-krawl-offline/internal/search"
	"go-krawl-offline/internal/store"
)

// Persistent flag values. Empty/zero means "not provided", handled by the
// config layer's precedence rules.
var (
	cfgFile        string
	dataPathFlag   string
	baseURLFlag    string
	apiKeyFlag     string
	logLevelFlag   string
	logFormatFlag  string
	apiTimeoutFlag int
)

// globalConfig holds the loaded configuration
var globalConfig models.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "krawl-offline",
	Short: "Offline cache manager for Krawl guided tours",
	Long: `krawl-offline downloads guided tours for offline use, keeps local
visit progress in sync with the server, and queues content created
while disconnected for later upload.`,
	PersistentPreRunE: loadGlobalConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path (default is ./config.toml)")
	rootCmd.PersistentFlags().StringVar(&dataPathFlag, "data-path", "", "Directory for the offline cache (overrides config)")
	rootCmd.PersistentFlags().StringVar(&baseURLFlag, "base-url", "", "Backend API base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "Bearer token for authenticated endpoints (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Logging level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Logging format (text, json)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", 0, "API HTTP client timeout in seconds (overrides config)")
}

// loadGlobalConfig loads the configuration and configures logging before
// any command runs.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	flags := config.CliFlags{}
	if cfgFile != "" {
		flags.ConfigFilePath = &cfgFile
	}
	if dataPathFlag != "" {
		flags.DataPath = &dataPathFlag
	}
	if baseURLFlag != "" {
		flags.BaseURL = &baseURLFlag
	}
	if apiKeyFlag != "" {
		flags.APIKey = &apiKeyFlag
	}
	if logLevelFlag != "" {
		flags.LogLevel = &logLevelFlag
	}
	if logFormatFlag != "" {
		flags.LogFormat = &logFormatFlag
	}
	if apiTimeoutFlag > 0 {
		flags.APITimeoutSec = &apiTimeoutFlag
	}

	cfg, err := config.Initialize(flags)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	globalConfig = cfg

	setupLogging(cfg)
	return nil
}

func setupLogging(cfg models.Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// openStore opens the persistent store at the configured data path.
func openStore() (*store.Store, error) {
	s, err := store.Open(config.StorePath(globalConfig))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

// openIndex opens the search index. A broken index disables search but
// never blocks the command.
func openIndex() *search.Index {
	idx, err := search.Open(config.IndexPath(globalConfig))
	if err != nil {
		log.WithError(err).Warn("Search index unavailable, offline search disabled")
		return nil
	}
	return idx
}

func newAPIClient() *api.Client {
	timeout := time.Duration(globalConfig.APITimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := api.NewClient(globalConfig.BaseURL, globalConfig.APIKey, &http.Client{Timeout: timeout})
	if globalConfig.MaxRetries > 0 {
		client.MaxRetries = globalConfig.MaxRetries
	}
	return client
}

func newGuard() *quota.Guard {
	return quota.NewGuard(globalConfig.DataPath, globalConfig.Quota)
}
