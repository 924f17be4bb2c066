package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"go-krawl-offline/internal/models"
	"go-krawl-offline/internal/tiles"
)

// Default values for configuration
const (
	DefaultDataPath         = "krawl-data"
	DefaultBaseURL          = "https://krawl.app/api"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultConfigFilePath   = "config.toml"
	DefaultAPITimeoutSec    = 60
	DefaultMaxRetries       = 3
	DefaultConcurrency      = 4
	DefaultSyncIntervalSec  = 300
	DefaultProbeIntervalSec = 30
	DefaultQuotaLowRatio    = 0.9
	DefaultQuotaMinFreeMB   = 50
)

// setViperDefaults configures Viper with the application's default values.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("datapath", DefaultDataPath)
	v.SetDefault("baseurl", DefaultBaseURL)
	v.SetDefault("apikey", "")
	v.SetDefault("loglevel", DefaultLogLevel)
	v.SetDefault("logformat", DefaultLogFormat)
	v.SetDefault("apitimeoutsec", DefaultAPITimeoutSec)
	v.SetDefault("maxretries", DefaultMaxRetries)

	v.SetDefault("download.concurrency", DefaultConcurrency)
	v.SetDefault("download.tileurl", "")
	v.SetDefault("download.tilezoommin", tiles.DefaultZoomMin)
	v.SetDefault("download.tilezoommax", tiles.DefaultZoomMax)

	v.SetDefault("sync.intervalsec", DefaultSyncIntervalSec)
	v.SetDefault("sync.probeintervalsec", DefaultProbeIntervalSec)

	v.SetDefault("quota.lowratio", DefaultQuotaLowRatio)
	v.SetDefault("quota.minfreemb", DefaultQuotaMinFreeMB)
}

// CliFlags holds pointers to values received from command-line flags.
// Nil fields indicate the flag was not provided by the user.
type CliFlags struct {
	ConfigFilePath *string
	DataPath       *string // --data-path
	BaseURL        *string // --base-url
	APIKey         *string // --api-key
	LogLevel       *string // --log-level
	LogFormat      *string // --log-format
	APITimeoutSec  *int    // --api-timeout
	MaxRetries     *int    // --max-retries
	Concurrency    *int    // -c
}

// Initialize loads configuration based on defaults, config file,
// environment, and flags. Precedence: Flags > Env > Config File > Defaults.
func Initialize(flags CliFlags) (models.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KRAWL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setViperDefaults(v)

	configFilePath := DefaultConfigFilePath
	if flags.ConfigFilePath != nil {
		configFilePath = *flags.ConfigFilePath
	}
	v.SetConfigFile(configFilePath)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) || strings.Contains(err.Error(), "no such file") {
			log.Debugf("Config file '%s' not found, using defaults", configFilePath)
		} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Debugf("Config file '%s' not found, using defaults", configFilePath)
		} else {
			log.WithError(err).Warnf("Error reading config file '%s', using defaults", configFilePath)
		}
	} else {
		log.Debugf("Loaded config file: %s", v.ConfigFileUsed())
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return models.Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}

	if flags.DataPath != nil {
		cfg.DataPath = *flags.DataPath
	}
	if flags.BaseURL != nil {
		cfg.BaseURL = *flags.BaseURL
	}
	if flags.APIKey != nil {
		cfg.APIKey = *flags.APIKey
	}
	if flags.LogLevel != nil {
		cfg.LogLevel = *flags.LogLevel
	}
	if flags.LogFormat != nil {
		cfg.LogFormat = *flags.LogFormat
	}
	if flags.APITimeoutSec != nil {
		cfg.APITimeoutSec = *flags.APITimeoutSec
	}
	if flags.MaxRetries != nil {
		cfg.MaxRetries = *flags.MaxRetries
	}
	if flags.Concurrency != nil {
		cfg.Download.Concurrency = *flags.Concurrency
	}

	if cfg.DataPath == "" {
		return models.Config{}, fmt.Errorf("DataPath cannot be empty (set via --data-path flag or DataPath in config)")
	}
	if cfg.Download.Concurrency <= 0 {
		cfg.Download.Concurrency = DefaultConcurrency
	}

	return cfg, nil
}

// StorePath returns where the key-value store lives under the data path.
func StorePath(cfg models.Config) string {
	return filepath.Join(cfg.DataPath, "krawl.db")
}

// IndexPath returns where the search index lives under the data path.
func IndexPath(cfg models.Config) string {
	return filepath.Join(cfg.DataPath, "krawl.bleve")
}

// WriteDefault writes a commented starting config to path, refusing to
// clobber an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	cfg := models.Config{
		DataPath:      DefaultDataPath,
		BaseURL:       DefaultBaseURL,
		LogLevel:      DefaultLogLevel,
		LogFormat:     DefaultLogFormat,
		APITimeoutSec: DefaultAPITimeoutSec,
		MaxRetries:    DefaultMaxRetries,
		Download: models.DownloadConfig{
			Concurrency: DefaultConcurrency,
			TileZoomMin: tiles.DefaultZoomMin,
			TileZoomMax: tiles.DefaultZoomMax,
		},
		Sync: models.SyncConfig{
			IntervalSec:      DefaultSyncIntervalSec,
			ProbeIntervalSec: DefaultProbeIntervalSec,
		},
		Quota: models.QuotaConfig{
			LowRatio:  DefaultQuotaLowRatio,
			MinFreeMB: DefaultQuotaMinFreeMB,
		},
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	log.Infof("Wrote default config to %s", path)
	return nil
}
