package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Plex
	PlexToken string

	// Download managers
	SonarrURL    string
	SonarrAPIKey string
	RadarrURL    string
	RadarrAPIKey string

	// Request broker
	OverseerrURL    string
	OverseerrAPIKey string

	// Watch history
	TautulliURL      string
	TautulliAPIKey   string
	WatchHistoryDays int // 0 means the whole history

	// Endpoint resolution
	EndpointCacheHours              int // Freshness window of a cached address (default: 24)
	EndpointCachedTimeoutSeconds    int // Timeout when re-using a cached address (default: 2)
	EndpointDiscoveryTimeoutSeconds int // Timeout per candidate during discovery (default: 5)

	// Deletion
	DeletionDelayMS int // Delay between cascade deletions (default: 100)

	// Default retention rule, seeded on first start
	DefaultRule RuleConfig

	// Schedules (cron expressions)
	LibrarySyncSchedule string
	WatchSyncSchedule   string

	// Server
	ServerPort string

	// Paths
	DatabaseFile string // $CONFIG_DIR/reclaimarr.db

	// Logging
	LogLevel  string
	LogFormat string // text or json
}

// RuleConfig describes the retention rule seeded from the environment
type RuleConfig struct {
	GracePeriodDays     int
	InactivityDays      int
	MinRating           *float64
	ExcludedLibraries   []string
	ExcludedGenres      []string
	ExcludedCollections []string
	DryRunOnly          bool
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Load .env file if it exists (ignore if not found)
	_ = viper.ReadInConfig()

	viper.SetDefault("ENDPOINT_CACHE_HOURS", 24)
	viper.SetDefault("ENDPOINT_CACHED_TIMEOUT_SECONDS", 2)
	viper.SetDefault("ENDPOINT_DISCOVERY_TIMEOUT_SECONDS", 5)
	viper.SetDefault("DELETION_DELAY_MS", 100)
	viper.SetDefault("WATCH_HISTORY_DAYS", 0)
	viper.SetDefault("LIBRARY_SYNC_SCHEDULE", "0 */12 * * *")
	viper.SetDefault("WATCH_SYNC_SCHEDULE", "0 */6 * * *")
	viper.SetDefault("RULE_GRACE_PERIOD_DAYS", 30)
	viper.SetDefault("RULE_INACTIVITY_DAYS", 15)
	viper.SetDefault("RULE_DRY_RUN_ONLY", true)
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")

	configDir := viper.GetString("CONFIG_DIR")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config", "reclaimarr")
	} else {
		absPath, err := filepath.Abs(configDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for CONFIG_DIR: %w", err)
		}
		configDir = absPath
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	config := &Config{
		PlexToken: viper.GetString("PLEX_TOKEN"),

		SonarrURL:    strings.TrimRight(viper.GetString("SONARR_URL"), "/"),
		SonarrAPIKey: viper.GetString("SONARR_API_KEY"),
		RadarrURL:    strings.TrimRight(viper.GetString("RADARR_URL"), "/"),
		RadarrAPIKey: viper.GetString("RADARR_API_KEY"),

		OverseerrURL:    strings.TrimRight(viper.GetString("OVERSEERR_URL"), "/"),
		OverseerrAPIKey: viper.GetString("OVERSEERR_API_KEY"),

		TautulliURL:      strings.TrimRight(viper.GetString("TAUTULLI_URL"), "/"),
		TautulliAPIKey:   viper.GetString("TAUTULLI_API_KEY"),
		WatchHistoryDays: viper.GetInt("WATCH_HISTORY_DAYS"),

		EndpointCacheHours:              viper.GetInt("ENDPOINT_CACHE_HOURS"),
		EndpointCachedTimeoutSeconds:    viper.GetInt("ENDPOINT_CACHED_TIMEOUT_SECONDS"),
		EndpointDiscoveryTimeoutSeconds: viper.GetInt("ENDPOINT_DISCOVERY_TIMEOUT_SECONDS"),

		DeletionDelayMS: viper.GetInt("DELETION_DELAY_MS"),

		DefaultRule: RuleConfig{
			GracePeriodDays:     viper.GetInt("RULE_GRACE_PERIOD_DAYS"),
			InactivityDays:      viper.GetInt("RULE_INACTIVITY_DAYS"),
			ExcludedLibraries:   splitList(viper.GetString("RULE_EXCLUDED_LIBRARIES")),
			ExcludedGenres:      splitList(viper.GetString("RULE_EXCLUDED_GENRES")),
			ExcludedCollections: splitList(viper.GetString("RULE_EXCLUDED_COLLECTIONS")),
			DryRunOnly:          viper.GetBool("RULE_DRY_RUN_ONLY"),
		},

		LibrarySyncSchedule: viper.GetString("LIBRARY_SYNC_SCHEDULE"),
		WatchSyncSchedule:   viper.GetString("WATCH_SYNC_SCHEDULE"),

		ServerPort: viper.GetString("SERVER_PORT"),

		DatabaseFile: filepath.Join(configDir, "reclaimarr.db"),

		LogLevel:  viper.GetString("LOG_LEVEL"),
		LogFormat: viper.GetString("LOG_FORMAT"),
	}

	if viper.IsSet("RULE_MIN_RATING") && viper.GetString("RULE_MIN_RATING") != "" {
		minRating := viper.GetFloat64("RULE_MIN_RATING")
		config.DefaultRule.MinRating = &minRating
	}

	// Validate required fields
	if config.PlexToken == "" {
		return nil, fmt.Errorf("PLEX_TOKEN is required")
	}
	if (config.SonarrURL == "") != (config.SonarrAPIKey == "") {
		return nil, fmt.Errorf("SONARR_URL and SONARR_API_KEY must be set together")
	}
	if (config.RadarrURL == "") != (config.RadarrAPIKey == "") {
		return nil, fmt.Errorf("RADARR_URL and RADARR_API_KEY must be set together")
	}
	if (config.OverseerrURL == "") != (config.OverseerrAPIKey == "") {
		return nil, fmt.Errorf("OVERSEERR_URL and OVERSEERR_API_KEY must be set together")
	}
	if config.EndpointCacheHours <= 0 {
		return nil, fmt.Errorf("ENDPOINT_CACHE_HOURS must be positive")
	}

	return config, nil
}

// TautulliEnabled reports whether watch-history aggregation is configured
func (c *Config) TautulliEnabled() bool {
	return c.TautulliURL != "" && c.TautulliAPIKey != ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
