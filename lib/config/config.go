package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	types "github.com/rabble/nosflare-sub000/lib"
)

var (
	// Cache the configuration after first load
	cachedConfig atomic.Value // stores *Config

	// Only protect write operations
	writeMutex sync.Mutex

	// Debounce timer for config file changes
	debounceTimer *time.Timer
	debounceMutex sync.Mutex
)

// Config is the typed view of the whole viper configuration tree.
type Config struct {
	Port         string `mapstructure:"port"`
	DataDir      string `mapstructure:"data_dir"`
	RelayName    string `mapstructure:"relay_name"`
	RelayDesc    string `mapstructure:"relay_description"`
	RelayPubkey  string `mapstructure:"relay_pubkey"`
	RelayContact string `mapstructure:"relay_contact"`
	RelayIcon    string `mapstructure:"relay_icon"`

	CursorSecret         string `mapstructure:"cursor_secret"`
	CursorSecretPrevious string `mapstructure:"cursor_secret_previous"`

	Shards       []string `mapstructure:"shards"`
	DefaultShard string   `mapstructure:"default_shard"`

	RelaySettings types.RelaySettings     `mapstructure:"relay_settings"`
	Payment       types.PaymentSettings   `mapstructure:"payment"`
	RateLimit     types.RateLimitSettings `mapstructure:"rate_limit"`
	Archive       types.ArchiveSettings   `mapstructure:"archive"`
	Query         types.QuerySettings     `mapstructure:"query"`
}

// InitConfig initializes the global viper configuration.
func InitConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("DIVINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := viper.SafeWriteConfig(); err != nil {
				log.Printf("Could not write default config: %v", err)
			}
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := reloadConfigCache(); err != nil {
		return fmt.Errorf("failed to load initial config: %w", err)
	}

	// Watch for config file changes with debouncing to avoid reading
	// partial writes on slower machines.
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		debounceMutex.Lock()
		defer debounceMutex.Unlock()

		if debounceTimer != nil {
			debounceTimer.Stop()
		}

		debounceTimer = time.AfterFunc(500*time.Millisecond, func() {
			writeMutex.Lock()
			defer writeMutex.Unlock()

			if err := reloadConfigCache(); err != nil {
				log.Printf("Error reloading config cache after file change: %v", err)
			} else {
				log.Printf("Config cache refreshed after change to %s", e.Name)
			}
		})
	})

	return nil
}

func setDefaults() {
	viper.SetDefault("port", "8080")
	viper.SetDefault("data_dir", "data")
	viper.SetDefault("relay_name", "divine.video")
	viper.SetDefault("relay_description", "A nostr relay for short-form videos")
	viper.SetDefault("relay_pubkey", "")
	viper.SetDefault("relay_contact", "")
	viper.SetDefault("relay_icon", "")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.dir", "logs")

	viper.SetDefault("cursor_secret", "")
	viper.SetDefault("cursor_secret_previous", "")

	viper.SetDefault("shards", []string{
		"wnam", "enam", "weur", "eeur", "apac", "oc", "sam", "afr", "me",
	})
	viper.SetDefault("default_shard", "enam")

	viper.SetDefault("relay_settings", map[string]interface{}{
		"blocked_pubkeys":       []string{},
		"allowed_pubkeys":       []string{},
		"blocked_kinds":         []int{},
		"allowed_kinds":         []int{},
		"blocked_tags":          []string{},
		"allowed_tags":          []string{},
		"blocked_phrases":       []string{},
		"blocked_nip05_domains": []string{},
		"allowed_nip05_domains": []string{},
		"require_nip05":         false,
		"nip05_upstream":        "",
		"antispam_kinds":        []int{},
		"antispam_per_pubkey":   false,
	})

	viper.SetDefault("payment", map[string]interface{}{
		"enabled":        false,
		"price_sats":     0,
		"relay_pubkey":   "",
		"admission_only": true,
	})

	viper.SetDefault("rate_limit", map[string]interface{}{
		"event_rate":         10.0,
		"event_burst":        50,
		"req_rate":           20.0,
		"req_burst":          100,
		"excluded_kinds":     []int{},
		"sorted_query_rate":  5.0,
		"sorted_query_burst": 20,
	})

	viper.SetDefault("archive", map[string]interface{}{
		"enabled":          false,
		"retention_days":   90,
		"batch_size":       500,
		"interval_minutes": 60,
		"blob_path":        "",
	})

	viper.SetDefault("query", map[string]interface{}{
		"complexity_cap":     10000,
		"max_limit":          200,
		"legacy_max_limit":   500,
		"max_int_filters":    3,
		"max_hashtags":       5,
		"sorted_max_age_sec": 0,
	})
}

// reloadConfigCache loads the configuration from viper into the cache.
func reloadConfigCache() error {
	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cachedConfig.Store(config)
	return nil
}

// GetConfig returns the cached configuration struct. Reads only touch the
// atomic value so this is safe to call on every request.
func GetConfig() *Config {
	if c, ok := cachedConfig.Load().(*Config); ok {
		return c
	}
	// Config never initialized (tests); fall back to defaults.
	setDefaults()
	_ = reloadConfigCache()
	return cachedConfig.Load().(*Config)
}

// SetConfig replaces the cached config. Intended for tests.
func SetConfig(c *Config) {
	cachedConfig.Store(c)
}

// GetPath returns a path relative to the data directory.
func GetPath(subPath string) string {
	return filepath.Join(GetConfig().DataDir, subPath)
}
