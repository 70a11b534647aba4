package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// Chat defaults taken from the upstream routes
	ChatTemperature   = 0.7
	OpenAIMaxTokens   = 1000
	DeepSeekMaxTokens = 2000

	// Search settings
	DefaultMaxSearchResults = 5
	MaxSearchContentLength  = 500
	SearchDepth             = "advanced"

	// Request limits
	MaxRequestBodySize = 10 << 20 // 10 MB
	RequestTimeout     = 5 * time.Minute
)

// Config holds the service configuration
type Config struct {
	ListenAddr string

	// Search providers
	TavilyAPIKey  string
	TavilyBaseURL string
	ExaAPIKey     string

	// Chat providers
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	DeepSeekAPIKey  string
	DeepSeekBaseURL string
	DeepSeekModel   string
	TinfoilAPIKey   string
	TinfoilModel    string
	AskProvider     string
	LLMMaxRetries   int

	// Accept API keys supplied by callers (query param, body or bearer header)
	AllowRequestKeys bool

	// Search cache and rate limiting
	RedisURL       string
	SearchCacheTTL time.Duration
	RateLimitRPS   float64
	RateLimitBurst int

	// Upstream search throttle (0 = unlimited)
	SearchRPS float64

	// Conversation history (empty disables it)
	HistoryDBPath string

	LogFormat string
}

var defaults = map[string]string{
	"LISTEN_ADDR":        ":8089",
	"TAVILY_BASE_URL":    "https://api.tavily.com",
	"OPENAI_BASE_URL":    "https://api.openai.com/v1",
	"OPENAI_MODEL":       "gpt-3.5-turbo",
	"DEEPSEEK_BASE_URL":  "https://api.deepseek.com",
	"DEEPSEEK_MODEL":     "deepseek-chat",
	"TINFOIL_MODEL":      "deepseek-r1-0528",
	"ASK_PROVIDER":       "openai",
	"LLM_MAX_RETRIES":    "2",
	"ALLOW_REQUEST_KEYS": "true",
	"SEARCH_CACHE_TTL":   "15m",
	"RATE_LIMIT_RPS":     "0",
	"RATE_LIMIT_BURST":   "10",
	"SEARCH_RPS":         "0",
	"LOG_FORMAT":         "text",
}

var keys = []string{
	"LISTEN_ADDR", "TAVILY_API_KEY", "TAVILY_BASE_URL", "EXA_API_KEY",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL",
	"DEEPSEEK_API_KEY", "DEEPSEEK_BASE_URL", "DEEPSEEK_MODEL",
	"TINFOIL_API_KEY", "TINFOIL_MODEL", "ASK_PROVIDER", "LLM_MAX_RETRIES",
	"ALLOW_REQUEST_KEYS", "REDIS_URL", "SEARCH_CACHE_TTL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "SEARCH_RPS", "HISTORY_DB_PATH", "LOG_FORMAT",
}

// Load creates a new config from environment variables
func Load() *Config {
	return fromViper(newViper())
}

// LoadFile reads a config file and lets environment variables override it.
// File keys use the environment names in lower case (e.g. tavily_api_key).
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return fromViper(v), nil
}

// Watch loads path like LoadFile and calls onChange with the reloaded
// config each time the file is written.
func Watch(path string, onChange func(*Config)) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&fsnotify.Write != fsnotify.Write && e.Op&fsnotify.Create != fsnotify.Create {
			return
		}
		log.Infof("config file changed: %s", e.Name)
		onChange(fromViper(v))
	})
	v.WatchConfig()

	return fromViper(v), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range keys {
		v.BindEnv(k)
	}
	v.AutomaticEnv()
	return v
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		ListenAddr:       getString(v, "LISTEN_ADDR"),
		TavilyAPIKey:     getString(v, "TAVILY_API_KEY"),
		TavilyBaseURL:    getString(v, "TAVILY_BASE_URL"),
		ExaAPIKey:        getString(v, "EXA_API_KEY"),
		OpenAIAPIKey:     getString(v, "OPENAI_API_KEY"),
		OpenAIBaseURL:    getString(v, "OPENAI_BASE_URL"),
		OpenAIModel:      getString(v, "OPENAI_MODEL"),
		DeepSeekAPIKey:   getString(v, "DEEPSEEK_API_KEY"),
		DeepSeekBaseURL:  getString(v, "DEEPSEEK_BASE_URL"),
		DeepSeekModel:    getString(v, "DEEPSEEK_MODEL"),
		TinfoilAPIKey:    getString(v, "TINFOIL_API_KEY"),
		TinfoilModel:     getString(v, "TINFOIL_MODEL"),
		AskProvider:      strings.ToLower(getString(v, "ASK_PROVIDER")),
		LLMMaxRetries:    getInt(v, "LLM_MAX_RETRIES", 2),
		AllowRequestKeys: getBool(v, "ALLOW_REQUEST_KEYS", true),
		RedisURL:         getString(v, "REDIS_URL"),
		SearchCacheTTL:   getDuration(v, "SEARCH_CACHE_TTL", 15*time.Minute),
		RateLimitRPS:     getFloat(v, "RATE_LIMIT_RPS", 0),
		RateLimitBurst:   getInt(v, "RATE_LIMIT_BURST", 10),
		SearchRPS:        getFloat(v, "SEARCH_RPS", 0),
		HistoryDBPath:    getString(v, "HISTORY_DB_PATH"),
		LogFormat:        strings.ToLower(getString(v, "LOG_FORMAT")),
	}
}

func getString(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

// getBool returns fallback for values strconv cannot parse
func getBool(v *viper.Viper, key string, fallback bool) bool {
	b, err := strconv.ParseBool(getString(v, key))
	if err != nil {
		return fallback
	}
	return b
}

func getInt(v *viper.Viper, key string, fallback int) int {
	n, err := strconv.Atoi(getString(v, key))
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(v *viper.Viper, key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(getString(v, key), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getDuration(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getString(v, key))
	if err != nil {
		return fallback
	}
	return d
}
