package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	SQLite   SQLiteConfig
	Cache    CacheConfig
	Redis    RedisConfig
	LLM      LLMConfig
	Search   SearchConfig
	Research ResearchConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	RateLimit    int
}

type SQLiteConfig struct {
	Path string
}

// CacheConfig controls the expiring research cache. Backend is either
// "file" (one JSON record per key under Dir) or "redis".
type CacheConfig struct {
	Backend         string
	Dir             string
	SearchTTLHours  int
	SummaryTTLHours int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
}

type SearchConfig struct {
	SerpAPIKey    string
	MaxResults    int
	TimeoutSec    int
	CostPerSearch float64
}

// ResearchConfig holds the dedup and reflection-loop tunables. The
// defaults are deliberate: 0.8 absorbs entity-extraction noise without
// merging distinct interview cycles, 0.6 opens the gray zone for
// advisory duplicate references, and two extra rounds bound the loop.
type ResearchConfig struct {
	DuplicateThreshold float64
	GrayZoneThreshold  float64
	DateWindowDays     int
	QualityThreshold   float64
	MaxIterations      int
	UpstreamTimeoutSec int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/prep-agent")

	viper.SetEnvPrefix("PREP_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)
	viper.SetDefault("server.rateLimit", 120)

	viper.SetDefault("sqlite.path", "./data/interviews.db")

	viper.SetDefault("cache.backend", "file")
	viper.SetDefault("cache.dir", "./data/cache")
	viper.SetDefault("cache.searchTTLHours", 24)
	viper.SetDefault("cache.summaryTTLHours", 168)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.maxTokens", 1024)

	viper.SetDefault("search.maxResults", 5)
	viper.SetDefault("search.timeoutSec", 10)
	viper.SetDefault("search.costPerSearch", 0.01)

	viper.SetDefault("research.duplicateThreshold", 0.8)
	viper.SetDefault("research.grayZoneThreshold", 0.6)
	viper.SetDefault("research.dateWindowDays", 30)
	viper.SetDefault("research.qualityThreshold", 0.6)
	viper.SetDefault("research.maxIterations", 2)
	viper.SetDefault("research.upstreamTimeoutSec", 15)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
