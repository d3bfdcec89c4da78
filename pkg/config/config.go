package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Wiki    WikiConfig
	Redis   RedisConfig
	SQLite  SQLiteConfig
	LLM     LLMConfig
	Sync    SyncConfig
	Search  SearchConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type WikiConfig struct {
	BaseURL        string
	SpaceKey       string
	Username       string
	APIToken       string
	PageSize       int
	TimeoutSec     int
	RequestsPerSec float64
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type SQLiteConfig struct {
	Path string
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type SyncConfig struct {
	BatchSize       int
	BatchDelayMS    int
	IntervalMinutes int
}

type SearchConfig struct {
	FuzzyThreshold float64
	CacheTTLSec    int
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
	viper.AddConfigPath("/etc/sopdesk")

	viper.SetEnvPrefix("SOPDESK")
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
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("wiki.baseURL", "http://localhost:8090")
	viper.SetDefault("wiki.spaceKey", "SOP")
	viper.SetDefault("wiki.pageSize", 25)
	viper.SetDefault("wiki.timeoutSec", 15)
	viper.SetDefault("wiki.requestsPerSec", 5.0)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("sqlite.path", "./data/sopdesk.db")

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 60)

	viper.SetDefault("sync.batchSize", 5)
	viper.SetDefault("sync.batchDelayMS", 500)
	viper.SetDefault("sync.intervalMinutes", 30)

	viper.SetDefault("search.fuzzyThreshold", 0.6)
	viper.SetDefault("search.cacheTTLSec", 300)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
