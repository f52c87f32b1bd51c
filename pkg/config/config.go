package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Milvus    MilvusConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Pipeline  PipelineConfig
	RateLimit RateLimitConfig
	Ingestion IngestionConfig
	Features  FeaturesConfig
	Tracing   TracingConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type MilvusConfig struct {
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

// PipelineConfig carries the per-query tuning knobs threaded into the
// pipeline constructor.
type PipelineConfig struct {
	DefaultK         int
	MaxK             int
	MaxContextTokens int
	RerankPool       int
	DenseWeight      float64
	MaxFanOut        int
	RetrieveTimeout  int
	RerankTimeout    int
}

type RateLimitConfig struct {
	QueryLimit    int
	UploadLimit   int
	WindowSeconds int
}

type IngestionConfig struct {
	ChunkSizeWords    int
	ChunkOverlapWords int
	MaxUploadBytes    int
}

// FeaturesConfig toggles optional pipeline stages. Passed by value into the
// pipeline constructor so differently-toggled pipelines can coexist in one
// process.
type FeaturesConfig struct {
	ToolRouter bool
	DocActions bool
	Followups  bool
	Planning   bool
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
	ServiceName string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/docpilot")

	viper.SetEnvPrefix("DOCPILOT")
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
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "doc_chunks")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("sqlite.path", "./data/docpilot.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", true)

	viper.SetDefault("llm.baseURL", "")
	viper.SetDefault("llm.model", "gpt-4.1-mini")
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 1024)
	viper.SetDefault("llm.timeoutSec", 30)

	viper.SetDefault("pipeline.defaultK", 5)
	viper.SetDefault("pipeline.maxK", 50)
	viper.SetDefault("pipeline.maxContextTokens", 1500)
	viper.SetDefault("pipeline.rerankPool", 20)
	viper.SetDefault("pipeline.denseWeight", 0.5)
	viper.SetDefault("pipeline.maxFanOut", 3)
	viper.SetDefault("pipeline.retrieveTimeout", 10)
	viper.SetDefault("pipeline.rerankTimeout", 10)

	viper.SetDefault("ingestion.chunkSizeWords", 220)
	viper.SetDefault("ingestion.chunkOverlapWords", 40)
	viper.SetDefault("ingestion.maxUploadBytes", 5242880)

	viper.SetDefault("ratelimit.queryLimit", 10)
	viper.SetDefault("ratelimit.uploadLimit", 1)
	viper.SetDefault("ratelimit.windowSeconds", 3600)

	viper.SetDefault("features.toolRouter", true)
	viper.SetDefault("features.docActions", true)
	viper.SetDefault("features.followups", true)
	viper.SetDefault("features.planning", false)

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.sampleRatio", 1.0)
	viper.SetDefault("tracing.serviceName", "docpilot-api")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
