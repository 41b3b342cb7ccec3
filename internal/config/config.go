package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
	Tracing  TracingConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Queue    QueueConfig
	Engine   EngineConfig
	Capture  CaptureConfig
	Live     LiveConfig
	Stitch   StitchConfig
	Webhook  WebhookConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AuthSecret      string
	RateLimit       float64
	RateBurst       int
}

// MetricsConfig holds the metrics server configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// TracingConfig holds Jaeger configuration. An empty endpoint disables tracing.
type TracingConfig struct {
	ServiceName string
	Endpoint    string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// EngineConfig tunes the in-process engine simulator
type EngineConfig struct {
	Latency         time.Duration
	StitchStep      time.Duration
	StitchIncrement float64
	WriteOutputs    bool
}

// CaptureConfig holds the initial capture selection and preview settings
type CaptureConfig struct {
	Mode             string
	Label            string
	Encoding         string
	Pro              models.ProParameters
	Stabilization    bool
	SteadyFollow     bool
	AntiFlicker      string
	HDR              bool
	PlaneRatio       string
	PlaneField       int
	MainLens         bool
	HighFps          bool
	LapseMultiplier  int
	StrictResolution bool
	OutputDir        string
}

// LiveConfig holds live push settings
type LiveConfig struct {
	URL          string
	Label        string
	Ratio        string
	BitrateMbps  int
	Record       bool
	SplitMinutes int
	RecordDir    string
}

// StitchConfig holds stitch queue settings
type StitchConfig struct {
	Root        string
	Bitrate     int
	Priority    int
	AutoAdvance bool
	FFprobePath string
	Archive     bool
	// JobTimeout bounds how long the worker waits for one stitch task
	JobTimeout time.Duration
}

// WebhookConfig holds event delivery settings. An empty URL disables it.
type WebhookConfig struct {
	URL    string
	Secret string
	Events []string
}

// Addr returns the HTTP listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DSN returns the Postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode, d.MaxConns, d.MinConns)
}

// Addr returns the Redis address
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// URL returns the AMQP connection URL
func (q QueueConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", q.User, q.Password, q.Host, q.Port, q.Vhost)
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.readTimeout", "30s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "10s")
	viper.SetDefault("server.authSecret", "")
	viper.SetDefault("server.rateLimit", 5)
	viper.SetDefault("server.rateBurst", 10)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("tracing.serviceName", "panocam")
	viper.SetDefault("tracing.endpoint", "")

	// Database defaults
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "panocam")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxConns", 10)
	viper.SetDefault("database.minConns", 2)

	// Redis defaults
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttl", "24h")

	// Storage defaults
	viper.SetDefault("storage.enabled", false)
	viper.SetDefault("storage.endpoint", "localhost:9000")
	viper.SetDefault("storage.accessKeyID", "minioadmin")
	viper.SetDefault("storage.secretAccessKey", "minioadmin")
	viper.SetDefault("storage.bucketName", "panoramas")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.useSSL", false)

	// Queue defaults
	viper.SetDefault("queue.enabled", false)
	viper.SetDefault("queue.host", "localhost")
	viper.SetDefault("queue.port", 5672)
	viper.SetDefault("queue.user", "guest")
	viper.SetDefault("queue.password", "guest")
	viper.SetDefault("queue.vhost", "/")

	viper.SetDefault("engine.latency", "50ms")
	viper.SetDefault("engine.stitchStep", "200ms")
	viper.SetDefault("engine.stitchIncrement", 5)
	viper.SetDefault("engine.writeOutputs", true)

	// Capture defaults
	viper.SetDefault("capture.mode", string(models.ModePhoto))
	viper.SetDefault("capture.label", "")
	viper.SetDefault("capture.encoding", string(models.EncodingH264))
	viper.SetDefault("capture.pro.exposureTime", models.ExposureAuto)
	viper.SetDefault("capture.pro.exposureCompensation", 0)
	viper.SetDefault("capture.pro.whiteBalance", "auto")
	viper.SetDefault("capture.pro.iso", 100)
	viper.SetDefault("capture.stabilization", true)
	viper.SetDefault("capture.steadyFollow", false)
	viper.SetDefault("capture.antiFlicker", "auto")
	viper.SetDefault("capture.hdr", false)
	viper.SetDefault("capture.planeRatio", "1:1")
	viper.SetDefault("capture.planeField", 120)
	viper.SetDefault("capture.mainLens", false)
	viper.SetDefault("capture.highFps", false)
	viper.SetDefault("capture.lapseMultiplier", 10)
	viper.SetDefault("capture.strictResolution", false)
	viper.SetDefault("capture.outputDir", "/tmp/panocam/dcim")

	// Live defaults
	viper.SetDefault("live.url", "")
	viper.SetDefault("live.label", "")
	viper.SetDefault("live.ratio", "")
	viper.SetDefault("live.bitrateMbps", 8)
	viper.SetDefault("live.record", false)
	viper.SetDefault("live.splitMinutes", 5)
	viper.SetDefault("live.recordDir", "/tmp/panocam/dcim/live")

	// Stitch defaults
	viper.SetDefault("stitch.root", "/tmp/panocam/dcim")
	viper.SetDefault("stitch.bitrate", 0)
	viper.SetDefault("stitch.priority", models.StitchPriorityNormal)
	viper.SetDefault("stitch.autoAdvance", true)
	viper.SetDefault("stitch.ffprobePath", "ffprobe")
	viper.SetDefault("stitch.archive", false)
	viper.SetDefault("stitch.jobTimeout", "1h")

	// Webhook defaults
	viper.SetDefault("webhook.url", "")
	viper.SetDefault("webhook.secret", "")
	viper.SetDefault("webhook.events", []string{
		string(models.EventPhotoTaken),
		string(models.EventRecordingSaved),
		string(models.EventLiveStopped),
		string(models.EventStitchCompleted),
		string(models.EventStitchFinished),
		string(models.EventError),
	})
}
