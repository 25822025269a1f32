package config

import "time"

// Chat definition chat_service YAML structure
type Chat struct {
	Port      string         `mapstructure:"port"`
	Store     StoreConfig    `mapstructure:"store"`
	MongoSQL  DatabaseConfig `mapstructure:"mongo"`
	Postgres  DatabaseConfig `mapstructure:"pg"`
	Redis     RedisConfig    `mapstructure:"redis"`
	MinIO     MinIOConfig    `mapstructure:"minio"`
	JWTSecret string         `mapstructure:"jwt_secret"`
}

// Client definition chat_client YAML structure
type Client struct {
	BaseURL   string        `mapstructure:"base_url"`
	WSURL     string        `mapstructure:"ws_url"`
	Token     string        `mapstructure:"token"`
	ProfileID string        `mapstructure:"profile_id"`
	Username  string        `mapstructure:"username"`
	Avatar    string        `mapstructure:"avatar"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Rows      int           `mapstructure:"rows"`
	Stream    Stream        `mapstructure:"stream"`
}

// Stream tunables of the conversation view, zero values fall back to defaults
type Stream struct {
	PageSize            int           `mapstructure:"page_size"`
	ScrollDebounce      time.Duration `mapstructure:"scroll_debounce"`
	AwayThresholdPx     float64       `mapstructure:"away_threshold_px"`
	LiveEdgeThresholdPx float64       `mapstructure:"live_edge_threshold_px"`
	ImageSettleTimeout  time.Duration `mapstructure:"image_settle_timeout"`
	TypingExpiry        time.Duration `mapstructure:"typing_expiry"`
	TypingThrottle      time.Duration `mapstructure:"typing_throttle"`
	MaxOrphanEvents     int           `mapstructure:"max_orphan_events"`
}

// StoreConfig selects the message repository backend ("mongo" or "postgres")
type StoreConfig struct {
	Driver         string `mapstructure:"driver"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	RedisDB  int    `mapstructure:"redis_db"`
}

// MinIOConfig definition minio setting
type MinIOConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	BucketName string `mapstructure:"bucket"`
	UseSSL     bool   `mapstructure:"use_ssl"`
	PublicURL  string `mapstructure:"public_url"`

	RetryInterval int `mapstructure:"retry_interval"`
	RetryCount    int `mapstructure:"retry_count"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}
