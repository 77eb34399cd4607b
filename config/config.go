package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Image    ImageConfig    `mapstructure:"image"`
	Vision   VisionConfig   `mapstructure:"vision"`
	Database DatabaseConfig `mapstructure:"database"`
	Events   EventsConfig   `mapstructure:"events"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize int64 `mapstructure:"max_size"`
}

type ImageConfig struct {
	MaxSize        int `mapstructure:"max_size"`
	OverlayMaxSize int `mapstructure:"overlay_max_size"`
}

// VisionConfig 视觉模型配置
type VisionConfig struct {
	Provider string        `mapstructure:"provider"` // gemini, openai
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"` // 单次模型调用
	Models   ModelsConfig  `mapstructure:"models"`

	MaxConcurrent int `mapstructure:"max_concurrent"`
	QueueTimeout  int `mapstructure:"queue_timeout"` // 秒
}

// ModelsConfig 按检测类型选择模型：3D 框单独使用一个模型
type ModelsConfig struct {
	Default string `mapstructure:"default"`
	Box3D   string `mapstructure:"box3d"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres, dynamodb
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"`
	Region string `mapstructure:"region"`
}

// EventsConfig 预测事件推送（SQS），QueueURL 为空时关闭
type EventsConfig struct {
	QueueURL string `mapstructure:"queue_url"`
	Region   string `mapstructure:"region"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return unmarshal(v)
}

// New 使用默认配置路径加载配置
func New() *Config {
	// 加载 .env（文件不存在时忽略）
	_ = godotenv.Load()

	cfg, err := Load("config.yaml")
	if err != nil {
		// 如果加载失败，使用默认值和环境变量
		cfg, err = unmarshal(newViper())
		if err != nil {
			return getDefaultConfig()
		}
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Server.CORSOrigins = splitOrigins(cfg.Server.CORSOrigins)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8000")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("upload.max_size", 20*1024*1024)

	v.SetDefault("image.max_size", 640)
	v.SetDefault("image.overlay_max_size", 800)

	v.SetDefault("vision.provider", "gemini")
	v.SetDefault("vision.api_key", "")
	v.SetDefault("vision.base_url", "")
	v.SetDefault("vision.timeout", 60*time.Second)
	v.SetDefault("vision.max_concurrent", 4)
	v.SetDefault("vision.queue_timeout", 30)
	v.SetDefault("vision.models.default", "gemini-2.5-flash")
	v.SetDefault("vision.models.box3d", "gemini-2.0-flash")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "predictions.db")
	v.SetDefault("database.table", "predictions")
	v.SetDefault("database.region", "us-east-1")

	v.SetDefault("events.queue_url", "")
	v.SetDefault("events.region", "us-east-1")
}

// bindEnv 环境变量覆盖，兼容原有的变量名
func bindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("vision.api_key", "GEMINI_API_KEY", "VISION_API_KEY")
	_ = v.BindEnv("server.cors_origins", "CORS_ORIGINS")
	_ = v.BindEnv("database.dsn", "DATABASE_URL")
	_ = v.BindEnv("database.region", "AWS_REGION")
	_ = v.BindEnv("events.queue_url", "EVENTS_QUEUE_URL")
}

// splitOrigins 环境变量里的 "a,b" 会被读成单个元素
func splitOrigins(origins []string) []string {
	var out []string
	for _, o := range origins {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8000",
			Mode:         "debug",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			CORSOrigins:  []string{"http://localhost:3000"},
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize: 20 * 1024 * 1024,
		},
		Image: ImageConfig{
			MaxSize:        640,
			OverlayMaxSize: 800,
		},
		Vision: VisionConfig{
			Provider: "gemini",
			Timeout:  60 * time.Second,
			Models: ModelsConfig{
				Default: "gemini-2.5-flash",
				Box3D:   "gemini-2.0-flash",
			},
			MaxConcurrent: 4,
			QueueTimeout:  30,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "predictions.db",
			Table:  "predictions",
			Region: "us-east-1",
		},
		Events: EventsConfig{
			Region: "us-east-1",
		},
	}
}
