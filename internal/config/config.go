package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config 结构体包含所有应用的配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           string   `mapstructure:"port" validate:"required"`
	Mode           string   `mapstructure:"mode" validate:"omitempty,oneof=debug release test"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxUploadMB    int64    `mapstructure:"max_upload_mb" validate:"gte=0"`
}

// DatabaseConfig 元数据库配置，driver 决定使用哪个 gorm 方言
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"required,oneof=mysql postgres sqlite"`
	DSN             string        `mapstructure:"dsn" validate:"required"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level" validate:"omitempty,oneof=silent error warn info"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// RabbitMQConfig RabbitMQ配置，未启用时内容删除直接在提交后执行
type RabbitMQConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url" validate:"required_if=Enabled true"`
	PurgeQueue string `mapstructure:"purge_queue"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	SecretKey string        `mapstructure:"secret_key" validate:"required,min=16"`
	ExpiresIn time.Duration `mapstructure:"expires_in" validate:"gt=0"`
	Issuer    string        `mapstructure:"issuer"`
}

// StorageConfig 内容存储配置，Disks 以名称索引
type StorageConfig struct {
	DefaultDisk string                `mapstructure:"default_disk" validate:"required"`
	Disks       map[string]DiskConfig `mapstructure:"disks" validate:"required,min=1,dive"`
}

// DiskConfig 单个磁盘配置
type DiskConfig struct {
	Driver          string `mapstructure:"driver" validate:"required,oneof=local minio s3 aliyun_oss"`
	Root            string `mapstructure:"root" validate:"required_if=Driver local"`
	Endpoint        string `mapstructure:"endpoint" validate:"required_if=Driver minio,required_if=Driver aliyun_oss"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket" validate:"required_unless=Driver local"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// ArchiveConfig 打包下载配置
type ArchiveConfig struct {
	TempDir string `mapstructure:"temp_dir"`
}

// AuditConfig 审计事件写入 Redis Stream，未配置 Redis 时退化为日志
type AuditConfig struct {
	Stream string `mapstructure:"stream"`
	MaxLen int64  `mapstructure:"max_len" validate:"gte=0"`
}

// zap日志配置
type LogConfig struct {
	OutputPath string `mapstructure:"output_path"`
	ErrorPath  string `mapstructure:"error_path"`
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Encoding   string `mapstructure:"encoding" validate:"omitempty,oneof=json console"`
}

var AppConfig *Config // 全局应用配置实例

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_upload_mb", 512)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("rabbitmq.enabled", false)
	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.purge_queue", "blob_purge_queue")
	v.SetDefault("jwt.secret_key", "")
	v.SetDefault("jwt.expires_in", 2*time.Hour)
	v.SetDefault("jwt.issuer", "go-docstore")
	v.SetDefault("storage.default_disk", "local")
	v.SetDefault("archive.temp_dir", "")
	v.SetDefault("audit.stream", "docstore:audit")
	v.SetDefault("audit.max_len", 100000)
	v.SetDefault("log.output_path", "stdout")
	v.SetDefault("log.error_path", "stderr")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
}

// LoadConfig 加载配置。path 非空时只读取该文件，否则按默认路径查找 config.yaml
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/go-docstore/")
	}

	// 例如：GO_DOCSTORE_DATABASE_DSN 对应 database.dsn
	v.SetEnvPrefix("GO_DOCSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// 配置文件未找到不是致命错误，依赖环境变量和默认值
		log.Println("Warning: config file not found, using environment variables or default values.")
	}

	cfg := &Config{}
	// 环境变量里的列表用逗号分隔，例如 GO_DOCSTORE_SERVER_ALLOWED_ORIGINS=a,b
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return cfg, nil
}

// applyDefaults 补全 viper 无法通过 SetDefault 表达的默认值
func applyDefaults(cfg *Config) {
	if len(cfg.Storage.Disks) == 0 {
		cfg.Storage.Disks = map[string]DiskConfig{
			"local": {Driver: "local", Root: "./data/disks/local"},
		}
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
}
