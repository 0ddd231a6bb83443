package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"escrowsystem/pkg/money"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Lock       LockConfig       `mapstructure:"lock"`
	Escrow     EscrowConfig     `mapstructure:"escrow"`
	Commission CommissionConfig `mapstructure:"commission"`
	Business   BusinessConfig   `mapstructure:"business"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig driver 取值 mysql / postgres / sqlite
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"` // sqlite 文件路径，":memory:" 为内存库
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	SettlementEvent string `mapstructure:"settlement_event"`
}

// LockConfig backend 取值 redis / local
type LockConfig struct {
	Backend       string        `mapstructure:"backend"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type EscrowConfig struct {
	Currency            string   `mapstructure:"currency"`
	DefaultMaxRevisions int      `mapstructure:"default_max_revisions"`
	AdminIDs            []string `mapstructure:"admin_ids"`
	SystemActorID       string   `mapstructure:"system_actor_id"`
	MaxConflictRetries  int      `mapstructure:"max_conflict_retries"`
}

type CommissionConfig struct {
	MicrotaskEscrowFee int64        `mapstructure:"microtask_escrow_fee"`
	TDS                TDSConfig    `mapstructure:"tds"`
	Rates              []RateConfig `mapstructure:"rates"`
}

type TDSConfig struct {
	Threshold int64  `mapstructure:"threshold"`
	Rate      string `mapstructure:"rate"`
}

// RateConfig 费率用字符串保存，避免浮点误差
type RateConfig struct {
	Role             string `mapstructure:"role"`
	VerificationTier string `mapstructure:"verification_tier"`
	SubscriptionTier string `mapstructure:"subscription_tier"`
	CommissionRate   string `mapstructure:"commission_rate"`
	EscrowFeeRate    string `mapstructure:"escrow_fee_rate"`
}

type BusinessConfig struct {
	FundingTimeoutHours int           `mapstructure:"funding_timeout_hours"`
	MaxRetryCount       int           `mapstructure:"max_retry_count"`
	ReconcileInterval   time.Duration `mapstructure:"reconcile_interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("kafka.topic.settlement_event", "escrow.settlement")
	v.SetDefault("lock.backend", "redis")
	v.SetDefault("lock.timeout", 3*time.Second)
	v.SetDefault("lock.retry_interval", 50*time.Millisecond)
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("escrow.currency", "INR")
	v.SetDefault("escrow.default_max_revisions", 2)
	v.SetDefault("escrow.system_actor_id", "system")
	v.SetDefault("escrow.max_conflict_retries", 3)
	v.SetDefault("business.funding_timeout_hours", 72)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.reconcile_interval", 10*time.Minute)
	v.SetDefault("log.level", "info")
}

// LoadConfig 加载配置文件，环境变量 ESCROW_* 覆盖同名配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ESCROW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 启动前校验，配置错误直接拒绝启动
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.Database == "" {
			errs = append(errs, errors.New("database.host and database.database are required"))
		}
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q", c.Database.Driver))
	}

	switch c.Lock.Backend {
	case "redis", "local":
	default:
		errs = append(errs, fmt.Errorf("unsupported lock.backend %q", c.Lock.Backend))
	}
	if c.Lock.Timeout <= 0 {
		errs = append(errs, errors.New("lock.timeout must be positive"))
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	if !money.ValidCurrency(c.Escrow.Currency) {
		errs = append(errs, fmt.Errorf("escrow.currency %q must be an upper-case ISO code", c.Escrow.Currency))
	}
	if c.Escrow.DefaultMaxRevisions < 0 {
		errs = append(errs, errors.New("escrow.default_max_revisions must not be negative"))
	}
	if len(c.Commission.Rates) == 0 {
		errs = append(errs, errors.New("commission.rates must not be empty"))
	}

	return errors.Join(errs...)
}

// IsAdmin 系统账号视同管理员
func (c *EscrowConfig) IsAdmin(actorID string) bool {
	if actorID == "" {
		return false
	}
	if actorID == c.SystemActorID {
		return true
	}
	for _, id := range c.AdminIDs {
		if id == actorID {
			return true
		}
	}
	return false
}
