package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Server      struct {
		Port            string `env:"PORT" envDefault:"3000"`
		ReadTimeout     int    `env:"READ_TIMEOUT" envDefault:"10"`
		WriteTimeout    int    `env:"WRITE_TIMEOUT" envDefault:"15"`
		IdleTimeout     int    `env:"IDLE_TIMEOUT" envDefault:"60"`
		ShutdownTimeout int    `env:"SHUTDOWN_TIMEOUT" envDefault:"10"`
	} `envPrefix:"SERVER_"`
	Database struct {
		DSN                string `env:"DSN,required,notEmpty"`
		ConnectTimeout     int    `env:"CONNECT_TIMEOUT" envDefault:"10"`
		QueryTimeout       int    `env:"QUERY_TIMEOUT" envDefault:"10"`
		TransactionTimeout int    `env:"TRANSACTION_TIMEOUT" envDefault:"20"`
		MaxOpenConns       int    `env:"MAX_OPEN_CONNS" envDefault:"10"`
		MaxIdleConns       int    `env:"MAX_IDLE_CONNS" envDefault:"10"`
		MaxIdleTime        int    `env:"MAX_IDLE_TIME" envDefault:"60"`
	} `envPrefix:"DATABASE_"`
	InitialOwner struct {
		Username string `env:"USERNAME" envDefault:"owner"`
		Password string `env:"PASSWORD"`
		FullName string `env:"FULL_NAME" envDefault:"负责人"`
		Email    string `env:"EMAIL"`
	} `envPrefix:"INITIAL_OWNER_"`
	JWT struct {
		Expiration int    `env:"EXPIRATION" envDefault:"1209600"` // 14 天
		Secret     string `env:"SECRET"`
	} `envPrefix:"JWT_"`
	Seed struct {
		User struct {
			Password string `env:"PASSWORD" envDefault:"password"`
		} `envPrefix:"USER_"`
	} `envPrefix:"SEED_"`
	Email struct {
		UserDomain string `env:"USER_DOMAIN" envDefault:"example.com"`
		SendRate   int    `env:"SEND_RATE" envDefault:"2"` // 每秒最多发送的邮件数
		SMTP       struct {
			Username    string `env:"USERNAME"`
			Password    string `env:"PASSWORD"`
			Host        string `env:"HOST"`
			Port        int    `env:"PORT" envDefault:"465"`
			DialTimeout int    `env:"DIAL_TIMEOUT" envDefault:"10"`
		} `envPrefix:"SMTP_"`
	} `envPrefix:"EMAIL_"`
	RabbitMQ struct {
		DSN            string `env:"DSN,required,notEmpty"`
		PublishTimeout int    `env:"PUBLISH_TIMEOUT" envDefault:"10"`
	} `envPrefix:"RABBITMQ_"`
	Redis struct {
		Host           string `env:"HOST" envDefault:"localhost"`
		Port           int    `env:"PORT" envDefault:"6379"`
		Password       string `env:"PASSWORD"`
		ConnectTimeout int    `env:"CONNECT_TIMEOUT" envDefault:"10"`
	} `envPrefix:"REDIS_"`
	Cache struct {
		Driver   string        `env:"DRIVER" envDefault:"redis"` // redis 或 memory
		Prefix   string        `env:"PREFIX" envDefault:"shift:cache"`
		ShiftTTL time.Duration `env:"SHIFT_TTL" envDefault:"150s"`
		SlotTTL  time.Duration `env:"SLOT_TTL" envDefault:"600s"`
		TagTTL   time.Duration `env:"TAG_TTL" envDefault:"24h"` // 必须长于 SLOT_TTL
	} `envPrefix:"CACHE_"`
	Reconciler struct {
		Spec           string        `env:"SPEC" envDefault:"@every 30m"`
		Timezone       string        `env:"TIMEZONE" envDefault:"Asia/Shanghai"`
		ChainTolerance time.Duration `env:"CHAIN_TOLERANCE" envDefault:"0s"`
		PassTimeout    time.Duration `env:"PASS_TIMEOUT" envDefault:"5m"`
		RunOnStart     bool          `env:"RUN_ON_START" envDefault:"true"`
	} `envPrefix:"RECONCILER_"`
	Scheduling struct {
		ConflictRetries int `env:"CONFLICT_RETRIES" envDefault:"2"`
		MaxRangeDays    int `env:"MAX_RANGE_DAYS" envDefault:"62"`
	} `envPrefix:"SCHEDULING_"`
	Policy struct {
		DefaultMinNoticeHours int32 `env:"DEFAULT_MIN_NOTICE_HOURS" envDefault:"24"`
	} `envPrefix:"POLICY_"`
	CORS struct {
		AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	} `envPrefix:"CORS_"`
}

// LoadConfig 读取环境变量，如果当前目录存在 .env 文件则先加载它
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		aggErr := env.AggregateError{}
		if ok := errors.As(err, &aggErr); ok {
			// 只返回第一个错误使得日志更清晰
			return nil, aggErr.Errors[0]
		}
		return nil, err
	}

	if cfg.Cache.TagTTL <= cfg.Cache.SlotTTL || cfg.Cache.TagTTL <= cfg.Cache.ShiftTTL {
		return nil, fmt.Errorf("CACHE_TAG_TTL（%s）必须长于 CACHE_SLOT_TTL 和 CACHE_SHIFT_TTL", cfg.Cache.TagTTL)
	}

	return cfg, nil
}
