package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Stripe    StripeConfig
	Scan      ScanConfig
	SMTP      SMTPConfig
	Scheduler SchedulerConfig
	JWTSecret string
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
}

type RedisConfig struct {
	URL string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	PriceMonthly  string
	PriceYearly   string
	PriceOneOff   string
	PortalURL     string
	SuccessURL    string
}

type ScanConfig struct {
	APIURL     string
	APIToken   string
	Timeout    time.Duration
	MaxRetries int
	// Hard wall-clock cap for one scan task, retries included.
	TaskDeadline time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SchedulerConfig struct {
	Interval    time.Duration
	WorkerCount int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("HEALTHCHECK")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.maxconnections", 25)
	viper.SetDefault("database.maxidleconns", 5)
	viper.SetDefault("scan.apiurl", "https://app.configly.io/api/health-check/")
	viper.SetDefault("scan.timeout", "5m")
	viper.SetDefault("scan.maxretries", 3)
	viper.SetDefault("scan.taskdeadline", "15m")
	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("smtp.from", "noreply@configly.io")
	viper.SetDefault("scheduler.interval", "1m")
	viper.SetDefault("scheduler.workercount", 5)

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if key := os.Getenv("STRIPE_SECRET_KEY"); key != "" {
		cfg.Stripe.SecretKey = key
	}
	if secret := os.Getenv("STRIPE_WEBHOOK_SECRET"); secret != "" {
		cfg.Stripe.WebhookSecret = secret
	}
	if token := os.Getenv("HEALTHCHECK_TOKEN"); token != "" {
		cfg.Scan.APIToken = token
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}

	return &cfg, nil
}
