package config

import (
	"github.com/syncstack/airsync/internal/logger"
	"github.com/syncstack/airsync/internal/tracing"
)

type AppConfig struct {
	APIPort     string `env:"PORT,required" envDefault:"12222"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	Logger      *logger.Config
	Tracing     *tracing.JaegerConfig
}

type DatabaseConfig struct {
	Host            string `env:"AIRSYNC_POSTGRES_HOST,required"`
	Port            string `env:"AIRSYNC_POSTGRES_PORT,required"`
	User            string `env:"AIRSYNC_POSTGRES_USER,required"`
	DBName          string `env:"AIRSYNC_POSTGRES_DB_NAME,required"`
	Password        string `env:"AIRSYNC_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"AIRSYNC_POSTGRES_DB_MAX_CONN" envDefault:"50"`
	MaxIdleConn     int    `env:"AIRSYNC_POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"AIRSYNC_POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"AIRSYNC_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"AIRSYNC_POSTGRES_SSL_MODE" envDefault:"require"`
}
