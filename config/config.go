package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	ServerPort      string        `mapstructure:"SERVER_PORT"`
	GinMode         string        `mapstructure:"GIN_MODE"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DB              DBConfig      `mapstructure:"DB"`
	Auth            AuthConfig    `mapstructure:"AUTH"`
	QuestionBankDir string        `mapstructure:"QUESTION_BANK_DIR"`
	SweepInterval   time.Duration `mapstructure:"SWEEP_INTERVAL"`
	MetricsInterval time.Duration `mapstructure:"METRICS_INTERVAL"`
}

// DBConfig holds the discrete connection variables used when DATABASE_URL
// is not set whole.
type DBConfig struct {
	User     string `mapstructure:"USER"`
	Password string `mapstructure:"PASSWORD"`
	Host     string `mapstructure:"HOST"`
	Port     int    `mapstructure:"PORT"`
	Name     string `mapstructure:"NAME"`
}

// AuthConfig holds JWT validation settings.
type AuthConfig struct {
	JWTSigningKey string `mapstructure:"JWT_SIGNING_KEY"`
	Issuer        string `mapstructure:"ISSUER"`
}

// ConnString returns the connection string: DATABASE_URL when provided,
// otherwise assembled from the discrete DB_* variables.
func (c *Config) ConnString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}

// LoadConfig loads configuration from config.yaml and environment variables.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetDefault("SERVER_PORT", ":8080")
	viper.SetDefault("GIN_MODE", "debug")
	viper.SetDefault("DATABASE_URL", "")
	viper.SetDefault("DB.USER", "cbt")
	viper.SetDefault("DB.PASSWORD", "cbt")
	viper.SetDefault("DB.HOST", "localhost")
	viper.SetDefault("DB.PORT", 5432)
	viper.SetDefault("DB.NAME", "cbt_db")
	viper.SetDefault("AUTH.JWT_SIGNING_KEY", "change-me-in-production")
	viper.SetDefault("AUTH.ISSUER", "auth.example.com")
	viper.SetDefault("QUESTION_BANK_DIR", "./question_banks")
	viper.SetDefault("SWEEP_INTERVAL", "1m")
	viper.SetDefault("METRICS_INTERVAL", "24h")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("config.yaml not found, using environment variables and defaults")
		} else {
			return nil, fmt.Errorf("fatal error config file: %w", err)
		}
	}

	// Override with environment variables (e.g., CBT_SERVER_PORT).
	viper.SetEnvPrefix("CBT")
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}
