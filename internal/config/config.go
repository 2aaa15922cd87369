package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the full application configuration.
type Config struct {
	App struct {
		Port string `mapstructure:"port"`
		Env  string `mapstructure:"env"`
	} `mapstructure:"app"`
	Server struct {
		ReadTimeout  int `mapstructure:"readTimeout"`
		WriteTimeout int `mapstructure:"writeTimeout"`
	} `mapstructure:"server"`
	Database struct {
		DSN            string        `mapstructure:"dsn"`
		QueryTimeout   time.Duration `mapstructure:"queryTimeout"`
		MigrationsPath string        `mapstructure:"migrationsPath"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
	} `mapstructure:"kafka"`
	Stripe struct {
		APIKey           string        `mapstructure:"apiKey"`
		WebhookSecret    string        `mapstructure:"webhookSecret"`
		WebhookTolerance time.Duration `mapstructure:"webhookTolerance"`
		SuccessURL       string        `mapstructure:"successUrl"`
		CancelURL        string        `mapstructure:"cancelUrl"`
	} `mapstructure:"stripe"`
	Pipeline struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"pipeline"`
	Auth struct {
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"auth"`
}

// LoadConfig reads config.yml from the given directory plus environment
// variables. Outside production a .env file is loaded first, if present.
func LoadConfig(path string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		// Missing .env is fine, config.yml and env vars still apply.
		_ = godotenv.Load()
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(path)

	viper.SetDefault("app.port", "8080")
	viper.SetDefault("app.env", "development")
	viper.SetDefault("server.readTimeout", 10)
	viper.SetDefault("server.writeTimeout", 10)
	viper.SetDefault("database.queryTimeout", 5*time.Second)
	viper.SetDefault("database.migrationsPath", "migrations")
	viper.SetDefault("stripe.webhookTolerance", 5*time.Minute)
	viper.SetDefault("pipeline.timeout", 120*time.Second)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
