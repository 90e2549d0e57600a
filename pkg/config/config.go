package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv   string
	Port     string
	DBPath   string
	LogLevel string

	// JWT verification only; tokens are issued by the identity service.
	JWTSecret string

	GatewayBaseURL   string
	GatewayKeyID     string
	GatewayKeySecret string
	GatewayTimeout   time.Duration
	Currency         string

	// Pending gateway orders older than OrderTTL are expired on ExpirySchedule.
	OrderTTL       time.Duration
	ExpirySchedule string
}

func (c *Config) IsProduction() bool {
	return strings.ToLower(c.AppEnv) == "production"
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_PATH", "edupay.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("GATEWAY_BASE_URL", "https://api.razorpay.com")
	v.SetDefault("GATEWAY_KEY_ID", "")
	v.SetDefault("GATEWAY_KEY_SECRET", "")
	v.SetDefault("GATEWAY_TIMEOUT", 10*time.Second)
	v.SetDefault("CURRENCY", "INR")
	v.SetDefault("ORDER_TTL", 30*time.Minute)
	v.SetDefault("EXPIRY_SCHEDULE", "@every 5m")
	v.AutomaticEnv()
	return v
}

// Load reads configuration from the environment, after loading dotEnvPath if it exists.
func Load(dotEnvPath string) (*Config, error) {
	if dotEnvPath != "" {
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				return nil, errors.Wrapf(err, "failed to load %s", dotEnvPath)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to stat %s", dotEnvPath)
		} else {
			logrus.WithField("path", dotEnvPath).Debug("No .env file, using environment variables")
		}
	}

	v := newViper()
	c := &Config{
		AppEnv:           v.GetString("APP_ENV"),
		Port:             v.GetString("PORT"),
		DBPath:           v.GetString("DB_PATH"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		JWTSecret:        v.GetString("JWT_SECRET"),
		GatewayBaseURL:   v.GetString("GATEWAY_BASE_URL"),
		GatewayKeyID:     v.GetString("GATEWAY_KEY_ID"),
		GatewayKeySecret: v.GetString("GATEWAY_KEY_SECRET"),
		GatewayTimeout:   v.GetDuration("GATEWAY_TIMEOUT"),
		Currency:         strings.ToUpper(v.GetString("CURRENCY")),
		OrderTTL:         v.GetDuration("ORDER_TTL"),
		ExpirySchedule:   v.GetString("EXPIRY_SCHEDULE"),
	}
	if err := validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

func validate(c *Config) error {
	if c.OrderTTL <= 0 {
		return errors.New("ORDER_TTL must be positive")
	}
	if c.GatewayTimeout <= 0 {
		return errors.New("GATEWAY_TIMEOUT must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "invalid LOG_LEVEL")
	}

	// Only enforce stricter rules in production
	if !c.IsProduction() {
		return nil
	}
	required := map[string]string{
		"JWT_SECRET":         c.JWTSecret,
		"GATEWAY_KEY_ID":     c.GatewayKeyID,
		"GATEWAY_KEY_SECRET": c.GatewayKeySecret,
	}
	for k, val := range required {
		if strings.TrimSpace(val) == "" {
			return errors.Errorf("missing required secret %s in production", k)
		}
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("JWT_SECRET too short (min 16 chars)")
	}
	return nil
}
