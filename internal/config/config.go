package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	// RedisURL, when set, switches the public gateway rate limiter to a
	// shared fixed-window backend so limits hold across replicas.
	RedisURL     string   `mapstructure:"REDIS_URL"`
	AuthIssuer   string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL  string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience string   `mapstructure:"AUTH_AUDIENCE"`
	AuthHMACKey  string   `mapstructure:"AUTH_HMAC_KEY"`
	CORSOrigins  []string `mapstructure:"CORS_ORIGINS"`
	// PublicBaseURL is the externally reachable origin used to build signing
	// links handed to clients.
	PublicBaseURL     string  `mapstructure:"PUBLIC_BASE_URL"`
	RateLimitRPS      float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int     `mapstructure:"RATE_LIMIT_BURST"`
	GatewayLimitRPS   float64 `mapstructure:"GATEWAY_LIMIT_RPS"`
	GatewayLimitBurst int     `mapstructure:"GATEWAY_LIMIT_BURST"`
	TLSEnabled        bool    `mapstructure:"TLS_ENABLED"`
	TLSCertFile       string  `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile        string  `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("GATEWAY_LIMIT_RPS", 2)
	v.SetDefault("GATEWAY_LIMIT_BURST", 10)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_HMAC_KEY")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("PUBLIC_BASE_URL")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("GATEWAY_LIMIT_RPS")
	v.BindEnv("GATEWAY_LIMIT_BURST")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active: all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER or AUTH_HMAC_KEY.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// mode some form of staff authentication must be configured, since the staff
// API can mint and revoke signature requests.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.AuthHMACKey == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf(
				"AUTH_HMAC_KEY or AUTH_JWKS_URL must be set when ENV=%q. "+
					"Refusing to start the staff API without authentication", c.Env)
		}
		if c.AuthJWKSURL != "" && c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_ISSUER must be set when AUTH_JWKS_URL is configured")
		}
	}

	if c.GatewayLimitRPS <= 0 || c.GatewayLimitBurst <= 0 {
		return fmt.Errorf("gateway rate limits must be positive (rps=%v burst=%d)",
			c.GatewayLimitRPS, c.GatewayLimitBurst)
	}

	if c.IsProduction() && strings.HasPrefix(c.PublicBaseURL, "http://localhost") {
		return fmt.Errorf("PUBLIC_BASE_URL must be set to the public origin in production")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
