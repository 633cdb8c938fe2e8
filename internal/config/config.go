package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rapidcare/rapidcare/internal/domain/geo"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	JWTSecret      string        `mapstructure:"JWT_SECRET"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`

	MatchRadiusKm       float64       `mapstructure:"MATCH_RADIUS_KM"`
	DefaultLatitude     float64       `mapstructure:"DEFAULT_LATITUDE"`
	DefaultLongitude    float64       `mapstructure:"DEFAULT_LONGITUDE"`
	AvgSpeedKmH         float64       `mapstructure:"AVG_SPEED_KMH"`
	DispatchOverheadMin int           `mapstructure:"DISPATCH_OVERHEAD_MIN"`
	UpstreamTimeout     time.Duration `mapstructure:"UPSTREAM_TIMEOUT"`
	PositionTTL         time.Duration `mapstructure:"POSITION_TTL"`
	CatalogFile         string        `mapstructure:"CATALOG_FILE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"JWT_SECRET", "AUTH_ISSUER", "CORS_ORIGINS", "REQUEST_TIMEOUT",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"MATCH_RADIUS_KM", "DEFAULT_LATITUDE", "DEFAULT_LONGITUDE", "AVG_SPEED_KMH",
	"DISPATCH_OVERHEAD_MIN", "UPSTREAM_TIMEOUT", "POSITION_TTL", "CATALOG_FILE",
}

// Load reads the environment and an optional .env file. It does not
// validate; commands that need a database call Validate.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("MATCH_RADIUS_KM", 50)
	// Mysuru city centre
	v.SetDefault("DEFAULT_LATITUDE", 12.2958)
	v.SetDefault("DEFAULT_LONGITUDE", 76.6394)
	v.SetDefault("AVG_SPEED_KMH", geo.DefaultSpeedKmH)
	v.SetDefault("DISPATCH_OVERHEAD_MIN", geo.DefaultOverheadMinutes)
	v.SetDefault("UPSTREAM_TIMEOUT", "3s")
	v.SetDefault("POSITION_TTL", "10m")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DefaultOrigin is the coordinate used when a paramedic's position is unknown.
func (c *Config) DefaultOrigin() geo.Coordinate {
	return geo.Coordinate{Latitude: c.DefaultLatitude, Longitude: c.DefaultLongitude}
}

func (c *Config) Estimator() geo.Estimator {
	return geo.NewEstimator(c.AvgSpeedKmH, c.DispatchOverheadMin)
}

// Validate checks that the configuration is safe to serve with. Outside
// development a JWT secret of at least 32 bytes is required.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !c.IsDev() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET of at least 32 bytes is required when ENV=%q", c.Env)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.MatchRadiusKm <= 0 {
		return fmt.Errorf("MATCH_RADIUS_KM must be positive, got %v", c.MatchRadiusKm)
	}
	if err := c.DefaultOrigin().Validate(); err != nil {
		return fmt.Errorf("DEFAULT_LATITUDE/DEFAULT_LONGITUDE: %w", err)
	}
	if c.AvgSpeedKmH <= 0 {
		return fmt.Errorf("AVG_SPEED_KMH must be positive, got %v", c.AvgSpeedKmH)
	}
	if c.DispatchOverheadMin < 0 {
		return fmt.Errorf("DISPATCH_OVERHEAD_MIN must not be negative")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	return nil
}

// Warnings lists settings that are allowed but unsafe.
func (c *Config) Warnings() []string {
	var w []string
	if c.IsDev() {
		w = append(w, "ENV=development: requests without a token are treated as an admin")
	}
	if c.RedisURL == "" {
		w = append(w, "REDIS_URL not set: paramedic positions are unavailable and events reach only this instance")
	}
	if c.IsProduction() && c.AuthIssuer == "" {
		w = append(w, "AUTH_ISSUER not set: token issuer is not checked")
	}
	return w
}
