package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" envconfig:"SERVER"`
	Storage      StorageConfig      `yaml:"storage" envconfig:"STORAGE"`
	Logging      LoggingConfig      `yaml:"logging" envconfig:"LOGGING"`
	JWT          JWTConfig          `yaml:"jwt" envconfig:"JWT"`
	Issuance     IssuanceConfig     `yaml:"issuance" envconfig:"ISSUANCE"`
	Trust        TrustConfig        `yaml:"trust" envconfig:"TRUST"`
	SessionStore SessionStoreConfig `yaml:"session_store" envconfig:"SESSION_STORE"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	CORS         CORSConfig         `yaml:"cors" envconfig:"CORS"`
}

// CORSConfig contains cross-origin settings for the HTTP API
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `yaml:"allowed_methods" envconfig:"ALLOWED_METHODS"`
	AllowedHeaders   []string `yaml:"allowed_headers" envconfig:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `yaml:"exposed_headers" envconfig:"EXPOSED_HEADERS"`
	AllowCredentials bool     `yaml:"allow_credentials" envconfig:"ALLOW_CREDENTIALS"`
	MaxAge           int      `yaml:"max_age" envconfig:"MAX_AGE"` // seconds
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host     string `yaml:"host" envconfig:"HOST"`
	Port     int    `yaml:"port" envconfig:"PORT"`
	RPID     string `yaml:"rp_id" envconfig:"RP_ID"`
	RPOrigin string `yaml:"rp_origin" envconfig:"RP_ORIGIN"`
	RPName   string `yaml:"rp_name" envconfig:"RP_NAME"`
	BaseURL  string `yaml:"base_url" envconfig:"BASE_URL"`
}

// StorageConfig contains storage configuration
type StorageConfig struct {
	Type    string        `yaml:"type" envconfig:"TYPE"` // memory, mongodb
	MongoDB MongoDBConfig `yaml:"mongodb" envconfig:"MONGODB"`
}

// MongoDBConfig contains MongoDB-specific configuration
type MongoDBConfig struct {
	URI      string `yaml:"uri" envconfig:"URI"`
	Database string `yaml:"database" envconfig:"DATABASE"`
	Timeout  int    `yaml:"timeout" envconfig:"TIMEOUT"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" envconfig:"FORMAT"` // json, text
}

// JWTConfig contains device token configuration
type JWTConfig struct {
	Secret      string `yaml:"secret" envconfig:"SECRET"`
	ExpiryHours int    `yaml:"expiry_hours" envconfig:"EXPIRY_HOURS"`
	Issuer      string `yaml:"issuer" envconfig:"ISSUER"`
}

// IssuanceConfig contains the fixed credential issuance profile
type IssuanceConfig struct {
	// ProfileName identifies the issuance profile ("pid-c" for the
	// authorization-code PID flow).
	ProfileName string `yaml:"profile_name" envconfig:"PROFILE_NAME"`
	// OfferURI is the credential offer resolved when a flow starts.
	OfferURI string `yaml:"offer_uri" envconfig:"OFFER_URI"`
	// ClientID is the OAuth client identifier presented to the issuer.
	ClientID string `yaml:"client_id" envconfig:"CLIENT_ID"`
	// RedirectURI is the OAuth redirect the shell app intercepts.
	RedirectURI string `yaml:"redirect_uri" envconfig:"REDIRECT_URI"`
	// TrustedSchemes are the issuer URL schemes credentials may be
	// retrieved from.
	TrustedSchemes []string `yaml:"trusted_schemes" envconfig:"TRUSTED_SCHEMES"`
}

// TrustConfig contains trust evaluation configuration
type TrustConfig struct {
	// DefaultEndpoint is the go-trust PDP endpoint for issuer evaluation.
	// Empty disables the check.
	DefaultEndpoint string `yaml:"default_endpoint" envconfig:"DEFAULT_ENDPOINT"`
	// Timeout is the HTTP timeout for trust evaluation requests (seconds).
	Timeout int `yaml:"timeout" envconfig:"TIMEOUT"`
}

// SessionStoreConfig contains WebSocket session store configuration
type SessionStoreConfig struct {
	// Type is the session store type: "memory" or "redis"
	Type string `yaml:"type" envconfig:"TYPE"`
	// Redis contains Redis-specific configuration
	Redis RedisConfig `yaml:"redis" envconfig:"REDIS"`
	// DefaultTTL is the default session TTL in hours
	DefaultTTLHours int `yaml:"default_ttl_hours" envconfig:"DEFAULT_TTL_HOURS"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Address   string `yaml:"address" envconfig:"ADDRESS"`
	Password  string `yaml:"password" envconfig:"PASSWORD"`
	DB        int    `yaml:"db" envconfig:"DB"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
}

// RateLimitConfig bounds how often pairing ceremonies may be started
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" envconfig:"ENABLED"`
	MaxAttempts    int  `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	WindowSeconds  int  `yaml:"window_seconds" envconfig:"WINDOW_SECONDS"`
	LockoutSeconds int  `yaml:"lockout_seconds" envconfig:"LOCKOUT_SECONDS"`
}

// SetDefaults fills unset fields with safe limits
func (c *RateLimitConfig) SetDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = 60
	}
	if c.LockoutSeconds <= 0 {
		c.LockoutSeconds = 300
	}
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Load from YAML file if provided (overrides defaults)
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, that's ok - we'll use defaults and env vars
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("WALLET", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Set BaseURL if not provided
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible default values
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8080,
			RPID:     "localhost",
			RPOrigin: "http://localhost:8080",
			RPName:   "Paradym Wallet",
		},
		Storage: StorageConfig{
			Type: "memory",
			MongoDB: MongoDBConfig{
				URI:      "mongodb://localhost:27017",
				Database: "paradym_wallet",
				Timeout:  10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		JWT: JWTConfig{
			ExpiryHours: 24,
			Issuer:      "paradym-wallet",
		},
		Issuance: IssuanceConfig{
			ProfileName:    "pid-c",
			RedirectURI:    "paradym-wallet://oauth/redirect",
			TrustedSchemes: []string{"https"},
		},
		Trust: TrustConfig{
			Timeout: 30, // seconds
		},
		SessionStore: SessionStoreConfig{
			Type:            "memory",
			DefaultTTLHours: 24,
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "ws:session:",
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			MaxAttempts:    10,
			WindowSeconds:  60,
			LockoutSeconds: 300,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:         300,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.RPID == "" {
		return fmt.Errorf("rp_id is required")
	}

	if c.Server.RPOrigin == "" {
		return fmt.Errorf("rp_origin is required")
	}

	if c.Storage.Type != "memory" && c.Storage.Type != "mongodb" {
		return fmt.Errorf("invalid storage type: %s (must be memory or mongodb)", c.Storage.Type)
	}

	if c.Storage.Type == "mongodb" && c.Storage.MongoDB.URI == "" {
		return fmt.Errorf("mongodb uri is required when using mongodb storage")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required")
	}

	if c.Issuance.OfferURI != "" {
		if c.Issuance.ClientID == "" {
			return fmt.Errorf("issuance client_id is required when an offer is configured")
		}
		if c.Issuance.RedirectURI == "" {
			return fmt.Errorf("issuance redirect_uri is required when an offer is configured")
		}
	}

	return nil
}

// Address returns the server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
