// Package config loads the bridge service configuration from YAML, with
// environment variables overriding any field they name.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration structure.
type Config struct {
	Server ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS   NATSConfig     `yaml:"nats"`
	CORS   CORSConfig     `yaml:"cors"`
	Admin  AdminConfig    `yaml:"admin"`
	Bridge BridgeConfig   `yaml:"bridge"`
}

// ServerConfig configures the HTTP facade.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig configures the bridge store's backing Postgres instance.
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig configures the event bus used to publish relayer lifecycle
// notifications for operator tooling.
type NATSConfig struct {
	URL             string `yaml:"url"`
	Timeout         int    `yaml:"timeout"`
	ReconnectWait   int    `yaml:"reconnect_wait"`
	MaxReconnects   int    `yaml:"max_reconnects"`
	EnableJetStream bool   `yaml:"enable_jetstream"`
	StreamName      string `yaml:"stream_name"`
	Subject         string `yaml:"subject"`
}

// CORSConfig configures the facade's allowed browser origins.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// AdminConfig configures access to the operator-only quarantine endpoints.
type AdminConfig struct {
	AllowedIPs []string `yaml:"allowedIPs"`
	JWTSecret  string   `yaml:"jwtSecret"`
	Password   string   `yaml:"password"`
}

// BridgeConfig configures the two relayers and the chain clients they drive.
type BridgeConfig struct {
	ZcashRPCURL              string `yaml:"zcashRpcUrl"`
	MidenRPCURL              string `yaml:"midenRpcUrl"`
	BridgePoolAddr           string `yaml:"bridgePoolAddr"`
	BridgeAccountID          string `yaml:"bridgeAccountId"`
	FaucetID                 string `yaml:"faucetId"`
	ExitTag                  uint16 `yaml:"exitTag"`
	ZcashRelayerIntervalSecs int    `yaml:"zcashRelayerIntervalSecs"`
	MidenRelayerIntervalSecs int    `yaml:"midenRelayerIntervalSecs"`
	MaxMintAttempts          int    `yaml:"maxMintAttempts"`
	FanOut                   int    `yaml:"fanOut"`
	RPCTimeoutSecs           int    `yaml:"rpcTimeoutSecs"`
	ScanBatchBlocks          uint64 `yaml:"scanBatchBlocks"`
	DustThresholdBase        uint64 `yaml:"dustThresholdBase"`
}

var AppConfig *Config

// LoadConfig reads the YAML config file at configPath (or config.yaml /
// config.local.yaml if empty) and overrides it with environment variables.
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)
	overrideFromEnv(&config)

	AppConfig = &config
	return nil
}

func applyDefaults(c *Config) {
	if c.Bridge.ZcashRelayerIntervalSecs == 0 {
		c.Bridge.ZcashRelayerIntervalSecs = 30
	}
	if c.Bridge.MidenRelayerIntervalSecs == 0 {
		c.Bridge.MidenRelayerIntervalSecs = 15
	}
	if c.Bridge.MaxMintAttempts == 0 {
		c.Bridge.MaxMintAttempts = 8
	}
	if c.Bridge.FanOut == 0 {
		c.Bridge.FanOut = 4
	}
	if c.Bridge.RPCTimeoutSecs == 0 {
		c.Bridge.RPCTimeoutSecs = 30
	}
	if c.Bridge.ScanBatchBlocks == 0 {
		c.Bridge.ScanBatchBlocks = 100
	}
	if c.Bridge.ExitTag == 0 {
		c.Bridge.ExitTag = 20050
	}
}

func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		config.CORS.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				config.CORS.AllowedOrigins = append(config.CORS.AllowedOrigins, trimmed)
			}
		}
	}
	if secret := os.Getenv("ADMIN_JWT_SECRET"); secret != "" {
		config.Admin.JWTSecret = secret
	}
	if password := os.Getenv("ADMIN_PASSWORD"); password != "" {
		config.Admin.Password = password
	}
	if zcashURL := os.Getenv("ZCASH_RPC_URL"); zcashURL != "" {
		config.Bridge.ZcashRPCURL = zcashURL
	}
	if midenURL := os.Getenv("MIDEN_RPC_URL"); midenURL != "" {
		config.Bridge.MidenRPCURL = midenURL
	}
	if poolAddr := os.Getenv("BRIDGE_POOL_ADDR"); poolAddr != "" {
		config.Bridge.BridgePoolAddr = poolAddr
	}
	if accountID := os.Getenv("BRIDGE_ACCOUNT_ID"); accountID != "" {
		config.Bridge.BridgeAccountID = accountID
	}
	if faucetID := os.Getenv("FAUCET_ID"); faucetID != "" {
		config.Bridge.FaucetID = faucetID
	}
	if exitTag := os.Getenv("EXIT_TAG"); exitTag != "" {
		if t, err := strconv.ParseUint(exitTag, 10, 16); err == nil {
			config.Bridge.ExitTag = uint16(t)
		}
	}
	if interval := os.Getenv("ZCASH_RELAYER_INTERVAL_SECS"); interval != "" {
		if i, err := strconv.Atoi(interval); err == nil {
			config.Bridge.ZcashRelayerIntervalSecs = i
		}
	}
	if interval := os.Getenv("MIDEN_RELAYER_INTERVAL_SECS"); interval != "" {
		if i, err := strconv.Atoi(interval); err == nil {
			config.Bridge.MidenRelayerIntervalSecs = i
		}
	}
	if maxAttempts := os.Getenv("MAX_MINT_ATTEMPTS"); maxAttempts != "" {
		if a, err := strconv.Atoi(maxAttempts); err == nil {
			config.Bridge.MaxMintAttempts = a
		}
	}
	if fanOut := os.Getenv("BRIDGE_FAN_OUT"); fanOut != "" {
		if f, err := strconv.Atoi(fanOut); err == nil {
			config.Bridge.FanOut = f
		}
	}
	if rpcTimeout := os.Getenv("BRIDGE_RPC_TIMEOUT_SECS"); rpcTimeout != "" {
		if t, err := strconv.Atoi(rpcTimeout); err == nil {
			config.Bridge.RPCTimeoutSecs = t
		}
	}
	if dust := os.Getenv("BRIDGE_DUST_THRESHOLD_BASE"); dust != "" {
		if d, err := strconv.ParseUint(dust, 10, 64); err == nil {
			config.Bridge.DustThresholdBase = d
		}
	}
}
