package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	JWT         JWTConfig      `mapstructure:"jwt"`
	Tracing     TracingConfig  `mapstructure:"tracing"`
	Bridge      BridgeConfig   `mapstructure:"bridge"`
	Relay       RelayConfig    `mapstructure:"relay"`
	Workers     WorkerConfig   `mapstructure:"workers"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	Host           string   `mapstructure:"host"`
	ReadTimeout    int      `mapstructure:"read_timeout"`
	WriteTimeout   int      `mapstructure:"write_timeout"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret    string `mapstructure:"secret"`
	AccessTTL int    `mapstructure:"access_token_ttl"`
	Issuer    string `mapstructure:"issuer"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// BridgeConfig describes the local OFT deployment
type BridgeConfig struct {
	LocalEid          uint32                 `mapstructure:"local_eid"`
	Address           string                 `mapstructure:"address"`
	Mode              string                 `mapstructure:"mode"` // "native" or "adapter"
	Token             TokenConfig            `mapstructure:"token"`
	Admin             string                 `mapstructure:"admin"`
	Storage           string                 `mapstructure:"storage"`      // "memory" or "postgres"
	Channel           string                 `mapstructure:"channel"`      // "loopback" or "relay"
	LockBackend       string                 `mapstructure:"lock_backend"` // "local" or "redis"
	SendLockTTL       int                    `mapstructure:"send_lock_ttl"`
	DefaultReceiveGas uint64                 `mapstructure:"default_receive_gas"`
	Peers             []PeerConfig           `mapstructure:"peers"`
	RateLimits        []RateLimitConfig      `mapstructure:"rate_limits"`
	EnforcedOptions   []EnforcedOptionConfig `mapstructure:"enforced_options"`
}

type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Name     string `mapstructure:"name"`
	Symbol   string `mapstructure:"symbol"`
	Decimals int    `mapstructure:"decimals"`
}

type PeerConfig struct {
	Eid     uint32 `mapstructure:"eid"`
	Address string `mapstructure:"address"`
}

// RateLimitConfig is a bootstrap limit; Limit is in local decimals
type RateLimitConfig struct {
	DstEid uint32 `mapstructure:"dst_eid"`
	Limit  string `mapstructure:"limit"`
	Window int    `mapstructure:"window"` // seconds
}

type EnforcedOptionConfig struct {
	Eid     uint32 `mapstructure:"eid"`
	MsgType uint16 `mapstructure:"msg_type"`
	Options string `mapstructure:"options"` // hex
}

type RelayConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Timeout     int     `mapstructure:"timeout"`
	RPS         float64 `mapstructure:"rps"`
	FeeCacheTTL int     `mapstructure:"fee_cache_ttl"`
}

type WorkerConfig struct {
	RateLimitMetricsSchedule  string `mapstructure:"rate_limit_metrics_schedule"`
	LoopbackDeliverySchedule  string `mapstructure:"loopback_delivery_schedule"`
	DispatchReconcileSchedule string `mapstructure:"dispatch_reconcile_schedule"`
}

// Bridge modes
const (
	ModeNative  = "native"
	ModeAdapter = "adapter"
)

func Load() (*Config, error) {
	godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := overrideFromEnv(v); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("database.url", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "oft_bridge")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_ttl", 3600)
	v.SetDefault("jwt.issuer", "oft-bridge")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.collector_url", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 0.1)
	v.SetDefault("tracing.insecure", false)

	// zero defaults so AutomaticEnv binds BRIDGE_* variables
	v.SetDefault("bridge.local_eid", 0)
	v.SetDefault("bridge.address", "")
	v.SetDefault("bridge.admin", "")
	v.SetDefault("bridge.token.address", "")
	v.SetDefault("bridge.mode", ModeNative)
	v.SetDefault("bridge.token.name", "OFT")
	v.SetDefault("bridge.token.symbol", "OFT")
	v.SetDefault("bridge.token.decimals", 18)
	v.SetDefault("bridge.storage", "memory")
	v.SetDefault("bridge.channel", "loopback")
	v.SetDefault("bridge.lock_backend", "local")
	v.SetDefault("bridge.send_lock_ttl", 30)
	v.SetDefault("bridge.default_receive_gas", 200000)

	v.SetDefault("relay.base_url", "")
	v.SetDefault("relay.timeout", 15)
	v.SetDefault("relay.rps", 10)
	v.SetDefault("relay.fee_cache_ttl", 15)

	v.SetDefault("workers.rate_limit_metrics_schedule", "@every 30s")
	v.SetDefault("workers.loopback_delivery_schedule", "@every 2s")
	v.SetDefault("workers.dispatch_reconcile_schedule", "@every 1m")
}

func overrideFromEnv(v *viper.Viper) error {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("server.port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		v.Set("database.url", dbURL)
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		v.Set("jwt.secret", jwtSecret)
	}

	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		v.Set("redis.host", redisHost)
	}

	if relayKey := os.Getenv("RELAY_API_KEY"); relayKey != "" {
		v.Set("relay.api_key", relayKey)
	}

	// BRIDGE_PEERS=40102=0xabc...,40161=0xdef...
	if peers := os.Getenv("BRIDGE_PEERS"); peers != "" {
		var out []map[string]interface{}
		for _, part := range strings.Split(peers, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			eid, addr, ok := strings.Cut(part, "=")
			if !ok {
				return fmt.Errorf("invalid BRIDGE_PEERS entry %q", part)
			}
			n, err := strconv.ParseUint(strings.TrimSpace(eid), 10, 32)
			if err != nil {
				return fmt.Errorf("invalid BRIDGE_PEERS eid %q: %w", eid, err)
			}
			out = append(out, map[string]interface{}{"eid": uint32(n), "address": strings.TrimSpace(addr)})
		}
		v.Set("bridge.peers", out)
	}

	// BRIDGE_RATE_LIMITS=40102:1000000000000000000000:3600,...
	if limits := os.Getenv("BRIDGE_RATE_LIMITS"); limits != "" {
		var out []map[string]interface{}
		for _, part := range strings.Split(limits, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			fields := strings.Split(part, ":")
			if len(fields) != 3 {
				return fmt.Errorf("invalid BRIDGE_RATE_LIMITS entry %q", part)
			}
			eid, err := strconv.ParseUint(fields[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid BRIDGE_RATE_LIMITS eid %q: %w", fields[0], err)
			}
			window, err := strconv.Atoi(fields[2])
			if err != nil {
				return fmt.Errorf("invalid BRIDGE_RATE_LIMITS window %q: %w", fields[2], err)
			}
			out = append(out, map[string]interface{}{"dst_eid": uint32(eid), "limit": fields[1], "window": window})
		}
		v.Set("bridge.rate_limits", out)
	}
	return nil
}

func validate(config *Config) error {
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	b := config.Bridge
	if b.LocalEid == 0 {
		return fmt.Errorf("bridge local eid is required")
	}
	if !common.IsHexAddress(b.Address) {
		return fmt.Errorf("bridge address %q is not a valid address", b.Address)
	}
	if !common.IsHexAddress(b.Admin) {
		return fmt.Errorf("bridge admin %q is not a valid address", b.Admin)
	}
	if b.Token.Decimals < 6 || b.Token.Decimals > 77 {
		return fmt.Errorf("token decimals must be between 6 and 77")
	}

	switch b.Mode {
	case ModeNative:
	case ModeAdapter:
		if !common.IsHexAddress(b.Token.Address) {
			return fmt.Errorf("adapter mode requires a token address")
		}
	default:
		return fmt.Errorf("unknown bridge mode %q", b.Mode)
	}

	switch b.Storage {
	case "memory":
	case "postgres":
		if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
			return fmt.Errorf("database configuration is incomplete")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", b.Storage)
	}

	switch b.Channel {
	case "loopback":
	case "relay":
		if config.Relay.BaseURL == "" {
			return fmt.Errorf("relay channel requires relay.base_url")
		}
	default:
		return fmt.Errorf("unknown channel %q", b.Channel)
	}

	if b.LockBackend != "local" && b.LockBackend != "redis" {
		return fmt.Errorf("unknown lock backend %q", b.LockBackend)
	}

	for _, p := range b.Peers {
		if p.Eid == 0 || len(common.FromHex(p.Address)) == 0 || len(common.FromHex(p.Address)) > common.HashLength {
			return fmt.Errorf("invalid peer for eid %d", p.Eid)
		}
	}
	for _, rl := range b.RateLimits {
		if _, err := rl.ParseLimit(); err != nil {
			return fmt.Errorf("invalid rate limit for eid %d: %w", rl.DstEid, err)
		}
		if rl.Window < 0 {
			return fmt.Errorf("invalid rate limit window for eid %d", rl.DstEid)
		}
	}
	for _, o := range b.EnforcedOptions {
		if len(common.FromHex(o.Options)) < 2 {
			return fmt.Errorf("invalid enforced options for eid %d", o.Eid)
		}
	}

	return nil
}

// AddressOf returns the bridge's own address
func (b BridgeConfig) AddressOf() common.Address { return common.HexToAddress(b.Address) }

// AdminAddress returns the initial admin
func (b BridgeConfig) AdminAddress() common.Address { return common.HexToAddress(b.Admin) }

// SendLockTimeout returns the per-sender lock TTL
func (b BridgeConfig) SendLockTimeout() time.Duration {
	return time.Duration(b.SendLockTTL) * time.Second
}

// PeerHash left-pads the configured peer address to bytes32
func (p PeerConfig) PeerHash() common.Hash {
	return common.BytesToHash(common.FromHex(p.Address))
}

// ParseLimit returns the limit in local decimals
func (r RateLimitConfig) ParseLimit() (*uint256.Int, error) {
	return uint256.FromDecimal(r.Limit)
}

// WindowDuration returns the window length
func (r RateLimitConfig) WindowDuration() time.Duration {
	return time.Duration(r.Window) * time.Second
}

// OptionBytes decodes the hex options
func (o EnforcedOptionConfig) OptionBytes() []byte {
	return common.FromHex(o.Options)
}
