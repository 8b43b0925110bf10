package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	platformstrings "safe/pkg/platform/strings"
)

// ConfigPathEnv names an optional YAML file layered under the environment.
const ConfigPathEnv = "SAFE_CONFIG"

// Server captures process-level configuration.
type Server struct {
	Addr      string      `yaml:"addr"`
	ProgramID string      `yaml:"program_id"`
	JWT       JWTConfig   `yaml:"jwt"`
	Clock     ClockConfig `yaml:"clock"`
	Safe      SafeConfig  `yaml:"safe"`
	RateLimit RateLimit   `yaml:"rate_limit"`
	Postgres  PGConfig    `yaml:"postgres"`
	Redis     RedisConfig `yaml:"redis"`
	Kafka     KafkaConfig `yaml:"kafka"`
	Log       LogConfig   `yaml:"log"`
	Bank      BankConfig  `yaml:"bank"`
}

type JWTConfig struct {
	SigningKey string `yaml:"signing_key"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

// ClockConfig maps wall time onto slots.
type ClockConfig struct {
	Genesis      time.Time     `yaml:"genesis"`
	SlotDuration time.Duration `yaml:"slot_duration"`
}

type SafeConfig struct {
	SlashPolicy string        `yaml:"slash_policy"`
	TxTimeout   time.Duration `yaml:"tx_timeout"`
}

// RateLimit bounds submissions per client IP. A zero limit disables it.
type RateLimit struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// PGConfig selects the Postgres store. An empty DSN keeps state in memory.
type PGConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the idempotency cache. An empty URL disables Redis.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KafkaConfig configures the audit outbox relay. No brokers disables it.
type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers"`
	Topic             string        `yaml:"topic"`
	Partitions        int32         `yaml:"partitions"`
	ReplicationFactor int16         `yaml:"replication_factor"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	BatchSize         int           `yaml:"batch_size"`
}

// BankConfig seeds the in-process asset ledger. A controller or mint
// authority given as VaultOf is the vault authority derived for that registry
// and SignerNonce.
type BankConfig struct {
	Accounts []BankAccount `yaml:"accounts"`
	Mints    []BankMint    `yaml:"mints"`
}

type BankAccount struct {
	ID          string `yaml:"id"`
	Asset       string `yaml:"asset"`
	Controller  string `yaml:"controller"`
	VaultOf     string `yaml:"vault_of"`
	SignerNonce uint64 `yaml:"signer_nonce"`
	Balance     uint64 `yaml:"balance"`
}

type BankMint struct {
	Asset       string `yaml:"asset"`
	Authority   string `yaml:"authority"`
	VaultOf     string `yaml:"vault_of"`
	SignerNonce uint64 `yaml:"signer_nonce"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a development configuration.
func Default() Server {
	return Server{
		Addr: ":8080",
		JWT: JWTConfig{
			SigningKey: "dev-secret-key-change-in-production",
			Issuer:     "safe-gateway",
			Audience:   "safe",
		},
		Clock: ClockConfig{
			Genesis:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			SlotDuration: time.Second,
		},
		Safe: SafeConfig{
			SlashPolicy: "retain",
			TxTimeout:   5 * time.Second,
		},
		RateLimit: RateLimit{
			Limit:  120,
			Window: time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:             "safe.audit",
			Partitions:        3,
			ReplicationFactor: 1,
			PollInterval:      time.Second,
			BatchSize:         100,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load overlays the YAML file at path onto Default.
func Load(path string) (Server, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Server{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Server{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// FromEnv builds the config from SAFE_CONFIG (if set) and then environment
// overrides, so main stays lean.
func FromEnv() (Server, error) {
	cfg := Default()
	if path := os.Getenv(ConfigPathEnv); path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return Server{}, err
		}
	}

	setString(&cfg.Addr, "SAFE_ADDR")
	setString(&cfg.ProgramID, "SAFE_PROGRAM_ID")
	setString(&cfg.JWT.SigningKey, "JWT_SIGNING_KEY")
	setString(&cfg.Safe.SlashPolicy, "SAFE_SLASH_POLICY")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Kafka.Topic, "KAFKA_TOPIC")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = platformstrings.SplitList(brokers, ",")
	}

	if cfg.ProgramID == "" {
		return Server{}, fmt.Errorf("program id is required (SAFE_PROGRAM_ID or %s)", ConfigPathEnv)
	}
	if cfg.Clock.SlotDuration <= 0 {
		return Server{}, fmt.Errorf("clock slot_duration must be positive")
	}
	return cfg, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
