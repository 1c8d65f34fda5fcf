package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
)

// Config represents the application configuration
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Heartbeat    HeartbeatConfig    `mapstructure:"heartbeat"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Assignment   AssignmentConfig   `mapstructure:"assignment"`
	Escalation   EscalationConfig   `mapstructure:"escalation"`
	Presence     PresenceConfig     `mapstructure:"presence"`
	Maintenance  MaintenanceConfig  `mapstructure:"maintenance"`
	TicketNumber TicketNumberConfig `mapstructure:"ticket_number"`
	Priority     PriorityConfig     `mapstructure:"priority"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Timezone string `mapstructure:"timezone"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	LegacySecret  string        `mapstructure:"legacy_secret"`
	LegacyMaxSkew time.Duration `mapstructure:"legacy_max_skew"`
}

type HeartbeatConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	MaxMissed     int           `mapstructure:"max_missed"`
	PingTimeout   time.Duration `mapstructure:"ping_timeout"`
}

type QueueConfig struct {
	ProbeTimeout          time.Duration `mapstructure:"probe_timeout"`
	AHTWindow             int           `mapstructure:"aht_window"`
	AHTMin                time.Duration `mapstructure:"aht_min"`
	AHTMax                time.Duration `mapstructure:"aht_max"`
	AHTDefault            time.Duration `mapstructure:"aht_default"`
	OutlierFactor         float64       `mapstructure:"outlier_factor"`
	RemovalMaxTries       uint          `mapstructure:"removal_max_tries"`
	RemovalInitialBackoff time.Duration `mapstructure:"removal_initial_backoff"`
}

type AssignmentConfig struct {
	AdminLoadPenalty int `mapstructure:"admin_load_penalty"`
}

type EscalationConfig struct {
	UrgentScoreFloor int `mapstructure:"urgent_score_floor"`
}

type PresenceConfig struct {
	OnlineTTL     time.Duration `mapstructure:"online_ttl"`
	ConnectionTTL time.Duration `mapstructure:"connection_ttl"`
}

type MaintenanceConfig struct {
	WaitingStaleAfter time.Duration `mapstructure:"waiting_stale_after"`
	RepliedStaleAfter time.Duration `mapstructure:"replied_stale_after"`
	BatchSize         int           `mapstructure:"batch_size"`
	ReorderSchedule   string        `mapstructure:"reorder_schedule"`
	StaleSchedule     string        `mapstructure:"stale_schedule"`
	DrainSchedule     string        `mapstructure:"drain_schedule"`
	RepairSchedule    string        `mapstructure:"repair_schedule"`
}

type TicketNumberConfig struct {
	SystemID       string `mapstructure:"system_id"`
	MinCounterSize int    `mapstructure:"min_counter_size"`
}

type PriorityConfig struct {
	RulesFile string `mapstructure:"rules_file"`
}

// SetDefaults registers every default so a missing config file still yields
// a usable configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "gotrs-chat")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.timezone", "UTC")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "gotrs_chat")
	v.SetDefault("database.user", "gotrs")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "gotrs-chat:")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", 2*time.Second)
	v.SetDefault("redis.read_timeout", time.Second)
	v.SetDefault("redis.write_timeout", time.Second)

	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("auth.legacy_max_skew", 5*time.Minute)

	v.SetDefault("heartbeat.check_interval", 30*time.Second)
	v.SetDefault("heartbeat.max_missed", 3)
	v.SetDefault("heartbeat.ping_timeout", 60*time.Second)

	v.SetDefault("queue.probe_timeout", 250*time.Millisecond)
	v.SetDefault("queue.aht_window", 50)
	v.SetDefault("queue.aht_min", time.Minute)
	v.SetDefault("queue.aht_max", 30*time.Minute)
	v.SetDefault("queue.aht_default", 5*time.Minute)
	v.SetDefault("queue.outlier_factor", 3.0)
	v.SetDefault("queue.removal_max_tries", 3)
	v.SetDefault("queue.removal_initial_backoff", 50*time.Millisecond)

	v.SetDefault("assignment.admin_load_penalty", 2)
	v.SetDefault("escalation.urgent_score_floor", 80)

	v.SetDefault("presence.online_ttl", 90*time.Second)
	v.SetDefault("presence.connection_ttl", 120*time.Second)

	v.SetDefault("maintenance.waiting_stale_after", 72*time.Hour)
	v.SetDefault("maintenance.replied_stale_after", 24*time.Hour)
	v.SetDefault("maintenance.batch_size", 200)
	v.SetDefault("maintenance.reorder_schedule", "@every 30s")
	v.SetDefault("maintenance.stale_schedule", "@every 10m")
	v.SetDefault("maintenance.drain_schedule", "@every 15s")
	v.SetDefault("maintenance.repair_schedule", "@every 1m")

	v.SetDefault("ticket_number.system_id", "10")
	v.SetDefault("ticket_number.min_counter_size", 5)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	SetDefaults(v)
	v.SetEnvPrefix("GOTRS_CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load initializes the configuration with hot reload support. A missing
// config.yaml under configPath is not an error.
func Load(configPath string) error {
	var err error
	once.Do(func() {
		v := newViper()
		v.SetConfigName("config")
		v.AddConfigPath(configPath)
		readErr := v.ReadInConfig()
		var notFound viper.ConfigFileNotFoundError
		if readErr != nil && !errors.As(readErr, &notFound) {
			err = fmt.Errorf("failed to read config: %w", readErr)
			return
		}

		var loaded *Config
		if loaded, err = decode(v); err != nil {
			return
		}
		mu.Lock()
		cfg = loaded
		mu.Unlock()

		if readErr != nil {
			return
		}
		v.OnConfigChange(func(e fsnotify.Event) {
			log.Printf("config: file changed: %s", e.Name)
			newCfg, err := decode(v)
			if err != nil {
				log.Printf("config: failed to reload: %v", err)
				return
			}
			mu.Lock()
			cfg = newCfg
			mu.Unlock()
			log.Printf("config: reloaded")
		})
		v.WatchConfig()
	})
	return err
}

// Get returns the current configuration (thread-safe)
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// LoadFromFile loads configuration from a specific file (useful for testing)
func LoadFromFile(configFile string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	loaded, err := decode(v)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	cfg = loaded
	mu.Unlock()
	return loaded, nil
}

// Default returns the configuration built from defaults and environment only.
func Default() *Config {
	c, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("invalid default configuration: %v", err))
	}
	return c
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Heartbeat.MaxMissed < 1 {
		return fmt.Errorf("heartbeat.max_missed must be at least 1")
	}
	if c.Heartbeat.CheckInterval <= 0 || c.Heartbeat.PingTimeout <= 0 {
		return fmt.Errorf("heartbeat intervals must be positive")
	}
	if c.Queue.AHTMin > c.Queue.AHTMax {
		return fmt.Errorf("queue.aht_min (%s) exceeds queue.aht_max (%s)", c.Queue.AHTMin, c.Queue.AHTMax)
	}
	if c.Assignment.AdminLoadPenalty < 0 {
		return fmt.Errorf("assignment.admin_load_penalty must not be negative")
	}
	return nil
}

// GetDSN returns the driver specific connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	switch c.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", c.User, c.Password, c.Host, c.Port, c.Name)
	case "sqlite3":
		return c.Name
	default:
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
		)
	}
}

// GetServerAddr returns the server listen address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction returns true if running in production mode
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}
