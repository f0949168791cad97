package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Edge      EdgeConfig      `yaml:"edge"`
	Client    ClientConfig    `yaml:"client"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Log       LogConfig       `yaml:"log"`
}

type BrokerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	AuthToken        string        `yaml:"auth_token"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	InputBuffer      int           `yaml:"input_buffer"`
	HistoryLimit     int           `yaml:"history_limit"`
	BcryptCost       int           `yaml:"bcrypt_cost"`
	SessionRetention time.Duration `yaml:"session_retention"`
	ReapInterval     time.Duration `yaml:"reap_interval"`
}

type EdgeConfig struct {
	Host                  string        `yaml:"host"`
	Port                  int           `yaml:"port"`
	BrokerURL             string        `yaml:"broker_url"`
	BrokerToken           string        `yaml:"broker_token"`
	AllowedOrigins        []string      `yaml:"allowed_origins"`
	RejectUnauthenticated bool          `yaml:"reject_unauthenticated"`
	CookieHashKey         string        `yaml:"cookie_hash_key"`
	CookieBlockKey        string        `yaml:"cookie_block_key"`
	CookieMaxAge          time.Duration `yaml:"cookie_max_age"`
	AuthRate              float64       `yaml:"auth_rate"`
	AuthBurst             int           `yaml:"auth_burst"`
	ProbeTimeout          time.Duration `yaml:"probe_timeout"`
}

// ClientConfig is used by the owner CLI.
type ClientConfig struct {
	BrokerURL string `yaml:"broker_url"`
	WebURL    string `yaml:"web_url"`
	Token     string `yaml:"token"`
	LogFile   string `yaml:"log_file"`
}

type WebSocketConfig struct {
	PingPeriod time.Duration `yaml:"ping_period"`
	PongWait   time.Duration `yaml:"pong_wait"`
	WriteWait  time.Duration `yaml:"write_wait"`
	ReadLimit  int64         `yaml:"read_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:             "127.0.0.1",
			Port:             8385,
			SubscriberBuffer: 1024,
			InputBuffer:      1024,
			ReapInterval:     time.Minute,
		},
		Edge: EdgeConfig{
			Host:                  "127.0.0.1",
			Port:                  8386,
			BrokerURL:             "http://127.0.0.1:8385",
			RejectUnauthenticated: true,
			CookieMaxAge:          12 * time.Hour,
			AuthRate:              1,
			AuthBurst:             5,
			ProbeTimeout:          5 * time.Second,
		},
		Client: ClientConfig{
			BrokerURL: "http://127.0.0.1:8385",
			WebURL:    "http://127.0.0.1:8386",
		},
		WebSocket: WebSocketConfig{
			PingPeriod: 54 * time.Second,
			PongWait:   60 * time.Second,
			WriteWait:  10 * time.Second,
			ReadLimit:  1 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML file over the defaults, then applies TSHARE_* environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Broker.Host = getEnvOrDefault("TSHARE_BROKER_HOST", c.Broker.Host)
	c.Broker.AuthToken = getEnvOrDefault("TSHARE_AUTH_TOKEN", c.Broker.AuthToken)
	c.Edge.Host = getEnvOrDefault("TSHARE_EDGE_HOST", c.Edge.Host)
	c.Edge.BrokerURL = getEnvOrDefault("TSHARE_BROKER_URL", c.Edge.BrokerURL)
	c.Edge.BrokerToken = getEnvOrDefault("TSHARE_AUTH_TOKEN", c.Edge.BrokerToken)
	c.Edge.CookieHashKey = getEnvOrDefault("TSHARE_COOKIE_HASH_KEY", c.Edge.CookieHashKey)
	c.Edge.CookieBlockKey = getEnvOrDefault("TSHARE_COOKIE_BLOCK_KEY", c.Edge.CookieBlockKey)
	c.Client.BrokerURL = getEnvOrDefault("TSHARE_BROKER_URL", c.Client.BrokerURL)
	c.Client.WebURL = getEnvOrDefault("TSHARE_WEB_URL", c.Client.WebURL)
	c.Client.Token = getEnvOrDefault("TSHARE_AUTH_TOKEN", c.Client.Token)
	c.Log.Level = getEnvOrDefault("TSHARE_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvOrDefault("TSHARE_LOG_FORMAT", c.Log.Format)
	c.Log.File = getEnvOrDefault("TSHARE_LOG_FILE", c.Log.File)

	var err error
	if c.Broker.Port, err = parseIntEnv("TSHARE_BROKER_PORT", c.Broker.Port); err != nil {
		return err
	}
	if c.Edge.Port, err = parseIntEnv("TSHARE_EDGE_PORT", c.Edge.Port); err != nil {
		return err
	}
	if c.Broker.HistoryLimit, err = parseIntEnv("TSHARE_HISTORY_LIMIT", c.Broker.HistoryLimit); err != nil {
		return err
	}
	if c.Broker.SessionRetention, err = parseDurationEnv("TSHARE_SESSION_RETENTION", c.Broker.SessionRetention); err != nil {
		return err
	}
	if c.Edge.RejectUnauthenticated, err = parseBoolEnv("TSHARE_REJECT_UNAUTHENTICATED", c.Edge.RejectUnauthenticated); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if err := validPort("broker.port", c.Broker.Port); err != nil {
		errs = append(errs, err)
	}
	if err := validPort("edge.port", c.Edge.Port); err != nil {
		errs = append(errs, err)
	}
	if c.Broker.SubscriberBuffer <= 0 {
		errs = append(errs, fmt.Errorf("broker.subscriber_buffer must be positive"))
	}
	if c.Broker.InputBuffer <= 0 {
		errs = append(errs, fmt.Errorf("broker.input_buffer must be positive"))
	}
	if c.Broker.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("broker.history_limit must not be negative"))
	}
	if c.Broker.BcryptCost != 0 && (c.Broker.BcryptCost < bcrypt.MinCost || c.Broker.BcryptCost > bcrypt.MaxCost) {
		errs = append(errs, fmt.Errorf("broker.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.Broker.SessionRetention < 0 {
		errs = append(errs, fmt.Errorf("broker.session_retention must not be negative"))
	}
	if c.Broker.SessionRetention > 0 && c.Broker.ReapInterval <= 0 {
		errs = append(errs, fmt.Errorf("broker.reap_interval must be positive when session_retention is set"))
	}
	if u, err := url.Parse(c.Edge.BrokerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("edge.broker_url %q must be an http(s) URL", c.Edge.BrokerURL))
	}
	if n := len(c.Edge.CookieBlockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		errs = append(errs, fmt.Errorf("edge.cookie_block_key must be 16, 24 or 32 bytes"))
	}
	if c.Edge.CookieBlockKey != "" && c.Edge.CookieHashKey == "" {
		errs = append(errs, fmt.Errorf("edge.cookie_block_key requires edge.cookie_hash_key"))
	}
	if c.Edge.AuthRate < 0 || c.Edge.AuthBurst < 0 {
		errs = append(errs, fmt.Errorf("edge.auth_rate and edge.auth_burst must not be negative"))
	}
	if c.WebSocket.PingPeriod <= 0 || c.WebSocket.WriteWait <= 0 {
		errs = append(errs, fmt.Errorf("websocket.ping_period and websocket.write_wait must be positive"))
	}
	if c.WebSocket.PongWait <= c.WebSocket.PingPeriod {
		errs = append(errs, fmt.Errorf("websocket.pong_wait (%s) must exceed ping_period (%s)", c.WebSocket.PongWait, c.WebSocket.PingPeriod))
	}
	if c.WebSocket.ReadLimit <= 0 {
		errs = append(errs, fmt.Errorf("websocket.read_limit must be positive"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

func validPort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s %d out of range", name, port)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
