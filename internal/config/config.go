package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"
)

// Delivery mechanisms.
const (
	DeliveryScript = "script"
	DeliveryIframe = "iframe"
	DeliverySocket = "socket"
)

// Device profiles. Touch kiosks do not treat pointer signals as activity.
const (
	DeviceDesktop = "desktop"
	DeviceTouch   = "touch"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Idle      IdleConfig      `yaml:"idle"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`
}

type SessionConfig struct {
	Delivery         string        `yaml:"delivery"`
	ProjectID        string        `yaml:"project_id"`
	ProjectKey       string        `yaml:"project_key"`
	EmbedURL         string        `yaml:"embed_url"`
	SocketURL        string        `yaml:"socket_url"`
	ProvisionTimeout time.Duration `yaml:"provision_timeout"`
	DownloadDir      string        `yaml:"download_dir"`
	Player           PlayerConfig  `yaml:"player"`
}

type PlayerConfig struct {
	IdleTimeout       int  `yaml:"idle_timeout"`
	CaptureMouse      bool `yaml:"capture_mouse"`
	EventsPassthrough bool `yaml:"events_passthrough"`
	HideUIControls    bool `yaml:"hide_ui_controls"`
	Autoplay          bool `yaml:"autoplay"`
}

type WatchdogConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Device   string        `yaml:"device"`
	Debounce time.Duration `yaml:"debounce"`
}

type IdleConfig struct {
	VideoURL string `yaml:"video_url"`
}

type BroadcastConfig struct {
	Throttle         time.Duration `yaml:"throttle"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Debug reports whether verbose event logging is on.
func (c LogConfig) Debug() bool { return c.Level == "debug" }

// credentials are the secrets that may come from the environment instead of
// the config file.
type credentials struct {
	ProjectID  string `env:"KIOSK_PROJECT_ID"`
	ProjectKey string `env:"KIOSK_PROJECT_KEY"`
	AuthToken  string `env:"KIOSK_AUTH_TOKEN"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "127.0.0.1",
			MaxConnections: 16,
		},
		Session: SessionConfig{
			Delivery:         DeliveryScript,
			ProvisionTimeout: 15 * time.Second,
			Player: PlayerConfig{
				IdleTimeout:       200,
				CaptureMouse:      false,
				EventsPassthrough: true,
				HideUIControls:    true,
				Autoplay:          true,
			},
		},
		Watchdog: WatchdogConfig{
			Timeout:  25 * time.Second,
			Device:   DeviceDesktop,
			Debounce: 16 * time.Millisecond,
		},
		Broadcast: BroadcastConfig{
			Throttle:         50 * time.Millisecond,
			SnapshotInterval: 5 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, but a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("config: %s not found, using defaults", path)
		return defaultConfig(), nil
	}
	return cfg, err
}

// ApplyEnv overlays credentials from the environment. Variables from
// dotenvPath are loaded first when the file exists; they never override
// variables already set.
func (c *Config) ApplyEnv(dotenvPath string) error {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", dotenvPath, err)
		}
	}

	var creds credentials
	if err := env.Load(&creds, nil); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	if creds.ProjectID != "" {
		c.Session.ProjectID = creds.ProjectID
	}
	if creds.ProjectKey != "" {
		c.Session.ProjectKey = creds.ProjectKey
	}
	if creds.AuthToken != "" {
		c.Server.AuthToken = creds.AuthToken
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	switch c.Session.Delivery {
	case DeliveryScript, DeliveryIframe:
		if !hasHost(c.Session.EmbedURL, "http", "https") {
			errs = append(errs, fmt.Errorf("session.embed_url %q must be an http(s) URL for %s delivery", c.Session.EmbedURL, c.Session.Delivery))
		}
	case DeliverySocket:
		if !hasHost(c.Session.SocketURL, "ws", "wss") {
			errs = append(errs, fmt.Errorf("session.socket_url %q must be a ws(s) URL", c.Session.SocketURL))
		}
	default:
		errs = append(errs, fmt.Errorf("session.delivery %q must be one of script, iframe, socket", c.Session.Delivery))
	}
	if c.Session.ProvisionTimeout <= 0 {
		errs = append(errs, errors.New("session.provision_timeout must be positive"))
	}

	if c.Watchdog.Timeout <= 0 {
		errs = append(errs, errors.New("watchdog.timeout must be positive"))
	}
	if c.Watchdog.Debounce < 0 || c.Watchdog.Debounce >= c.Watchdog.Timeout {
		errs = append(errs, fmt.Errorf("watchdog.debounce %s must be in [0, timeout)", c.Watchdog.Debounce))
	}
	if c.Watchdog.Device != DeviceDesktop && c.Watchdog.Device != DeviceTouch {
		errs = append(errs, fmt.Errorf("watchdog.device %q must be desktop or touch", c.Watchdog.Device))
	}

	if c.Broadcast.Throttle < 0 {
		errs = append(errs, fmt.Errorf("broadcast.throttle %s must not be negative", c.Broadcast.Throttle))
	}
	if c.Broadcast.SnapshotInterval <= 0 {
		errs = append(errs, errors.New("broadcast.snapshot_interval must be positive"))
	}

	if c.Log.Level != "info" && c.Log.Level != "debug" {
		errs = append(errs, fmt.Errorf("log.level %q must be info or debug", c.Log.Level))
	}
	return errors.Join(errs...)
}

func hasHost(raw string, schemes ...string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return true
		}
	}
	return false
}

// GenerateToken returns a random 32 hex character token.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
