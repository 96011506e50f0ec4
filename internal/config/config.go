package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	SolMate   SolMateConfig   `yaml:"solmate"`
	Authstore AuthstoreConfig `yaml:"authstore"`
	Poll      PollConfig      `yaml:"poll"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Log       LogConfig       `yaml:"log"`
}

// SolMateConfig identifies the device and how to reach it.
type SolMateConfig struct {
	SerialNum string `yaml:"serial_num"`
	URI       string `yaml:"uri"`
	Mode      string `yaml:"mode"` // "remote" or "local"
	DeviceID  string `yaml:"device_id"`
	Password  string `yaml:"password"`
	TimeoutS  int    `yaml:"timeout_seconds"`
}

// AuthstoreConfig holds the token cache file path.
type AuthstoreConfig struct {
	Path string `yaml:"path"`
}

// PollConfig holds the live-value polling cadence.
type PollConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// MQTTConfig holds MQTT broker configuration.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		SolMate: SolMateConfig{
			Mode: "remote",
		},
		Poll: PollConfig{
			IntervalSeconds: 10,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "eet/solmate",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file at path, then overlays
// environment variables. If path is empty, only defaults + env vars are
// used.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
			// file not found is ok, use defaults
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays environment variables on top of the config.
// Env vars take precedence over YAML values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SOLMATE_SERIAL_NUM"); v != "" {
		cfg.SolMate.SerialNum = v
	}
	if v := os.Getenv("SOLMATE_URI"); v != "" {
		cfg.SolMate.URI = v
	}
	if v := os.Getenv("SOLMATE_MODE"); v != "" {
		cfg.SolMate.Mode = v
	}
	if v := os.Getenv("SOLMATE_DEVICE_ID"); v != "" {
		cfg.SolMate.DeviceID = v
	}
	if v := os.Getenv("SOLMATE_PASSWORD"); v != "" {
		cfg.SolMate.Password = v
	}
	if v := os.Getenv("SOLMATE_TIMEOUT_SECONDS"); v != "" {
		cfg.SolMate.TimeoutS = parseInt(v, cfg.SolMate.TimeoutS)
	}
	if v := os.Getenv("SOLMATE_AUTHSTORE_PATH"); v != "" {
		cfg.Authstore.Path = v
	}
	if v := os.Getenv("SOLMATE_POLL_INTERVAL"); v != "" {
		cfg.Poll.IntervalSeconds = parseInt(v, cfg.Poll.IntervalSeconds)
	}
	if v := os.Getenv("SOLMATE_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = parseBool(v)
	}
	if v := os.Getenv("SOLMATE_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("SOLMATE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("SOLMATE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("SOLMATE_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("SOLMATE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SOLMATE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	b, _ := strconv.ParseBool(s)
	return b
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}
