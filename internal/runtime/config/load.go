package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvPubSubSystem = "SPARKED_PUBSUB_SYSTEM"
	EnvNATSURL      = "SPARKED_NATS_URL"
	EnvRabbitMQURL  = "SPARKED_RABBITMQ_URL"
	EnvKafkaBrokers = "SPARKED_KAFKA_BROKERS"
)

// Load reads a YAML config file, applies environment overrides and
// defaults. It does not validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into a Config. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	ApplyEnvOverrides(cfg, os.Getenv)
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyEnvOverrides replaces transport settings with non-empty environment
// values looked up through getenv.
func ApplyEnvOverrides(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvPubSubSystem)); v != "" {
		cfg.PubSubSystem = v
	}
	if v := strings.TrimSpace(getenv(EnvNATSURL)); v != "" {
		cfg.NATSURL = v
	}
	if v := strings.TrimSpace(getenv(EnvRabbitMQURL)); v != "" {
		cfg.RabbitMQURL = v
	}
	if v := strings.TrimSpace(getenv(EnvKafkaBrokers)); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		cfg.KafkaBrokers = brokers
	}
}
