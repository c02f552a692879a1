package consumer

import (
	"fmt"
	"net"
	"strings"
)

const (
	KindKafka = "kafka"
	KindMQTT  = "mqtt"

	defaultKafkaPort = "9092"
	defaultMQTTPort  = "1883"
)

// Config is the broker section of the app config (BROKER_* environment
// variables).
type Config struct {
	Kind    string `yaml:"kind"`
	Host    string `yaml:"host"`
	Topic   string `yaml:"topic"`
	GroupID string `yaml:"group_id"`
}

func (cfg *Config) Validate() error {
	if cfg.Kind != KindKafka && cfg.Kind != KindMQTT {
		return fmt.Errorf("broker kind must be %q or %q, got %q", KindKafka, KindMQTT, cfg.Kind)
	}
	if cfg.Host == "" {
		return fmt.Errorf("broker host must not be empty")
	}
	if cfg.Topic == "" {
		return fmt.Errorf("broker topic must not be empty")
	}
	if cfg.GroupID == "" {
		return fmt.Errorf("broker group_id must not be empty")
	}
	return nil
}

// Addr is the Kafka seed broker address. A bare host gets the default
// Kafka port.
func (cfg *Config) Addr() string {
	return withDefaultPort(cfg.Host, defaultKafkaPort)
}

// MQTTBrokerURL is the broker address in the form the paho client
// expects. A bare host gets the default MQTT port.
func (cfg *Config) MQTTBrokerURL() string {
	return "tcp://" + withDefaultPort(cfg.Host, defaultMQTTPort)
}

func withDefaultPort(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.TrimSuffix(host, ":"), port)
}

// KafkaAuth is the kafka section of the app config (KAFKA_* environment
// variables). All fields are optional; when SecurityProtocol is unset
// the client speaks plaintext TCP without authentication.
type KafkaAuth struct {
	SecurityProtocol string `yaml:"security_protocol"`
	SASLMechanism    string `yaml:"sasl_mechanism"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
}

// MQTTAuth is the mqtt section of the app config (MQTT_* environment
// variables).
type MQTTAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}
