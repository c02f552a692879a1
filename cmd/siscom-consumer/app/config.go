package app

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/drone/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/JesusCabrera84/siscom-consumer/modules/consumer"
	"github.com/JesusCabrera84/siscom-consumer/modules/processor"
	"github.com/JesusCabrera84/siscom-consumer/modules/store"
)

// Config is the whole application configuration. Each section maps to
// the environment through the yaml key path with dots replaced by
// underscores: db.max_connections becomes DB_MAX_CONNECTIONS.
type Config struct {
	Broker     consumer.Config    `yaml:"broker"`
	Kafka      consumer.KafkaAuth `yaml:"kafka"`
	MQTT       consumer.MQTTAuth  `yaml:"mqtt"`
	DB         store.Config       `yaml:"db"`
	Processing processor.Config   `yaml:"processing"`
	Logging    LoggingConfig      `yaml:"logging"`
	Metrics    MetricsConfig      `yaml:"metrics"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables the prometheus endpoint when Port is set.
type MetricsConfig struct {
	Port int `yaml:"port"`
}

func DefaultConfig() *Config {
	return &Config{
		Broker: consumer.Config{
			Kind:    consumer.KindKafka,
			Host:    "127.0.0.1:9092",
			Topic:   "siscom-messages",
			GroupID: "siscom-consumer-group",
		},
		DB: store.Config{
			Host:                  "localhost",
			Port:                  5432,
			Database:              "siscom",
			Username:              "postgres",
			MaxConnections:        20,
			MinConnections:        5,
			ConnectionTimeoutSecs: 30,
			IdleTimeoutSecs:       600,
		},
		Processing: processor.Config{
			WorkerThreads:       4,
			MessageBufferSize:   10000,
			BatchProcessingSize: 100,
			FlushInterval:       5000 * time.Millisecond,
			MaxParallelDevices:  50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func (cfg *Config) Validate() error {
	if err := cfg.Broker.Validate(); err != nil {
		return err
	}
	if err := cfg.DB.Validate(); err != nil {
		return err
	}
	if err := cfg.Processing.Validate(); err != nil {
		return err
	}
	if cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535 {
		return fmt.Errorf("metrics port must be in [0, 65535], got %d", cfg.Metrics.Port)
	}
	return nil
}

// LoadConfig builds the effective configuration: defaults, then the
// optional yaml file, then the environment on top. When expandEnv is
// set, ${VAR} references in the file are expanded before parsing.
func LoadConfig(configFile string, expandEnv bool) (*Config, error) {
	// viper will not unmarshal from the environment alone
	// (spf13/viper#188), so the defaults are marshalled to yaml and
	// merged first to make every key known.
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, errors.Wrap(err, "marshalling default config")
	}
	if err := v.MergeConfig(bytes.NewReader(defaults)); err != nil {
		return nil, errors.Wrap(err, "merging default config")
	}

	if configFile != "" {
		buff, err := os.ReadFile(configFile)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", configFile)
		}
		if expandEnv {
			expanded, err := envsubst.EvalEnv(string(buff))
			if err != nil {
				return nil, errors.Wrapf(err, "expanding env in config file %s", configFile)
			}
			buff = []byte(expanded)
		}
		if err := v.MergeConfig(bytes.NewReader(buff)); err != nil {
			return nil, errors.Wrapf(err, "parsing config file %s", configFile)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	cfg := &Config{}
	if err := v.Unmarshal(cfg, setTagName); err != nil {
		return nil, errors.Wrap(err, "unmarshalling config")
	}
	return cfg, nil
}

func setTagName(d *mapstructure.DecoderConfig) {
	d.TagName = "yaml"
}
