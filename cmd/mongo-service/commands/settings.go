package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	mongoservice "github.com/kinfkong/mongo-service"
	"github.com/kinfkong/mongo-service/eventbus"
	"github.com/spf13/viper"
)

// Bus kinds accepted in bus.kind.
const (
	busMemory = "memory"
	busNATS   = "nats"
	busAMQP   = "amqp"
)

// settings is the CLI configuration. The mongo section is handed to
// mongoservice.Create unchanged.
type settings struct {
	Mongo   mongoservice.Document `mapstructure:"-"`
	Bus     busSettings           `mapstructure:"bus"`
	Metrics metricsSettings       `mapstructure:"metrics"`
	Logging loggingSettings       `mapstructure:"logging"`
	Workers int                   `mapstructure:"workers"`
}

type busSettings struct {
	Kind           string        `mapstructure:"kind"`
	URL            string        `mapstructure:"url"`
	Address        string        `mapstructure:"address"`
	ConnTimeout    time.Duration `mapstructure:"conn_timeout"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

type metricsSettings struct {
	Listen string `mapstructure:"listen"`
}

type loggingSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// mongoKeys are the mongo.* keys that environment variables may set
// without a config file mentioning them.
var mongoKeys = []string{
	"connection_string", "db_name", "host", "port", "username", "password",
	"authSource", "replicaSet", "readPreference", "writeOption", "maxPoolSize",
	"minPoolSize", "operationTimeout",
}

// loadSettings reads the config file, if any, and MONGO_SERVICE_* variables.
func loadSettings(path string) (*settings, error) {
	v := viper.New()
	v.SetEnvPrefix("MONGO_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("bus.kind", busMemory)
	v.SetDefault("bus.address", "mongo.service")
	v.SetDefault("bus.conn_timeout", 5*time.Second)
	v.SetDefault("bus.handler_timeout", 30*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	for _, key := range mongoKeys {
		if err := v.BindEnv("mongo." + key); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	s.Mongo = mongoSection(v)

	switch s.Bus.Kind {
	case busMemory, busNATS, busAMQP:
	default:
		return nil, fmt.Errorf("unknown bus kind %q (want memory, nats or amqp)", s.Bus.Kind)
	}
	if s.Bus.Kind != busMemory && s.Bus.URL == "" {
		return nil, fmt.Errorf("bus.url is required for the %s bus", s.Bus.Kind)
	}
	return &s, nil
}

// mongoSection collects every mongo.* key. Viper lower-cases keys; the
// service configuration matches them case-insensitively.
func mongoSection(v *viper.Viper) mongoservice.Document {
	doc := mongoservice.Document{}
	for _, key := range v.AllKeys() {
		name, ok := strings.CutPrefix(key, "mongo.")
		if !ok {
			continue
		}
		if val := v.Get(key); val != nil && val != "" {
			doc[name] = val
		}
	}
	return doc
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg loggingSettings, out io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(out, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
}

// openBus connects the configured transport.
func openBus(cfg busSettings, logger *slog.Logger) (eventbus.Bus, error) {
	switch cfg.Kind {
	case busNATS:
		bus, err := eventbus.DialNATS(eventbus.NATSConfig{
			URL:            cfg.URL,
			Name:           "mongo-service",
			ConnTimeout:    cfg.ConnTimeout,
			HandlerTimeout: cfg.HandlerTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return bus, nil
	case busAMQP:
		bus, err := eventbus.DialAMQP(eventbus.AMQPConfig{
			URL:            cfg.URL,
			ConnTimeout:    cfg.ConnTimeout,
			HandlerTimeout: cfg.HandlerTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return bus, nil
	case busMemory:
		return eventbus.NewMemory(), nil
	}
	return nil, errors.New("unknown bus kind " + cfg.Kind)
}
