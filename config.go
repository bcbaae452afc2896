// config.go - Service configuration decoded from a generic document

package mongoservice

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const (
	DefaultDBName           = "default_db"
	DefaultHost             = "localhost"
	DefaultPort             = 27017
	DefaultOperationTimeout = 30 * time.Second
)

// Config is the driver-backed service configuration. Keys follow the
// document form accepted by Create.
type Config struct {
	// ConnectionString, when set, takes precedence over Host and Port.
	ConnectionString string `mapstructure:"connection_string" validate:"omitempty,startswith=mongodb"`
	DBName           string `mapstructure:"db_name" validate:"required,excludesall=/.$"`

	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`

	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	AuthSource    string `mapstructure:"authSource"`
	AuthMechanism string `mapstructure:"authMechanism"`

	ReplicaSet     string      `mapstructure:"replicaSet"`
	ReadPreference string      `mapstructure:"readPreference" validate:"omitempty,oneof=primary primaryPreferred secondary secondaryPreferred nearest"`
	WriteOption    WriteOption `mapstructure:"writeOption"`

	// W, J and WTimeoutMS form the client write concern when WriteOption
	// is empty. W is a node count or a tag such as "majority".
	W          interface{} `mapstructure:"w"`
	J          *bool       `mapstructure:"j"`
	WTimeoutMS int64       `mapstructure:"wtimeoutMS" validate:"gte=0"`

	AppName          string   `mapstructure:"appName"`
	Compressors      []string `mapstructure:"compressors" validate:"dive,oneof=snappy zlib zstd"`
	DirectConnection *bool    `mapstructure:"directConnection"`

	MaxPoolSize              uint64 `mapstructure:"maxPoolSize"`
	MinPoolSize              uint64 `mapstructure:"minPoolSize"`
	MaxConnecting            uint64 `mapstructure:"maxConnecting"`
	MaxIdleTimeMS            int64  `mapstructure:"maxIdleTimeMS" validate:"gte=0"`
	ConnectTimeoutMS         int64  `mapstructure:"connectTimeoutMS" validate:"gte=0"`
	SocketTimeoutMS          int64  `mapstructure:"socketTimeoutMS" validate:"gte=0"`
	ServerSelectionTimeoutMS int64  `mapstructure:"serverSelectionTimeoutMS" validate:"gte=0"`
	HeartbeatFrequencyMS     int64  `mapstructure:"heartbeatFrequencyMS" validate:"gte=0"`
	LocalThresholdMS         int64  `mapstructure:"localThresholdMS" validate:"gte=0"`

	// OperationTimeout bounds every single operation ("30s", "1m", or nanoseconds).
	OperationTimeout time.Duration `mapstructure:"operationTimeout" validate:"gte=0"`
	// RetryWrites defaults to false so standalone servers accept writes.
	RetryWrites *bool `mapstructure:"retryWrites"`

	// IgnoredKeys lists configuration keys that have no meaning here.
	IgnoredKeys []string `mapstructure:"-"`
}

var validate = validator.New()

// ParseConfig decodes, defaults and validates a service configuration.
// Unknown keys are collected in IgnoredKeys.
func ParseConfig(doc Document) (*Config, error) {
	cfg := &Config{}
	if doc != nil {
		unused, err := decode(doc, cfg, false)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		cfg.IgnoredKeys = unused
	}
	applyDefaults(cfg)
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := cfg.writeConcern(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DBName == "" && cfg.ConnectionString != "" {
		cfg.DBName = dbNameFromURI(cfg.ConnectionString)
	}
	if cfg.DBName == "" {
		cfg.DBName = DefaultDBName
	}
	if cfg.ConnectionString == "" {
		if cfg.Host == "" {
			cfg.Host = DefaultHost
		}
		if cfg.Port == 0 {
			cfg.Port = DefaultPort
		}
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
}

// dbNameFromURI extracts the default database from the URI path.
func dbNameFromURI(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Path == "" {
		return ""
	}
	return strings.TrimPrefix(parsed.Path, "/")
}

// URI is the connection string the client dials.
func (c *Config) URI() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return "mongodb://" + c.Host + ":" + strconv.Itoa(c.Port)
}

// readPreference converts the configured mode to the driver's read preference.
func (c *Config) readPreference() *readpref.ReadPref {
	switch c.ReadPreference {
	case "primaryPreferred":
		return readpref.PrimaryPreferred()
	case "secondary":
		return readpref.Secondary()
	case "secondaryPreferred":
		return readpref.SecondaryPreferred()
	case "nearest":
		return readpref.Nearest()
	default:
		return readpref.Primary()
	}
}

// clientOptions builds driver options. Explicit keys override the
// corresponding connection string parameters.
func (c *Config) clientOptions() *options.ClientOptions {
	opts := options.Client().ApplyURI(c.URI())

	if c.Username != "" {
		cred := options.Credential{
			Username:      c.Username,
			Password:      c.Password,
			AuthSource:    c.AuthSource,
			AuthMechanism: c.AuthMechanism,
		}
		opts.SetAuth(cred)
	}
	if c.ReplicaSet != "" {
		opts.SetReplicaSet(c.ReplicaSet)
	}
	if c.ReadPreference != "" {
		opts.SetReadPreference(c.readPreference())
	}
	if wc, _ := c.writeConcern(); wc != nil {
		opts.SetWriteConcern(wc)
	}
	if c.AppName != "" {
		opts.SetAppName(c.AppName)
	}
	if len(c.Compressors) > 0 {
		opts.SetCompressors(c.Compressors)
	}
	if c.DirectConnection != nil {
		opts.SetDirect(*c.DirectConnection)
	}
	if c.MaxConnecting > 0 {
		opts.SetMaxConnecting(c.MaxConnecting)
	}
	if c.SocketTimeoutMS > 0 {
		opts.SetSocketTimeout(time.Duration(c.SocketTimeoutMS) * time.Millisecond)
	}
	if c.HeartbeatFrequencyMS > 0 {
		opts.SetHeartbeatInterval(time.Duration(c.HeartbeatFrequencyMS) * time.Millisecond)
	}
	if c.LocalThresholdMS > 0 {
		opts.SetLocalThreshold(time.Duration(c.LocalThresholdMS) * time.Millisecond)
	}
	if c.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(c.MaxPoolSize)
	}
	if c.MinPoolSize > 0 {
		opts.SetMinPoolSize(c.MinPoolSize)
	}
	if c.MaxIdleTimeMS > 0 {
		opts.SetMaxConnIdleTime(time.Duration(c.MaxIdleTimeMS) * time.Millisecond)
	}
	if c.ConnectTimeoutMS > 0 {
		opts.SetConnectTimeout(time.Duration(c.ConnectTimeoutMS) * time.Millisecond)
	}
	if c.ServerSelectionTimeoutMS > 0 {
		opts.SetServerSelectionTimeout(time.Duration(c.ServerSelectionTimeoutMS) * time.Millisecond)
	}
	if c.RetryWrites != nil {
		opts.SetRetryWrites(*c.RetryWrites)
	} else {
		opts.SetRetryWrites(false)
	}
	return opts
}

// writeConcern is the client write concern: WriteOption when set, otherwise
// the one formed by W, J and WTimeoutMS. It is nil when none is configured.
func (c *Config) writeConcern() (*writeconcern.WriteConcern, error) {
	if wc := c.WriteOption.writeConcern(); wc != nil {
		return wc, nil
	}
	if c.W == nil && c.J == nil && c.WTimeoutMS == 0 {
		return nil, nil
	}

	wc := &writeconcern.WriteConcern{
		Journal:  c.J,
		WTimeout: time.Duration(c.WTimeoutMS) * time.Millisecond,
	}
	switch w := c.W.(type) {
	case nil:
	case string:
		if n, err := strconv.Atoi(w); err == nil {
			wc.W = n
		} else {
			wc.W = w
		}
	case int:
		wc.W = w
	case int32:
		wc.W = int(w)
	case int64:
		wc.W = int(w)
	case float64:
		wc.W = int(w)
	case json.Number:
		n, err := w.Int64()
		if err != nil {
			return nil, fmt.Errorf("w: %w", err)
		}
		wc.W = int(n)
	default:
		return nil, fmt.Errorf("w: unsupported value %v", c.W)
	}
	if n, ok := wc.W.(int); ok && n < 0 {
		return nil, fmt.Errorf("w: negative value %d", n)
	}
	return wc, nil
}

// durationDecodeHook converts strings like "30s" and raw numbers
// (nanoseconds) to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
