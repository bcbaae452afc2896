package mongoservice

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultDBName, cfg.DBName)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultOperationTimeout, cfg.OperationTimeout)
	assert.Equal(t, "mongodb://localhost:27017", cfg.URI())
}

func TestParseConfig_ConnectionString(t *testing.T) {
	cfg, err := ParseConfig(Document{
		"connection_string": "mongodb://db1.example.com:27018/inventory?w=majority",
	})
	require.NoError(t, err)

	assert.Equal(t, "inventory", cfg.DBName)
	assert.Empty(t, cfg.Host)
	assert.Equal(t, "mongodb://db1.example.com:27018/inventory?w=majority", cfg.URI())

	cfg, err = ParseConfig(Document{
		"connection_string": "mongodb://db1.example.com/inventory",
		"db_name":           "orders",
	})
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.DBName)
}

func TestParseConfig_Values(t *testing.T) {
	cfg, err := ParseConfig(Document{
		"host":                     "mongo",
		"port":                     "27019",
		"db_name":                  "shop",
		"username":                 "app",
		"password":                 "secret",
		"authSource":               "admin",
		"replicaSet":               "rs0",
		"readPreference":           "secondaryPreferred",
		"writeOption":              "MAJORITY",
		"maxPoolSize":              50,
		"minPoolSize":              5,
		"maxIdleTimeMS":            60000,
		"connectTimeoutMS":         2000,
		"serverSelectionTimeoutMS": 3000,
		"operationTimeout":         "5s",
		"retryWrites":              true,
	})
	require.NoError(t, err)

	assert.Equal(t, "mongodb://mongo:27019", cfg.URI())
	assert.Equal(t, Majority, cfg.WriteOption)
	assert.Equal(t, uint64(50), cfg.MaxPoolSize)
	assert.Equal(t, 5*time.Second, cfg.OperationTimeout)
	require.NotNil(t, cfg.RetryWrites)
	assert.True(t, *cfg.RetryWrites)
	assert.Equal(t, readpref.SecondaryPreferredMode, cfg.readPreference().Mode())

	opts := cfg.clientOptions()
	require.NotNil(t, opts.Auth)
	assert.Equal(t, "app", opts.Auth.Username)
	assert.Equal(t, "admin", opts.Auth.AuthSource)
	assert.Equal(t, "rs0", *opts.ReplicaSet)
	assert.Equal(t, uint64(50), *opts.MaxPoolSize)
	assert.Equal(t, uint64(5), *opts.MinPoolSize)
	assert.Equal(t, time.Minute, *opts.MaxConnIdleTime)
	assert.Equal(t, 2*time.Second, *opts.ConnectTimeout)
	assert.Equal(t, 3*time.Second, *opts.ServerSelectionTimeout)
	assert.True(t, *opts.RetryWrites)
	assert.NotNil(t, opts.WriteConcern)
}

func TestParseConfig_RetryWritesOffByDefault(t *testing.T) {
	cfg, err := ParseConfig(Document{"db_name": "shop"})
	require.NoError(t, err)

	opts := cfg.clientOptions()
	require.NotNil(t, opts.RetryWrites)
	assert.False(t, *opts.RetryWrites)
	assert.Nil(t, opts.Auth)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
	}{
		{"bad scheme", Document{"connection_string": "postgres://localhost"}},
		{"bad db name", Document{"db_name": "a.b"}},
		{"port out of range", Document{"port": 70000}},
		{"port not a number", Document{"port": "http"}},
		{"read preference", Document{"readPreference": "closest"}},
		{"write option", Document{"writeOption": "majority"}},
		{"timeout", Document{"operationTimeout": "soon"}},
		{"negative timeout", Document{"connectTimeoutMS": -1}},
		{"negative socket timeout", Document{"socketTimeoutMS": -1}},
		{"negative w", Document{"w": -1}},
		{"w not a value", Document{"w": []interface{}{1}}},
		{"compressor", Document{"compressors": []string{"lz4"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(tt.doc)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestParseConfig_ClientKeys(t *testing.T) {
	cfg, err := ParseConfig(Document{
		"socketTimeoutMS":      4000,
		"heartbeatFrequencyMS": 15000,
		"localThresholdMS":     20,
		"maxConnecting":        3,
		"appName":              "orders",
		"compressors":          []string{"zstd", "snappy"},
		"directConnection":     true,
		"w":                    "majority",
		"j":                    true,
		"wtimeoutMS":           2500,
	})
	require.NoError(t, err)
	assert.Empty(t, cfg.IgnoredKeys)

	opts := cfg.clientOptions()
	assert.Equal(t, 4*time.Second, *opts.SocketTimeout)
	assert.Equal(t, 15*time.Second, *opts.HeartbeatInterval)
	assert.Equal(t, 20*time.Millisecond, *opts.LocalThreshold)
	assert.Equal(t, uint64(3), *opts.MaxConnecting)
	assert.Equal(t, "orders", *opts.AppName)
	assert.Equal(t, []string{"zstd", "snappy"}, opts.Compressors)
	assert.True(t, *opts.Direct)

	require.NotNil(t, opts.WriteConcern)
	assert.Equal(t, "majority", opts.WriteConcern.W)
	require.NotNil(t, opts.WriteConcern.Journal)
	assert.True(t, *opts.WriteConcern.Journal)
	assert.Equal(t, 2500*time.Millisecond, opts.WriteConcern.WTimeout)
}

func TestParseConfig_WriteConcernKeys(t *testing.T) {
	tests := []struct {
		name string
		w    interface{}
		want interface{}
	}{
		{"int", 2, 2},
		{"int64", int64(0), 0},
		{"float", float64(3), 3},
		{"numeric string", "1", 1},
		{"tag", "dc-east", "dc-east"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig(Document{"w": tt.w})
			require.NoError(t, err)
			wc, err := cfg.writeConcern()
			require.NoError(t, err)
			require.NotNil(t, wc)
			assert.Equal(t, tt.want, wc.W)
		})
	}

	t.Run("WriteOptionWins", func(t *testing.T) {
		cfg, err := ParseConfig(Document{"writeOption": "UNACKNOWLEDGED", "w": 2})
		require.NoError(t, err)
		wc, err := cfg.writeConcern()
		require.NoError(t, err)
		assert.Equal(t, Unacknowledged.writeConcern(), wc)
	})

	t.Run("NoneConfigured", func(t *testing.T) {
		cfg, err := ParseConfig(Document{"db_name": "shop"})
		require.NoError(t, err)
		wc, err := cfg.writeConcern()
		require.NoError(t, err)
		assert.Nil(t, wc)
		assert.Nil(t, cfg.clientOptions().WriteConcern)
	})
}

func TestParseConfig_UnknownKeysIgnored(t *testing.T) {
	cfg, err := ParseConfig(Document{
		"db_name":            "shop",
		"colour":             "blue",
		"maxLifeTimeMS":      600000,
		"waitQueueTimeoutMS": 1000,
	})
	require.NoError(t, err)

	assert.Equal(t, "shop", cfg.DBName)
	assert.Equal(t, []string{"colour", "maxLifeTimeMS", "waitQueueTimeoutMS"}, cfg.IgnoredKeys)
}

func TestCreate_WarnsOnUnknownKeys(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlatform(WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	defer p.Close()

	_, err := Create(p, Document{"maxLifeTimeMS": 600000})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "ignoring unknown mongo config keys")
	assert.Contains(t, buf.String(), "maxLifeTimeMS")
}
