package config

import (
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalRequiredConfig provides the Redis config needed for all tests
func minimalRequiredConfig() map[string]string {
	return map[string]string{
		"BIFROST_REDIS_HOST":     "localhost",
		"BIFROST_REDIS_PORT":     "6379",
		"BIFROST_REDIS_PASSWORD": "redis_password_123",
	}
}

// mergeEnvVars merges additional env vars with minimal required config
func mergeEnvVars(additional map[string]string) map[string]string {
	result := minimalRequiredConfig()
	maps.Copy(result, additional)
	return result
}

// validProductionConfig returns a complete valid production configuration
// with all required Redis and API server settings for production tests
func validProductionConfig() map[string]string {
	return map[string]string{
		// App
		"BIFROST_APP_ENV": "production",

		// Redis
		"BIFROST_REDIS_HOST":        "prod-redis.example.com",
		"BIFROST_REDIS_PORT":        "6379",
		"BIFROST_REDIS_PASSWORD":    "RedisSecure123!",
		"BIFROST_REDIS_TLS_ENABLED": "true",

		// API server
		"BIFROST_SERVER_API_KEY_HASH":  "5dec7e1c36e8ec7f526cfa8ff6dc788daad76f6dd34467662eb47990dca6b55d",
		"BIFROST_SERVER_TLS_ENABLED":   "true",
		"BIFROST_SERVER_TLS_CERT_FILE": "/certs/api-cert.pem",
		"BIFROST_SERVER_TLS_KEY_FILE":  "/certs/api-key.pem",
	}
}

func runLoadCases(t *testing.T, tests []loadCase) {
	t.Helper()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// t.Setenv prevents parallel execution and cleans up after the test
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want != nil {
				tt.want(t, cfg)
			}
		})
	}
}

type loadCase struct {
	name    string
	envVars map[string]string
	want    func(t *testing.T, cfg *Config)
	wantErr bool
}

func TestLoad(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name:    "Should use defaults when no env vars are set",
			envVars: minimalRequiredConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "bifrost", cfg.App.Name)
				assert.Equal(t, "dev", cfg.App.Version)
				assert.Equal(t, "development", cfg.App.Environment)
				assert.Equal(t, "info", cfg.App.LogLevel)
				assert.Equal(t, "text", cfg.App.LogFormat)
				assert.Equal(t, 30*time.Second, cfg.App.ShutdownTimeout)
				assert.Equal(t, "8080", cfg.Server.Port)
				assert.Equal(t, StorageTypeRedis, cfg.Storage.Type)
				assert.Equal(t, 10, cfg.Evaluator.MaxDependencyDepth)
				assert.Equal(t, RecorderSinkRedis, cfg.Recorder.Sink)
				assert.Equal(t, "9090", cfg.Observability.Port)
			},
		},
		{
			name: "Should load all custom environment variables correctly",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_APP_NAME":                       "test-app",
				"BIFROST_APP_VERSION":                    "1.0.0",
				"BIFROST_APP_ENV":                        "staging",
				"BIFROST_APP_LOG_LEVEL":                  "debug",
				"BIFROST_APP_LOG_FORMAT":                 "json",
				"BIFROST_APP_SHUTDOWN_TIMEOUT":           "60s",
				"BIFROST_SERVER_PORT":                    "8181",
				"BIFROST_EVALUATOR_MAX_DEPENDENCY_DEPTH": "4",
				"BIFROST_RECORDER_MACHINE_NAME":          "node-a",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "test-app", cfg.App.Name)
				assert.Equal(t, "1.0.0", cfg.App.Version)
				assert.Equal(t, "staging", cfg.App.Environment)
				assert.Equal(t, "debug", cfg.App.LogLevel)
				assert.Equal(t, "json", cfg.App.LogFormat)
				assert.Equal(t, 60*time.Second, cfg.App.ShutdownTimeout)
				assert.Equal(t, "8181", cfg.Server.Port)
				assert.Equal(t, "0.0.0.0:8181", cfg.Server.Address())
				assert.Equal(t, 4, cfg.Evaluator.MaxDependencyDepth)
				assert.Equal(t, "node-a", cfg.Recorder.MachineName)
			},
		},
		{
			name: "Should fail validation on invalid environment value",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_APP_ENV": "invalid",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation on invalid log level",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_APP_LOG_LEVEL": "trace",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation on invalid log format",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_APP_LOG_FORMAT": "xml",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation on dependency depth below one",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_EVALUATOR_MAX_DEPENDENCY_DEPTH": "0",
			}),
			wantErr: true,
		},
		{
			name:    "Should accept a complete production configuration",
			envVars: validProductionConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, EnvironmentProduction, cfg.App.Environment)
				assert.True(t, cfg.Server.TLSEnabled)
			},
		},
	})
}

func TestStorageConfig_Load(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name: "Should run without Redis on memory storage and log sink",
			envVars: map[string]string{
				"BIFROST_STORAGE_TYPE":             "Memory",
				"BIFROST_STORAGE_DEFINITIONS_FILE": "/etc/bifrost/flags.json",
				"BIFROST_RECORDER_SINK":            "log",
			},
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, StorageTypeMemory, cfg.Storage.Type)
				assert.False(t, cfg.NeedsRedis())
				assert.False(t, cfg.Redis.IsConfigured())
			},
		},
		{
			name: "Should require Redis when the recorder writes to it",
			envVars: map[string]string{
				"BIFROST_STORAGE_TYPE":             "memory",
				"BIFROST_STORAGE_DEFINITIONS_FILE": "/etc/bifrost/flags.json",
			},
			wantErr: true,
		},
		{
			name: "Should require a definitions file for memory storage",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_STORAGE_TYPE": "memory",
			}),
			wantErr: true,
		},
		{
			name: "Should reject unknown storage types",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_STORAGE_TYPE": "etcd",
			}),
			wantErr: true,
		},
		{
			name: "Should load L1 settings",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_STORAGE_PREFIX":         "app",
				"BIFROST_STORAGE_L1_CAPACITY":    "50",
				"BIFROST_STORAGE_L1_TTL":         "2s",
				"BIFROST_STORAGE_LOOKUP_TIMEOUT": "100ms",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "app", cfg.Storage.Prefix)
				assert.Equal(t, 50, cfg.Storage.L1Capacity)
				assert.Equal(t, 2*time.Second, cfg.Storage.L1TTL)
				assert.Equal(t, 100*time.Millisecond, cfg.Storage.LookupTimeout)
			},
		},
		{
			name: "Should load the definitions refresh interval",
			envVars: map[string]string{
				"BIFROST_STORAGE_TYPE":                "memory",
				"BIFROST_STORAGE_DEFINITIONS_FILE":    "/etc/bifrost/flags.json",
				"BIFROST_STORAGE_DEFINITIONS_REFRESH": "30s",
				"BIFROST_RECORDER_SINK":               "log",
			},
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 30*time.Second, cfg.Storage.DefinitionsRefresh)
			},
		},
		{
			name: "Should reject a sub-second definitions refresh",
			envVars: map[string]string{
				"BIFROST_STORAGE_TYPE":                "memory",
				"BIFROST_STORAGE_DEFINITIONS_FILE":    "/etc/bifrost/flags.json",
				"BIFROST_STORAGE_DEFINITIONS_REFRESH": "100ms",
				"BIFROST_RECORDER_SINK":               "log",
			},
			wantErr: true,
		},
		{
			name: "Should reject a zero TTL with the L1 enabled",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_STORAGE_L1_TTL": "0s",
			}),
			wantErr: true,
		},
	})
}

func TestImpressionsConfig_Load(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name:    "Should default to optimized mode with standard sizes",
			envVars: minimalRequiredConfig(),
			want: func(t *testing.T, cfg *Config) {
				imp := cfg.Impressions
				assert.Equal(t, ImpressionsModeOptimized, imp.Mode)
				assert.Equal(t, 10000, imp.QueueSize)
				assert.Equal(t, 60*time.Second, imp.RefreshRate)
				assert.Equal(t, 5000, imp.BulkSize)
				assert.Equal(t, 500000, imp.DedupCacheSize)
				assert.Equal(t, 30*time.Minute, imp.CountRefreshRate)
				assert.Equal(t, 15*time.Minute, imp.UniqueKeysRefreshRate)
				assert.Equal(t, 30000, imp.UniqueKeysMaxCacheSize)
				assert.Equal(t, uint(10_000_000), imp.FilterExpectedElements)
				assert.InDelta(t, 0.01, imp.FilterFalsePositiveRate, 1e-9)
				assert.Equal(t, 24*time.Hour, imp.FilterResetInterval)
			},
		},
		{
			name: "Should normalize the mode",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_IMPRESSIONS_MODE":         " DEBUG ",
				"BIFROST_IMPRESSIONS_REFRESH_RATE": "1s",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ImpressionsModeDebug, cfg.Impressions.Mode)
				assert.Equal(t, time.Second, cfg.Impressions.EffectiveRefreshRate())
			},
		},
		{
			name: "Should raise short refresh rates in optimized mode",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_IMPRESSIONS_REFRESH_RATE": "5s",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 60*time.Second, cfg.Impressions.EffectiveRefreshRate())
			},
		},
		{
			name: "Should reject unknown modes",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_IMPRESSIONS_MODE": "verbose",
			}),
			wantErr: true,
		},
		{
			name: "Should reject sub-second periods",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_IMPRESSIONS_COUNT_REFRESH_RATE": "500ms",
			}),
			wantErr: true,
		},
		{
			name: "Should reject a false positive rate of one",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_IMPRESSIONS_FILTER_FALSE_POSITIVE_RATE": "1",
			}),
			wantErr: true,
		},
	})
}

func TestServerConfig_Load(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name: "Should fail validation when API key hash missing in production",
			envVars: func() map[string]string {
				cfg := validProductionConfig()
				delete(cfg, "BIFROST_SERVER_API_KEY_HASH")
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "Should fail validation when TLS disabled in production",
			envVars: func() map[string]string {
				cfg := validProductionConfig()
				cfg["BIFROST_SERVER_TLS_ENABLED"] = "false"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "Should fail validation on malformed API key hash",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_SERVER_API_KEY_HASH": "not-a-hash",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation when TLS lacks a certificate",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_SERVER_TLS_ENABLED": "true",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation on host with whitespace",
			envVars: mergeEnvVars(map[string]string{
				"BIFROST_SERVER_HOST": " 0.0.0.0",
			}),
			wantErr: true,
		},
	})
}
