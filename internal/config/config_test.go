package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	defaultBroker   = "localhost:9092"
	testMapboxToken = "pk.test-token"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "seismic-waveforms", cfg.KafkaWaveformTopic)
	assert.Equal(t, "quake-events", cfg.KafkaEventTopic)
	assert.Equal(t, "quake-detect", cfg.KafkaGroupID)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchFlushInterval)
	assert.Equal(t, "quake.db", cfg.StationsDBPath)
	assert.Empty(t, cfg.TravelTimeTable)
	assert.InDelta(t, 300.0, cfg.NearbyStationKm, 1e-9)
	assert.InDelta(t, 1000.0, cfg.PWaveInaccuracyMs, 1e-9)
	assert.InDelta(t, 40.0, cfg.CorrectnessThreshold, 1e-9)
	assert.Equal(t, 5, cfg.MinStations)
	assert.Equal(t, 40, cfg.MaxEvents)
	assert.InDelta(t, 40.0, cfg.Resolution, 1e-9)
	assert.True(t, cfg.ReduceRevisions)
	assert.False(t, cfg.MQTTEnabled())
	assert.Equal(t, "quakes", cfg.MQTTTopic)
	assert.False(t, cfg.MapboxEnabled)
	assert.Empty(t, cfg.MapboxToken)
	assert.Equal(t, 5*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, time.Hour, cfg.MapboxCacheTTL)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_WAVEFORM_TOPIC", "custom-waveforms")
	t.Setenv("KAFKA_EVENT_TOPIC", "custom-events")
	t.Setenv("KAFKA_GROUP_ID", "custom-group")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("BATCH_SIZE", "100")
	t.Setenv("BATCH_FLUSH_INTERVAL", "1s")
	t.Setenv("STATIONS_DB_PATH", "/var/lib/quake/stations.db")
	t.Setenv("TRAVEL_TIME_TABLE", "/etc/quake/iasp91.csv")
	t.Setenv("NEARBY_STATION_KM", "250")
	t.Setenv("P_WAVE_INACCURACY_MS", "1500")
	t.Setenv("CORRECTNESS_THRESHOLD", "55")
	t.Setenv("MIN_STATIONS", "7")
	t.Setenv("MAX_EVENTS", "60")
	t.Setenv("HYPOCENTER_RESOLUTION", "80")
	t.Setenv("REDUCE_REVISIONS", "false")
	t.Setenv("MQTT_BROKER", "tcp://mqtt:1883")
	t.Setenv("MQTT_TOPIC", "alerts")
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_TIMEOUT", "10s")
	t.Setenv("MAPBOX_CACHE_TTL", "30m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-waveforms", cfg.KafkaWaveformTopic)
	assert.Equal(t, "custom-events", cfg.KafkaEventTopic)
	assert.Equal(t, "custom-group", cfg.KafkaGroupID)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 1*time.Second, cfg.BatchFlushInterval)
	assert.Equal(t, "/var/lib/quake/stations.db", cfg.StationsDBPath)
	assert.Equal(t, "/etc/quake/iasp91.csv", cfg.TravelTimeTable)
	assert.InDelta(t, 250.0, cfg.NearbyStationKm, 1e-9)
	assert.InDelta(t, 1500.0, cfg.PWaveInaccuracyMs, 1e-9)
	assert.InDelta(t, 55.0, cfg.CorrectnessThreshold, 1e-9)
	assert.Equal(t, 7, cfg.MinStations)
	assert.Equal(t, 60, cfg.MaxEvents)
	assert.InDelta(t, 80.0, cfg.Resolution, 1e-9)
	assert.False(t, cfg.ReduceRevisions)
	assert.True(t, cfg.MQTTEnabled())
	assert.Equal(t, "alerts", cfg.MQTTTopic)
	assert.True(t, cfg.MapboxEnabled)
	assert.Equal(t, testMapboxToken, cfg.MapboxToken)
	assert.Equal(t, 10*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 30*time.Minute, cfg.MapboxCacheTTL)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_NegativeShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "-1s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	t.Setenv("BATCH_SIZE", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_BatchSizeTooLarge(t *testing.T) {
	t.Setenv("BATCH_SIZE", "9999")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_InvalidBatchFlushInterval(t *testing.T) {
	t.Setenv("BATCH_FLUSH_INTERVAL", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_FLUSH_INTERVAL")
}

func TestLoad_InvalidMapboxTimeout(t *testing.T) {
	t.Setenv("MAPBOX_TIMEOUT", "bad")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAPBOX_TIMEOUT")
}

func TestLoad_MapboxEnabledWithoutToken(t *testing.T) {
	t.Setenv("MAPBOX_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAPBOX_TOKEN")
}

func TestLoad_MapboxTokenImpliesEnabled(t *testing.T) {
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.MapboxEnabled)
}

func TestLoad_MapboxExplicitlyDisabled(t *testing.T) {
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.MapboxEnabled)
}

func TestLoad_InvalidDetectorSettings(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"P_WAVE_INACCURACY_MS", "fast"},
		{"CORRECTNESS_THRESHOLD", "-5"},
		{"HYPOCENTER_RESOLUTION", "0"},
		{"MIN_STATIONS", "three"},
		{"MAX_EVENTS", "0"},
		{"REDUCE_REVISIONS", "maybe"},
		{"NEARBY_STATION_KM", "-1"},
		{"MAPBOX_CACHE_TTL", "forever"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_MaxEventsBelowMinStations(t *testing.T) {
	t.Setenv("MIN_STATIONS", "10")
	t.Setenv("MAX_EVENTS", "8")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_EVENTS")
}
