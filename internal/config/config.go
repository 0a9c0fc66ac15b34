package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers       []string
	KafkaWaveformTopic string
	KafkaEventTopic    string
	KafkaGroupID       string
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	ShutdownTimeout    time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	StationsDBPath  string
	TravelTimeTable string
	NearbyStationKm float64

	// Hypocenter search settings.
	PWaveInaccuracyMs    float64
	CorrectnessThreshold float64
	MinStations          int
	MaxEvents            int
	Resolution           float64
	ReduceRevisions      bool

	// Optional MQTT broadcast.
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string

	// Mapbox region resolution.
	MapboxToken    string
	MapboxEnabled  bool
	MapboxTimeout  time.Duration
	MapboxCacheTTL time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	mapboxCacheTTL, err := parsePositiveDuration("MAPBOX_CACHE_TTL", "1h")
	if err != nil {
		return nil, err
	}

	inaccuracy, err := parsePositiveFloat("P_WAVE_INACCURACY_MS", 1000)
	if err != nil {
		return nil, err
	}
	correctness, err := parsePositiveFloat("CORRECTNESS_THRESHOLD", 40)
	if err != nil {
		return nil, err
	}
	resolution, err := parsePositiveFloat("HYPOCENTER_RESOLUTION", 40)
	if err != nil {
		return nil, err
	}
	nearbyKm, err := parsePositiveFloat("NEARBY_STATION_KM", 300)
	if err != nil {
		return nil, err
	}
	minStations, err := parsePositiveInt("MIN_STATIONS", 5)
	if err != nil {
		return nil, err
	}
	maxEvents, err := parsePositiveInt("MAX_EVENTS", 40)
	if err != nil {
		return nil, err
	}
	reduceRevisions, err := parseBool("REDUCE_REVISIONS", true)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaWaveformTopic: sharedcfg.EnvOrDefault("KAFKA_WAVEFORM_TOPIC", "seismic-waveforms"),
		KafkaEventTopic:    sharedcfg.EnvOrDefault("KAFKA_EVENT_TOPIC", "quake-events"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "quake-detect"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		StationsDBPath:  sharedcfg.EnvOrDefault("STATIONS_DB_PATH", "quake.db"),
		TravelTimeTable: os.Getenv("TRAVEL_TIME_TABLE"),
		NearbyStationKm: nearbyKm,

		PWaveInaccuracyMs:    inaccuracy,
		CorrectnessThreshold: correctness,
		MinStations:          minStations,
		MaxEvents:            maxEvents,
		Resolution:           resolution,
		ReduceRevisions:      reduceRevisions,

		MQTTBroker:   os.Getenv("MQTT_BROKER"),
		MQTTTopic:    sharedcfg.EnvOrDefault("MQTT_TOPIC", "quakes"),
		MQTTClientID: sharedcfg.EnvOrDefault("MQTT_CLIENT_ID", "quake-detect"),

		MapboxToken:    mapboxToken,
		MapboxEnabled:  mapboxEnabled,
		MapboxTimeout:  mapboxTimeout,
		MapboxCacheTTL: mapboxCacheTTL,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaWaveformTopic == "" {
		return nil, errors.New("KAFKA_WAVEFORM_TOPIC is required")
	}
	if cfg.KafkaEventTopic == "" {
		return nil, errors.New("KAFKA_EVENT_TOPIC is required")
	}
	if cfg.StationsDBPath == "" {
		return nil, errors.New("STATIONS_DB_PATH is required")
	}
	if cfg.MaxEvents < cfg.MinStations {
		return nil, fmt.Errorf("MAX_EVENTS (%d) must be at least MIN_STATIONS (%d)", cfg.MaxEvents, cfg.MinStations)
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

// MQTTEnabled reports whether a broadcast broker is configured.
func (c *Config) MQTTEnabled() bool { return c.MQTTBroker != "" }

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return v, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return v, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, s)
	}
	return v, nil
}
