package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the API process.
// Values are loaded from environment variables with defaults that let the
// binary run locally on in-memory storage.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers         []string
	KafkaLocationTopic   string
	KafkaRideEventsTopic string

	PGDSN         string
	RunMigrations bool

	LogLevel string

	JWTSecret string

	MapsAPIKey     string
	MapsEndpoint   string
	RouteCacheTTL  time.Duration
	RouteCacheSize int // entries per lookup cache

	StripeAPIKey    string
	PaymentSecret   string
	PaymentCurrency string

	DispatchRadiusKm      float64
	ResolicitRadiusKm     float64
	IntercityThresholdM   float64
	PoolDetourBudget      time.Duration
	PoolMaxLegs           int
	OnlineAccrualInterval time.Duration
	LocationBroadcast     time.Duration
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:              ":8080",
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           120 * time.Second,
		ShutdownTimeout:       15 * time.Second,
		RedisGeoKey:           "captains_geo",
		KafkaLocationTopic:    "captain-locations",
		KafkaRideEventsTopic:  "ride-events",
		LogLevel:              "info",
		MapsEndpoint:          "https://maps.googleapis.com",
		RouteCacheTTL:         10 * time.Minute,
		RouteCacheSize:        10000,
		PaymentCurrency:       "INR",
		DispatchRadiusKm:      2,
		ResolicitRadiusKm:     5,
		IntercityThresholdM:   50000,
		PoolDetourBudget:      10 * time.Minute,
		OnlineAccrualInterval: time.Minute,
		LocationBroadcast:     10 * time.Second,
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaLocationTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaRideEventsTopic, "KAFKA_RIDE_EVENTS_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	cfg.MapsAPIKey = os.Getenv("MAPS_API_KEY")
	setStringFromEnv(&cfg.MapsEndpoint, "MAPS_ENDPOINT")
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)
	setIntFromEnv(&cfg.RouteCacheSize, "ROUTE_CACHE_SIZE", &errs)

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	cfg.PaymentSecret = os.Getenv("PAYMENT_SECRET")
	setStringFromEnv(&cfg.PaymentCurrency, "PAYMENT_CURRENCY")

	setFloatFromEnv(&cfg.DispatchRadiusKm, "DISPATCH_RADIUS_KM", &errs)
	setFloatFromEnv(&cfg.ResolicitRadiusKm, "RESOLICIT_RADIUS_KM", &errs)
	setFloatFromEnv(&cfg.IntercityThresholdM, "INTERCITY_THRESHOLD_M", &errs)
	setDurationFromEnv(&cfg.PoolDetourBudget, "POOL_DETOUR_BUDGET", &errs)
	setIntFromEnv(&cfg.PoolMaxLegs, "POOL_MAX_LEGS", &errs)
	setDurationFromEnv(&cfg.OnlineAccrualInterval, "ONLINE_ACCRUAL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.LocationBroadcast, "LOCATION_BROADCAST_INTERVAL", &errs)

	if cfg.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	}
	if cfg.DispatchRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_RADIUS_KM must be > 0"))
	}
	if cfg.ResolicitRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("RESOLICIT_RADIUS_KM must be > 0"))
	}
	if cfg.IntercityThresholdM <= 0 {
		errs = append(errs, fmt.Errorf("INTERCITY_THRESHOLD_M must be > 0"))
	}
	if cfg.RouteCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("ROUTE_CACHE_SIZE must be > 0"))
	}
	if cfg.PoolMaxLegs < 0 {
		errs = append(errs, fmt.Errorf("POOL_MAX_LEGS must be >= 0"))
	}
	if cfg.OnlineAccrualInterval <= 0 {
		errs = append(errs, fmt.Errorf("ONLINE_ACCRUAL_INTERVAL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig is the location consumer's subset of settings.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "captain-locations",
		KafkaGroup:   "ride-hailing-locations",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "captains_geo",
		LogLevel:     "info",
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return cfg, fmt.Errorf("KAFKA_BROKERS must list at least one broker")
	}
	return cfg, nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
