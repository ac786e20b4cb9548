package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL      string
	RedisURL         string
	KafkaBrokers     string
	KafkaTopic       string
	JaegerEndpoint   string
	Port             string
	PluginTimeout    time.Duration
	PluginWorkers    int
	LockTTL          time.Duration
	StateMachineFile string
	GatewayPlugin    string
	ControlPlugins   string
}

func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8082"
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "payment.state.changed"
	}

	gateway := os.Getenv("GATEWAY_PLUGIN")
	if gateway == "" {
		gateway = "sandbox"
	}

	return &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		KafkaBrokers:     os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:       topic,
		JaegerEndpoint:   os.Getenv("JAEGER_ENDPOINT"),
		Port:             port,
		PluginTimeout:    time.Duration(intFromEnv("PLUGIN_TIMEOUT_SEC", 30)) * time.Second,
		PluginWorkers:    intFromEnv("PLUGIN_WORKERS", 10),
		LockTTL:          time.Duration(intFromEnv("LOCK_TTL_SEC", 60)) * time.Second,
		StateMachineFile: os.Getenv("STATE_MACHINE_FILE"),
		GatewayPlugin:    gateway,
		ControlPlugins:   os.Getenv("CONTROL_PLUGINS"),
	}
}

func intFromEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
