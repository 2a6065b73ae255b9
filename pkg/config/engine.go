package config

import "time"

// EngineConfig holds runtime configuration for the engine process.
type EngineConfig struct {
	Environment      string
	Addr             string
	DatabaseURL      string
	MigrationsDir    string
	JWTSecret        string
	AccessTokenTTL   time.Duration
	EnvEncryptionKey string

	DockerHost     string
	NetworkName    string
	LabelNamespace string
	StopTimeout    time.Duration

	ProxyConfigDir     string
	ProxyContainerName string

	ReconcileInterval time.Duration
	RestartBudget     int
	LifecycleWorkers  int

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadEngineConfig constructs an EngineConfig from environment variables.
func LoadEngineConfig() EngineConfig {
	return EngineConfig{
		Environment:      GetString("APP_ENV", "development"),
		Addr:             GetString("API_ADDR", ":8000"),
		DatabaseURL:      GetString("DATABASE_URL", "postgres://docklite:docklite@db:5432/docklite?sslmode=disable"),
		MigrationsDir:    GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:        GetString("JWT_SECRET", "change-me-in-production"),
		AccessTokenTTL:   time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 720)) * time.Minute,
		EnvEncryptionKey: GetString("ENV_ENCRYPTION_KEY", "change-me-in-production"),

		DockerHost:     GetString("DOCKER_HOST", ""),
		NetworkName:    GetString("DOCKER_NETWORK", "docklite-network"),
		LabelNamespace: GetString("DOCKER_LABEL_NAMESPACE", "docklite"),
		StopTimeout:    time.Duration(GetInt("CONTAINER_STOP_TIMEOUT_SECONDS", 10)) * time.Second,

		ProxyConfigDir:     GetString("PROXY_CONFIG_DIR", "/etc/nginx/conf.d"),
		ProxyContainerName: GetString("PROXY_CONTAINER_NAME", "docklite-proxy"),

		ReconcileInterval: time.Duration(GetInt("RECONCILE_INTERVAL_SECONDS", 30)) * time.Second,
		RestartBudget:     GetInt("RECONCILE_RESTART_BUDGET", 1),
		LifecycleWorkers:  GetInt("LIFECYCLE_WORKERS", 4),

		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
