package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Analytics AnalyticsConfig
	Providers ProvidersConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port         string
	Mode         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	// OrgClaim is the JWT claim carrying the organization id.
	OrgClaim string
	// Keycloak, when its URL is set, replaces JWTSecret with the realm's RS256 keys.
	Keycloak KeycloakConfig
	// OperatorRole gates provider removal for authenticated requests,
	// OperatorToken for requests without auth.
	OperatorRole  string
	OperatorToken string
}

type KeycloakConfig struct {
	URL   string
	Realm string
}

type AnalyticsConfig struct {
	HealthInterval   time.Duration
	ProviderTimeout  time.Duration
	FallbackPriority int
}

type ProvidersConfig struct {
	RealDataEnabled bool
	BackendURL      string
	BackendPriority int
	CSVURL          string
	CSVPriority     int
	CSVCacheTTL     time.Duration
	APIKey          string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
	// MigrationsPath overrides the embedded migrations, e.g. "file://migrations".
	MigrationsPath string
	ConnectRetries int
}

type RedisConfig struct {
	URL       string
	KeyPrefix string
}

type RateLimitConfig struct {
	UploadsPerMinute int
	Burst            int
}

type MetricsConfig struct {
	Enabled bool
	Mimir   MimirConfig
}

type MimirConfig struct {
	URL          string
	TenantHeader string
	PushInterval time.Duration
	BatchSize    int
	AuthToken    string

	// DefaultTenant receives series that carry no tenant_id label.
	DefaultTenant string
}

type LogConfig struct {
	Development bool
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("TIP")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.readtimeout", "30s")
	viper.SetDefault("server.writetimeout", "60s")
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.orgclaim", "organization")
	viper.SetDefault("auth.operatorrole", "tip-operator")
	viper.SetDefault("analytics.healthinterval", "30s")
	viper.SetDefault("analytics.providertimeout", "10s")
	viper.SetDefault("analytics.fallbackpriority", 10)
	viper.SetDefault("providers.realdataenabled", true)
	viper.SetDefault("providers.backendpriority", 1)
	viper.SetDefault("providers.csvpriority", 2)
	viper.SetDefault("providers.csvcachettl", "5m")
	viper.SetDefault("database.maxconnections", 25)
	viper.SetDefault("database.maxidleconns", 5)
	viper.SetDefault("database.connectretries", 5)
	viper.SetDefault("redis.keyprefix", "tip:")
	viper.SetDefault("ratelimit.uploadsperminute", 10)
	viper.SetDefault("ratelimit.burst", 3)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.mimir.tenantheader", "X-Scope-OrgID")
	viper.SetDefault("metrics.mimir.pushinterval", "30s")
	viper.SetDefault("metrics.mimir.batchsize", 500)
	viper.SetDefault("metrics.mimir.defaulttenant", "tip-platform")

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if token := os.Getenv("OPERATOR_TOKEN"); token != "" {
		cfg.Auth.OperatorToken = token
	}
	if url := os.Getenv("KEYCLOAK_URL"); url != "" {
		cfg.Auth.Keycloak.URL = url
	}
	if realm := os.Getenv("KEYCLOAK_REALM"); realm != "" {
		cfg.Auth.Keycloak.Realm = realm
	}
	if url := os.Getenv("BACKEND_URL"); url != "" {
		cfg.Providers.BackendURL = url
	}
	if url := os.Getenv("CSV_SERVICE_URL"); url != "" {
		cfg.Providers.CSVURL = url
	}
	if key := os.Getenv("ANALYTICS_API_KEY"); key != "" {
		cfg.Providers.APIKey = key
	}
	if url := os.Getenv("MIMIR_URL"); url != "" {
		cfg.Metrics.Mimir.URL = url
	}
	if token := os.Getenv("MIMIR_AUTH_TOKEN"); token != "" {
		cfg.Metrics.Mimir.AuthToken = token
	}

	if cfg.Analytics.HealthInterval <= 0 {
		cfg.Analytics.HealthInterval = 30 * time.Second
	}

	return &cfg, nil
}
