package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for cosigner server configuration
const (
	EnvCosignerPort             = "COSIGNER_PORT"
	EnvCosignerStore            = "COSIGNER_STORE"
	EnvCosignerBadgerPath       = "COSIGNER_BADGER_PATH"
	EnvCosignerRedisAddress     = "COSIGNER_REDIS_ADDRESS"
	EnvCosignerRedisPassword    = "COSIGNER_REDIS_PASSWORD"
	EnvCosignerRedisDB          = "COSIGNER_REDIS_DB"
	EnvCosignerSQLDSN           = "COSIGNER_SQL_DSN"
	EnvCosignerRPCURL           = "COSIGNER_RPC_URL"
	EnvCosignerChainTimeout     = "COSIGNER_CHAIN_TIMEOUT"
	EnvCosignerVerifySignatures = "COSIGNER_VERIFY_SIGNATURES"
	EnvCosignerJWTSecret        = "COSIGNER_JWT_SECRET"
	EnvCosignerJWTIssuer        = "COSIGNER_JWT_ISSUER"
	EnvCosignerJWKSURL          = "COSIGNER_JWKS_URL"
	EnvCosignerJWKSRefresh      = "COSIGNER_JWKS_REFRESH"
	EnvCosignerTokenTTL         = "COSIGNER_TOKEN_TTL"
	EnvCosignerRateLimit        = "COSIGNER_RATE_LIMIT"
	EnvCosignerRateBurst        = "COSIGNER_RATE_BURST"
	EnvCosignerKafkaBrokers     = "COSIGNER_KAFKA_BROKERS"
	EnvCosignerKafkaTopic       = "COSIGNER_KAFKA_TOPIC"
	EnvCosignerKafkaUsername    = "COSIGNER_KAFKA_USERNAME"
	EnvCosignerKafkaPassword    = "COSIGNER_KAFKA_PASSWORD"
	EnvCosignerVerbose          = "COSIGNER_VERBOSE"
)

type StoreType string

func (s StoreType) String() string {
	return string(s)
}

const (
	StoreMemory StoreType = "memory"
	StoreBadger StoreType = "badger"
	StoreRedis  StoreType = "redis"
	StoreMySQL  StoreType = "mysql"
	StoreSQLite StoreType = "sqlite"
)

// SupportedStores lists every persistence backend the server can run on
var SupportedStores = []StoreType{StoreMemory, StoreBadger, StoreRedis, StoreMySQL, StoreSQLite}

// Defaults applied by the CLI when a flag is not set
const (
	DefaultPort         = 8080
	DefaultChainTimeout = 30 * time.Second
	DefaultJWKSRefresh  = 15 * time.Minute
	DefaultTokenTTL     = time.Hour
	DefaultRateLimit    = 10.0
	DefaultRateBurst    = 20
)

// StoreConfig selects and addresses the persistence backend
type StoreConfig struct {
	Type          StoreType `json:"type"`
	BadgerPath    string    `json:"badger_path,omitempty"`
	RedisAddress  string    `json:"redis_address,omitempty"`
	RedisPassword string    `json:"-"`
	RedisDB       int       `json:"redis_db,omitempty"`
	SQLDSN        string    `json:"-"`
}

// AuthConfig selects how bearer tokens are validated. Exactly one of
// JWTSecret and JWKSURL is set.
type AuthConfig struct {
	JWTSecret   string        `json:"-"`
	Issuer      string        `json:"issuer,omitempty"`
	JWKSURL     string        `json:"jwks_url,omitempty"`
	JWKSRefresh time.Duration `json:"jwks_refresh,omitempty"`
	TokenTTL    time.Duration `json:"token_ttl,omitempty"`
}

// RateLimitConfig is the per-account token bucket
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// KafkaConfig enables event notifications when Brokers is non-empty
type KafkaConfig struct {
	Brokers  []string `json:"brokers,omitempty"`
	Topic    string   `json:"topic,omitempty"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"-"`
}

// Enabled reports whether notifications go to Kafka
func (k *KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// CosignerServerConfig represents the complete configuration for a cosigner server
type CosignerServerConfig struct {
	Port int `json:"port"`

	Store StoreConfig `json:"store"`

	// Chain configuration
	RpcUrl           string        `json:"rpc_url"`
	ChainTimeout     time.Duration `json:"chain_timeout"`
	VerifySignatures bool          `json:"verify_signatures"`

	Auth      AuthConfig      `json:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Kafka     KafkaConfig     `json:"kafka"`

	// Operational settings
	Debug   bool `json:"debug"`
	Verbose bool `json:"verbose"`
}

// Validate validates the cosigner server configuration, reporting every
// problem at once
func (c *CosignerServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}

	allErrors = append(allErrors, c.Store.validate(field.NewPath("store"))...)

	if c.RpcUrl == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("rpcUrl"), "chain RPC URL is required"))
	} else if err := validateURL(c.RpcUrl); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rpcUrl"), c.RpcUrl, err.Error()))
	}
	if c.ChainTimeout <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("chainTimeout"), c.ChainTimeout.String(), "must be positive"))
	}

	allErrors = append(allErrors, c.Auth.validate(field.NewPath("auth"))...)

	rlPath := field.NewPath("rateLimit")
	if c.RateLimit.RequestsPerSecond <= 0 {
		allErrors = append(allErrors, field.Invalid(rlPath.Child("requestsPerSecond"), c.RateLimit.RequestsPerSecond, "must be positive"))
	}
	if c.RateLimit.Burst < 1 {
		allErrors = append(allErrors, field.Invalid(rlPath.Child("burst"), c.RateLimit.Burst, "must be at least 1"))
	}

	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("kafka", "topic"), "topic is required when brokers are set"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

func (s *StoreConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList

	switch s.Type {
	case StoreMemory:
	case StoreBadger:
		if s.BadgerPath == "" {
			allErrors = append(allErrors, field.Required(path.Child("badgerPath"), "required for the badger store"))
		}
	case StoreRedis:
		if s.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(path.Child("redisAddress"), "required for the redis store"))
		}
		if s.RedisDB < 0 {
			allErrors = append(allErrors, field.Invalid(path.Child("redisDb"), s.RedisDB, "must not be negative"))
		}
	case StoreMySQL, StoreSQLite:
		if s.SQLDSN == "" {
			allErrors = append(allErrors, field.Required(path.Child("sqlDsn"), fmt.Sprintf("required for the %s store", s.Type)))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), s.Type, storeNames()))
	}
	return allErrors
}

func (a *AuthConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList

	switch {
	case a.JWTSecret == "" && a.JWKSURL == "":
		allErrors = append(allErrors, field.Required(path, "one of jwtSecret or jwksUrl is required"))
	case a.JWTSecret != "" && a.JWKSURL != "":
		allErrors = append(allErrors, field.Forbidden(path.Child("jwksUrl"), "cannot be combined with jwtSecret"))
	case a.JWTSecret != "":
		if len(a.JWTSecret) < 32 {
			allErrors = append(allErrors, field.Invalid(path.Child("jwtSecret"), "<redacted>", "must be at least 32 bytes"))
		}
	default:
		if err := validateURL(a.JWKSURL); err != nil {
			allErrors = append(allErrors, field.Invalid(path.Child("jwksUrl"), a.JWKSURL, err.Error()))
		}
		if a.JWKSRefresh <= 0 {
			allErrors = append(allErrors, field.Invalid(path.Child("jwksRefresh"), a.JWKSRefresh.String(), "must be positive"))
		}
	}
	if a.TokenTTL < 0 {
		allErrors = append(allErrors, field.Invalid(path.Child("tokenTtl"), a.TokenTTL.String(), "must not be negative"))
	}
	return allErrors
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func storeNames() []string {
	names := make([]string, 0, len(SupportedStores))
	for _, s := range SupportedStores {
		names = append(names, s.String())
	}
	return names
}

// GetSupportedStoresString returns supported store types for CLI help
func GetSupportedStoresString() string {
	return strings.Join(storeNames(), ", ")
}
