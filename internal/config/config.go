package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vote-relay/internal/domain"
	"github.com/vote-relay/internal/pkg/validate"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort           string `validate:"required"`
	AppEnv            string
	LogLevel          string `validate:"oneof=debug info warn error"`
	LogFormat         string `validate:"oneof=json text"`
	AWSRegion         string
	AWSEndpointURL    string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID    string
	AWSSecretKey      string
	DynamoTables      DynamoTables
	Chains            []ChainConfig `validate:"dive"`
	Listener          ListenerConfig
	Retry             RetryConfig
	DeadLetter        DeadLetterConfig
	DedupCacheSize    int `validate:"gt=0"`
	JWTPublicKeyPath  string
	JWTPrivateKeyPath string
	JWTExpiry         time.Duration
	SMTPHost          string
	SMTPPort          string
	SMTPFrom          string
	SMTPFromName      string
	SMTPUsername      string
	SMTPPassword      string
	SMTPTimeout       time.Duration
	SNSRegion         string
	AllowedOrigins    []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Notifications string `validate:"required"`
	Delegates     string `validate:"required"`
}

// ChainConfig describes one governance chain to listen to.
type ChainConfig struct {
	Chain           domain.Chain `validate:"required,chain"`
	WSURL           string       `validate:"required"`
	GovernorAddress string       `validate:"required,eth_addr"`
	SubgraphURL     string
	SubgraphTimeout time.Duration
}

// ListenerConfig controls subscription establishment.
type ListenerConfig struct {
	MaxRetries     int `validate:"gte=0"`
	RetryInterval  time.Duration
	Resubscribe    bool
	MaxConcurrency int `validate:"gt=0"`
}

// RetryConfig controls the delivery retry queue.
type RetryConfig struct {
	Tick          time.Duration `validate:"gt=0"`
	BaseInterval  time.Duration `validate:"gt=0"`
	MaxAttempts   int           `validate:"gt=0"`
	QueueCapacity int           `validate:"gt=0"`
	PassTimeout   time.Duration `validate:"gte=0"`
}

// DeadLetterConfig selects where expired deliveries go.
// Policy is one of "log", "sns", "s3".
type DeadLetterConfig struct {
	Policy   string `validate:"oneof=log sns s3"`
	TopicARN string `validate:"required_if=Policy sns"`
	Bucket   string `validate:"required_if=Policy s3"`
	Prefix   string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	rpcKey := getEnv("RPC_KEY", "")
	return &Config{
		AppPort:        getEnv("APP_PORT", "3001"),
		AppEnv:         getEnv("APP_ENV", "development"),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "json")),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Notifications: getEnv("DYNAMO_TABLE_NOTIFICATIONS", "notifications"),
			Delegates:     getEnv("DYNAMO_TABLE_DELEGATES", "delegates"),
		},
		Chains: loadChains(rpcKey),
		Listener: ListenerConfig{
			MaxRetries:     getEnvInt("LISTENER_MAX_RETRIES", 5),
			RetryInterval:  getEnvDuration("LISTENER_RETRY_INTERVAL", 5*time.Second),
			Resubscribe:    getEnvBool("LISTENER_RESUBSCRIBE", false),
			MaxConcurrency: getEnvInt("LISTENER_MAX_CONCURRENCY", 16),
		},
		Retry: RetryConfig{
			Tick:          getEnvDuration("RETRY_TICK", 30*time.Second),
			BaseInterval:  getEnvDuration("RETRY_INTERVAL", 5*time.Second),
			MaxAttempts:   getEnvInt("RETRY_MAX_ATTEMPTS", 5),
			QueueCapacity: getEnvInt("RETRY_QUEUE_CAPACITY", 1000),
			PassTimeout:   getEnvDuration("RETRY_PASS_TIMEOUT", 30*time.Second),
		},
		DeadLetter: DeadLetterConfig{
			Policy:   strings.ToLower(getEnv("DEAD_LETTER_POLICY", "log")),
			TopicARN: getEnv("DEAD_LETTER_TOPIC_ARN", ""),
			Bucket:   getEnv("DEAD_LETTER_BUCKET", ""),
			Prefix:   getEnv("DEAD_LETTER_PREFIX", "dead-letters/"),
		},
		DedupCacheSize:    getEnvInt("DEDUP_CACHE_SIZE", 10000),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", ""),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 7*24*time.Hour),
		SMTPHost:          getEnv("SMTP_HOST", "localhost"),
		SMTPPort:          getEnv("SMTP_PORT", "1025"),
		SMTPFrom:          getEnv("SMTP_EMAIL", "noreply@example.com"),
		SMTPFromName:      getEnv("SMTP_FROM_NAME", "System"),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		SMTPTimeout:       getEnvDuration("SMTP_TIMEOUT", 15*time.Second),
		SNSRegion:         getEnv("SNS_REGION", "us-east-1"),
		AllowedOrigins:    strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[domain.Chain]bool, len(c.Chains))
	for _, ch := range c.Chains {
		if seen[ch.Chain] {
			return fmt.Errorf("invalid config: chain %q configured twice", ch.Chain)
		}
		seen[ch.Chain] = true
	}
	return nil
}

// loadChains returns the chains that have an RPC endpoint configured.
// A chain without a websocket URL is skipped rather than failing startup.
func loadChains(rpcKey string) []ChainConfig {
	defaults := []struct {
		chain      domain.Chain
		infuraBase string
		governor   string
	}{
		{domain.ChainArbitrum, "wss://arbitrum-mainnet.infura.io/ws/v3/", "0x789fC99093B09aD01C34DC7251D0C89ce743e5a4"},
		{domain.ChainOptimism, "wss://optimism-mainnet.infura.io/ws/v3/", "0xcDF27F107725988f2261Ce2256bDfCdE8B382B10"},
	}
	var chains []ChainConfig
	for _, d := range defaults {
		prefix := strings.ToUpper(string(d.chain))
		wsURL := getEnv(prefix+"_WS_URL", "")
		if wsURL == "" && rpcKey != "" {
			wsURL = d.infuraBase + rpcKey
		}
		if wsURL == "" {
			continue
		}
		chains = append(chains, ChainConfig{
			Chain:           d.chain,
			WSURL:           wsURL,
			GovernorAddress: getEnv(prefix+"_GOVERNOR_ADDRESS", d.governor),
			SubgraphURL:     getEnv(prefix+"_SUBGRAPH_URL", ""),
			SubgraphTimeout: getEnvDuration("SUBGRAPH_TIMEOUT", 10*time.Second),
		})
	}
	return chains
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
