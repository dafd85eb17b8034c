package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	ReportsBucket  string

	JWTPublicKeyPath  string
	JWTPrivateKeyPath string
	JWTExpiry         time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	SNSRegion    string

	// Dispatcher settings.
	DispatchInterval  time.Duration
	DispatchBatchSize int
	SendRatePerMinute int
	TransportTimeout  time.Duration
	StalledAfter      time.Duration
	EventRetention    time.Duration

	// Values injected into every rendered template.
	AppBaseURL        string
	SupportEmail      string
	CompanyName       string
	UnsubscribeSecret string

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each collection.
type DynamoTables struct {
	Users          string
	Events         string
	Queue          string
	DeliveryLog    string
	Preferences    string
	EmailTemplates string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Users:          getEnv("DYNAMO_TABLE_USERS", "users"),
			Events:         getEnv("DYNAMO_TABLE_EVENTS", "notification_events"),
			Queue:          getEnv("DYNAMO_TABLE_QUEUE", "notification_queue"),
			DeliveryLog:    getEnv("DYNAMO_TABLE_DELIVERY_LOG", "delivery_log"),
			Preferences:    getEnv("DYNAMO_TABLE_PREFERENCES", "notification_preferences"),
			EmailTemplates: getEnv("DYNAMO_TABLE_EMAIL_TEMPLATES", "email_templates"),
		},
		ReportsBucket: getEnv("REPORTS_BUCKET", "fintrack-reports"),

		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTExpiry:         time.Duration(getEnvInt("JWT_EXPIRY_DAYS", 7)) * 24 * time.Hour,

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@fintrack.example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SNSRegion:    getEnv("SNS_REGION", "us-east-1"),

		DispatchInterval:  time.Duration(getEnvInt("DISPATCH_INTERVAL_SECONDS", 30)) * time.Second,
		DispatchBatchSize: getEnvInt("DISPATCH_BATCH_SIZE", 50),
		SendRatePerMinute: getEnvInt("SEND_RATE_PER_MINUTE", 120),
		TransportTimeout:  time.Duration(getEnvInt("TRANSPORT_TIMEOUT_SECONDS", 10)) * time.Second,
		StalledAfter:      time.Duration(getEnvInt("DISPATCH_STALLED_AFTER_SECONDS", 300)) * time.Second,
		EventRetention:    time.Duration(getEnvInt("EVENT_RETENTION_DAYS", 7)) * 24 * time.Hour,

		AppBaseURL:        getEnv("APP_BASE_URL", "http://localhost:3000"),
		SupportEmail:      getEnv("SUPPORT_EMAIL", "support@fintrack.example.com"),
		CompanyName:       getEnv("COMPANY_NAME", "FinTrack"),
		UnsubscribeSecret: getEnv("UNSUBSCRIBE_SECRET", "change-me-in-prod"),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
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
