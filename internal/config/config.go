package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	LogFormat   string
	DatabaseURL string
	DBMaxConns  int

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AuthJWTSecret      string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Scheduling
	DefaultTimezone        string
	SlotGranularityMinutes int
	DefaultWorkHours       string

	// Booking
	BookingDefaultDuration int
	BookingMinDuration     int
	BookingMaxDuration     int
	BookingIsolation       string
	BookingTxRetries       int
	BookingMinLeadTime     time.Duration
	BookingMaxPerPatient   int
	BookingVelocityWindow  time.Duration
	PendingAppointmentTTL  time.Duration
	SweeperSchedule        string

	// PayPal
	PayPalClientID     string
	PayPalClientSecret string
	PayPalMode         string
	PayPalWebhookID    string
	PaymentCurrency    string
	PlatformFeeBPS     int
	FrontendURL        string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	EventsQueueURL      string

	// Email
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
}

// Load reads configuration from environment variables
func Load() *Config {
	frontend := getEnv("FRONTEND_URL", "http://localhost:3000")
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  getEnvAsInt("DB_MAX_CONNS", 10),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AuthJWTSecret:      getEnv("AUTH_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{frontend}),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		DefaultTimezone:        getEnv("DEFAULT_TIMEZONE", "UTC"),
		SlotGranularityMinutes: getEnvAsInt("SLOT_GRANULARITY_MINUTES", 30),
		DefaultWorkHours:       getEnv("DEFAULT_WORK_HOURS", "1-5=09:00-17:00;6=09:00-13:00"),

		BookingDefaultDuration: getEnvAsInt("BOOKING_DEFAULT_DURATION", 30),
		BookingMinDuration:     getEnvAsInt("BOOKING_MIN_DURATION", 15),
		BookingMaxDuration:     getEnvAsInt("BOOKING_MAX_DURATION", 120),
		BookingIsolation:       strings.ToLower(getEnv("BOOKING_ISOLATION", "serializable")),
		BookingTxRetries:       getEnvAsInt("BOOKING_TX_RETRIES", 3),
		BookingMinLeadTime:     getEnvAsDuration("BOOKING_MIN_LEAD_TIME", 0),
		BookingMaxPerPatient:   getEnvAsInt("BOOKING_MAX_PER_PATIENT", 5),
		BookingVelocityWindow:  getEnvAsDuration("BOOKING_VELOCITY_WINDOW", time.Hour),
		PendingAppointmentTTL:  getEnvAsDuration("PENDING_APPOINTMENT_TTL", 30*time.Minute),
		SweeperSchedule:        getEnv("SWEEPER_SCHEDULE", "@every 1m"),

		PayPalClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
		PayPalClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
		PayPalMode:         strings.ToLower(getEnv("PAYPAL_MODE", "sandbox")),
		PayPalWebhookID:    getEnv("PAYPAL_WEBHOOK_ID", ""),
		PaymentCurrency:    strings.ToUpper(getEnv("PAYMENT_CURRENCY", "USD")),
		PlatformFeeBPS:     getEnvAsInt("PLATFORM_FEE_BPS", 500),
		FrontendURL:        frontend,

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		EventsQueueURL:      getEnv("EVENTS_QUEUE_URL", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "CuraLink"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
	}
}

// PayPalBaseURL resolves the REST endpoint for the configured mode.
func (c *Config) PayPalBaseURL() string {
	if c.PayPalMode == "live" || c.PayPalMode == "production" {
		return "https://api-m.paypal.com"
	}
	return "https://api-m.sandbox.paypal.com"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
