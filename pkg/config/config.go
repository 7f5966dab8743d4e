// Package config loads process configuration from the environment. A .env file
// in the working directory is read first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chris/cash-settlement/pkg/providers/momo"
	"github.com/chris/cash-settlement/pkg/providers/nowpayments"
	"github.com/chris/cash-settlement/pkg/providers/payos"
	"github.com/chris/cash-settlement/pkg/providers/stripe"
	"github.com/chris/cash-settlement/pkg/storage/dynamodb"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Storage backends.
const (
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is everything a binary needs to wire the engine.
type Config struct {
	Environment    string
	HTTPPort       string
	AllowedOrigins []string

	Backend     string
	Tables      dynamodb.Tables
	DatabaseURL string
	SQSQueueURL string

	RedisAddr       string
	RedisPassword   string
	NotifyDedupeTTL time.Duration

	JWTSecret         string
	TelegramBotToken  string
	WebSocketEndpoint string

	ReferralCommissionPercent decimal.Decimal
	DepositStaleAfter         time.Duration
	InterestWorkers           int
	MinUnitScale              int32
	WithdrawalCurrency        string
	WithdrawalUnresolvedAfter time.Duration

	NowPayments nowpayments.Config
	MoMo        momo.Config
	PayOS       payos.Config
	Stripe      stripe.Config
}

// Load reads the configuration and validates it for the selected backend.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		Environment:    getEnv("ENVIRONMENT", "production"),
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),

		Backend: strings.ToLower(getEnv("STORE_BACKEND", BackendDynamoDB)),
		Tables: dynamodb.Tables{
			Accounts:     os.Getenv("DYNAMODB_ACCOUNTS_TABLE_NAME"),
			Transactions: os.Getenv("DYNAMODB_TRANSACTIONS_TABLE_NAME"),
			Outbox:       os.Getenv("DYNAMODB_OUTBOX_TABLE_NAME"),
			Config:       os.Getenv("DYNAMODB_CONFIG_TABLE_NAME"),
			Connections:  os.Getenv("DYNAMODB_CONNECTIONS_TABLE_NAME"),
		},
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQSQueueURL: os.Getenv("SQS_QUEUE_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		WebSocketEndpoint:  os.Getenv("WEBSOCKET_API_ENDPOINT"),
		WithdrawalCurrency: getEnv("WITHDRAWAL_CURRENCY", "usdtbsc"),

		NowPayments: nowpayments.Config{
			BaseURL:         os.Getenv("NOWPAYMENTS_BASE_URL"),
			APIKey:          os.Getenv("NOWPAYMENTS_API_KEY"),
			IPNSecret:       os.Getenv("NOWPAYMENTS_IPN_SECRET"),
			Email:           os.Getenv("NOWPAYMENTS_EMAIL"),
			Password:        os.Getenv("NOWPAYMENTS_PASSWORD"),
			TwoFactorSecret: os.Getenv("NOWPAYMENTS_2FA_SECRET"),
			IPNCallbackURL:  os.Getenv("NOWPAYMENTS_IPN_CALLBACK_URL"),
			PayCurrency:     getEnv("NOWPAYMENTS_PAY_CURRENCY", "usdtbsc"),
			PriceCurrency:   getEnv("NOWPAYMENTS_PRICE_CURRENCY", "usd"),
		},
		MoMo: momo.Config{
			Endpoint:    os.Getenv("MOMO_ENDPOINT"),
			PartnerCode: os.Getenv("MOMO_PARTNER_CODE"),
			AccessKey:   os.Getenv("MOMO_ACCESS_KEY"),
			SecretKey:   os.Getenv("MOMO_SECRET_KEY"),
			RedirectURL: os.Getenv("MOMO_REDIRECT_URL"),
			IPNURL:      os.Getenv("MOMO_IPN_URL"),
		},
		PayOS: payos.Config{
			BaseURL:     os.Getenv("PAYOS_BASE_URL"),
			ClientID:    os.Getenv("PAYOS_CLIENT_ID"),
			APIKey:      os.Getenv("PAYOS_API_KEY"),
			ChecksumKey: os.Getenv("PAYOS_CHECKSUM_KEY"),
			ReturnURL:   os.Getenv("PAYOS_RETURN_URL"),
			CancelURL:   os.Getenv("PAYOS_CANCEL_URL"),
		},
		Stripe: stripe.Config{
			BaseURL:       os.Getenv("STRIPE_BASE_URL"),
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			Currency:      getEnv("STRIPE_CURRENCY", "usd"),
		},
	}

	var err error
	if cfg.NotifyDedupeTTL, err = getEnvDuration("NOTIFY_DEDUPE_TTL", 7*24*time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.DepositStaleAfter, err = getEnvDuration("DEPOSIT_STALE_AFTER", 10*time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.WithdrawalUnresolvedAfter, err = getEnvDuration("WITHDRAWAL_UNRESOLVED_AFTER", 24*time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.InterestWorkers, err = getEnvInt("INTEREST_WORKERS", 8); err != nil {
		errs = append(errs, err)
	}
	scale, err := getEnvInt("MIN_UNIT_SCALE", 8)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.MinUnitScale = int32(scale)
	if cfg.ReferralCommissionPercent, err = getEnvDecimal("REFERRAL_COMMISSION_PERCENT", decimal.Zero); err != nil {
		errs = append(errs, err)
	}
	for _, rate := range []struct {
		key string
		dst *decimal.Decimal
	}{
		{"MOMO_VND_RATE", &cfg.MoMo.Rate},
		{"PAYOS_VND_RATE", &cfg.PayOS.Rate},
	} {
		if *rate.dst, err = getEnvDecimal(rate.key, decimal.Zero); err != nil {
			errs = append(errs, err)
		}
	}

	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendDynamoDB:
		t := c.Tables
		if t.Accounts == "" || t.Transactions == "" || t.Outbox == "" || t.Config == "" {
			return errors.New("one or more DynamoDB table name environment variables are not set")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	case BackendMemory:
		if !c.IsDevelopment() {
			return errors.New("the memory backend is only allowed in development")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Backend)
	}
	if c.ReferralCommissionPercent.IsNegative() || c.ReferralCommissionPercent.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("REFERRAL_COMMISSION_PERCENT must be in [0, 100]")
	}
	if c.MinUnitScale < 0 || c.MinUnitScale > 18 {
		return errors.New("MIN_UNIT_SCALE must be in [0, 18]")
	}
	return nil
}

// IsDevelopment reports whether ENVIRONMENT=development.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// NewLogger returns a development logger in development and a JSON production
// logger otherwise.
func (c *Config) NewLogger() (*zap.Logger, error) {
	if c.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvDecimal(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
