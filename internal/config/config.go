package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dineloop/dineloop/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Server     ServerConfig     `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig   `validate:"required"`
	Stripe     StripeConfig     `validate:"required"`
	Auth       AuthConfig       `validate:"required"`
	Sentry     SentryConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type StripeConfig struct {
	SecretKey      string `validate:"required"`
	PublishableKey string
	WebhookSecret  string
	// TrialPeriodDays is the trial length granted on first trial checkout.
	TrialPeriodDays int64
	Prices          PriceCatalog
}

// PriceCatalog maps plan tiers to Stripe price ids. Trial subscriptions are
// created on the monthly price with a trial window, so the catalog carries
// paid tiers only.
type PriceCatalog struct {
	Monthly    string
	Semiannual string
	Annual     string
}

// PriceIDFor resolves the Stripe price id for a plan. Trial resolves to the
// monthly price.
func (p PriceCatalog) PriceIDFor(plan types.PlanType) (string, bool) {
	switch plan {
	case types.PlanTypeTrial, types.PlanTypeMonthly:
		return p.Monthly, p.Monthly != ""
	case types.PlanTypeSemiannual:
		return p.Semiannual, p.Semiannual != ""
	case types.PlanTypeAnnual:
		return p.Annual, p.Annual != ""
	default:
		return "", false
	}
}

// PlanFor is the inverse lookup, used when a webhook carries only a price id.
func (p PriceCatalog) PlanFor(priceID string) (types.PlanType, bool) {
	switch priceID {
	case "":
		return "", false
	case p.Monthly:
		return types.PlanTypeMonthly, true
	case p.Semiannual:
		return types.PlanTypeSemiannual, true
	case p.Annual:
		return types.PlanTypeAnnual, true
	default:
		return "", false
	}
}

type AuthConfig struct {
	// Secret is the HMAC secret the identity provider signs access tokens with.
	Secret   string `validate:"required"`
	Supabase SupabaseConfig
}

type SupabaseConfig struct {
	BaseURL    string
	ServiceKey string
}

type SentryConfig struct {
	Enabled     bool
	DSN         string
	Environment string
	SampleRate  float64
}

func NewConfig() (*Configuration, error) {
	// Local .env files are optional; env vars win either way
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/dineloop")

	v.SetEnvPrefix("DINELOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", string(types.ModeLocal))
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", string(types.LogLevelInfo))
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("stripe.trialperioddays", 30)
	v.SetDefault("sentry.samplerate", 1.0)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for local development
// and tests that never touch external services.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Stripe: StripeConfig{
			TrialPeriodDays: 30,
			Prices: PriceCatalog{
				Monthly:    "price_monthly",
				Semiannual: "price_semiannual",
				Annual:     "price_annual",
			},
		},
	}
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}
