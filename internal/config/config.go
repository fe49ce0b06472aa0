/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from an optional .env file and environment
 * variables, then normalises the policy switches the billing and generation
 * components branch on.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Credit debit policies.
const (
	DebitPolicyNone         = "none"
	DebitPolicyOnSubmit     = "on_submit"
	DebitPolicyOnCompletion = "on_completion"
)

// Unknown price policies.
const (
	UnknownPriceDefaultPro = "default_pro"
	UnknownPriceReject     = "reject"
)

// Config holds all the configuration variables for the service.
type Config struct {
	ServerPort         string `mapstructure:"SERVER_PORT"`
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	RunMigrations      bool   `mapstructure:"RUN_MIGRATIONS"`
	SupabaseJWTSecret  string `mapstructure:"SUPABASE_JWT_SECRET"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	AppURL             string `mapstructure:"APP_URL"`

	StripeSecretKey      string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret  string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripePricePro       string `mapstructure:"STRIPE_PRICE_PRO"`
	StripePriceUnlimited string `mapstructure:"STRIPE_PRICE_UNLIMITED"`
	StripePricePAYG      string `mapstructure:"STRIPE_PRICE_PAYG"`
	UnknownPricePolicy   string `mapstructure:"UNKNOWN_PRICE_POLICY"`

	RenderWebhookURL     string        `mapstructure:"RENDER_WEBHOOK_URL"`
	RenderCallbackSecret string        `mapstructure:"RENDER_CALLBACK_SECRET"`
	RenderTriggerTimeout time.Duration `mapstructure:"RENDER_TRIGGER_TIMEOUT"`

	RabbitMQURL   string `mapstructure:"RABBITMQ_URL"`
	EventExchange string `mapstructure:"EVENT_EXCHANGE"`

	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	GenerateRateLimitPerMinute int    `mapstructure:"GENERATION_RATE_LIMIT_PER_MINUTE"`

	CreditDebitPolicy          string `mapstructure:"CREDIT_DEBIT_POLICY"`
	SubscriptionMonthlyCredits int64  `mapstructure:"SUBSCRIPTION_MONTHLY_CREDITS"`

	StaleJobSweepSchedule string        `mapstructure:"STALE_JOB_SWEEP_SCHEDULE"`
	StaleJobTimeout       time.Duration `mapstructure:"STALE_JOB_TIMEOUT"`
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("RUN_MIGRATIONS", true)
		viper.SetDefault("APP_URL", "http://localhost:3000")
	viper.SetDefault("UNKNOWN_PRICE_POLICY", UnknownPriceDefaultPro)
	viper.SetDefault("RENDER_TRIGGER_TIMEOUT", "30s")
	viper.SetDefault("EVENT_EXCHANGE", "adreel.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "adreel:rate_limit")
	viper.SetDefault("GENERATION_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("CREDIT_DEBIT_POLICY", DebitPolicyNone)
	viper.SetDefault("SUBSCRIPTION_MONTHLY_CREDITS", 0)
	viper.SetDefault("STALE_JOB_SWEEP_SCHEDULE", "@every 5m")
	viper.SetDefault("STALE_JOB_TIMEOUT", "2h")

	// Bind environment variables explicitly to ensure they appear in Unmarshal.
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RUN_MIGRATIONS")
	_ = viper.BindEnv("SUPABASE_JWT_SECRET")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("APP_URL", "APP_URL", "NEXT_PUBLIC_APP_URL")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("STRIPE_PRICE_PRO", "STRIPE_PRICE_PRO", "STRIPE_PRO_PRICE_ID")
	_ = viper.BindEnv("STRIPE_PRICE_UNLIMITED", "STRIPE_PRICE_UNLIMITED", "STRIPE_UNLIMITED_PRICE_ID")
	_ = viper.BindEnv("STRIPE_PRICE_PAYG", "STRIPE_PRICE_PAYG", "STRIPE_PAYG_PRICE_ID")
	_ = viper.BindEnv("UNKNOWN_PRICE_POLICY")
	_ = viper.BindEnv("RENDER_WEBHOOK_URL", "RENDER_WEBHOOK_URL", "N8N_WEBHOOK_URL")
	_ = viper.BindEnv("RENDER_CALLBACK_SECRET", "RENDER_CALLBACK_SECRET", "N8N_WEBHOOK_SECRET")
	_ = viper.BindEnv("RENDER_TRIGGER_TIMEOUT")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("GENERATION_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("CREDIT_DEBIT_POLICY")
	_ = viper.BindEnv("SUBSCRIPTION_MONTHLY_CREDITS")
	_ = viper.BindEnv("STALE_JOB_SWEEP_SCHEDULE")
	_ = viper.BindEnv("STALE_JOB_TIMEOUT")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.AppURL = strings.TrimRight(strings.TrimSpace(config.AppURL), "/")

	config.CreditDebitPolicy = strings.ToLower(strings.TrimSpace(config.CreditDebitPolicy))
	switch config.CreditDebitPolicy {
	case DebitPolicyNone, DebitPolicyOnSubmit, DebitPolicyOnCompletion:
	default:
		log.Printf("level=warn component=config msg=\"unknown CREDIT_DEBIT_POLICY; falling back to none\" value=%q", config.CreditDebitPolicy)
		config.CreditDebitPolicy = DebitPolicyNone
	}

	config.UnknownPricePolicy = strings.ToLower(strings.TrimSpace(config.UnknownPricePolicy))
	if config.UnknownPricePolicy != UnknownPriceReject {
		config.UnknownPricePolicy = UnknownPriceDefaultPro
	}

	if config.SubscriptionMonthlyCredits < 0 {
		log.Printf("level=warn component=config msg=\"negative monthly credits configured; coercing to zero\" credits=%d", config.SubscriptionMonthlyCredits)
		config.SubscriptionMonthlyCredits = 0
	}
	if config.GenerateRateLimitPerMinute < 0 {
		config.GenerateRateLimitPerMinute = 0
	}
	if config.RenderTriggerTimeout <= 0 {
		config.RenderTriggerTimeout = 30 * time.Second
	}
	// Zero disables the stale job sweep.
	if config.StaleJobTimeout < 0 {
		config.StaleJobTimeout = 0
	}

	return
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas. When unset only the
// front end at APP_URL is allowed.
func (c Config) AllowedOrigins() []string {
	origins := make([]string, 0)
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 && c.AppURL != "" {
		return []string{c.AppURL}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
