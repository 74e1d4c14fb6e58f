// Package config loads server settings from giving.yaml, GIVING_* env
// variables and flags bound by the caller.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "GIVING"

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Campaign  CampaignConfig  `mapstructure:"campaign"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Resend    ResendConfig    `mapstructure:"resend"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	OTel      OTelConfig      `mapstructure:"otel"`
	AWS       AWSConfig       `mapstructure:"aws"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type RabbitMQConfig struct {
	URL   string `mapstructure:"url"`
	Queue string `mapstructure:"queue"`
}

type CampaignConfig struct {
	StartDate string `mapstructure:"start_date"`
	Timezone  string `mapstructure:"timezone"`
}

type SchedulerConfig struct {
	DemoInterval time.Duration `mapstructure:"demo_interval"`
}

type TrackerConfig struct {
	PendingTTL     time.Duration `mapstructure:"pending_ttl"`
	ExpiryInterval time.Duration `mapstructure:"expiry_interval"`
}

type RelayConfig struct {
	Kind                   string        `mapstructure:"kind"`
	ServiceID              string        `mapstructure:"service_id"`
	ConfirmationTemplateID string        `mapstructure:"confirmation_template_id"`
	ReminderTemplateID     string        `mapstructure:"reminder_template_id"`
	AuthToken              string        `mapstructure:"auth_token"`
	AuthTokenSecretID      string        `mapstructure:"auth_token_secret_id"`
	Timeout                time.Duration `mapstructure:"timeout"`
}

type ResendConfig struct {
	APIKey     string `mapstructure:"api_key"`
	FromEmail  string `mapstructure:"from_email"`
	RedirectTo string `mapstructure:"redirect_to"`
}

type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
}

type AdminConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type PolicyConfig struct {
	Engine string `mapstructure:"engine"`
	Module string `mapstructure:"module"`
}

type OTelConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

// SetDefaults registers every known key, which also makes each one
// visible to AutomaticEnv during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.queue", "donations.confirmations")
	v.SetDefault("campaign.start_date", "2025-03-22")
	v.SetDefault("campaign.timezone", "UTC")
	v.SetDefault("scheduler.demo_interval", time.Duration(0))
	v.SetDefault("tracker.pending_ttl", 24*time.Hour)
	v.SetDefault("tracker.expiry_interval", 5*time.Minute)
	v.SetDefault("relay.kind", "log")
	v.SetDefault("relay.service_id", "")
	v.SetDefault("relay.confirmation_template_id", "")
	v.SetDefault("relay.reminder_template_id", "")
	v.SetDefault("relay.auth_token", "")
	v.SetDefault("relay.auth_token_secret_id", "")
	v.SetDefault("relay.timeout", 10*time.Second)
	v.SetDefault("resend.api_key", "")
	v.SetDefault("resend.from_email", "")
	v.SetDefault("resend.redirect_to", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("policy.engine", "hardcoded")
	v.SetDefault("policy.module", "")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("aws.region", "")
}

// New returns a viper instance with defaults and env binding. configFile
// may be empty, in which case giving.yaml is looked up in the working
// directory and $HOME.
func New(configFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("giving")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}
	return v
}

// Load reads the optional config file and decodes v into a Config.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// Env values for list keys arrive as one comma separated string.
	cfg.Kafka.Brokers = splitList(v.GetStringSlice("kafka.brokers"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the enumerated settings and the secrets they imply.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for storage.driver=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q: want memory or postgres", c.Storage.Driver))
	}
	switch c.Relay.Kind {
	case "log":
	case "emailjs":
		if c.Relay.ServiceID == "" {
			errs = append(errs, errors.New("relay.service_id is required for relay.kind=emailjs"))
		}
	case "resend":
		if c.Resend.APIKey == "" || c.Resend.FromEmail == "" {
			errs = append(errs, errors.New("resend.api_key and resend.from_email are required for relay.kind=resend"))
		}
	default:
		errs = append(errs, fmt.Errorf("relay.kind %q: want log, emailjs or resend", c.Relay.Kind))
	}
	switch c.Policy.Engine {
	case "hardcoded", "rego":
	default:
		errs = append(errs, fmt.Errorf("policy.engine %q: want hardcoded or rego", c.Policy.Engine))
	}
	if c.Scheduler.DemoInterval < 0 {
		errs = append(errs, errors.New("scheduler.demo_interval must not be negative"))
	}
	if c.Tracker.PendingTTL <= 0 {
		errs = append(errs, errors.New("tracker.pending_ttl must be positive"))
	}
	if c.Tracker.ExpiryInterval <= 0 {
		errs = append(errs, errors.New("tracker.expiry_interval must be positive"))
	}
	return errors.Join(errs...)
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
