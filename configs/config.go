package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/aq2208/garden-checkout/internal/adapter/catalog"
	"github.com/aq2208/garden-checkout/internal/adapter/gateway"
	"github.com/aq2208/garden-checkout/internal/pricing"
	"github.com/aq2208/garden-checkout/internal/security"
	"github.com/aq2208/garden-checkout/internal/telemetry"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

const envPrefix = "CHECKOUT_"

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		Env      string `koanf:"env"`
		HTTPAddr string `koanf:"http_addr"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout     time.Duration `koanf:"read_timeout"`
		WriteTimeout    time.Duration `koanf:"write_timeout"`
		IdleTimeout     time.Duration `koanf:"idle_timeout"`
		CheckoutTimeout time.Duration `koanf:"checkout_timeout"`
		QueryTimeout    time.Duration `koanf:"query_timeout"`
	} `koanf:"http"`

	Store struct {
		Driver  string `koanf:"driver"` // memory | mysql
		Migrate bool   `koanf:"migrate"`
	} `koanf:"store"`

	MySQL struct {
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	} `koanf:"mysql"`

	Redis struct {
		Enabled  bool   `koanf:"enabled"`
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Idempotency struct {
		TTL          time.Duration `koanf:"ttl"`
		LockWait     time.Duration `koanf:"lock_wait"`
		PollInterval time.Duration `koanf:"poll_interval"`
	} `koanf:"idempotency"`

	Pricing struct {
		Currency        string         `koanf:"currency"`
		TaxRate         string         `koanf:"tax_rate"`
		ShippingTiers   []ShippingTier `koanf:"shipping_tiers"`
		FreeAboveFee    string         `koanf:"free_above_fee"`
		DeliveryETADays int            `koanf:"delivery_eta_days"`
		StoreName       string         `koanf:"store_name"`
		MaxOrderTotal   string         `koanf:"max_order_total"`
		MaxQuantity     int            `koanf:"max_quantity"`
	} `koanf:"pricing"`

	Catalog struct {
		Products []catalog.Item `koanf:"products"`
		CacheTTL time.Duration  `koanf:"cache_ttl"`
	} `koanf:"catalog"`

	Gateway struct {
		Driver          string               `koanf:"driver"` // sandbox | clover
		TokenizeTimeout time.Duration        `koanf:"tokenize_timeout"`
		ChargeTimeout   time.Duration        `koanf:"charge_timeout"`
		PersistAttempts int                  `koanf:"persist_attempts"`
		PersistBackoff  time.Duration        `koanf:"persist_backoff"`
		Clover          gateway.CloverConfig `koanf:"clover"`
	} `koanf:"gateway"`

	Rabbit struct {
		Enabled           bool   `koanf:"enabled"`
		URL               string `koanf:"url"`
		Exchange          string `koanf:"exchange"`
		NotificationQueue string `koanf:"notification_queue"`
		Prefetch          int    `koanf:"prefetch"`
	} `koanf:"rabbitmq"`

	Outbox struct {
		PollInterval time.Duration `koanf:"poll_interval"`
		BatchSize    int           `koanf:"batch_size"`
		MaxBackoff   time.Duration `koanf:"max_backoff"`
	} `koanf:"outbox"`

	Kafka struct {
		Enabled      bool     `koanf:"enabled"`
		Brokers      []string `koanf:"brokers"`
		GroupID      string   `koanf:"group_id"`
		PaymentTopic string   `koanf:"payment_topic"`
	} `koanf:"kafka"`

	Security struct {
		security.JWTConfig `koanf:",squash"`
		Clients            []security.Client `koanf:"clients"`
	} `koanf:"security"`

	Telemetry telemetry.Config `koanf:"telemetry"`

	PaymentLog struct {
		Path string `koanf:"path"`
	} `koanf:"paymentlog"`

	GRPC struct {
		HealthAddr string `koanf:"health_addr"`
	} `koanf:"grpc"`
}

type ShippingTier struct {
	Below string `koanf:"below"`
	Fee   string `koanf:"fee"`
}

func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")
	// 1) base
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	// 2) env override (dev/staging/prod). Optional: allow missing for local runs.
	_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())

	// 3) environment variables override (prefix CHECKOUT_, nested with __)
	// e.g. CHECKOUT_MYSQL__DSN, CHECKOUT_GATEWAY__CLOVER__ACCESS_TOKEN
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if cfg.App.Env == "" {
		cfg.App.Env = envName
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	switch c.Store.Driver {
	case "memory":
	case "mysql":
		if c.MySQL.DSN == "" {
			return fmt.Errorf("mysql.dsn required for store.driver=mysql")
		}
	default:
		return fmt.Errorf("store.driver %q must be memory or mysql", c.Store.Driver)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr required when redis is enabled")
	}
	switch c.Gateway.Driver {
	case "sandbox":
	case "clover":
		if c.Gateway.Clover.BaseURL == "" || c.Gateway.Clover.TokenURL == "" || c.Gateway.Clover.AccessToken == "" {
			return fmt.Errorf("gateway.clover base_url, token_url and access_token required")
		}
	default:
		return fmt.Errorf("gateway.driver %q must be sandbox or clover", c.Gateway.Driver)
	}
	if c.Pricing.Currency == "" {
		return fmt.Errorf("pricing.currency required")
	}
	if _, err := c.PricingPolicy(); err != nil {
		return err
	}
	if c.Pricing.MaxQuantity < 0 {
		return fmt.Errorf("pricing.max_quantity must not be negative")
	}
	if len(c.Catalog.Products) == 0 {
		return fmt.Errorf("catalog.products required")
	}
	if c.Rabbit.Enabled && c.Rabbit.URL == "" {
		return fmt.Errorf("rabbitmq.url required when rabbitmq is enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.PaymentTopic == "") {
		return fmt.Errorf("kafka.brokers and kafka.payment_topic required when kafka is enabled")
	}
	if c.Security.Secret == "" {
		return fmt.Errorf("security.jwt_secret required")
	}
	return nil
}

// PricingPolicy parses the configured tax and shipping rules.
func (c Config) PricingPolicy() (pricing.Policy, error) {
	rate, err := decimal.NewFromString(c.Pricing.TaxRate)
	if err != nil {
		return pricing.Policy{}, fmt.Errorf("pricing.tax_rate: %w", err)
	}
	p := pricing.Policy{TaxRate: rate, FreeAboveFee: decimal.Zero}
	for i, t := range c.Pricing.ShippingTiers {
		below, err := decimal.NewFromString(t.Below)
		if err != nil {
			return pricing.Policy{}, fmt.Errorf("pricing.shipping_tiers[%d].below: %w", i, err)
		}
		fee, err := decimal.NewFromString(t.Fee)
		if err != nil {
			return pricing.Policy{}, fmt.Errorf("pricing.shipping_tiers[%d].fee: %w", i, err)
		}
		p.Tiers = append(p.Tiers, pricing.ShippingTier{Below: below, Fee: fee})
	}
	if c.Pricing.FreeAboveFee != "" {
		if p.FreeAboveFee, err = decimal.NewFromString(c.Pricing.FreeAboveFee); err != nil {
			return pricing.Policy{}, fmt.Errorf("pricing.free_above_fee: %w", err)
		}
	}
	if c.Pricing.MaxOrderTotal != "" {
		if p.MaxGrandTotal, err = decimal.NewFromString(c.Pricing.MaxOrderTotal); err != nil {
			return pricing.Policy{}, fmt.Errorf("pricing.max_order_total: %w", err)
		}
	}
	if err := p.Validate(); err != nil {
		return pricing.Policy{}, fmt.Errorf("pricing: %w", err)
	}
	return p, nil
}
