// Package config loads the terminal's YAML configuration file. All
// venue settings (tax, currency, tables, promotions) enter the engine
// through this one object at construction time; nothing below this
// layer reads ambient configuration.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tay1862/kinsaep-pos-sub005/internal/money"
	"github.com/tay1862/kinsaep-pos-sub005/internal/pricing"
	"github.com/tay1862/kinsaep-pos-sub005/internal/promotion"
	"github.com/tay1862/kinsaep-pos-sub005/internal/table"
)

// Config is the root of the terminal configuration file.
type Config struct {
	Terminal  Terminal    `yaml:"terminal"`
	Currency  Currency    `yaml:"currency"`
	Tax       Tax         `yaml:"tax"`
	Tips      Tips        `yaml:"tips,omitempty"`
	Store     StoreConfig `yaml:"store"`
	Broadcast Broadcast   `yaml:"broadcast,omitempty"`
	Tables    []Table     `yaml:"tables,omitempty"`
	Promos    []Promo     `yaml:"promotions,omitempty"`
}

// Terminal identifies this terminal on the bus.
type Terminal struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name,omitempty"`
	Staff string `yaml:"staff,omitempty"`
}

// Currency configures the display currency and the Lightning
// settlement conversion.
type Currency struct {
	// Code is the ISO 4217 display currency (e.g. "THB").
	Code string `yaml:"code"`

	// Decimals is the minor-unit exponent. Defaults to 2.
	Decimals int `yaml:"decimals,omitempty"`

	// SatsPerUnit converts one major unit into sats for payment-request
	// sizing. Zero disables the conversion.
	SatsPerUnit float64 `yaml:"satsPerUnit,omitempty"`
}

// Tax configures the venue tax.
type Tax struct {
	Enabled bool `yaml:"enabled"`

	// RatePercent is the tax rate as a percentage (e.g. 7 or 8.5).
	RatePercent float64 `yaml:"ratePercent,omitempty"`

	// Inclusive embeds the tax in item prices instead of adding it on
	// top.
	Inclusive bool `yaml:"inclusive,omitempty"`
}

// Tips lists the tip percentages offered at checkout.
type Tips struct {
	PresetPercents []float64 `yaml:"presetPercents,omitempty"`
}

// StoreConfig selects the local store path and the optional remote.
type StoreConfig struct {
	// LocalPath is the SQLite database file. Required.
	LocalPath string `yaml:"localPath"`

	// Postgres is the shared remote store. Empty host disables remote
	// sync; the terminal then runs standalone.
	Postgres Postgres `yaml:"postgres,omitempty"`
}

// Postgres holds the remote store connection settings.
type Postgres struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Database string `yaml:"database,omitempty"`
}

// Enabled reports whether a remote store is configured.
func (p Postgres) Enabled() bool { return p.Host != "" }

// Broadcast holds the peer bus connection settings. Empty host
// disables peer broadcasts.
type Broadcast struct {
	AMQP AMQP `yaml:"amqp,omitempty"`
}

// AMQP holds the broker connection settings for the terminal fanout.
type AMQP struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Enabled reports whether a peer bus is configured.
func (a AMQP) Enabled() bool { return a.Host != "" }

// Table is one entry of the venue floor plan.
type Table struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name,omitempty"`
	Capacity int    `yaml:"capacity,omitempty"`
}

// Promo is one active promotion rule.
type Promo struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Scope          string   `yaml:"scope"`
	ProductIDs     []string `yaml:"productIds,omitempty"`
	CategoryIDs    []string `yaml:"categoryIds,omitempty"`
	DiscountAmount int64    `yaml:"discountAmount,omitempty"`
	PercentOff     float64  `yaml:"percentOff,omitempty"`
}

// Load reads and parses a configuration file. Unknown fields are
// rejected so typos fail loudly instead of silently disabling a
// setting.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Currency.Decimals == 0 {
		c.Currency.Decimals = 2
	}
	if c.Store.Postgres.Enabled() && c.Store.Postgres.Port == 0 {
		c.Store.Postgres.Port = 5432
	}
	if c.Broadcast.AMQP.Enabled() && c.Broadcast.AMQP.Port == 0 {
		c.Broadcast.AMQP.Port = 5672
	}
}

func (c *Config) validate() error {
	if c.Terminal.ID == "" {
		return fmt.Errorf("terminal.id is required")
	}
	if c.Currency.Code == "" {
		return fmt.Errorf("currency.code is required")
	}
	if c.Store.LocalPath == "" {
		return fmt.Errorf("store.localPath is required")
	}
	if c.Tax.Enabled && (c.Tax.RatePercent <= 0 || c.Tax.RatePercent >= 100) {
		return fmt.Errorf("tax.ratePercent must be in (0, 100), got %v", c.Tax.RatePercent)
	}
	seen := make(map[string]bool, len(c.Tables))
	for _, t := range c.Tables {
		if t.ID == "" {
			return fmt.Errorf("tables entries require an id")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate table id %q", t.ID)
		}
		seen[t.ID] = true
	}
	for _, p := range c.Promos {
		switch promotion.Scope(p.Scope) {
		case promotion.ScopeAll, promotion.ScopeProducts, promotion.ScopeCategories:
		default:
			return fmt.Errorf("promotion %s: unknown scope %q", p.ID, p.Scope)
		}
		if p.DiscountAmount == 0 && p.PercentOff == 0 {
			return fmt.Errorf("promotion %s: either discountAmount or percentOff is required", p.ID)
		}
		if p.DiscountAmount != 0 && p.PercentOff != 0 {
			return fmt.Errorf("promotion %s: discountAmount and percentOff are mutually exclusive", p.ID)
		}
	}
	return nil
}

// TaxSpec converts the tax section into the pricing layer's spec.
func (c *Config) TaxSpec() pricing.TaxSpec {
	return pricing.TaxSpec{
		Enabled:   c.Tax.Enabled,
		Rate:      money.BpsFromPercent(c.Tax.RatePercent),
		Inclusive: c.Tax.Inclusive,
	}
}

// SettlementSpec converts the currency section into the settlement
// conversion spec.
func (c *Config) SettlementSpec() pricing.SettlementSpec {
	return pricing.SettlementSpec{
		SatsPerUnit: c.Currency.SatsPerUnit,
		Decimals:    c.Currency.Decimals,
	}
}

// TipPresets converts the tip section into basis points.
func (c *Config) TipPresets() []money.Bps {
	out := make([]money.Bps, len(c.Tips.PresetPercents))
	for i, pct := range c.Tips.PresetPercents {
		out[i] = money.BpsFromPercent(pct)
	}
	return out
}

// FloorPlan converts the tables section into the table manager's
// initial state.
func (c *Config) FloorPlan() []table.Table {
	out := make([]table.Table, len(c.Tables))
	for i, t := range c.Tables {
		out[i] = table.Table{ID: t.ID, Name: t.Name, Capacity: t.Capacity}
	}
	return out
}

// PromotionCatalog converts the promotions section into engine rules.
func (c *Config) PromotionCatalog() []promotion.Rule {
	out := make([]promotion.Rule, len(c.Promos))
	for i, p := range c.Promos {
		r := promotion.Rule{
			ID:          p.ID,
			Name:        p.Name,
			Scope:       promotion.Scope(p.Scope),
			ProductIDs:  p.ProductIDs,
			CategoryIDs: p.CategoryIDs,
		}
		if p.PercentOff != 0 {
			r.Kind = promotion.KindPercent
			r.Percent = money.BpsFromPercent(p.PercentOff)
		} else {
			r.Kind = promotion.KindFixed
			r.Amount = money.Money(p.DiscountAmount)
		}
		out[i] = r
	}
	return out
}
