package config

import (
	"fmt"
	"regexp"

	"github.com/BurntSushi/toml"
)

// OptionConfig is one rentable extra, charged per day.
type OptionConfig struct {
	Label  string `toml:"label"`
	PerDay int64  `toml:"per_day"`
}

// PricingConfig is read-only pricing data shared by every request.
// Source: TOML file named by PRICING_FILE.
type PricingConfig struct {
	Currency        string                  `toml:"currency"`
	ServiceFeeBps   int64                   `toml:"service_fee_bps"`
	InsuranceFeeBps int64                   `toml:"insurance_fee_bps"`
	Options         map[string]OptionConfig `toml:"options"`
}

var optionCode = regexp.MustCompile(`^[a-z][a-z0-9_]{0,47}$`)

// DefaultPricing is used when no pricing file is configured.
func DefaultPricing() *PricingConfig {
	return &PricingConfig{
		Currency:        "XAF",
		ServiceFeeBps:   1000,
		InsuranceFeeBps: 500,
		Options: map[string]OptionConfig{
			"child_seat":   {Label: "Child seat", PerDay: 5000},
			"gps":          {Label: "GPS navigation", PerDay: 3000},
			"extra_driver": {Label: "Additional driver", PerDay: 7500},
			"chauffeur":    {Label: "Chauffeur", PerDay: 20000},
		},
	}
}

// LoadPricing loads pricing from a TOML file, or the defaults when path is empty.
func LoadPricing(path string) (*PricingConfig, error) {
	if path == "" {
		return DefaultPricing(), nil
	}
	var cfg PricingConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load pricing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pricing config %s: %w", path, err)
	}
	return &cfg, nil
}

func (p *PricingConfig) Validate() error {
	if p.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if p.ServiceFeeBps < 0 || p.ServiceFeeBps > 10000 {
		return fmt.Errorf("service_fee_bps out of range: %d", p.ServiceFeeBps)
	}
	if p.InsuranceFeeBps < 0 || p.InsuranceFeeBps > 10000 {
		return fmt.Errorf("insurance_fee_bps out of range: %d", p.InsuranceFeeBps)
	}
	for code, opt := range p.Options {
		if !optionCode.MatchString(code) {
			return fmt.Errorf("invalid option code %q", code)
		}
		if opt.PerDay < 0 {
			return fmt.Errorf("option %s has negative per_day fee", code)
		}
	}
	return nil
}

// Catalog returns option code to per-day fee.
func (p *PricingConfig) Catalog() map[string]int64 {
	out := make(map[string]int64, len(p.Options))
	for code, opt := range p.Options {
		out[code] = opt.PerDay
	}
	return out
}
