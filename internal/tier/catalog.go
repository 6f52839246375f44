// Package tier holds the pricing catalog: per-tier quota limits, API access
// and rate limits.
package tier

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Well-known tier names.
const (
	Free       = "free"
	Pro        = "pro"
	Enterprise = "enterprise"
)

// ErrUnknownTier is returned when a tier name is not in the catalog.
var ErrUnknownTier = errors.New("unknown tier")

// Tier describes a subscription plan.
type Tier struct {
	Name               string   `yaml:"name" json:"name"`
	DisplayName        string   `yaml:"display_name" json:"display_name"`
	PriceUSD           int      `yaml:"price_usd" json:"price_usd"`
	MonthlyLimit       int      `yaml:"monthly_limit" json:"monthly_limit"`
	APIAccess          bool     `yaml:"api_access" json:"api_access"`
	Features           []string `yaml:"features" json:"features"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	Burst              int      `yaml:"burst" json:"burst"`
}

// Catalog is an immutable set of tiers keyed by name.
type Catalog struct {
	tiers map[string]Tier
	order []string
}

// DefaultCatalog returns the built-in pricing table.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]Tier{
		{
			Name:         Free,
			DisplayName:  "Free",
			PriceUSD:     0,
			MonthlyLimit: 10,
			APIAccess:    false,
			Features: []string{
				"10 notarizations/month",
				"C2PA signing",
				"IPFS storage",
				"Blockchain anchoring",
				"Verification pages",
			},
			RateLimitPerMinute: 10,
			Burst:              5,
		},
		{
			Name:         Pro,
			DisplayName:  "Pro",
			PriceUSD:     29,
			MonthlyLimit: 500,
			APIAccess:    true,
			Features: []string{
				"500 notarizations/month",
				"Everything in Free",
				"REST API access",
				"API key management",
				"Priority support",
			},
			RateLimitPerMinute: 60,
			Burst:              20,
		},
		{
			Name:         Enterprise,
			DisplayName:  "Enterprise",
			PriceUSD:     299,
			MonthlyLimit: 10000,
			APIAccess:    true,
			Features: []string{
				"10,000 notarizations/month",
				"Everything in Pro",
				"Unlimited API keys",
				"Webhook integrations",
				"Dedicated support",
				"Custom SLA",
			},
			RateLimitPerMinute: 600,
			Burst:              100,
		},
	})
	if err != nil {
		panic(fmt.Sprintf("default catalog invalid: %v", err))
	}
	return c
}

// NewCatalog validates tiers and builds a Catalog. The order of tiers is
// preserved for display.
func NewCatalog(tiers []Tier) (*Catalog, error) {
	c := &Catalog{tiers: make(map[string]Tier, len(tiers))}

	for _, t := range tiers {
		if t.Name == "" {
			return nil, errors.New("tier name is required")
		}
		if _, dup := c.tiers[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tier %q", t.Name)
		}
		if t.MonthlyLimit < 0 {
			return nil, fmt.Errorf("tier %q: monthly_limit must be non-negative", t.Name)
		}
		if t.PriceUSD < 0 {
			return nil, fmt.Errorf("tier %q: price_usd must be non-negative", t.Name)
		}
		if t.RateLimitPerMinute < 0 || t.Burst < 0 {
			return nil, fmt.Errorf("tier %q: rate limits must be non-negative", t.Name)
		}
		if t.DisplayName == "" {
			t.DisplayName = t.Name
		}
		if t.Burst == 0 {
			t.Burst = t.RateLimitPerMinute
		}
		t.Features = append([]string(nil), t.Features...)
		c.tiers[t.Name] = t
		c.order = append(c.order, t.Name)
	}

	// New accounts land on the free tier.
	if _, ok := c.tiers[Free]; !ok {
		return nil, fmt.Errorf("catalog must define the %q tier", Free)
	}

	return c, nil
}

type catalogFile struct {
	Tiers []Tier `yaml:"tiers"`
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tiers file: %w", err)
	}
	if len(f.Tiers) == 0 {
		return nil, errors.New("tiers file defines no tiers")
	}
	return NewCatalog(f.Tiers)
}

// Get returns the tier with the given name.
func (c *Catalog) Get(name string) (Tier, error) {
	t, ok := c.tiers[name]
	if !ok {
		return Tier{}, fmt.Errorf("%w: %s", ErrUnknownTier, name)
	}
	t.Features = append([]string(nil), t.Features...)
	return t, nil
}

// Lookup is Get without the error, falling back to the free tier.
func (c *Catalog) Lookup(name string) Tier {
	if t, err := c.Get(name); err == nil {
		return t
	}
	t, _ := c.Get(Free)
	return t
}

// Names returns tier names in display order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// All returns tiers in display order.
func (c *Catalog) All() []Tier {
	out := make([]Tier, 0, len(c.order))
	for _, name := range c.order {
		t, _ := c.Get(name)
		out = append(out, t)
	}
	return out
}

