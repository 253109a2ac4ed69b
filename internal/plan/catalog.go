package plan

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/tendant/callgate/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed plans.yaml
var defaultCatalog []byte

// Tier holds the limits of one plan tier.
type Tier struct {
	PoolMinutes    int  `yaml:"pool_minutes"`
	ConcurrencyMax int  `yaml:"concurrency_max"`
	Overage        bool `yaml:"overage"`
}

// Catalog maps tier names to their default limits.
type Catalog struct {
	DefaultTier string          `yaml:"default_tier"`
	Tiers       map[string]Tier `yaml:"tiers"`
}

// LoadCatalog reads the catalog from path, or the embedded catalog if path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	normalized := make(map[string]Tier, len(c.Tiers))
	for name, t := range c.Tiers {
		if t.PoolMinutes < 0 || t.ConcurrencyMax < 0 {
			return nil, fmt.Errorf("plan catalog: tier %q has negative limits", name)
		}
		normalized[strings.ToLower(name)] = t
	}
	c.Tiers = normalized
	c.DefaultTier = strings.ToLower(c.DefaultTier)
	if _, ok := c.Tiers[c.DefaultTier]; !ok {
		return nil, fmt.Errorf("plan catalog: default tier %q not defined", c.DefaultTier)
	}
	return &c, nil
}

// Plan returns the default plan for tier.
func (c *Catalog) Plan(tier string) (domain.Plan, bool) {
	tier = strings.ToLower(tier)
	t, ok := c.Tiers[tier]
	if !ok {
		return domain.Plan{}, false
	}
	return domain.Plan{
		Tier:           tier,
		PoolMinutes:    t.PoolMinutes,
		ConcurrencyMax: t.ConcurrencyMax,
		OverageEnabled: t.Overage,
	}, true
}

// Default returns the plan of the default tier.
func (c *Catalog) Default() domain.Plan {
	p, _ := c.Plan(c.DefaultTier)
	return p
}
