// Package catalog holds the static reference data served to clients:
// pricing plans, video quality tiers, voices, avatar styles and credit packs.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"sync"

	"omniavatar/server/internal/model"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embedded []byte

type Catalog struct {
	Plans          []model.PricingPlan   `yaml:"plans" json:"plans"`
	Qualities      []model.QualityOption `yaml:"qualities" json:"qualities"`
	Voices         []model.VoiceOption   `yaml:"voices" json:"voices"`
	Styles         []model.AvatarStyle   `yaml:"styles" json:"styles"`
	CreditPackages []model.CreditPackage `yaml:"credit_packages" json:"creditPackages"`
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(bytes.NewReader(embedded))
		if err != nil {
			panic(fmt.Sprintf("catalog: embedded catalog.yaml is invalid: %v", err))
		}
		defaultCat = c
	})
	return defaultCat
}

func Parse(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Plans) == 0 || len(c.Qualities) == 0 || len(c.Voices) == 0 {
		return fmt.Errorf("catalog: plans, qualities and voices are required")
	}
	for _, p := range c.Plans {
		if !p.Tier.Valid() {
			return fmt.Errorf("catalog: plan %q has unknown tier %q", p.ID, p.Tier)
		}
	}
	for _, q := range c.Qualities {
		if q.Credits < 1 || q.MaxDuration < 1 {
			return fmt.Errorf("catalog: quality %q needs positive credits and max duration", q.ID)
		}
	}
	return nil
}

func (c *Catalog) Plan(id string) (model.PricingPlan, bool) {
	for _, p := range c.Plans {
		if p.ID == id {
			return p, true
		}
	}
	return model.PricingPlan{}, false
}

func (c *Catalog) PlanForTier(tier model.SubscriptionTier) (model.PricingPlan, bool) {
	for _, p := range c.Plans {
		if p.Tier == tier {
			return p, true
		}
	}
	return model.PricingPlan{}, false
}

// Quality looks a tier up by id ("hd") or display level ("HD"), case-insensitively.
func (c *Catalog) Quality(id string) (model.QualityOption, bool) {
	for _, q := range c.Qualities {
		if strings.EqualFold(q.ID, id) || strings.EqualFold(string(q.Quality), id) {
			return q, true
		}
	}
	return model.QualityOption{}, false
}

func (c *Catalog) Voice(id string) (model.VoiceOption, bool) {
	for _, v := range c.Voices {
		if v.ID == id {
			return v, true
		}
	}
	return model.VoiceOption{}, false
}

func (c *Catalog) DefaultVoice() model.VoiceOption {
	return c.Voices[0]
}

func (c *Catalog) Style(id string) (model.AvatarStyle, bool) {
	for _, s := range c.Styles {
		if s.ID == id {
			return s, true
		}
	}
	return model.AvatarStyle{}, false
}

func (c *Catalog) CreditPackage(id string) (model.CreditPackage, bool) {
	for _, p := range c.CreditPackages {
		if p.ID == id {
			return p, true
		}
	}
	return model.CreditPackage{}, false
}
