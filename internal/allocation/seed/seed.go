// Package seed builds the pool registry from a YAML catalog file.
package seed

import (
	"fmt"
	"os"
	"strings"

	"slotbook/internal/allocation/engine"
	"slotbook/internal/allocation/matcher"
	"slotbook/internal/allocation/pricing"
	"slotbook/pkg/logger"
	"slotbook/pkg/model"
	"slotbook/pkg/sanitizer"

	"gopkg.in/yaml.v3"
)

// File is the root of a catalog file:
//
//	pools:
//	  - name: garage
//	    pricing: {kind: hourly, rate: 10}
//	    compatibility: {two_wheeler: small, four_wheeler: medium, truck: large}
//	    units:
//	      - {id: S1, category: small}
type File struct {
	Pools []Pool `yaml:"pools"`
}

type Pool struct {
	Name string `yaml:"name"`
	// Compatibility maps request categories to unit categories. When empty
	// the parking table is used, unless Identity lists categories.
	Compatibility map[string]string `yaml:"compatibility"`
	Identity      []string          `yaml:"identity"`
	Pricing       Pricing           `yaml:"pricing"`
	Units         []model.Unit      `yaml:"units"`
}

type Pricing struct {
	Kind     string           `yaml:"kind"`
	Rate     *int64           `yaml:"rate"`
	Flat     *int64           `yaml:"flat"`
	Rates    map[string]int64 `yaml:"rates"`
	Fallback int64            `yaml:"fallback"`
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	f.normalize()
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	return &f, nil
}

// normalize applies the same sanitizing the API applies to its input, so a
// unit seeded as "Medium" matches a request for "four wheeler".
func (f *File) normalize() {
	for i := range f.Pools {
		p := &f.Pools[i]
		p.Name = sanitizer.TrimAndNormalize(p.Name)
		p.Identity = sanitizer.NormalizeCategories(p.Identity)

		if len(p.Compatibility) > 0 {
			table := make(map[string]string, len(p.Compatibility))
			for req, unit := range p.Compatibility {
				table[sanitizer.SanitizeCategory(req)] = sanitizer.SanitizeCategory(unit)
			}
			p.Compatibility = table
		}
		if len(p.Pricing.Rates) > 0 {
			rates := make(map[string]int64, len(p.Pricing.Rates))
			for c, r := range p.Pricing.Rates {
				rates[sanitizer.SanitizeCategory(c)] = r
			}
			p.Pricing.Rates = rates
		}
		for j := range p.Units {
			p.Units[j].ID = sanitizer.SanitizeIdentifier(p.Units[j].ID)
			p.Units[j].Category = model.UnitCategory(sanitizer.SanitizeCategory(string(p.Units[j].Category)))
		}
	}
}

// Validate checks the file as a whole and reports every problem it finds.
func (f *File) Validate() error {
	var errs []string

	if len(f.Pools) == 0 {
		errs = append(errs, "at least one pool is required")
	}

	names := make(map[string]struct{}, len(f.Pools))
	for i, p := range f.Pools {
		name := p.Name
		if name == "" {
			errs = append(errs, fmt.Sprintf("pools[%d].name is required", i))
		} else if _, dup := names[name]; dup {
			errs = append(errs, fmt.Sprintf("pools[%d].name %q is duplicated", i, name))
		}
		names[name] = struct{}{}

		if len(p.Compatibility) > 0 && len(p.Identity) > 0 {
			errs = append(errs, fmt.Sprintf("pools[%d]: compatibility and identity are mutually exclusive", i))
		}

		if _, err := p.strategy(); err != nil {
			errs = append(errs, fmt.Sprintf("pools[%d].pricing: %v", i, err))
		}

		ids := make(map[string]struct{}, len(p.Units))
		for j, u := range p.Units {
			if u.ID == "" || u.Category == "" {
				errs = append(errs, fmt.Sprintf("pools[%d].units[%d]: id and category are required", i, j))
				continue
			}
			if _, dup := ids[u.ID]; dup {
				errs = append(errs, fmt.Sprintf("pools[%d].units[%d]: duplicate unit id %q", i, j, u.ID))
			}
			ids[u.ID] = struct{}{}
		}
	}

	if len(errs) > 0 {
		msg := "catalog validation failed:\n"
		for i, e := range errs {
			msg += fmt.Sprintf("  %d. %s\n", i+1, e)
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}

// Build creates one engine per pool, registers its units and returns the
// registry. opts are applied to every engine.
func (f *File) Build(log *logger.Logger, opts ...engine.Option) (*engine.Registry, error) {
	reg := engine.NewRegistry()
	for _, p := range f.Pools {
		e, err := p.build(opts...)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", p.Name, err)
		}
		if err := reg.Register(e); err != nil {
			return nil, err
		}
		log.Info("Pool loaded",
			"pool", e.Name(),
			"units", len(p.Units),
			"pricing", e.PricingStrategy().Name(),
		)
	}
	return reg, nil
}

// Default is the registry used when no catalog file is configured: one empty
// pool with the parking compatibility table.
func Default(name string, strategy *pricing.Strategy, opts ...engine.Option) (*engine.Registry, error) {
	reg := engine.NewRegistry()
	opts = append([]engine.Option{engine.WithStrategy(strategy)}, opts...)
	if err := reg.Register(engine.New(name, opts...)); err != nil {
		return nil, err
	}
	return reg, nil
}

func (p Pool) build(opts ...engine.Option) (*engine.Engine, error) {
	m, err := p.matcher()
	if err != nil {
		return nil, err
	}
	s, err := p.strategy()
	if err != nil {
		return nil, err
	}

	all := append([]engine.Option{engine.WithMatcher(m), engine.WithStrategy(s)}, opts...)
	e := engine.New(p.Name, all...)
	for _, u := range p.Units {
		if err := e.RegisterUnit(u.ID, u.Category); err != nil {
			return nil, fmt.Errorf("unit %s: %w", u.ID, err)
		}
	}
	return e, nil
}

func (p Pool) matcher() (*matcher.Matcher, error) {
	switch {
	case len(p.Compatibility) > 0:
		table := make(map[model.RequestCategory]model.UnitCategory, len(p.Compatibility))
		for req, unit := range p.Compatibility {
			table[model.RequestCategory(req)] = model.UnitCategory(unit)
		}
		return matcher.New(table)
	case len(p.Identity) > 0:
		return matcher.Identity(p.Identity...), nil
	default:
		return matcher.Default(), nil
	}
}

// strategy builds the pool's pricing. Omitted amounts take the package
// defaults, so `kind: flat` alone means a flat fee of 50.
func (p Pool) strategy() (*pricing.Strategy, error) {
	var s *pricing.Strategy
	switch pricing.Kind(strings.ToLower(strings.TrimSpace(p.Pricing.Kind))) {
	case "", pricing.KindHourly:
		s = pricing.Hourly(amountOr(p.Pricing.Rate, pricing.DefaultHourlyRate))
	case pricing.KindFlat:
		s = pricing.Flat(amountOr(p.Pricing.Flat, pricing.DefaultFlatAmount))
	case pricing.KindPerCategory:
		rates := make(map[model.UnitCategory]model.Amount, len(p.Pricing.Rates))
		for c, r := range p.Pricing.Rates {
			rates[model.UnitCategory(c)] = model.Amount(r)
		}
		s = pricing.PerCategory(rates, model.Amount(p.Pricing.Fallback))
	default:
		return nil, fmt.Errorf("unknown pricing kind %q", p.Pricing.Kind)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func amountOr(v *int64, def model.Amount) model.Amount {
	if v == nil {
		return def
	}
	return model.Amount(*v)
}
