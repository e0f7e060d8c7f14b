// Package pricing computes the fee owed for a closed booking.
//
// Strategies are a closed set of tagged variants dispatched by Kind. A
// Strategy value is immutable once built and safe to share between
// goroutines; swapping pricing means replacing the whole value.
package pricing

import (
	"fmt"
	"math"
	"sort"
	"strings"

	allocerrors "slotbook/internal/allocation/errors"
	"slotbook/pkg/model"
)

type Kind string

const (
	KindHourly      Kind = "hourly"
	KindFlat        Kind = "flat"
	KindPerCategory Kind = "per_category"
)

const (
	DefaultHourlyRate model.Amount = 10
	DefaultFlatAmount model.Amount = 50
)

type Strategy struct {
	Kind     Kind
	Rate     model.Amount
	Flat     model.Amount
	Rates    map[model.UnitCategory]model.Amount
	Fallback model.Amount
}

// Hourly charges rate for every elapsed duration unit.
func Hourly(rate model.Amount) *Strategy {
	return &Strategy{Kind: KindHourly, Rate: rate}
}

// Flat charges the same amount regardless of duration.
func Flat(amount model.Amount) *Strategy {
	return &Strategy{Kind: KindFlat, Flat: amount}
}

// PerCategory charges a per-unit rate that depends on the unit category.
// Categories missing from rates are charged fallback per unit.
func PerCategory(rates map[model.UnitCategory]model.Amount, fallback model.Amount) *Strategy {
	copied := make(map[model.UnitCategory]model.Amount, len(rates))
	for k, v := range rates {
		copied[k] = v
	}
	return &Strategy{Kind: KindPerCategory, Rates: copied, Fallback: fallback}
}

// Default is the hourly strategy a pool starts with.
func Default() *Strategy {
	return Hourly(DefaultHourlyRate)
}

// Parse builds a strategy from configuration values.
func Parse(kind string, rate, flat int64) (*Strategy, error) {
	var s *Strategy
	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case KindHourly, "":
		s = Hourly(model.Amount(rate))
	case KindFlat:
		s = Flat(model.Amount(flat))
	default:
		return nil, fmt.Errorf("unknown pricing kind %q: %w", kind, allocerrors.ErrInvalidState)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Strategy) Validate() error {
	switch s.Kind {
	case KindHourly:
		if s.Rate < 0 {
			return fmt.Errorf("hourly rate cannot be negative, got %d: %w", s.Rate, allocerrors.ErrInvalidState)
		}
	case KindFlat:
		if s.Flat < 0 {
			return fmt.Errorf("flat amount cannot be negative, got %d: %w", s.Flat, allocerrors.ErrInvalidState)
		}
	case KindPerCategory:
		if s.Fallback < 0 {
			return fmt.Errorf("fallback rate cannot be negative, got %d: %w", s.Fallback, allocerrors.ErrInvalidState)
		}
		for c, r := range s.Rates {
			if r < 0 {
				return fmt.Errorf("rate for %s cannot be negative, got %d: %w", c, r, allocerrors.ErrInvalidState)
			}
		}
	default:
		return fmt.Errorf("unknown pricing kind %q: %w", s.Kind, allocerrors.ErrInvalidState)
	}
	return nil
}

// Fee returns the amount owed for units elapsed duration units on a unit of
// the given category. units must be at least 1.
func (s *Strategy) Fee(units int64, category model.UnitCategory) (model.Amount, error) {
	if units < 1 {
		return 0, fmt.Errorf("duration must be at least 1 unit, got %d: %w", units, allocerrors.ErrInvalidState)
	}

	switch s.Kind {
	case KindHourly:
		return multiply(s.Rate, units)
	case KindFlat:
		return s.Flat, nil
	case KindPerCategory:
		rate, ok := s.Rates[category]
		if !ok {
			rate = s.Fallback
		}
		return multiply(rate, units)
	default:
		return 0, fmt.Errorf("unknown pricing kind %q: %w", s.Kind, allocerrors.ErrInvalidState)
	}
}

// multiply returns rate*units, or ErrInvalidState when the product does not
// fit in an Amount.
func multiply(rate model.Amount, units int64) (model.Amount, error) {
	if rate > 0 && units > math.MaxInt64/int64(rate) {
		return 0, fmt.Errorf("fee for %d units at rate %d overflows: %w", units, rate, allocerrors.ErrInvalidState)
	}
	return rate * model.Amount(units), nil
}

// Name is a short human readable description, recorded on settled bookings.
func (s *Strategy) Name() string {
	switch s.Kind {
	case KindHourly:
		return fmt.Sprintf("hourly(%d)", s.Rate)
	case KindFlat:
		return fmt.Sprintf("flat(%d)", s.Flat)
	case KindPerCategory:
		cats := make([]string, 0, len(s.Rates))
		for c := range s.Rates {
			cats = append(cats, string(c))
		}
		sort.Strings(cats)
		parts := make([]string, 0, len(cats)+1)
		for _, c := range cats {
			parts = append(parts, fmt.Sprintf("%s=%d", c, s.Rates[model.UnitCategory(c)]))
		}
		parts = append(parts, fmt.Sprintf("*=%d", s.Fallback))
		return "per_category(" + strings.Join(parts, ",") + ")"
	default:
		return string(s.Kind)
	}
}
