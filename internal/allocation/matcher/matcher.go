// Package matcher decides which unit categories satisfy a request category.
//
// A Matcher is a closed, total table: every known request category maps to
// exactly one unit category. There are no fallback tiers, and an unknown
// request category is simply incompatible with everything.
package matcher

import (
	"fmt"
	"sort"

	"slotbook/pkg/model"
)

const (
	TwoWheeler  model.RequestCategory = "two_wheeler"
	FourWheeler model.RequestCategory = "four_wheeler"
	Truck       model.RequestCategory = "truck"

	Small  model.UnitCategory = "small"
	Medium model.UnitCategory = "medium"
	Large  model.UnitCategory = "large"
)

type Matcher struct {
	table map[model.RequestCategory]model.UnitCategory
}

// New copies table so later changes by the caller do not leak in.
func New(table map[model.RequestCategory]model.UnitCategory) (*Matcher, error) {
	m := &Matcher{table: make(map[model.RequestCategory]model.UnitCategory, len(table))}
	for req, unit := range table {
		if req == "" || unit == "" {
			return nil, fmt.Errorf("matcher: empty category in mapping %q -> %q", req, unit)
		}
		m.table[req] = unit
	}
	return m, nil
}

// Default is the slot-size table used for vehicle parking.
func Default() *Matcher {
	return &Matcher{table: map[model.RequestCategory]model.UnitCategory{
		TwoWheeler:  Small,
		FourWheeler: Medium,
		Truck:       Large,
	}}
}

// Identity maps every category onto the unit category of the same name,
// which is how rental fleets match a requested vehicle class.
func Identity(categories ...string) *Matcher {
	m := &Matcher{table: make(map[model.RequestCategory]model.UnitCategory, len(categories))}
	for _, c := range categories {
		if c == "" {
			continue
		}
		m.table[model.RequestCategory(c)] = model.UnitCategory(c)
	}
	return m
}

func (m *Matcher) Compatible(req model.RequestCategory, unit model.UnitCategory) bool {
	want, ok := m.table[req]
	if !ok {
		return false
	}
	return want == unit
}

// Required returns the unit category a request category needs.
func (m *Matcher) Required(req model.RequestCategory) (model.UnitCategory, bool) {
	unit, ok := m.table[req]
	return unit, ok
}

// RequestCategories lists the mapped request categories in sorted order.
func (m *Matcher) RequestCategories() []model.RequestCategory {
	out := make([]model.RequestCategory, 0, len(m.table))
	for req := range m.table {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
