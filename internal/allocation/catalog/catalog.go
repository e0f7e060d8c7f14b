// Package catalog holds the allocatable units of one pool and their
// occupancy. Units are only mutated through Catalog methods; every read
// returns copies.
//
// Selection is first-fit in registration order. Units of one category are
// fungible, so this trades capacity optimality for determinism.
package catalog

import (
	"fmt"
	"sync"

	allocerrors "slotbook/internal/allocation/errors"
	"slotbook/internal/allocation/matcher"
	"slotbook/pkg/model"
)

type Catalog struct {
	mu      sync.RWMutex
	matcher *matcher.Matcher
	units   []*model.Unit
	index   map[string]int
}

func New(m *matcher.Matcher) *Catalog {
	if m == nil {
		m = matcher.Default()
	}
	return &Catalog{
		matcher: m,
		index:   make(map[string]int),
	}
}

func (c *Catalog) Matcher() *matcher.Matcher {
	return c.matcher
}

func (c *Catalog) Add(id string, category model.UnitCategory) error {
	if id == "" || category == "" {
		return fmt.Errorf("unit id and category are required: %w", allocerrors.ErrInvalidState)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.index[id]; exists {
		return fmt.Errorf("unit %s: %w", id, allocerrors.ErrDuplicateUnit)
	}
	c.index[id] = len(c.units)
	c.units = append(c.units, &model.Unit{ID: id, Category: category})
	return nil
}

func (c *Catalog) FindAvailable(category model.RequestCategory) (model.Unit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u := c.findAvailableLocked(category)
	if u == nil {
		return model.Unit{}, fmt.Errorf("category %s: %w", category, allocerrors.ErrNoCapacity)
	}
	return *u, nil
}

func (c *Catalog) Occupy(unitID, requestID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := c.getLocked(unitID)
	if err != nil {
		return err
	}
	if u.Occupied {
		return fmt.Errorf("unit %s is already occupied: %w", unitID, allocerrors.ErrInvalidState)
	}
	u.Occupied = true
	u.OccupiedBy = requestID
	return nil
}

func (c *Catalog) Release(unitID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := c.getLocked(unitID)
	if err != nil {
		return err
	}
	if !u.Occupied {
		return fmt.Errorf("unit %s is already free: %w", unitID, allocerrors.ErrInvalidState)
	}
	u.Occupied = false
	u.OccupiedBy = ""
	return nil
}

// Acquire finds and occupies a compatible unit in one critical section, so
// two concurrent callers can never pick the same free unit.
func (c *Catalog) Acquire(category model.RequestCategory, requestID string) (model.Unit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.findAvailableLocked(category)
	if u == nil {
		return model.Unit{}, fmt.Errorf("category %s: %w", category, allocerrors.ErrNoCapacity)
	}
	u.Occupied = true
	u.OccupiedBy = requestID
	return *u, nil
}

func (c *Catalog) Get(unitID string) (model.Unit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u, err := c.getLocked(unitID)
	if err != nil {
		return model.Unit{}, err
	}
	return *u, nil
}

// Units returns a snapshot in registration order.
func (c *Catalog) Units() []model.Unit {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.Unit, 0, len(c.units))
	for _, u := range c.units {
		out = append(out, *u)
	}
	return out
}

func (c *Catalog) Stats() (total, occupied int, byCategory map[model.UnitCategory]model.CategoryStats) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byCategory = make(map[model.UnitCategory]model.CategoryStats)
	for _, u := range c.units {
		s := byCategory[u.Category]
		s.Total++
		if u.Occupied {
			s.Occupied++
			occupied++
		}
		byCategory[u.Category] = s
	}
	return len(c.units), occupied, byCategory
}

func (c *Catalog) findAvailableLocked(category model.RequestCategory) *model.Unit {
	for _, u := range c.units {
		if !u.Occupied && c.matcher.Compatible(category, u.Category) {
			return u
		}
	}
	return nil
}

func (c *Catalog) getLocked(unitID string) (*model.Unit, error) {
	i, ok := c.index[unitID]
	if !ok {
		return nil, fmt.Errorf("unit %s: %w", unitID, allocerrors.ErrUnitNotFound)
	}
	return c.units[i], nil
}
