// Package engine is the allocation façade: it composes the catalog, matcher,
// ledger and pricing strategy of one pool.
//
// Fees are evaluated with the strategy that is active when a booking is
// released, not the one active when it was allocated. Swapping the strategy
// therefore reprices every booking that is still open.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"slotbook/internal/allocation/catalog"
	allocerrors "slotbook/internal/allocation/errors"
	"slotbook/internal/allocation/ledger"
	"slotbook/internal/allocation/matcher"
	"slotbook/internal/allocation/pricing"
	"slotbook/pkg/model"
)

// UnknownCategory is reported to the Recorder in place of request categories
// the pool's matcher does not know, so callers cannot grow label sets.
const UnknownCategory model.RequestCategory = "unknown"

// Recorder observes engine outcomes. Implementations must not call back
// into the engine.
type Recorder interface {
	Allocated(pool string, category model.RequestCategory, err error)
	Released(pool string, fee model.Amount, err error)
	Occupancy(pool string, occupied, total int)
}

type Engine struct {
	name     string
	mu       sync.Mutex
	catalog  *catalog.Catalog
	ledger   *ledger.Ledger
	strategy atomic.Pointer[pricing.Strategy]
	recorder Recorder
}

type options struct {
	matcher   *matcher.Matcher
	strategy  *pricing.Strategy
	ledgerOpt []ledger.Option
	recorder  Recorder
}

type Option func(*options)

func WithMatcher(m *matcher.Matcher) Option {
	return func(o *options) { o.matcher = m }
}

func WithStrategy(s *pricing.Strategy) Option {
	return func(o *options) { o.strategy = s }
}

func WithIDFunc(fn ledger.IDFunc) Option {
	return func(o *options) { o.ledgerOpt = append(o.ledgerOpt, ledger.WithIDFunc(fn)) }
}

func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

func New(name string, opts ...Option) *Engine {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.strategy == nil {
		o.strategy = pricing.Default()
	}
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}

	e := &Engine{
		name:     name,
		catalog:  catalog.New(o.matcher),
		ledger:   ledger.New(o.ledgerOpt...),
		recorder: o.recorder,
	}
	e.strategy.Store(o.strategy)
	return e
}

func (e *Engine) Name() string {
	return e.name
}

func (e *Engine) Matcher() *matcher.Matcher {
	return e.catalog.Matcher()
}

func (e *Engine) RegisterUnit(id string, category model.UnitCategory) error {
	e.mu.Lock()
	err := e.catalog.Add(id, category)
	total, occupied, _ := e.catalog.Stats()
	e.mu.Unlock()

	if err == nil {
		e.recorder.Occupancy(e.name, occupied, total)
	}
	return err
}

// Allocate assigns the first free compatible unit to the request and opens a
// booking for it. On failure nothing is mutated.
func (e *Engine) Allocate(requestID string, category model.RequestCategory, start int64) (string, error) {
	id, total, occupied, err := e.allocate(requestID, category, start)
	e.recorder.Allocated(e.name, e.knownCategory(category), err)
	if err == nil {
		e.recorder.Occupancy(e.name, occupied, total)
	}
	return id, err
}

func (e *Engine) knownCategory(category model.RequestCategory) model.RequestCategory {
	if _, ok := e.Matcher().Required(category); ok {
		return category
	}
	return UnknownCategory
}

func (e *Engine) allocate(requestID string, category model.RequestCategory, start int64) (string, int, int, error) {
	if requestID == "" {
		return "", 0, 0, fmt.Errorf("request id is required: %w", allocerrors.ErrInvalidState)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	unit, err := e.catalog.Acquire(category, requestID)
	if err != nil {
		return "", 0, 0, err
	}

	req := model.Request{ID: requestID, Category: category}
	id, err := e.ledger.Create(req, unit, start)
	if err != nil {
		if releaseErr := e.catalog.Release(unit.ID); releaseErr != nil {
			return "", 0, 0, fmt.Errorf("%w (compensating release failed: %v)", err, releaseErr)
		}
		return "", 0, 0, err
	}

	total, occupied, _ := e.catalog.Stats()
	return id, total, occupied, nil
}

// Release closes the booking, frees its unit and prices the stay. The unit is
// freed before the fee is computed, so a pricing error never leaves a unit
// stuck; in that case the booking is closed without a recorded fee.
func (e *Engine) Release(bookingID string, end int64) (model.Settlement, error) {
	s, total, occupied, err := e.release(bookingID, end)
	e.recorder.Released(e.name, s.Fee, err)
	if s.UnitID != "" {
		e.recorder.Occupancy(e.name, occupied, total)
	}
	return s, err
}

func (e *Engine) release(bookingID string, end int64) (model.Settlement, int, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.ledger.Get(bookingID)
	if err != nil {
		return model.Settlement{}, 0, 0, err
	}
	duration, err := e.ledger.Close(bookingID, end)
	if err != nil {
		return model.Settlement{}, 0, 0, err
	}
	if err := e.catalog.Release(b.UnitID); err != nil {
		return model.Settlement{}, 0, 0, fmt.Errorf("booking %s closed but unit %s could not be freed: %w", bookingID, b.UnitID, err)
	}
	total, occupied, _ := e.catalog.Stats()

	settlement := model.Settlement{
		BookingID:     bookingID,
		UnitID:        b.UnitID,
		DurationUnits: duration,
	}

	strategy := e.strategy.Load()
	fee, err := strategy.Fee(duration, b.UnitCategory)
	if err != nil {
		return settlement, total, occupied, fmt.Errorf("booking %s: fee computation failed: %w", bookingID, err)
	}
	settlement.Fee = fee
	settlement.Strategy = strategy.Name()

	if err := e.ledger.Settle(bookingID, fee, settlement.Strategy); err != nil {
		return settlement, total, occupied, err
	}
	return settlement, total, occupied, nil
}

// SetPricingStrategy atomically replaces the active strategy. It applies to
// every release that starts after it returns.
func (e *Engine) SetPricingStrategy(s *pricing.Strategy) error {
	if s == nil {
		return fmt.Errorf("pricing strategy is required: %w", allocerrors.ErrInvalidState)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	e.strategy.Store(s)
	return nil
}

func (e *Engine) PricingStrategy() *pricing.Strategy {
	return e.strategy.Load()
}

func (e *Engine) Booking(id string) (model.Booking, error) {
	return e.ledger.Get(id)
}

func (e *Engine) Bookings(filter model.BookingFilter) []model.Booking {
	return e.ledger.List(filter)
}

func (e *Engine) Units() []model.Unit {
	return e.catalog.Units()
}

func (e *Engine) Stats() model.PoolStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	total, occupied, byCategory := e.catalog.Stats()
	open := e.ledger.OpenCount()
	return model.PoolStats{
		Units:        total,
		Occupied:     occupied,
		OpenBookings: open,
		Closed:       e.ledger.Len() - open,
		ByCategory:   byCategory,
		Strategy:     e.strategy.Load().Name(),
	}
}

// Snapshot returns the units and open bookings as seen at a single instant.
func (e *Engine) Snapshot() ([]model.Unit, []model.Booking) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catalog.Units(), e.ledger.List(model.BookingFilter{Status: model.StatusOpen})
}

type nopRecorder struct{}

func (nopRecorder) Allocated(string, model.RequestCategory, error) {}
func (nopRecorder) Released(string, model.Amount, error)           {}
func (nopRecorder) Occupancy(string, int, int)                     {}
