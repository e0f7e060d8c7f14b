// Package ledger records bookings and enforces their lifecycle:
// OPEN --close--> CLOSED, with no way back. Bookings are never removed;
// closed ones stay queryable as history for the life of the process.
package ledger

import (
	"fmt"
	"sync"

	allocerrors "slotbook/internal/allocation/errors"
	"slotbook/pkg/model"

	"github.com/google/uuid"
)

// IDFunc generates booking ids. It must not return the empty string.
type IDFunc func() string

type Ledger struct {
	mu       sync.RWMutex
	bookings map[string]*model.Booking
	order    []string
	open     int
	newID    IDFunc
}

type Option func(*Ledger)

func WithIDFunc(fn IDFunc) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.newID = fn
		}
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		bookings: make(map[string]*model.Booking),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Create(req model.Request, unit model.Unit, start int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := l.uniqueIDLocked()
	if err != nil {
		return "", err
	}

	l.bookings[id] = &model.Booking{
		ID:              id,
		RequestID:       req.ID,
		RequestCategory: req.Category,
		UnitID:          unit.ID,
		UnitCategory:    unit.Category,
		StartTime:       start,
	}
	l.order = append(l.order, id)
	l.open++
	return id, nil
}

// Close marks the booking settled at end and returns the billable duration,
// floored to one unit so an immediate release is never free.
func (l *Ledger) Close(id string, end int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.bookings[id]
	if !ok {
		return 0, fmt.Errorf("booking %s: %w", id, allocerrors.ErrBookingNotFound)
	}
	if b.Settled {
		return 0, fmt.Errorf("booking %s: %w", id, allocerrors.ErrAlreadyClosed)
	}
	if end < b.StartTime {
		return 0, fmt.Errorf("booking %s: end time %d is before start time %d: %w", id, end, b.StartTime, allocerrors.ErrInvalidState)
	}

	duration := max(1, end-b.StartTime)
	b.EndTime = &end
	b.Settled = true
	b.DurationUnits = duration
	l.open--
	return duration, nil
}

// Settle records the fee charged for a closed booking.
func (l *Ledger) Settle(id string, fee model.Amount, strategy string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.bookings[id]
	if !ok {
		return fmt.Errorf("booking %s: %w", id, allocerrors.ErrBookingNotFound)
	}
	if !b.Settled {
		return fmt.Errorf("booking %s is still open: %w", id, allocerrors.ErrInvalidState)
	}
	b.Fee = fee
	b.Strategy = strategy
	return nil
}

func (l *Ledger) Get(id string) (model.Booking, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b, ok := l.bookings[id]
	if !ok {
		return model.Booking{}, fmt.Errorf("booking %s: %w", id, allocerrors.ErrBookingNotFound)
	}
	return copyBooking(b), nil
}

// List returns matching bookings in creation order.
func (l *Ledger) List(filter model.BookingFilter) []model.Booking {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Booking, 0)
	for _, id := range l.order {
		b := l.bookings[id]
		if filter.Match(b) {
			out = append(out, copyBooking(b))
		}
	}
	return out
}

func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.open
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

func (l *Ledger) uniqueIDLocked() (string, error) {
	const maxAttempts = 8
	for i := 0; i < maxAttempts; i++ {
		id := l.newID()
		if id == "" {
			continue
		}
		if _, exists := l.bookings[id]; !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique booking id: %w", allocerrors.ErrInvalidState)
}

func copyBooking(b *model.Booking) model.Booking {
	c := *b
	if b.EndTime != nil {
		end := *b.EndTime
		c.EndTime = &end
	}
	return c
}
