package model

// Amount is a monetary value in the smallest currency unit.
type Amount int64

const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

type Booking struct {
	ID              string          `json:"id"`
	RequestID       string          `json:"request_id"`
	RequestCategory RequestCategory `json:"request_category"`
	UnitID          string          `json:"unit_id"`
	UnitCategory    UnitCategory    `json:"unit_category"`
	StartTime       int64           `json:"start_time"`
	EndTime         *int64          `json:"end_time,omitempty"`
	Settled         bool            `json:"settled"`
	DurationUnits   int64           `json:"duration_units,omitempty"`
	Fee             Amount          `json:"fee,omitempty"`
	Strategy        string          `json:"strategy,omitempty"`
}

func (b *Booking) Status() string {
	if b.Settled {
		return StatusClosed
	}
	return StatusOpen
}

func (b *Booking) IsOpen() bool {
	return !b.Settled
}

// BookingFilter selects bookings by status. Empty Status matches all.
type BookingFilter struct {
	Status string
}

func (f BookingFilter) Match(b *Booking) bool {
	switch f.Status {
	case StatusOpen:
		return !b.Settled
	case StatusClosed:
		return b.Settled
	default:
		return true
	}
}

// Settlement is the outcome of releasing a booking.
type Settlement struct {
	BookingID     string `json:"booking_id"`
	UnitID        string `json:"unit_id"`
	DurationUnits int64  `json:"duration_units"`
	Fee           Amount `json:"fee"`
	Strategy      string `json:"strategy"`
}
