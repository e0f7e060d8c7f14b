package model

// UnitCategory is the class of an allocatable unit (slot size, vehicle class).
type UnitCategory string

// RequestCategory is the class a request asks for. A Matcher maps it onto
// exactly one UnitCategory.
type RequestCategory string

type Unit struct {
	ID         string       `json:"id" yaml:"id"`
	Category   UnitCategory `json:"category" yaml:"category"`
	Occupied   bool         `json:"occupied" yaml:"-"`
	OccupiedBy string       `json:"occupied_by,omitempty" yaml:"-"`
}

type Request struct {
	ID       string          `json:"id"`
	Category RequestCategory `json:"category"`
}

// CategoryStats counts units of one category.
type CategoryStats struct {
	Total    int `json:"total"`
	Occupied int `json:"occupied"`
}

type PoolStats struct {
	Units        int                            `json:"units"`
	Occupied     int                            `json:"occupied"`
	OpenBookings int                            `json:"open_bookings"`
	Closed       int                            `json:"closed_bookings"`
	ByCategory   map[UnitCategory]CategoryStats `json:"by_category"`
	Strategy     string                         `json:"strategy"`
}
