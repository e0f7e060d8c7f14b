package model

type RegisterUnitRequest struct {
	ID       string `json:"id" validate:"required,identifier,max=128"`
	Category string `json:"category" validate:"required,category,max=64"`
}

// AllocateRequest asks for a unit. A nil StartTime means "now" on the
// service clock.
type AllocateRequest struct {
	RequestID string `json:"request_id" validate:"required,identifier,max=128"`
	Category  string `json:"category" validate:"required,category,max=64"`
	StartTime *int64 `json:"start_time,omitempty" validate:"omitempty,min=0"`
}

type ReleaseRequest struct {
	EndTime *int64 `json:"end_time,omitempty" validate:"omitempty,min=0"`
}

type PricingRequest struct {
	Kind     string           `json:"kind" validate:"required,oneof=hourly flat per_category"`
	Rate     int64            `json:"rate,omitempty" validate:"min=0"`
	Flat     int64            `json:"flat,omitempty" validate:"min=0"`
	Rates    map[string]int64 `json:"rates,omitempty" validate:"omitempty,dive,keys,required,category,endkeys,min=0"`
	Fallback int64            `json:"fallback,omitempty" validate:"min=0"`
}

type AllocateResponse struct {
	BookingID string `json:"booking_id"`
	UnitID    string `json:"unit_id"`
	StartTime int64  `json:"start_time"`
}
