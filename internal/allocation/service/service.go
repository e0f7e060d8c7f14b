package service

import (
	"context"
	"errors"
	"strings"

	allocerrors "slotbook/internal/allocation/errors"
	"slotbook/internal/allocation/engine"
	"slotbook/internal/allocation/events"
	"slotbook/internal/allocation/pricing"
	"slotbook/internal/allocation/validator"
	"slotbook/pkg/config"
	apperrors "slotbook/pkg/errors"
	"slotbook/pkg/middleware"
	"slotbook/pkg/model"
	"slotbook/pkg/sanitizer"
)

type AllocationService interface {
	Pools(ctx context.Context) []string
	RegisterUnit(ctx context.Context, pool string, req *model.RegisterUnitRequest) (*model.Unit, error)
	ListUnits(ctx context.Context, pool string) ([]model.Unit, error)
	Allocate(ctx context.Context, pool string, req *model.AllocateRequest) (*model.AllocateResponse, error)
	Release(ctx context.Context, pool, bookingID string, req *model.ReleaseRequest) (*model.Settlement, error)
	SetPricing(ctx context.Context, pool string, req *model.PricingRequest) (string, error)
	GetBooking(ctx context.Context, pool, bookingID string) (*model.Booking, error)
	ListBookings(ctx context.Context, pool, status string, limit int, offset int64) ([]model.Booking, int64, error)
	Stats(ctx context.Context, pool string) (*model.PoolStats, error)
}

type allocationService struct {
	registry  *engine.Registry
	validator *validator.AllocationValidator
	publisher events.Publisher
	clock     Clock
	cfg       *config.Config
}

func NewAllocationService(
	registry *engine.Registry,
	validator *validator.AllocationValidator,
	publisher events.Publisher,
	clock Clock,
	cfg *config.Config,
) AllocationService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if clock == nil {
		clock = NewTickClock(cfg.TickDuration)
	}
	return &allocationService{
		registry:  registry,
		validator: validator,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
	}
}

func (s *allocationService) Pools(ctx context.Context) []string {
	return s.registry.Names()
}

func (s *allocationService) RegisterUnit(ctx context.Context, pool string, req *model.RegisterUnitRequest) (*model.Unit, error) {
	e, err := s.pool(pool)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, apperrors.InvalidInput("Request body is required")
	}

	req.ID = sanitizer.SanitizeIdentifier(req.ID)
	req.Category = sanitizer.SanitizeCategory(req.Category)
	if err := s.validator.ValidateRegisterUnit(req); err != nil {
		return nil, s.validationFailed("Unit", err)
	}

	if err := e.RegisterUnit(req.ID, model.UnitCategory(req.Category)); err != nil {
		if errors.Is(err, allocerrors.ErrDuplicateUnit) {
			return nil, apperrors.Conflict("Unit " + req.ID + " is already registered in pool " + e.Name())
		}
		return nil, s.mapError(err, e.Name(), req.ID, "")
	}

	s.cfg.Log.Info("Unit registered",
		"pool", e.Name(),
		"unit_id", req.ID,
		"category", req.Category,
	)
	return &model.Unit{ID: req.ID, Category: model.UnitCategory(req.Category)}, nil
}

func (s *allocationService) ListUnits(ctx context.Context, pool string) ([]model.Unit, error) {
	e, err := s.pool(pool)
	if err != nil {
		return nil, err
	}
	return e.Units(), nil
}

func (s *allocationService) Allocate(ctx context.Context, pool string, req *model.AllocateRequest) (*model.AllocateResponse, error) {
	e, err := s.pool(pool)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, apperrors.InvalidInput("Request body is required")
	}

	req.RequestID = sanitizer.SanitizeIdentifier(req.RequestID)
	req.Category = sanitizer.SanitizeCategory(req.Category)
	if err := s.validator.ValidateAllocate(req); err != nil {
		return nil, s.validationFailed("Allocation", err)
	}

	start := s.clock.Now()
	if req.StartTime != nil {
		start = *req.StartTime
	}

	category := model.RequestCategory(req.Category)
	bookingID, err := e.Allocate(req.RequestID, category, start)
	if err != nil {
		s.cfg.Log.Warn("Allocation failed",
			"pool", e.Name(),
			"request_id", req.RequestID,
			"category", req.Category,
			"error", err,
		)
		return nil, s.mapError(err, e.Name(), "", req.Category)
	}

	booking, err := e.Booking(bookingID)
	if err != nil {
		return nil, apperrors.Internal("Failed to read back booking", err)
	}

	s.cfg.Log.Info("Unit allocated",
		"pool", e.Name(),
		"booking_id", booking.ID,
		"request_id", booking.RequestID,
		"unit_id", booking.UnitID,
		"start_time", booking.StartTime,
	)

	s.publishAllocated(ctx, e.Name(), booking)

	return &model.AllocateResponse{
		BookingID: booking.ID,
		UnitID:    booking.UnitID,
		StartTime: booking.StartTime,
	}, nil
}

func (s *allocationService) Release(ctx context.Context, pool, bookingID string, req *model.ReleaseRequest) (*model.Settlement, error) {
	e, err := s.pool(pool)
	if err != nil {
		return nil, err
	}
	bookingID = sanitizer.SanitizeIdentifier(bookingID)
	if bookingID == "" {
		return nil, apperrors.InvalidInput("Booking ID cannot be empty")
	}
	if req == nil {
		req = &model.ReleaseRequest{}
	}
	if err := s.validator.ValidateRelease(req); err != nil {
		return nil, s.validationFailed("Release", err)
	}

	end := s.clock.Now()
	if req.EndTime != nil {
		end = *req.EndTime
	}

	settlement, err := e.Release(bookingID, end)
	if err != nil {
		if settlement.UnitID != "" {
			// The unit was freed but the fee could not be computed.
			s.cfg.Log.Error("Booking released without a fee",
				"pool", e.Name(),
				"booking_id", bookingID,
				"unit_id", settlement.UnitID,
				"error", err,
			)
			s.publishReleased(ctx, e.Name(), end, settlement, err)
			return nil, apperrors.InvalidState("Booking closed but its fee could not be computed", err)
		}
		s.cfg.Log.Warn("Release failed",
			"pool", e.Name(),
			"booking_id", bookingID,
			"error", err,
		)
		return nil, s.mapError(err, e.Name(), bookingID, "")
	}

	s.cfg.Log.Info("Booking released",
		"pool", e.Name(),
		"booking_id", bookingID,
		"unit_id", settlement.UnitID,
		"duration_units", settlement.DurationUnits,
		"fee", settlement.Fee,
		"strategy", settlement.Strategy,
	)

	s.publishReleased(ctx, e.Name(), end, settlement, nil)
	return &settlement, nil
}

func (s *allocationService) SetPricing(ctx context.Context, pool string, req *model.PricingRequest) (string, error) {
	e, err := s.pool(pool)
	if err != nil {
		return "", err
	}
	if req == nil {
		return "", apperrors.InvalidInput("Request body is required")
	}

	req.Kind = strings.ToLower(strings.TrimSpace(req.Kind))
	if len(req.Rates) > 0 {
		rates := make(map[string]int64, len(req.Rates))
		for c, r := range req.Rates {
			rates[sanitizer.SanitizeCategory(c)] = r
		}
		req.Rates = rates
	}
	if err := s.validator.ValidatePricing(req); err != nil {
		return "", s.validationFailed("Pricing", err)
	}

	strategy := strategyFromRequest(req)
	if err := e.SetPricingStrategy(strategy); err != nil {
		return "", s.mapError(err, e.Name(), "", "")
	}

	s.cfg.Log.Info("Pricing strategy replaced",
		"pool", e.Name(),
		"strategy", strategy.Name(),
	)
	return strategy.Name(), nil
}

// strategyFromRequest treats a zero rate or flat amount as "use the default".
func strategyFromRequest(req *model.PricingRequest) *pricing.Strategy {
	switch pricing.Kind(req.Kind) {
	case pricing.KindFlat:
		if req.Flat == 0 {
			return pricing.Flat(pricing.DefaultFlatAmount)
		}
		return pricing.Flat(model.Amount(req.Flat))
	case pricing.KindPerCategory:
		rates := make(map[model.UnitCategory]model.Amount, len(req.Rates))
		for c, r := range req.Rates {
			rates[model.UnitCategory(c)] = model.Amount(r)
		}
		return pricing.PerCategory(rates, model.Amount(req.Fallback))
	default:
		if req.Rate == 0 {
			return pricing.Hourly(pricing.DefaultHourlyRate)
		}
		return pricing.Hourly(model.Amount(req.Rate))
	}
}

func (s *allocationService) GetBooking(ctx context.Context, pool, bookingID string) (*model.Booking, error) {
	e, err := s.pool(pool)
	if err != nil {
		return nil, err
	}
	bookingID = sanitizer.SanitizeIdentifier(bookingID)
	if bookingID == "" {
		return nil, apperrors.InvalidInput("Booking ID cannot be empty")
	}

	b, err := e.Booking(bookingID)
	if err != nil {
		return nil, s.mapError(err, e.Name(), bookingID, "")
	}
	return &b, nil
}

func (s *allocationService) ListBookings(ctx context.Context, pool, status string, limit int, offset int64) ([]model.Booking, int64, error) {
	e, err := s.pool(pool)
	if err != nil {
		return nil, 0, err
	}

	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", model.StatusOpen, model.StatusClosed:
	default:
		return nil, 0, apperrors.InvalidInput("status must be one of: open, closed")
	}

	all := e.Bookings(model.BookingFilter{Status: status})
	total := int64(len(all))

	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)
	if offset >= total {
		return []model.Booking{}, total, nil
	}
	end := min(offset+int64(limit), total)
	return all[offset:end], total, nil
}

func (s *allocationService) Stats(ctx context.Context, pool string) (*model.PoolStats, error) {
	e, err := s.pool(pool)
	if err != nil {
		return nil, err
	}
	stats := e.Stats()
	return &stats, nil
}

func (s *allocationService) pool(name string) (*engine.Engine, error) {
	name = sanitizer.TrimAndNormalize(name)
	if name == "" {
		return nil, apperrors.InvalidInput("Pool name cannot be empty")
	}
	e, err := s.registry.Get(name)
	if err != nil {
		if errors.Is(err, allocerrors.ErrPoolNotFound) {
			return nil, apperrors.NotFoundWithID("Pool", name)
		}
		return nil, apperrors.Internal("Failed to resolve pool", err)
	}
	return e, nil
}

func (s *allocationService) validationFailed(what string, err error) error {
	s.cfg.Log.Warn(what+" validation failed", "error", err)

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return apperrors.Validation(what+" validation failed", map[string]any{"errors": verrs})
	}
	return apperrors.Validation(what+" validation failed", map[string]any{"error": err.Error()})
}

// mapError turns an engine error into the AppError the transport reports.
func (s *allocationService) mapError(err error, pool, id, category string) error {
	switch {
	case errors.Is(err, allocerrors.ErrNoCapacity):
		return apperrors.NoCapacity(category).WithDetails(map[string]any{
			"category": category,
			"pool":     pool,
		})
	case errors.Is(err, allocerrors.ErrBookingNotFound):
		return apperrors.NotFoundWithID("Booking", id)
	case errors.Is(err, allocerrors.ErrUnitNotFound):
		return apperrors.NotFoundWithID("Unit", id)
	case errors.Is(err, allocerrors.ErrAlreadyClosed):
		return apperrors.AlreadyClosed(id)
	case errors.Is(err, allocerrors.ErrDuplicateUnit), errors.Is(err, allocerrors.ErrDuplicatePool):
		return apperrors.Conflict(err.Error())
	case errors.Is(err, allocerrors.ErrInvalidState):
		return apperrors.InvalidState(err.Error(), err)
	default:
		s.cfg.Log.Error("Unexpected allocation error", "pool", pool, "error", err)
		return apperrors.Internal("Allocation engine failure", err)
	}
}

func (s *allocationService) publishAllocated(ctx context.Context, pool string, b model.Booking) {
	err := s.publisher.BookingAllocated(context.WithoutCancel(ctx), middleware.RequestID(ctx), events.BookingAllocated{
		Pool:            pool,
		BookingID:       b.ID,
		RequestID:       b.RequestID,
		RequestCategory: b.RequestCategory,
		UnitID:          b.UnitID,
		UnitCategory:    b.UnitCategory,
		StartTime:       b.StartTime,
	})
	if err != nil {
		s.cfg.Log.Warn("Failed to publish allocation event", "booking_id", b.ID, "error", err)
	}
}

func (s *allocationService) publishReleased(ctx context.Context, pool string, end int64, st model.Settlement, pricingErr error) {
	evt := events.BookingReleased{
		Pool:          pool,
		BookingID:     st.BookingID,
		UnitID:        st.UnitID,
		EndTime:       end,
		DurationUnits: st.DurationUnits,
		Fee:           st.Fee,
		Strategy:      st.Strategy,
	}
	if pricingErr != nil {
		evt.PricingError = pricingErr.Error()
	}
	if err := s.publisher.BookingReleased(context.WithoutCancel(ctx), middleware.RequestID(ctx), evt); err != nil {
		s.cfg.Log.Warn("Failed to publish release event", "booking_id", st.BookingID, "error", err)
	}
}
