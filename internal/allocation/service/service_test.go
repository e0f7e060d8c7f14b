package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"slotbook/internal/allocation/engine"
	"slotbook/internal/allocation/events"
	"slotbook/internal/allocation/pricing"
	"slotbook/internal/allocation/validator"
	"slotbook/pkg/config"
	apperrors "slotbook/pkg/errors"
	"slotbook/pkg/logger"
	"slotbook/pkg/middleware"
	"slotbook/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu        sync.Mutex
	allocated []events.BookingAllocated
	released  []events.BookingReleased
	corrIDs   []string
	err       error
}

func (p *fakePublisher) BookingAllocated(_ context.Context, corr string, evt events.BookingAllocated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allocated = append(p.allocated, evt)
	p.corrIDs = append(p.corrIDs, corr)
	return p.err
}

func (p *fakePublisher) BookingReleased(_ context.Context, corr string, evt events.BookingReleased) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, evt)
	p.corrIDs = append(p.corrIDs, corr)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

type fixture struct {
	svc    AllocationService
	pub    *fakePublisher
	now    int64
	reg    *engine.Registry
	garage *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()

	f := &fixture{pub: &fakePublisher{}, reg: engine.NewRegistry()}
	f.garage = engine.New("garage")
	require.NoError(t, f.reg.Register(f.garage))

	cfg := &config.Config{Log: log, TickDuration: time.Hour}
	f.svc = NewAllocationService(f.reg, validator.NewAllocationValidator(log), f.pub, ClockFunc(func() int64 { return f.now }), cfg)
	return f
}

func (f *fixture) register(t *testing.T, id, category string) {
	t.Helper()
	_, err := f.svc.RegisterUnit(context.Background(), "garage", &model.RegisterUnitRequest{ID: id, Category: category})
	require.NoError(t, err)
}

func requireAppError(t *testing.T, err error, code string, status int) *apperrors.AppError {
	t.Helper()
	require.Error(t, err)
	appErr := apperrors.AsAppError(err)
	assert.Equal(t, code, appErr.Code)
	assert.Equal(t, status, appErr.StatusCode())
	return appErr
}

func ptr(v int64) *int64 { return &v }

func TestAllocateRelease_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.register(t, "S1", "small")
	f.register(t, "M1", "Medium")

	ctx := middleware.WithRequestID(context.Background(), "req-42")
	resp, err := f.svc.Allocate(ctx, "garage", &model.AllocateRequest{RequestID: " KA01 1234 ", Category: "Four Wheeler", StartTime: ptr(2)})
	require.NoError(t, err)
	assert.Equal(t, "M1", resp.UnitID)
	assert.Equal(t, int64(2), resp.StartTime)

	st, err := f.svc.Release(ctx, "garage", resp.BookingID, &model.ReleaseRequest{EndTime: ptr(5)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.DurationUnits)
	assert.EqualValues(t, 30, st.Fee)
	assert.Equal(t, "hourly(10)", st.Strategy)

	b, err := f.svc.GetBooking(ctx, "garage", resp.BookingID)
	require.NoError(t, err)
	assert.Equal(t, "KA011234", b.RequestID)
	assert.Equal(t, model.StatusClosed, b.Status())

	require.Len(t, f.pub.allocated, 1)
	require.Len(t, f.pub.released, 1)
	assert.Equal(t, "M1", f.pub.allocated[0].UnitID)
	assert.EqualValues(t, 30, f.pub.released[0].Fee)
	assert.Equal(t, []string{"req-42", "req-42"}, f.pub.corrIDs)
}

func TestAllocate_UsesClockWhenStartMissing(t *testing.T) {
	f := newFixture(t)
	f.register(t, "L1", "large")
	f.now = 100

	resp, err := f.svc.Allocate(context.Background(), "garage", &model.AllocateRequest{RequestID: "t1", Category: "truck"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), resp.StartTime)

	f.now = 100
	st, err := f.svc.Release(context.Background(), "garage", resp.BookingID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.DurationUnits)
}

func TestAllocate_NoCapacity(t *testing.T) {
	f := newFixture(t)
	f.register(t, "S1", "small")

	_, err := f.svc.Allocate(context.Background(), "garage", &model.AllocateRequest{RequestID: "t1", Category: "truck"})
	appErr := requireAppError(t, err, apperrors.CodeNoCapacity, http.StatusConflict)
	assert.Equal(t, "garage", appErr.Details["pool"])
	assert.Empty(t, f.pub.allocated)
}

func TestAllocate_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Allocate(context.Background(), "garage", &model.AllocateRequest{RequestID: "", Category: "truck"})
	requireAppError(t, err, apperrors.CodeValidation, http.StatusUnprocessableEntity)

	_, err = f.svc.Allocate(context.Background(), "garage", &model.AllocateRequest{RequestID: "x", Category: "truck", StartTime: ptr(-1)})
	requireAppError(t, err, apperrors.CodeValidation, http.StatusUnprocessableEntity)

	_, err = f.svc.Allocate(context.Background(), "garage", nil)
	requireAppError(t, err, apperrors.CodeInvalidInput, http.StatusBadRequest)
}

func TestUnknownPool(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Allocate(context.Background(), "nowhere", &model.AllocateRequest{RequestID: "x", Category: "truck"})
	requireAppError(t, err, apperrors.CodeNotFound, http.StatusNotFound)

	_, err = f.svc.Stats(context.Background(), " ")
	requireAppError(t, err, apperrors.CodeInvalidInput, http.StatusBadRequest)
}

func TestRegisterUnit_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.register(t, "S1", "small")

	_, err := f.svc.RegisterUnit(context.Background(), "garage", &model.RegisterUnitRequest{ID: "S1", Category: "large"})
	requireAppError(t, err, apperrors.CodeConflict, http.StatusConflict)

	units, err := f.svc.ListUnits(context.Background(), "garage")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, model.UnitCategory("small"), units[0].Category)
}

func TestRelease_Errors(t *testing.T) {
	f := newFixture(t)
	f.register(t, "S1", "small")

	_, err := f.svc.Release(context.Background(), "garage", "missing", nil)
	requireAppError(t, err, apperrors.CodeNotFound, http.StatusNotFound)

	_, err = f.svc.Release(context.Background(), "garage", "", nil)
	requireAppError(t, err, apperrors.CodeInvalidInput, http.StatusBadRequest)

	resp, err := f.svc.Allocate(context.Background(), "garage", &model.AllocateRequest{RequestID: "bike", Category: "two_wheeler", StartTime: ptr(10)})
	require.NoError(t, err)

	_, err = f.svc.Release(context.Background(), "garage", resp.BookingID, &model.ReleaseRequest{EndTime: ptr(3)})
	requireAppError(t, err, apperrors.CodeInvalidState, http.StatusUnprocessableEntity)

	_, err = f.svc.Release(context.Background(), "garage", resp.BookingID, &model.ReleaseRequest{EndTime: ptr(11)})
	require.NoError(t, err)

	_, err = f.svc.Release(context.Background(), "garage", resp.BookingID, &model.ReleaseRequest{EndTime: ptr(12)})
	requireAppError(t, err, apperrors.CodeAlreadyClosed, http.StatusConflict)
	assert.Len(t, f.pub.released, 1)
}

func TestRelease_PricingFailureStillFreesUnit(t *testing.T) {
	f := newFixture(t)
	f.register(t, "S1", "small")

	resp, err := f.svc.Allocate(context.Background(), "garage", &model.AllocateRequest{RequestID: "bike", Category: "two_wheeler", StartTime: ptr(0)})
	require.NoError(t, err)

	// A strategy that passes validation at install time but cannot price.
	broken := pricing.Hourly(10)
	require.NoError(t, f.garage.SetPricingStrategy(broken))
	broken.Kind = "mystery"

	_, err = f.svc.Release(context.Background(), "garage", resp.BookingID, &model.ReleaseRequest{EndTime: ptr(1)})
	requireAppError(t, err, apperrors.CodeInvalidState, http.StatusUnprocessableEntity)

	stats, err := f.svc.Stats(context.Background(), "garage")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Occupied)

	require.Len(t, f.pub.released, 1)
	assert.NotEmpty(t, f.pub.released[0].PricingError)
}

func TestSetPricing_AppliesAtRelease(t *testing.T) {
	f := newFixture(t)
	f.register(t, "M1", "medium")

	resp, err := f.svc.Allocate(context.Background(), "garage", &model.AllocateRequest{RequestID: "car", Category: "four_wheeler", StartTime: ptr(0)})
	require.NoError(t, err)

	name, err := f.svc.SetPricing(context.Background(), "garage", &model.PricingRequest{Kind: "FLAT"})
	require.NoError(t, err)
	assert.Equal(t, "flat(50)", name)

	st, err := f.svc.Release(context.Background(), "garage", resp.BookingID, &model.ReleaseRequest{EndTime: ptr(9)})
	require.NoError(t, err)
	assert.EqualValues(t, 50, st.Fee)
}

func TestSetPricing_PerCategory(t *testing.T) {
	f := newFixture(t)

	name, err := f.svc.SetPricing(context.Background(), "garage", &model.PricingRequest{
		Kind:  "per_category",
		Rates: map[string]int64{"Large": 40, "small": 5},
	})
	require.NoError(t, err)
	assert.Equal(t, "per_category(large=40,small=5,*=0)", name)

	_, err = f.svc.SetPricing(context.Background(), "garage", &model.PricingRequest{Kind: "per_category"})
	requireAppError(t, err, apperrors.CodeValidation, http.StatusUnprocessableEntity)

	_, err = f.svc.SetPricing(context.Background(), "garage", &model.PricingRequest{Kind: "weekly"})
	requireAppError(t, err, apperrors.CodeValidation, http.StatusUnprocessableEntity)
}

func TestListBookings_FilterAndPaging(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"S1", "S2", "S3"} {
		f.register(t, id, "small")
	}

	var ids []string
	for i, req := range []string{"a", "b", "c"} {
		resp, err := f.svc.Allocate(context.Background(), "garage", &model.AllocateRequest{RequestID: req, Category: "two_wheeler", StartTime: ptr(int64(i))})
		require.NoError(t, err)
		ids = append(ids, resp.BookingID)
	}
	_, err := f.svc.Release(context.Background(), "garage", ids[1], &model.ReleaseRequest{EndTime: ptr(4)})
	require.NoError(t, err)

	open, total, err := f.svc.ListBookings(context.Background(), "garage", "open", 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, ids[0], open[0].ID)
	assert.Equal(t, ids[2], open[1].ID)

	page, total, err := f.svc.ListBookings(context.Background(), "garage", "", 1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	page, _, err = f.svc.ListBookings(context.Background(), "garage", "", 10, 99)
	require.NoError(t, err)
	assert.Empty(t, page)

	_, _, err = f.svc.ListBookings(context.Background(), "garage", "pending", 10, 0)
	requireAppError(t, err, apperrors.CodeInvalidInput, http.StatusBadRequest)
}

func TestPublishFailureDoesNotFailAllocation(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")
	f.register(t, "L1", "large")

	_, err := f.svc.Allocate(context.Background(), "garage", &model.AllocateRequest{RequestID: "t", Category: "truck"})
	assert.NoError(t, err)
}

func TestPools(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Register(engine.New("annex")))
	assert.Equal(t, []string{"annex", "garage"}, f.svc.Pools(context.Background()))
}

func TestTickClock(t *testing.T) {
	c := NewTickClock(time.Hour)
	c.now = func() time.Time { return time.Unix(7200+59, 0) }
	assert.Equal(t, int64(2), c.Now())

	c = NewTickClock(0)
	assert.Equal(t, time.Hour, c.tick)
}
