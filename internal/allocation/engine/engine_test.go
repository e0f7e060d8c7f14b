package engine

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	allocerrors "slotbook/internal/allocation/errors"
	"slotbook/internal/allocation/matcher"
	"slotbook/internal/allocation/pricing"
	"slotbook/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	kind     string
	category model.RequestCategory
	err      error
	fee      model.Amount
}

type fakeRecorder struct {
	mu        sync.Mutex
	calls     []recordedCall
	occupied  int
	total     int
	poolNames map[string]struct{}
}

func (f *fakeRecorder) Allocated(pool string, category model.RequestCategory, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track(pool)
	f.calls = append(f.calls, recordedCall{kind: "allocated", category: category, err: err})
}

func (f *fakeRecorder) Released(pool string, fee model.Amount, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track(pool)
	f.calls = append(f.calls, recordedCall{kind: "released", err: err, fee: fee})
}

func (f *fakeRecorder) Occupancy(pool string, occupied, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.track(pool)
	f.occupied, f.total = occupied, total
}

func (f *fakeRecorder) track(pool string) {
	if f.poolNames == nil {
		f.poolNames = map[string]struct{}{}
	}
	f.poolNames[pool] = struct{}{}
}

func newLot(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := New("lot", opts...)
	require.NoError(t, e.RegisterUnit("S1", matcher.Small))
	require.NoError(t, e.RegisterUnit("M1", matcher.Medium))
	require.NoError(t, e.RegisterUnit("L1", matcher.Large))
	return e
}

// assertOccupancyBijection checks that open bookings and occupied units
// correspond one to one.
func assertOccupancyBijection(t *testing.T, e *Engine) {
	t.Helper()
	units, open := e.Snapshot()

	occupied := map[string]bool{}
	for _, u := range units {
		if u.Occupied {
			occupied[u.ID] = true
		}
	}
	seen := map[string]string{}
	for _, b := range open {
		other, dup := seen[b.UnitID]
		assert.False(t, dup, "unit %s held by bookings %s and %s", b.UnitID, other, b.ID)
		seen[b.UnitID] = b.ID
		assert.True(t, occupied[b.UnitID], "open booking %s references free unit %s", b.ID, b.UnitID)
	}
	assert.Equal(t, len(occupied), len(open))
}

func TestScenario_AllocateReleaseReallocate(t *testing.T) {
	m, err := matcher.New(map[model.RequestCategory]model.UnitCategory{"a": "a"})
	require.NoError(t, err)
	e := New("lot", WithMatcher(m), WithStrategy(pricing.Hourly(10)))
	require.NoError(t, e.RegisterUnit("A1", "a"))

	b1, err := e.Allocate("req-1", "a", 100)
	require.NoError(t, err)

	_, err = e.Allocate("req-2", "a", 101)
	assert.ErrorIs(t, err, allocerrors.ErrNoCapacity)

	s, err := e.Release(b1, 105)
	require.NoError(t, err)
	assert.Equal(t, model.Amount(50), s.Fee)
	assert.Equal(t, int64(5), s.DurationUnits)
	assert.Equal(t, "A1", s.UnitID)

	b2, err := e.Allocate("req-2", "a", 106)
	require.NoError(t, err)
	assert.NotEqual(t, b1, b2)
	assertOccupancyBijection(t, e)
}

func TestAllocate_MatchesCategory(t *testing.T) {
	e := newLot(t)

	tests := []struct {
		category model.RequestCategory
		wantUnit string
	}{
		{matcher.TwoWheeler, "S1"},
		{matcher.FourWheeler, "M1"},
		{matcher.Truck, "L1"},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			id, err := e.Allocate("veh-"+string(tt.category), tt.category, 1)
			require.NoError(t, err)
			b, err := e.Booking(id)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUnit, b.UnitID)
		})
	}
	assertOccupancyBijection(t, e)
}

func TestAllocate_FailureLeavesStateUntouched(t *testing.T) {
	e := newLot(t)
	before := e.Stats()

	_, err := e.Allocate("bike", "bicycle", 1)
	assert.ErrorIs(t, err, allocerrors.ErrNoCapacity)

	_, err = e.Allocate("", matcher.Truck, 1)
	assert.ErrorIs(t, err, allocerrors.ErrInvalidState)

	assert.Equal(t, before, e.Stats())
	assert.Empty(t, e.Bookings(model.BookingFilter{}))
}

func TestAllocate_CompensatesWhenBookingCannotBeCreated(t *testing.T) {
	e := newLot(t, WithIDFunc(func() string { return "" }))

	_, err := e.Allocate("car", matcher.FourWheeler, 1)
	assert.ErrorIs(t, err, allocerrors.ErrInvalidState)

	u := e.Units()[1]
	assert.Equal(t, "M1", u.ID)
	assert.False(t, u.Occupied)
}

func TestRelease_DurationFloor(t *testing.T) {
	e := newLot(t, WithStrategy(pricing.Hourly(10)))
	id, err := e.Allocate("car", matcher.FourWheeler, 42)
	require.NoError(t, err)

	s, err := e.Release(id, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.DurationUnits)
	assert.Equal(t, model.Amount(10), s.Fee)
}

func TestRelease_DoubleReleaseIsRejected(t *testing.T) {
	rec := &fakeRecorder{}
	e := newLot(t, WithRecorder(rec))
	id, err := e.Allocate("car", matcher.FourWheeler, 1)
	require.NoError(t, err)

	first, err := e.Release(id, 5)
	require.NoError(t, err)

	// Someone else takes the freed unit; a second release must not free it.
	other, err := e.Allocate("car-2", matcher.FourWheeler, 6)
	require.NoError(t, err)

	second, err := e.Release(id, 9)
	assert.ErrorIs(t, err, allocerrors.ErrAlreadyClosed)
	assert.Zero(t, second.Fee)

	b, err := e.Booking(id)
	require.NoError(t, err)
	assert.Equal(t, first.Fee, b.Fee)
	assert.Equal(t, int64(5), *b.EndTime)

	ob, err := e.Booking(other)
	require.NoError(t, err)
	assert.True(t, ob.IsOpen())
	assert.True(t, e.Units()[1].Occupied)
	assertOccupancyBijection(t, e)
}

func TestRelease_Errors(t *testing.T) {
	e := newLot(t)
	_, err := e.Release("missing", 1)
	assert.ErrorIs(t, err, allocerrors.ErrBookingNotFound)

	id, err := e.Allocate("car", matcher.FourWheeler, 10)
	require.NoError(t, err)
	_, err = e.Release(id, 9)
	assert.ErrorIs(t, err, allocerrors.ErrInvalidState)

	b, err := e.Booking(id)
	require.NoError(t, err)
	assert.True(t, b.IsOpen())
	assert.True(t, e.Units()[1].Occupied)
}

func TestRelease_RecordsSettlementOnBooking(t *testing.T) {
	e := newLot(t, WithStrategy(pricing.Flat(50)))
	id, err := e.Allocate("truck", matcher.Truck, 1)
	require.NoError(t, err)

	_, err = e.Release(id, 30)
	require.NoError(t, err)

	b, err := e.Booking(id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, b.Status())
	assert.Equal(t, model.Amount(50), b.Fee)
	assert.Equal(t, "flat(50)", b.Strategy)
	assert.Equal(t, int64(29), b.DurationUnits)
}

func TestRelease_UsesStrategyActiveAtReleaseTime(t *testing.T) {
	e := newLot(t, WithStrategy(pricing.Hourly(10)))
	id, err := e.Allocate("car", matcher.FourWheeler, 0)
	require.NoError(t, err)

	require.NoError(t, e.SetPricingStrategy(pricing.Flat(50)))

	s, err := e.Release(id, 4)
	require.NoError(t, err)
	assert.Equal(t, model.Amount(50), s.Fee)
	assert.Equal(t, "flat(50)", s.Strategy)
}

func TestRelease_FreesUnitWhenPricingFails(t *testing.T) {
	e := newLot(t, WithStrategy(&pricing.Strategy{Kind: "broken"}))
	id, err := e.Allocate("car", matcher.FourWheeler, 0)
	require.NoError(t, err)

	s, err := e.Release(id, 3)
	assert.ErrorIs(t, err, allocerrors.ErrInvalidState)
	assert.Equal(t, "M1", s.UnitID)
	assert.False(t, e.Units()[1].Occupied)

	b, err := e.Booking(id)
	require.NoError(t, err)
	assert.True(t, b.Settled)

	_, err = e.Allocate("car-2", matcher.FourWheeler, 4)
	assert.NoError(t, err)
}

func TestRelease_FeeOverflowIsInvalidState(t *testing.T) {
	e := newLot(t, WithStrategy(pricing.Hourly(10)))
	id, err := e.Allocate("r1", matcher.FourWheeler, 0)
	require.NoError(t, err)

	s, err := e.Release(id, 1_000_000_000_000_000_000)
	assert.ErrorIs(t, err, allocerrors.ErrInvalidState)
	assert.Equal(t, "M1", s.UnitID)
	assert.Zero(t, s.Fee)
	assert.False(t, e.Units()[1].Occupied)

	b, err := e.Booking(id)
	require.NoError(t, err)
	assert.Zero(t, b.Fee)
	assertOccupancyBijection(t, e)
}

func TestSetPricingStrategy_Validates(t *testing.T) {
	e := newLot(t)
	assert.ErrorIs(t, e.SetPricingStrategy(nil), allocerrors.ErrInvalidState)
	assert.ErrorIs(t, e.SetPricingStrategy(pricing.Hourly(-1)), allocerrors.ErrInvalidState)
	assert.Equal(t, "hourly(10)", e.PricingStrategy().Name())
}

func TestRegisterUnit_Duplicate(t *testing.T) {
	e := newLot(t)
	assert.ErrorIs(t, e.RegisterUnit("S1", matcher.Small), allocerrors.ErrDuplicateUnit)
	assert.Len(t, e.Units(), 3)
}

func TestStats(t *testing.T) {
	e := newLot(t)
	id, err := e.Allocate("bike", matcher.TwoWheeler, 0)
	require.NoError(t, err)
	_, err = e.Allocate("car", matcher.FourWheeler, 0)
	require.NoError(t, err)
	_, err = e.Release(id, 1)
	require.NoError(t, err)

	stats := e.Stats()
	assert.Equal(t, 3, stats.Units)
	assert.Equal(t, 1, stats.Occupied)
	assert.Equal(t, 1, stats.OpenBookings)
	assert.Equal(t, 1, stats.Closed)
	assert.Equal(t, model.CategoryStats{Total: 1, Occupied: 1}, stats.ByCategory[matcher.Medium])
	assert.Equal(t, "hourly(10)", stats.Strategy)
}

func TestRecorder(t *testing.T) {
	rec := &fakeRecorder{}
	e := newLot(t, WithRecorder(rec), WithStrategy(pricing.Hourly(3)))

	id, err := e.Allocate("car", matcher.FourWheeler, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.occupied)
	assert.Equal(t, 3, rec.total)

	_, err = e.Allocate("car-2", matcher.FourWheeler, 0)
	require.Error(t, err)

	_, err = e.Release(id, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.occupied)

	require.Len(t, rec.calls, 3)
	assert.NoError(t, rec.calls[0].err)
	assert.ErrorIs(t, rec.calls[1].err, allocerrors.ErrNoCapacity)
	assert.Equal(t, "released", rec.calls[2].kind)
	assert.Equal(t, model.Amount(6), rec.calls[2].fee)
	assert.Contains(t, rec.poolNames, "lot")
}

func TestRecorder_UnknownCategoriesCollapse(t *testing.T) {
	rec := &fakeRecorder{}
	e := newLot(t, WithRecorder(rec))

	for _, c := range []model.RequestCategory{"hovercraft", "zeppelin", matcher.Truck} {
		_, _ = e.Allocate("r-"+string(c), c, 0)
	}

	require.Len(t, rec.calls, 3)
	assert.Equal(t, UnknownCategory, rec.calls[0].category)
	assert.ErrorIs(t, rec.calls[0].err, allocerrors.ErrNoCapacity)
	assert.Equal(t, UnknownCategory, rec.calls[1].category)
	assert.Equal(t, matcher.Truck, rec.calls[2].category)
	assert.NoError(t, rec.calls[2].err)
}

func TestConcurrentAllocate_NoDoubleAllocation(t *testing.T) {
	e := New("lot")
	const capacity = 8
	for i := 0; i < capacity; i++ {
		require.NoError(t, e.RegisterUnit(fmt.Sprintf("M%d", i), matcher.Medium))
	}
	require.NoError(t, e.RegisterUnit("S0", matcher.Small))

	const callers = 100
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
		denied  int
	)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := e.Allocate(fmt.Sprintf("car-%d", i), matcher.FourWheeler, int64(i))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, allocerrors.ErrNoCapacity)
				denied++
				return
			}
			granted++
		}(i)
	}
	wg.Wait()

	assert.Equal(t, capacity, granted)
	assert.Equal(t, callers-capacity, denied)
	assert.Len(t, e.Units(), capacity+1)
	assert.False(t, e.Units()[capacity].Occupied, "small slot must not be handed to a car")
	assertOccupancyBijection(t, e)
}

func TestConcurrentAllocateAndRelease_KeepsBijection(t *testing.T) {
	e := New("lot")
	for i := 0; i < 4; i++ {
		require.NoError(t, e.RegisterUnit(fmt.Sprintf("S%d", i), matcher.Small))
		require.NoError(t, e.RegisterUnit(fmt.Sprintf("M%d", i), matcher.Medium))
	}

	categories := []model.RequestCategory{matcher.TwoWheeler, matcher.FourWheeler}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			var held []string
			for i := 0; i < 200; i++ {
				if len(held) > 0 && rng.Intn(2) == 0 {
					idx := rng.Intn(len(held))
					_, err := e.Release(held[idx], int64(i))
					assert.NoError(t, err)
					held = append(held[:idx], held[idx+1:]...)
					continue
				}
				id, err := e.Allocate(fmt.Sprintf("w%d-%d", seed, i), categories[rng.Intn(2)], int64(i))
				if err == nil {
					held = append(held, id)
				}
			}
			for _, id := range held {
				_, err := e.Release(id, 1000)
				assert.NoError(t, err)
			}
		}(int64(w))
		assertOccupancyBijection(t, e)
	}
	wg.Wait()

	assertOccupancyBijection(t, e)
	stats := e.Stats()
	assert.Equal(t, 0, stats.Occupied)
	assert.Equal(t, 0, stats.OpenBookings)
}

func TestConcurrentRelease_SingleWinner(t *testing.T) {
	rec := &fakeRecorder{}
	e := newLot(t, WithRecorder(rec))
	id, err := e.Allocate("car", matcher.FourWheeler, 0)
	require.NoError(t, err)

	const callers = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_, err := e.Release(id, 5)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			assert.ErrorIs(t, err, allocerrors.ErrAlreadyClosed)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.False(t, e.Units()[1].Occupied)
}
