// Package metrics exposes allocation outcomes as Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"

	allocerrors "slotbook/internal/allocation/errors"
	"slotbook/pkg/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slotbook"

const (
	ResultOK         = "ok"
	ResultNoCapacity = "no_capacity"
	ResultNotFound   = "not_found"
	ResultClosed     = "already_closed"
	ResultInvalid    = "invalid_state"
	ResultError      = "error"
)

// Recorder implements engine.Recorder on a private registry.
type Recorder struct {
	registry    *prometheus.Registry
	allocations *prometheus.CounterVec
	releases    *prometheus.CounterVec
	fees        *prometheus.CounterVec
	occupied    *prometheus.GaugeVec
	units       *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Allocation attempts by pool, request category and result.",
		}, []string{"pool", "category", "result"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Release attempts by pool and result.",
		}, []string{"pool", "result"}),
		fees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fees_total",
			Help:      "Sum of fees charged on release.",
		}, []string{"pool"}),
		occupied: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "units_occupied",
			Help:      "Units currently occupied.",
		}, []string{"pool"}),
		units: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Units registered in the pool.",
		}, []string{"pool"}),
	}

	r.registry.MustRegister(
		r.allocations,
		r.releases,
		r.fees,
		r.occupied,
		r.units,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Allocated(pool string, category model.RequestCategory, err error) {
	r.allocations.WithLabelValues(pool, string(category), Result(err)).Inc()
}

func (r *Recorder) Released(pool string, fee model.Amount, err error) {
	r.releases.WithLabelValues(pool, Result(err)).Inc()
	if err == nil && fee > 0 {
		r.fees.WithLabelValues(pool).Add(float64(fee))
	}
}

func (r *Recorder) Occupancy(pool string, occupied, total int) {
	r.occupied.WithLabelValues(pool).Set(float64(occupied))
	r.units.WithLabelValues(pool).Set(float64(total))
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Result maps an engine error onto a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, allocerrors.ErrNoCapacity):
		return ResultNoCapacity
	case errors.Is(err, allocerrors.ErrBookingNotFound), errors.Is(err, allocerrors.ErrUnitNotFound):
		return ResultNotFound
	case errors.Is(err, allocerrors.ErrAlreadyClosed):
		return ResultClosed
	case errors.Is(err, allocerrors.ErrInvalidState):
		return ResultInvalid
	default:
		return ResultError
	}
}
