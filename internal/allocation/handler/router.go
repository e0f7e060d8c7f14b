package handler

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
)

const (
	apiPrefix     = "/api/v1/pools"
	releaseSuffix = "/release"
)

func (h *AllocationHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET(apiPrefix, h.ListPools)

	router.POST(apiPrefix+"/:pool/units", h.RegisterUnit)
	router.GET(apiPrefix+"/:pool/units", h.ListUnits)

	router.POST(apiPrefix+"/:pool/bookings", h.Allocate)
	router.GET(apiPrefix+"/:pool/bookings", h.ListBookings)
	router.GET(apiPrefix+"/:pool/bookings/:id", h.GetBooking)
	router.POST(apiPrefix+"/:pool/bookings/:id"+releaseSuffix, h.Release)

	router.PUT(apiPrefix+"/:pool/pricing", h.SetPricing)
	router.GET(apiPrefix+"/:pool/stats", h.Stats)
}

// ExemptFromReplay keeps releases out of the idempotency cache: a repeated
// release must answer ALREADY_CLOSED, not the first settlement again.
func (h *AllocationHandler) ExemptFromReplay(r *http.Request) bool {
	return r.Method == http.MethodPost &&
		strings.HasPrefix(r.URL.Path, apiPrefix+"/") &&
		strings.HasSuffix(r.URL.Path, releaseSuffix)
}
