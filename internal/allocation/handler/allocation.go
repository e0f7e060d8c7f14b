package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"slotbook/internal/allocation/service"
	apperrors "slotbook/pkg/errors"
	httputil "slotbook/pkg/http"
	"slotbook/pkg/logger"
	"slotbook/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type AllocationHandler struct {
	service service.AllocationService
	log     *logger.Logger
}

func NewAllocationHandler(service service.AllocationService, log *logger.Logger) *AllocationHandler {
	return &AllocationHandler{
		service: service,
		log:     log,
	}
}

type PricingResponse struct {
	Strategy string `json:"strategy"`
}

func (h *AllocationHandler) ListPools(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := httputil.WriteSuccess(w, h.service.Pools(r.Context())); err != nil {
		h.log.Error("failed to write success response", "handler", "ListPools", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AllocationHandler) RegisterUnit(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req model.RegisterUnitRequest
	if !h.decode(w, r, "RegisterUnit", &req, true) {
		return
	}

	unit, err := h.service.RegisterUnit(r.Context(), ps.ByName("pool"), &req)
	if err != nil {
		h.writeError(w, "RegisterUnit", err)
		return
	}

	if err := httputil.WriteCreated(w, unit); err != nil {
		h.log.Error("failed to write created response", "handler", "RegisterUnit", "operation", "WriteCreated", "error", err)
	}
}

func (h *AllocationHandler) ListUnits(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	units, err := h.service.ListUnits(r.Context(), ps.ByName("pool"))
	if err != nil {
		h.writeError(w, "ListUnits", err)
		return
	}

	if err := httputil.WriteSuccess(w, units); err != nil {
		h.log.Error("failed to write success response", "handler", "ListUnits", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AllocationHandler) Allocate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req model.AllocateRequest
	if !h.decode(w, r, "Allocate", &req, true) {
		return
	}

	resp, err := h.service.Allocate(r.Context(), ps.ByName("pool"), &req)
	if err != nil {
		h.writeError(w, "Allocate", err)
		return
	}

	if err := httputil.WriteCreated(w, resp); err != nil {
		h.log.Error("failed to write created response", "handler", "Allocate", "operation", "WriteCreated", "error", err)
	}
}

func (h *AllocationHandler) Release(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req model.ReleaseRequest
	if !h.decode(w, r, "Release", &req, false) {
		return
	}

	settlement, err := h.service.Release(r.Context(), ps.ByName("pool"), ps.ByName("id"), &req)
	if err != nil {
		h.writeError(w, "Release", err)
		return
	}

	if err := httputil.WriteSuccess(w, settlement); err != nil {
		h.log.Error("failed to write success response", "handler", "Release", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AllocationHandler) GetBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	booking, err := h.service.GetBooking(r.Context(), ps.ByName("pool"), ps.ByName("id"))
	if err != nil {
		h.writeError(w, "GetBooking", err)
		return
	}

	if err := httputil.WriteSuccess(w, booking); err != nil {
		h.log.Error("failed to write success response", "handler", "GetBooking", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AllocationHandler) ListBookings(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	limit, offset, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		h.writeError(w, "ListBookings", err)
		return
	}

	bookings, total, err := h.service.ListBookings(r.Context(), ps.ByName("pool"), r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		h.writeError(w, "ListBookings", err)
		return
	}

	if err := httputil.WritePaginated(w, bookings, total, limit, offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "ListBookings", "operation", "WritePaginated", "error", err)
	}
}

func (h *AllocationHandler) SetPricing(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req model.PricingRequest
	if !h.decode(w, r, "SetPricing", &req, true) {
		return
	}

	name, err := h.service.SetPricing(r.Context(), ps.ByName("pool"), &req)
	if err != nil {
		h.writeError(w, "SetPricing", err)
		return
	}

	if err := httputil.WriteSuccess(w, PricingResponse{Strategy: name}); err != nil {
		h.log.Error("failed to write success response", "handler", "SetPricing", "operation", "WriteSuccess", "error", err)
	}
}

func (h *AllocationHandler) Stats(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	stats, err := h.service.Stats(r.Context(), ps.ByName("pool"))
	if err != nil {
		h.writeError(w, "Stats", err)
		return
	}

	if err := httputil.WriteSuccess(w, stats); err != nil {
		h.log.Error("failed to write success response", "handler", "Stats", "operation", "WriteSuccess", "error", err)
	}
}

// decode reads a JSON body into dst. When required is false an empty body
// is accepted and dst keeps its zero value.
func (h *AllocationHandler) decode(w http.ResponseWriter, r *http.Request, handler string, dst any, required bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err == nil || (!required && errors.Is(err, io.EOF)) {
		return true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		h.writeError(w, handler, apperrors.New(apperrors.CodeInvalidInput, "Request body too large", http.StatusRequestEntityTooLarge))
		return false
	}

	if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
		Error: "Invalid request body",
		Code:  apperrors.CodeInvalidInput,
	}); writeErr != nil {
		h.log.Error("failed to write JSON response", "handler", handler, "operation", "WriteJSON", "error", writeErr)
	}
	return false
}

func (h *AllocationHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}
