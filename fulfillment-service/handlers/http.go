package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/orderstack/fulfillment-system/fulfillment-service/application"
	"github.com/orderstack/fulfillment-system/shared/saga"
	"github.com/pkg/errors"
)

// FulfillmentHandlers contains fulfillment HTTP handlers
type FulfillmentHandlers struct {
	startFulfillment      *application.StartFulfillment
	advanceFulfillment    *application.AdvanceFulfillment
	compensateFulfillment *application.CompensateFulfillment
	retryFulfillment      *application.RetryFulfillment
	getFulfillment        *application.GetFulfillment
	listFulfillmentEvents *application.ListFulfillmentEvents
}

// NewFulfillmentHandlers creates new fulfillment handlers
func NewFulfillmentHandlers(
	startFulfillment *application.StartFulfillment,
	advanceFulfillment *application.AdvanceFulfillment,
	compensateFulfillment *application.CompensateFulfillment,
	retryFulfillment *application.RetryFulfillment,
	getFulfillment *application.GetFulfillment,
	listFulfillmentEvents *application.ListFulfillmentEvents,
) *FulfillmentHandlers {
	return &FulfillmentHandlers{
		startFulfillment:      startFulfillment,
		advanceFulfillment:    advanceFulfillment,
		compensateFulfillment: compensateFulfillment,
		retryFulfillment:      retryFulfillment,
		getFulfillment:        getFulfillment,
		listFulfillmentEvents: listFulfillmentEvents,
	}
}

// StartFulfillment handles fulfillment creation requests
func (h *FulfillmentHandlers) StartFulfillment(w http.ResponseWriter, r *http.Request) {
	var cmd application.StartFulfillmentCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, err := h.startFulfillment.Execute(r.Context(), &cmd)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

// AdvanceFulfillment handles manual advance requests
func (h *FulfillmentHandlers) AdvanceFulfillment(w http.ResponseWriter, r *http.Request) {
	cmd := &application.AdvanceFulfillmentCommand{
		FulfillmentID: chi.URLParam(r, "id"),
	}

	response, err := h.advanceFulfillment.Execute(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// CompensateFulfillment handles compensation requests
func (h *FulfillmentHandlers) CompensateFulfillment(w http.ResponseWriter, r *http.Request) {
	cmd := &application.CompensateFulfillmentCommand{
		FulfillmentID: chi.URLParam(r, "id"),
	}

	response, err := h.compensateFulfillment.Execute(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// RetryFulfillment handles retry requests for failed fulfillments
func (h *FulfillmentHandlers) RetryFulfillment(w http.ResponseWriter, r *http.Request) {
	cmd := &application.RetryFulfillmentCommand{
		FulfillmentID: chi.URLParam(r, "id"),
	}

	response, err := h.retryFulfillment.Execute(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// GetFulfillment handles fulfillment retrieval requests
func (h *FulfillmentHandlers) GetFulfillment(w http.ResponseWriter, r *http.Request) {
	query := &application.GetFulfillmentQuery{
		FulfillmentID: chi.URLParam(r, "id"),
	}

	response, err := h.getFulfillment.Execute(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ListFulfillmentEvents handles audit trail requests
func (h *FulfillmentHandlers) ListFulfillmentEvents(w http.ResponseWriter, r *http.Request) {
	query := &application.ListFulfillmentEventsQuery{
		FulfillmentID: chi.URLParam(r, "id"),
	}

	response, err := h.listFulfillmentEvents.Execute(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// RegisterRoutes registers fulfillment routes
func (h *FulfillmentHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/fulfillments", func(r chi.Router) {
		r.Post("/", h.StartFulfillment)
		r.Get("/{id}", h.GetFulfillment)
		r.Get("/{id}/events", h.ListFulfillmentEvents)
		r.Post("/{id}/advance", h.AdvanceFulfillment)
		r.Post("/{id}/compensate", h.CompensateFulfillment)
		r.Post("/{id}/retry", h.RetryFulfillment)
	})
}

// writeError maps saga errors to HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, saga.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, saga.ErrAlreadyExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, saga.ErrNotCompensable),
		errors.Is(err, saga.ErrVersionMismatch),
		errors.Is(err, application.ErrRetryBudgetExhausted):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
