package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"qms/registrar-queue/internal/engine"
	"qms/registrar-queue/internal/models"
	"qms/registrar-queue/internal/store"

	"github.com/google/uuid"
)

// Service is the queue engine as seen by the HTTP layer.
type Service interface {
	ListServices(ctx context.Context) ([]models.Service, error)
	SlotAvailability(ctx context.Context, bookingDate string) ([]models.SlotAvailability, error)
	CheckSlotAvailable(ctx context.Context, bookingDate, timeWindow string) (bool, error)
	CreateTicket(ctx context.Context, req engine.CreateTicketRequest) (engine.Booking, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	TicketHistory(ctx context.Context, ticketID string) (engine.TicketHistory, error)
	Complete(ctx context.Context, ticketID string) (models.Ticket, bool, error)
	Cancel(ctx context.Context, ticketID string) (models.Ticket, bool, error)
	GetQueue(ctx context.Context, queueType models.ServiceType, filter store.QueueFilter) ([]models.Ticket, error)
	CallNext(ctx context.Context, queueType models.ServiceType) (models.Ticket, bool, error)
	GetStatus(ctx context.Context) ([]models.QueueStatus, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

type createTicketRequest struct {
	RequestID    string `json:"request_id"`
	ServiceID    string `json:"service_id"`
	ServiceType  string `json:"service_type"`
	BookingDate  string `json:"booking_date"`
	TimeWindow   string `json:"time_window"`
	VisitorName  string `json:"visitor_name"`
	VisitorID    string `json:"visitor_external_id"`
	VisitorEmail string `json:"visitor_email"`
}

type callNextResponse struct {
	Found  bool           `json:"found"`
	Ticket *models.Ticket `json:"ticket"`
}

type ticketActionResponse struct {
	Ticket  models.Ticket `json:"ticket"`
	Changed bool          `json:"changed"`
}

type slotCheckResponse struct {
	BookingDate string `json:"booking_date"`
	TimeWindow  string `json:"time_window"`
	Available   bool   `json:"available"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/services", h.handleServices)
	mux.HandleFunc("/api/slots", h.handleSlots)
	mux.HandleFunc("/api/slots/check", h.handleSlotCheck)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/", h.handleTicketActions)
	mux.HandleFunc("/api/queues/", h.handleQueues)
	mux.HandleFunc("/api/queue-status", h.handleQueueStatus)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	services, err := h.service.ListServices(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (h *Handler) handleSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_request", "date is required")
		return
	}
	slots, err := h.service.SlotAvailability(r.Context(), date)
	if err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

func (h *Handler) handleSlotCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	window := strings.TrimSpace(r.URL.Query().Get("time_window"))
	if date == "" || window == "" {
		writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_request", "date and time_window are required")
		return
	}
	available, err := h.service.CheckSlotAvailable(r.Context(), date, window)
	if err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, slotCheckResponse{BookingDate: date, TimeWindow: window, Available: available})
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID == "" {
		req.RequestID = idempotencyKeyFrom(r)
	}

	booking, err := h.service.CreateTicket(r.Context(), engine.CreateTicketRequest{
		RequestID:    req.RequestID,
		ServiceID:    strings.TrimSpace(req.ServiceID),
		ServiceType:  models.ServiceType(strings.TrimSpace(req.ServiceType)),
		BookingDate:  strings.TrimSpace(req.BookingDate),
		TimeWindow:   strings.TrimSpace(req.TimeWindow),
		VisitorName:  strings.TrimSpace(req.VisitorName),
		VisitorID:    strings.TrimSpace(req.VisitorID),
		VisitorEmail: strings.TrimSpace(req.VisitorEmail),
	})
	if err != nil {
		h.writeServiceError(w, r, req.RequestID, err)
		return
	}

	status := http.StatusCreated
	if !booking.Created {
		status = http.StatusOK
	}
	writeJSON(w, status, booking)
}

func (h *Handler) handleTicketActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || len(parts) > 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	ticketID := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ticket, err := h.service.GetTicket(r.Context(), ticketID)
		if err != nil {
			h.writeServiceError(w, r, "", err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
		return
	}

	switch parts[1] {
	case "events":
		h.handleTicketEvents(w, r, ticketID)
	case "complete":
		h.handleFinishTicket(w, r, ticketID, h.service.Complete)
	case "cancel":
		h.handleFinishTicket(w, r, ticketID, h.service.Cancel)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleTicketEvents(w http.ResponseWriter, r *http.Request, ticketID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	history, err := h.service.TicketHistory(r.Context(), ticketID)
	if err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) handleFinishTicket(w http.ResponseWriter, r *http.Request, ticketID string, finish func(context.Context, string) (models.Ticket, bool, error)) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ticket, changed, err := finish(r.Context(), ticketID)
	if err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, ticketActionResponse{Ticket: ticket, Changed: changed})
}

func (h *Handler) handleQueues(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queues/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || len(parts) > 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	queueType := models.ServiceType(parts[0])

	if len(parts) == 2 {
		if parts[1] != "call-next" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.handleCallNext(w, r, queueType)
		return
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	filter := store.QueueFilter{BookingDate: strings.TrimSpace(r.URL.Query().Get("date"))}
	for _, raw := range r.URL.Query()["status"] {
		for _, value := range strings.Split(raw, ",") {
			if value = strings.TrimSpace(value); value != "" {
				filter.Statuses = append(filter.Statuses, models.Status(value))
			}
		}
	}
	tickets, err := h.service.GetQueue(r.Context(), queueType, filter)
	if err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request, queueType models.ServiceType) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ticket, found, err := h.service.CallNext(r.Context(), queueType)
	if err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, callNextResponse{Found: false})
		return
	}
	writeJSON(w, http.StatusOK, callNextResponse{Found: true, Ticket: &ticket})
}

func (h *Handler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	statuses, err := h.service.GetStatus(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, requestID string, err error) {
	if requestID == "" {
		requestID = requestIDFrom(r)
	}
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	}
	writeError(w, requestID, status, code, msg)
}

func requestIDFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

// idempotencyKeyFrom returns the X-Request-ID header when it is a UUID.
// Tracing ids in other formats are not idempotency keys and are ignored.
func idempotencyKeyFrom(r *http.Request) string {
	id := requestIDFrom(r)
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}

func mapError(err error) (int, string, string) {
	var validation *engine.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "invalid_request", validation.Error()
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrSlotFull):
		return http.StatusConflict, "slot_full", "the selected time slot is full"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrAdmissionUnavailable):
		return http.StatusServiceUnavailable, "admission_unavailable", "slot availability cannot be checked right now"
	case errors.Is(err, store.ErrEventChainBroken):
		return http.StatusInternalServerError, "event_chain_broken", "ticket history failed verification"
	default:
		return http.StatusInternalServerError, "storage_failure", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
