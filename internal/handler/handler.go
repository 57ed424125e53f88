// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/model"
	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// CallerHeader carries the identity of the caller. Proving that identity
// (wallet signature, session) is done upstream of this service.
const CallerHeader = "X-Caller"

// EventHandler holds all HTTP handlers for the ledger API.
type EventHandler struct {
	svc      *service.LedgerService
	validate *validator.Validate
	log      *zap.Logger
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *service.LedgerService, log *zap.Logger) *EventHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventHandler{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log.Named("http"),
	}
}

// Routes mounts the ledger API on r.
func (h *EventHandler) Routes(r chi.Router) {
	r.Get("/health", HealthCheck)

	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.ListEvents)
		r.Get("/count", h.EventCount)
		r.Get("/{id}", h.GetEvent)
		r.Get("/{id}/registrants", h.ListRegistrants)
		r.Get("/{id}/registrants/{participant}", h.IsRegistered)
		r.Get("/{id}/check-ins", h.ListCheckIns)

		r.Group(func(r chi.Router) {
			r.Use(RequireCaller)
			r.Post("/", h.CreateEvent)
			r.Post("/{id}/register", h.Register)
			r.Post("/{id}/pass", h.IssuePass)
			r.Post("/{id}/check-in", h.CheckIn)
			r.Post("/{id}/deactivate", h.Deactivate)
		})
	})

	r.Get("/accounts/{identity}/balance", h.Balance)
}

// ─── Request / response payloads ──────────────────────────────────────────────

// CreateEventRequest is the payload for creating a new event. Value is the
// amount the organizer attaches; it must equal EscrowAmount.
type CreateEventRequest struct {
	Name            string    `json:"name" validate:"required,max=200"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	MaxParticipants int       `json:"max_participants" validate:"required,gte=1"`
	EscrowAmount    int64     `json:"escrow_amount" validate:"required,gt=0"`
	Value           int64     `json:"value" validate:"required,gt=0"`
}

// CheckInRequest is the payload submitted by whoever scanned a pass.
type CheckInRequest struct {
	Participant string `json:"participant" validate:"required"`
	Pass        string `json:"pass" validate:"required"`
}

// CreateEventResponse returns the new event's id.
type CreateEventResponse struct {
	ID int64 `json:"id"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func (h *EventHandler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

func eventID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: event id must be a non-negative integer", model.ErrNotFound)
	}
	return id, nil
}

// writeLedgerError maps a ledger error kind to an HTTP status.
func (h *EventHandler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method),
			zap.Error(err),
		)
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidParameters):
		return http.StatusBadRequest, "invalid_parameters"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrAlreadyRegistered):
		return http.StatusConflict, "already_registered"
	case errors.Is(err, model.ErrEventFull):
		return http.StatusConflict, "event_full"
	case errors.Is(err, model.ErrAlreadyCheckedIn):
		return http.StatusConflict, "already_checked_in"
	case errors.Is(err, model.ErrNotRegistered):
		return http.StatusUnprocessableEntity, "not_registered"
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, model.ErrInsufficientEscrow):
		return http.StatusInternalServerError, "insufficient_escrow"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
// Creates a funded event owned by the caller.
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameters", err.Error())
		return
	}

	id, err := h.svc.CreateEvent(r.Context(), Caller(r), service.CreateEventRequest{
		Name:            req.Name,
		StartTime:       req.StartTime,
		MaxParticipants: req.MaxParticipants,
		EscrowAmount:    req.EscrowAmount,
		Value:           req.Value,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateEventResponse{ID: id})
}

// ListEvents handles GET /events
// Returns every active event.
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListActiveEvents(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// EventCount handles GET /events/count
func (h *EventHandler) EventCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.EventCount(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

// GetEvent handles GET /events/{id}
// Inactive events are returned too; callers decide what to show.
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	event, err := h.svc.GetEvent(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// Register handles POST /events/{id}/register
// Reserves a slot for the caller.
func (h *EventHandler) Register(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if err := h.svc.Register(r.Context(), id, Caller(r)); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"event_id":    id,
		"participant": model.NormalizeIdentity(Caller(r)),
		"registered":  true,
	})
}

// IsRegistered handles GET /events/{id}/registrants/{participant}
// Unknown events answer false.
func (h *EventHandler) IsRegistered(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]bool{"registered": false})
		return
	}
	ok, err := h.svc.IsRegistered(r.Context(), id, chi.URLParam(r, "participant"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"registered": ok})
}

// ListRegistrants handles GET /events/{id}/registrants
func (h *EventHandler) ListRegistrants(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	regs, err := h.svc.ListRegistrants(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	// Return an empty array rather than null for better client compatibility.
	if regs == nil {
		regs = []model.Registration{}
	}
	writeJSON(w, http.StatusOK, regs)
}

// IssuePass handles POST /events/{id}/pass
// Mints a check-in pass for the registered caller; the client renders it as a QR code.
func (h *EventHandler) IssuePass(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	pass, err := h.svc.IssuePass(r.Context(), id, Caller(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pass)
}

// CheckIn handles POST /events/{id}/check-in
// Records a scanned participant's arrival and pays any reward owed.
func (h *EventHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	var req CheckInRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameters", err.Error())
		return
	}

	rec, err := h.svc.CheckIn(r.Context(), id, Caller(r), service.CheckInRequest{
		Participant: req.Participant,
		Proof:       req.Pass,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ListCheckIns handles GET /events/{id}/check-ins
// Returns check-ins in arrival order.
func (h *EventHandler) ListCheckIns(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	recs, err := h.svc.ListCheckIns(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.CheckIn{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// Deactivate handles POST /events/{id}/deactivate
// Only the organizer may deactivate; escrow stays locked.
func (h *EventHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if err := h.svc.DeactivateEvent(r.Context(), id, Caller(r)); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Balance handles GET /accounts/{identity}/balance
func (h *EventHandler) Balance(w http.ResponseWriter, r *http.Request) {
	identity := model.NormalizeIdentity(chi.URLParam(r, "identity"))
	amount, err := h.svc.Balance(r.Context(), identity)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"identity": identity, "balance": amount})
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
