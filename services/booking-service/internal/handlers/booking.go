package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/waitlist"
)

// DefaultSlotLimit bounds how many slots one request materializes from the lazy sequence.
const DefaultSlotLimit = 500

type BookingHandler struct {
	svc      *booking.Service
	waitlist *waitlist.Manager
	logger   *slog.Logger
	retry    booking.RetryPolicy
}

func NewBookingHandler(svc *booking.Service, wl *waitlist.Manager, logger *slog.Logger, retry booking.RetryPolicy) *BookingHandler {
	return &BookingHandler{svc: svc, waitlist: wl, logger: logger, retry: retry}
}

// Register mounts every booking route on mux.
func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/public/book", h.Create)
	mux.HandleFunc("/api/v1/public/book/earliest", h.CreateEarliest)
	mux.HandleFunc("/api/v1/appointments", h.List)
	mux.HandleFunc("/api/v1/appointments/get", h.Get)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/appointments/confirm", h.Confirm)
	mux.HandleFunc("/api/v1/waitlist", h.Enqueue)
	mux.HandleFunc("/api/v1/waitlist/withdraw", h.Withdraw)
}

type createBookingRequest struct {
	StaffID         string `json:"staff_id"`
	ClientID        string `json:"client_id"`
	ServiceID       string `json:"service_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type earliestBookingRequest struct {
	StaffID    string `json:"staff_id"`
	ClientID   string `json:"client_id"`
	ServiceID  string `json:"service_id"`
	NotBefore  string `json:"not_before"`
	SearchDays int    `json:"search_days"`
}

type appointmentIDRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type appointmentItem struct {
	AppointmentID   string `json:"appointment_id"`
	StaffID         string `json:"staff_id"`
	ClientID        string `json:"client_id"`
	ServiceID       string `json:"service_id"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	Status          string `json:"status"`
	WaitlistEntryID string `json:"waitlist_entry_id,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	CancelReason    string `json:"cancel_reason,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type enqueueRequest struct {
	ClientID  string `json:"client_id"`
	StaffID   string `json:"staff_id"`
	ServiceID string `json:"service_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

type waitlistIDRequest struct {
	EntryID string `json:"entry_id"`
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	fromRaw, toRaw := q.Get("from"), q.Get("to")
	if date := strings.TrimSpace(q.Get("date")); date != "" {
		fromRaw, toRaw = date, date
	}
	if toRaw == "" {
		toRaw = fromRaw
	}
	from, err := civil.ParseDate(strings.TrimSpace(fromRaw))
	if err != nil {
		http.Error(w, "invalid from (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	to, err := civil.ParseDate(strings.TrimSpace(toRaw))
	if err != nil {
		http.Error(w, "invalid to (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	limit, err := parseLimit(q.Get("limit"), DefaultSlotLimit, DefaultSlotLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	seq, err := h.svc.Slots(r.Context(), booking.SlotQuery{
		StaffID:   q.Get("staff_id"),
		ServiceID: q.Get("service_id"),
		From:      from,
		To:        to,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]slotItem, 0)
	for slot := range seq {
		items = append(items, slotItem{
			StartTime: slot.Start.UTC().Format(time.RFC3339),
			EndTime:   slot.End().UTC().Format(time.RFC3339),
		})
		if len(items) >= limit {
			break
		}
	}
	if err := r.Context().Err(); err != nil {
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": items})
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	if req.DurationMinutes < 0 {
		http.Error(w, "duration_minutes must not be negative", http.StatusBadRequest)
		return
	}

	appt, err := h.svc.Book(r.Context(), booking.Request{
		StaffID:   req.StaffID,
		ClientID:  req.ClientID,
		ServiceID: req.ServiceID,
		Start:     start,
		Duration:  time.Duration(req.DurationMinutes) * time.Minute,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItem(appt))
}

func (h *BookingHandler) CreateEarliest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req earliestBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	var notBefore time.Time
	if raw := strings.TrimSpace(req.NotBefore); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid not_before", http.StatusBadRequest)
			return
		}
		notBefore = parsed
	}

	appt, err := booking.BookEarliest(r.Context(), h.svc, booking.EarliestRequest{
		StaffID:    req.StaffID,
		ClientID:   req.ClientID,
		ServiceID:  req.ServiceID,
		NotBefore:  notBefore,
		SearchDays: req.SearchDays,
	}, h.retry)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItem(appt))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if clientID == "" {
		http.Error(w, "client_id is required", http.StatusBadRequest)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), booking.DefaultListLimit, booking.MaxListLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	appts, err := h.svc.ListForClient(r.Context(), clientID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toItem(appt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	if id == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}
	appt, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAppointmentID(w, r)
	if !ok {
		return
	}
	appt, err := h.svc.Cancel(r.Context(), req.AppointmentID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAppointmentID(w, r)
	if !ok {
		return
	}
	appt, err := h.svc.Confirm(r.Context(), req.AppointmentID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

func (h *BookingHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, strings.TrimSpace(req.From))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, strings.TrimSpace(req.To))
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}

	id, err := h.waitlist.Enqueue(r.Context(), waitlist.EnqueueRequest{
		ClientID:  req.ClientID,
		StaffID:   req.StaffID,
		ServiceID: req.ServiceID,
		From:      from,
		To:        to,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"entry_id": id})
}

func (h *BookingHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req waitlistIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.EntryID) == "" {
		http.Error(w, "entry_id is required", http.StatusBadRequest)
		return
	}
	if err := h.waitlist.Withdraw(r.Context(), req.EntryID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeAppointmentID(w http.ResponseWriter, r *http.Request) (appointmentIDRequest, bool) {
	var req appointmentIDRequest
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return req, false
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// writeError maps the engine's error taxonomy onto HTTP statuses. Storage details stay in the log.
func (h *BookingHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrInvalidRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperr.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, apperr.ErrSlotUnavailable), errors.Is(err, apperr.ErrAlreadyCancelled):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, apperr.ErrStorage):
		h.logger.Error("storage failure", "err", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Error("unexpected error", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func parseLimit(raw string, fallback, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}

func toItem(appt model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID:   appt.ID,
		StaffID:         appt.StaffID,
		ClientID:        appt.ClientID,
		ServiceID:       appt.ServiceID,
		StartTime:       appt.Start.UTC().Format(time.RFC3339),
		EndTime:         appt.End().UTC().Format(time.RFC3339),
		Status:          string(appt.Status),
		WaitlistEntryID: appt.WaitlistEntryID,
		CancelReason:    appt.CancelReason,
	}
	if appt.CancelledAt != nil {
		item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	if !appt.CreatedAt.IsZero() {
		item.CreatedAt = appt.CreatedAt.UTC().Format(time.RFC3339)
	}
	return item
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
