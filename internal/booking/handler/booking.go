package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"roomview/internal/booking/service"
	apperrors "roomview/pkg/errors"
	httputil "roomview/pkg/http"
	"roomview/pkg/logger"
	"roomview/pkg/model"

	"github.com/julienschmidt/httprouter"
)

// comingWeekDays is the default span of the range listing when the caller
// supplies no bounds.
const comingWeekDays = 7

type BookingHandler struct {
	service service.BookingService
	loc     *time.Location
	log     *logger.Logger
}

func NewBookingHandler(service service.BookingService, loc *time.Location, log *logger.Logger) *BookingHandler {
	return &BookingHandler{
		service: service,
		loc:     loc,
		log:     log,
	}
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req model.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Create", apperrors.InvalidInput("Invalid request body"))
		return
	}

	booking, err := h.service.Create(r.Context(), &req)
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}

	if err := httputil.WriteCreated(w, booking); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "error", err)
	}
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps.ByName("id"))
	if err != nil {
		h.writeError(w, "Cancel", err)
		return
	}

	if err := h.service.Cancel(r.Context(), id); err != nil {
		h.writeError(w, "Cancel", err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *BookingHandler) Extend(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps.ByName("id"))
	if err != nil {
		h.writeError(w, "Extend", err)
		return
	}

	var req model.ExtendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Extend", apperrors.InvalidInput("Invalid request body"))
		return
	}

	booking, err := h.service.Extend(r.Context(), id, &req)
	if err != nil {
		h.writeError(w, "Extend", err)
		return
	}

	if err := httputil.WriteSuccess(w, booking); err != nil {
		h.log.Error("failed to write success response", "handler", "Extend", "error", err)
	}
}

func (h *BookingHandler) ListMine(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, "ListMine", apperrors.InvalidInput("'user_id' query parameter is required"))
		return
	}

	bookings, err := h.service.ListUserFuture(r.Context(), userID, time.Now().Unix())
	if err != nil {
		h.writeError(w, "ListMine", err)
		return
	}

	if err := httputil.WriteSuccess(w, bookings); err != nil {
		h.log.Error("failed to write success response", "handler", "ListMine", "error", err)
	}
}

// ListRange lists bookings whose start falls inside [from, to]. Without
// bounds it covers the coming week, from the start of today in the display
// timezone.
func (h *BookingHandler) ListRange(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query()

	from, to, err := h.rangeBounds(query.Get("from"), query.Get("to"))
	if err != nil {
		h.writeError(w, "ListRange", err)
		return
	}

	bookings, err := h.service.ListRange(r.Context(), from, to)
	if err != nil {
		h.writeError(w, "ListRange", err)
		return
	}

	if err := httputil.WriteSuccess(w, bookings); err != nil {
		h.log.Error("failed to write success response", "handler", "ListRange", "error", err)
	}
}

func (h *BookingHandler) rangeBounds(fromStr, toStr string) (int64, int64, error) {
	now := time.Now().In(h.loc)
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, h.loc)

	from := todayStart.Unix()
	to := todayStart.AddDate(0, 0, comingWeekDays).Unix()

	if fromStr != "" {
		v, err := strconv.ParseInt(fromStr, 10, 64)
		if err != nil {
			return 0, 0, apperrors.InvalidInput("'from' must be epoch seconds")
		}
		from = v
	}
	if toStr != "" {
		v, err := strconv.ParseInt(toStr, 10, 64)
		if err != nil {
			return 0, 0, apperrors.InvalidInput("'to' must be epoch seconds")
		}
		to = v
	}

	return from, to, nil
}

func (h *BookingHandler) writeError(w http.ResponseWriter, handlerName string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handlerName, "error", writeErr)
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.InvalidInput("Booking ID must be a positive integer")
	}
	return id, nil
}

func (h *BookingHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/bookings", h.Create)
	router.GET("/api/v1/bookings", h.ListRange)
	router.GET("/api/v1/bookings/mine", h.ListMine)
	router.PATCH("/api/v1/bookings/id/:id/extend", h.Extend)
	router.DELETE("/api/v1/bookings/id/:id", h.Cancel)
}
