package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	bookingerrors "roomview/internal/booking/errors"
	"roomview/internal/booking/repository"
	"roomview/internal/booking/validator"
	"roomview/pkg/config"
	apperrors "roomview/pkg/errors"
	"roomview/pkg/kafka"
	"roomview/pkg/model"
	"roomview/pkg/sanitizer"

	"go.mongodb.org/mongo-driver/mongo"
)

// CurrentAndUpcomingLimit caps the display query at the running booking plus
// the next two of the day.
const CurrentAndUpcomingLimit = 3

// All mutating calls serialize through one room-wide advisory lock. The
// overlap check inside the transaction reads a snapshot and takes no
// predicate locks, so two concurrent writers for intersecting intervals with
// different start times would otherwise both see a free slot and both commit.
// One room, one lock closes that window.
const (
	roomLockID       = "room_lock"
	roomLockTTL      = 10 * time.Second
	roomLockAttempts = 20
	roomLockDelay    = 50 * time.Millisecond
)

// Lifecycle event types published to Kafka.
const (
	EventBookingCreated   = "booking.created"
	EventBookingCancelled = "booking.cancelled"
	EventBookingExtended  = "booking.extended"
)

// BookingService is the booking engine for the single viewing room: interval
// allocation under concurrent requests, conflict-checked extension, idempotent
// cancellation, and the read views the chat layer and the display screen
// consume. Times are UTC epoch seconds throughout.
type BookingService interface {
	Create(ctx context.Context, req *model.BookingRequest) (*model.Booking, error)
	Cancel(ctx context.Context, id int64) error
	Extend(ctx context.Context, id int64, req *model.ExtendRequest) (*model.Booking, error)
	ListUserFuture(ctx context.Context, userID string, now int64) ([]*model.Booking, error)
	ListRange(ctx context.Context, from, to int64) ([]*model.Booking, error)
	ListCurrentAndNextTwo(ctx context.Context, now int64) ([]*model.Booking, error)
}

type bookingEvent struct {
	Event       string `json:"event"`
	ID          int64  `json:"id"`
	StartTime   int64  `json:"start_time,omitempty"`
	EndTime     int64  `json:"end_time,omitempty"`
	Description string `json:"description,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

type bookingService struct {
	repo      repository.BookingRepository
	lockRepo  repository.BookingLockRepository
	validator *validator.BookingValidator
	events    *kafka.Producer
	cfg       *config.Config
}

// NewBookingService wires the engine. events may be nil when no Kafka brokers
// are configured.
func NewBookingService(
	repo repository.BookingRepository,
	lockRepo repository.BookingLockRepository,
	validator *validator.BookingValidator,
	events *kafka.Producer,
	cfg *config.Config,
) BookingService {
	return &bookingService{
		repo:      repo,
		lockRepo:  lockRepo,
		validator: validator,
		events:    events,
		cfg:       cfg,
	}
}

func (s *bookingService) Create(ctx context.Context, req *model.BookingRequest) (*model.Booking, error) {
	req.Description = sanitizer.Description(req.Description)
	if err := s.validator.ValidateCreate(req); err != nil {
		s.cfg.Log.Warn("Booking validation failed", "error", err)
		return nil, apperrors.Validation("Invalid booking input", map[string]any{"error": err.Error()})
	}

	booking := &model.Booking{
		StartTime:   req.StartTime,
		EndTime:     endOfSlot(req.StartTime, req.DurationMinutes),
		Description: req.Description,
		UserID:      req.UserID,
	}

	release, err := s.acquireRoomLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.repo.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		if err := s.validator.CanCreate(sessCtx, s.repo, booking.StartTime, booking.EndTime); err != nil {
			return s.conflictError(err, "create")
		}
		if err := s.repo.Insert(sessCtx, booking); err != nil {
			return apperrors.Internal("Failed to create booking", err)
		}
		return nil
	})
	if err != nil {
		s.cfg.Log.Error("Failed to create booking", "start_time", booking.StartTime, "error", err)
		return nil, err
	}

	s.cfg.Log.Info("Booking created",
		"id", booking.ID,
		"start_time", booking.StartTime,
		"end_time", booking.EndTime,
		"user_id", booking.UserID,
	)
	s.publish(ctx, EventBookingCreated, booking)
	return booking, nil
}

// Cancel removes the booking entirely; no tombstone is kept. Cancelling an id
// that no longer exists succeeds, matching the user-facing "already removed"
// tolerance.
func (s *bookingService) Cancel(ctx context.Context, id int64) error {
	if id <= 0 {
		return apperrors.InvalidInput("Booking ID must be positive")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		s.cfg.Log.Error("Failed to cancel booking", "id", id, "error", err)
		return apperrors.Internal("Failed to cancel booking", err)
	}

	s.cfg.Log.Info("Booking cancelled", "id", id)
	s.publish(ctx, EventBookingCancelled, &model.Booking{ID: id})
	return nil
}

func (s *bookingService) Extend(ctx context.Context, id int64, req *model.ExtendRequest) (*model.Booking, error) {
	if id <= 0 {
		return nil, apperrors.InvalidInput("Booking ID must be positive")
	}
	if err := s.validator.ValidateExtend(req); err != nil {
		s.cfg.Log.Warn("Extension validation failed", "id", id, "error", err)
		return nil, apperrors.Validation("Invalid extension input", map[string]any{"error": err.Error()})
	}

	release, err := s.acquireRoomLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var booking *model.Booking
	err = s.repo.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		var err error
		booking, err = s.repo.FindByID(sessCtx, id)
		if err != nil {
			if errors.Is(err, bookingerrors.ErrNotFound) {
				return apperrors.NotFoundWithID("Booking", id)
			}
			return apperrors.Internal("Failed to look up booking", err)
		}

		newEnd := booking.EndTime + int64(req.ExtraMinutes)*60
		if err := s.validator.CanExtend(sessCtx, s.repo, booking, newEnd); err != nil {
			return s.conflictError(err, "extend")
		}

		if err := s.repo.UpdateEnd(sessCtx, id, newEnd); err != nil {
			if errors.Is(err, bookingerrors.ErrNotFound) {
				return apperrors.NotFoundWithID("Booking", id)
			}
			return apperrors.Internal("Failed to extend booking", err)
		}
		booking.EndTime = newEnd
		return nil
	})
	if err != nil {
		s.cfg.Log.Error("Failed to extend booking", "id", id, "error", err)
		return nil, err
	}

	s.cfg.Log.Info("Booking extended", "id", id, "new_end_time", booking.EndTime)
	s.publish(ctx, EventBookingExtended, booking)
	return booking, nil
}

func (s *bookingService) ListUserFuture(ctx context.Context, userID string, now int64) ([]*model.Booking, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("User ID cannot be empty")
	}

	bookings, err := s.repo.FutureByUser(ctx, userID, now)
	if err != nil {
		s.cfg.Log.Error("Failed to list user bookings", "user_id", userID, "error", err)
		return nil, apperrors.Internal("Failed to retrieve bookings", err)
	}
	return bookings, nil
}

func (s *bookingService) ListRange(ctx context.Context, from, to int64) ([]*model.Booking, error) {
	if to < from {
		return nil, apperrors.InvalidInput("Range end must not precede range start")
	}

	bookings, err := s.repo.InRange(ctx, from, to)
	if err != nil {
		s.cfg.Log.Error("Failed to list bookings in range", "from", from, "to", to, "error", err)
		return nil, apperrors.Internal("Failed to retrieve bookings", err)
	}
	return bookings, nil
}

// ListCurrentAndNextTwo feeds the display projector: bookings still running
// at now or starting before the end of now's calendar day, in start order,
// at most three.
func (s *bookingService) ListCurrentAndNextTwo(ctx context.Context, now int64) ([]*model.Booking, error) {
	bookings, err := s.repo.ActiveOrUpcoming(ctx, now, s.endOfDay(now), CurrentAndUpcomingLimit)
	if err != nil {
		s.cfg.Log.Error("Failed to list current bookings", "error", err)
		return nil, apperrors.Internal("Failed to retrieve bookings", err)
	}
	return bookings, nil
}

// --- Helpers ---

// endOfSlot computes the inclusive end second. The -1 keeps minute-aligned
// back-to-back bookings adjacent rather than overlapping.
func endOfSlot(start int64, durationMinutes int) int64 {
	return start + int64(durationMinutes)*60 - 1
}

func (s *bookingService) endOfDay(now int64) int64 {
	t := time.Unix(now, 0).In(s.cfg.Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, s.cfg.Location).Unix()
}

func (s *bookingService) conflictError(err error, op string) error {
	var conflict *validator.ErrConflict
	if errors.As(err, &conflict) {
		if op == "extend" {
			return apperrors.Conflict(fmt.Sprintf(
				"Cannot extend booking as it overlaps with %q", conflict.Existing.Description))
		}
		return apperrors.Conflict(fmt.Sprintf(
			"A booking called %q already exists during that time slot", conflict.Existing.Description))
	}
	return apperrors.Internal("Failed to check existing bookings", err)
}

// acquireRoomLock takes the room-wide mutation lock, waiting briefly when a
// concurrent caller holds it. Callers run the release func once the
// transaction has committed or aborted.
func (s *bookingService) acquireRoomLock(ctx context.Context) (func(), error) {
	for attempt := 0; attempt < roomLockAttempts; attempt++ {
		lock := &model.BookingLock{
			ID:        roomLockID,
			ExpiresAt: time.Now().Add(roomLockTTL),
		}

		err := s.lockRepo.Acquire(ctx, lock)
		if err == nil {
			return func() {
				if releaseErr := s.lockRepo.Release(ctx, roomLockID); releaseErr != nil {
					s.cfg.Log.Warn("Failed to release room lock", "error", releaseErr)
				}
			}, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return nil, apperrors.Internal("Failed to acquire room lock", err)
		}

		select {
		case <-time.After(roomLockDelay):
		case <-ctx.Done():
			return nil, apperrors.Internal("Failed to acquire room lock", ctx.Err())
		}
	}

	return nil, apperrors.Conflict("The room is currently being booked by another request. Please try again.")
}

func (s *bookingService) publish(ctx context.Context, eventType string, booking *model.Booking) {
	if s.events == nil {
		return
	}

	event := bookingEvent{
		Event:       eventType,
		ID:          booking.ID,
		StartTime:   booking.StartTime,
		EndTime:     booking.EndTime,
		Description: booking.Description,
		UserID:      booking.UserID,
	}
	if err := s.events.Publish(ctx, eventType, strconv.FormatInt(booking.ID, 10), event); err != nil {
		s.cfg.Log.Warn("Failed to publish booking event", "event", eventType, "id", booking.ID, "error", err)
	}
}
