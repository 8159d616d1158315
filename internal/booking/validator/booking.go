package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"roomview/pkg/logger"
	"roomview/pkg/model"

	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

// OverlapFinder is the slice of the interval store the conflict checks need.
type OverlapFinder interface {
	FindOverlapping(ctx context.Context, start, end int64, excludeID *int64) (*model.Booking, error)
}

// ErrConflict wraps the existing booking a candidate interval collides with.
type ErrConflict struct {
	Existing *model.Booking
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("interval overlaps booking %d (%q)", e.Existing.ID, e.Existing.Description)
}

type BookingValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewBookingValidator(log *logger.Logger) *BookingValidator {
	return &BookingValidator{
		validate: validator.New(),
		logger:   log,
	}
}

func (v *BookingValidator) ValidateCreate(req *model.BookingRequest) error {
	return v.validateStruct(req)
}

func (v *BookingValidator) ValidateExtend(req *model.ExtendRequest) error {
	return v.validateStruct(req)
}

// CanCreate admits a candidate interval only when no stored booking
// intersects it. Run inside the engine's transaction so the answer holds
// until the insert commits.
func (v *BookingValidator) CanCreate(ctx context.Context, store OverlapFinder, start, end int64) error {
	existing, err := store.FindOverlapping(ctx, start, end, nil)
	if err != nil {
		return err
	}
	if existing != nil {
		return &ErrConflict{Existing: existing}
	}
	return nil
}

// CanExtend admits growing a booking's end time only when the widened
// interval collides with nothing but the booking itself. newEnd is always
// derived by adding a positive duration to the current end, which is >= the
// start, so no separate newEnd >= start check is needed.
func (v *BookingValidator) CanExtend(ctx context.Context, store OverlapFinder, booking *model.Booking, newEnd int64) error {
	existing, err := store.FindOverlapping(ctx, booking.StartTime, newEnd, &booking.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return &ErrConflict{Existing: existing}
	}
	return nil
}

func (v *BookingValidator) validateStruct(s any) error {
	if err := v.validate.Struct(s); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return v.translateValidationErrors(validationErrs)
		}
		return err
	}
	return nil
}

func (v *BookingValidator) translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
		case "gt":
			message = fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}
