package model

// Booking is a single reservation of the viewing room. StartTime and EndTime
// are inclusive UTC epoch seconds. EndTime is always stored as
// start + duration*60 - 1, so a booking ending at second S and one starting
// at S+1 are adjacent rather than overlapping.
type Booking struct {
	ID          int64  `json:"id" bson:"_id"`
	StartTime   int64  `json:"start_time" bson:"start_time"`
	EndTime     int64  `json:"end_time" bson:"end_time"`
	Description string `json:"description" bson:"description"`
	UserID      string `json:"user_id" bson:"user_id"`
}

type BookingRequest struct {
	StartTime       int64  `json:"start_time" validate:"required,gt=0"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,min=1,max=1440"`
	Description     string `json:"description" validate:"required,min=1,max=200"`
	UserID          string `json:"user_id" validate:"required,min=1,max=64"`
}

type ExtendRequest struct {
	ExtraMinutes int `json:"extra_minutes" validate:"required,min=1,max=1440"`
}
