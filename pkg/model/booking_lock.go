package model

import "time"

// BookingLock is an advisory lock over a requested time slot, held only while
// the create transaction runs. A TTL index on ExpiresAt reaps locks left
// behind by crashed requests.
type BookingLock struct {
	ID        string    `bson:"_id" json:"id"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
