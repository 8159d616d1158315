package model

// Snapshot is the three-slot summary shown on the viewing-room screen: the
// booking running at the reference instant plus the next two of the day.
// Any slot may be nil.
type Snapshot struct {
	Current *Booking
	Next1   *Booking
	Next2   *Booking
}
