// Package snapshot derives the display summary for the viewing-room screen
// from a time-ordered booking list.
package snapshot

import "roomview/pkg/model"

// Project fills the three display slots from an already time-ordered list of
// at most three bookings: the first booking whose closed interval contains
// now becomes Current, the rest fill Next1 then Next2 in order. A booking
// taken as Current is never also a Next slot. Pure and single-pass.
func Project(bookings []*model.Booking, now int64) model.Snapshot {
	var snap model.Snapshot

	for _, b := range bookings {
		switch {
		case snap.Current == nil && b.StartTime <= now && now <= b.EndTime:
			snap.Current = b
		case snap.Next1 == nil:
			snap.Next1 = b
		case snap.Next2 == nil:
			snap.Next2 = b
		}
	}

	return snap
}
