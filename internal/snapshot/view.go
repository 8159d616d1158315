package snapshot

import (
	"time"

	"roomview/pkg/model"
)

// ViewEntry is one display slot as pushed to the screen.
type ViewEntry struct {
	Time        string `json:"time"`
	Description string `json:"description"`
}

// ViewDocument is the flat document display clients receive every interval.
// Slots are null when absent.
type ViewDocument struct {
	CurrentBooking      *ViewEntry `json:"current_booking"`
	FirstComingBooking  *ViewEntry `json:"first_coming_booking"`
	SecondComingBooking *ViewEntry `json:"second_coming_booking"`
}

// RenderView formats a snapshot for display in the given timezone. The stored
// end second is inclusive, so the end is rendered from end+1: a booking
// stored as [10:00:00, 10:59:59] reads "10:00 - 11:00".
func RenderView(snap model.Snapshot, loc *time.Location) *ViewDocument {
	return &ViewDocument{
		CurrentBooking:      renderEntry(snap.Current, loc),
		FirstComingBooking:  renderEntry(snap.Next1, loc),
		SecondComingBooking: renderEntry(snap.Next2, loc),
	}
}

func renderEntry(b *model.Booking, loc *time.Location) *ViewEntry {
	if b == nil {
		return nil
	}

	start := time.Unix(b.StartTime, 0).In(loc).Format("15:04")
	end := time.Unix(b.EndTime+1, 0).In(loc).Format("15:04")

	return &ViewEntry{
		Time:        start + " - " + end,
		Description: b.Description,
	}
}
