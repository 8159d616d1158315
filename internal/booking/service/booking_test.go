package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	bookingerrors "roomview/internal/booking/errors"
	"roomview/internal/booking/validator"
	"roomview/pkg/config"
	mongotx "roomview/pkg/db/mongo"
	apperrors "roomview/pkg/errors"
	"roomview/pkg/logger"
	"roomview/pkg/model"

	"go.mongodb.org/mongo-driver/mongo"
)

// fakeRepository keeps bookings in memory with the same overlap and ordering
// semantics as the Mongo store. Safe for concurrent use so the race tests can
// exercise the engine's locking.
type fakeRepository struct {
	mu       sync.Mutex
	lastID   int64
	bookings map[int64]*model.Booking
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{bookings: make(map[int64]*model.Booking)}
}

func (f *fakeRepository) Insert(_ context.Context, booking *model.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastID++
	booking.ID = f.lastID
	clone := *booking
	f.bookings[booking.ID] = &clone
	return nil
}

func (f *fakeRepository) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.bookings, id)
	return nil
}

func (f *fakeRepository) UpdateEnd(_ context.Context, id int64, newEnd int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.bookings[id]
	if !ok {
		return bookingerrors.ErrNotFound
	}
	b.EndTime = newEnd
	return nil
}

func (f *fakeRepository) FindByID(_ context.Context, id int64) (*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.bookings[id]
	if !ok {
		return nil, bookingerrors.ErrNotFound
	}
	clone := *b
	return &clone, nil
}

func (f *fakeRepository) FindOverlapping(_ context.Context, start, end int64, excludeID *int64) (*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, b := range f.bookings {
		if excludeID != nil && b.ID == *excludeID {
			continue
		}
		if b.StartTime <= end && b.EndTime >= start {
			clone := *b
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeRepository) FutureByUser(_ context.Context, userID string, now int64) ([]*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.Booking
	for _, b := range f.bookings {
		if b.UserID == userID && b.EndTime > now {
			clone := *b
			out = append(out, &clone)
		}
	}
	sortByStart(out)
	return out, nil
}

func (f *fakeRepository) InRange(_ context.Context, from, to int64) ([]*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.Booking
	for _, b := range f.bookings {
		if b.StartTime >= from && b.StartTime <= to {
			clone := *b
			out = append(out, &clone)
		}
	}
	sortByStart(out)
	return out, nil
}

func (f *fakeRepository) ActiveOrUpcoming(_ context.Context, now, dayEnd int64, limit int) ([]*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.Booking
	for _, b := range f.bookings {
		if b.EndTime >= now && b.StartTime <= dayEnd {
			clone := *b
			out = append(out, &clone)
		}
	}
	sortByStart(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepository) snapshot() []*model.Booking {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.Booking
	for _, b := range f.bookings {
		clone := *b
		out = append(out, &clone)
	}
	return out
}

func (f *fakeRepository) EnsureIndexes(_ context.Context) error {
	return nil
}

func (f *fakeRepository) ExecuteTransaction(_ context.Context, fn mongotx.TransactionFunc) error {
	return fn(nil)
}

func sortByStart(bookings []*model.Booking) {
	sort.Slice(bookings, func(i, j int) bool {
		return bookings[i].StartTime < bookings[j].StartTime
	})
}

// fakeLockRepository mirrors the insert-only lock collection: acquiring a held
// id fails with a duplicate key error until it is released.
type fakeLockRepository struct {
	mu         sync.Mutex
	acquireErr error
	held       map[string]bool
}

func newFakeLockRepository() *fakeLockRepository {
	return &fakeLockRepository{held: make(map[string]bool)}
}

func (f *fakeLockRepository) Acquire(_ context.Context, lock *model.BookingLock) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.acquireErr != nil {
		return f.acquireErr
	}
	if f.held[lock.ID] {
		return mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000}}}
	}
	f.held[lock.ID] = true
	return nil
}

func (f *fakeLockRepository) Release(_ context.Context, lockID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.held, lockID)
	return nil
}

func (f *fakeLockRepository) heldCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}

func (f *fakeLockRepository) EnsureIndexes(_ context.Context) error {
	return nil
}

func newTestService(t *testing.T) (*bookingService, *fakeRepository, *fakeLockRepository) {
	t.Helper()

	log := logger.New(logger.Config{
		Level:   logger.ERROR,
		Format:  logger.JSON,
		Service: "test",
	})
	cfg := &config.Config{
		Log:          log,
		Location:     time.UTC,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	repo := newFakeRepository()
	locks := newFakeLockRepository()
	svc := &bookingService{
		repo:      repo,
		lockRepo:  locks,
		validator: validator.NewBookingValidator(log),
		cfg:       cfg,
	}
	return svc, repo, locks
}

func seedBooking(repo *fakeRepository, start, end int64, description, userID string) *model.Booking {
	repo.lastID++
	b := &model.Booking{
		ID:          repo.lastID,
		StartTime:   start,
		EndTime:     end,
		Description: description,
		UserID:      userID,
	}
	repo.bookings[b.ID] = b
	return b
}

func TestCreate_AssignsIDAndComputesEnd(t *testing.T) {
	svc, repo, locks := newTestService(t)

	booking, err := svc.Create(context.Background(), &model.BookingRequest{
		StartTime:       1000,
		DurationMinutes: 60,
		Description:     "movie night",
		UserID:          "U1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if booking.ID != 1 {
		t.Errorf("expected id 1, got %d", booking.ID)
	}
	if want := int64(1000 + 60*60 - 1); booking.EndTime != want {
		t.Errorf("expected end_time %d, got %d", want, booking.EndTime)
	}
	if len(repo.bookings) != 1 {
		t.Errorf("expected 1 stored booking, got %d", len(repo.bookings))
	}
	if locks.heldCount() != 0 {
		t.Errorf("expected room lock to be released, %d still held", locks.heldCount())
	}
}

func TestCreate_RejectsOverlap(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedBooking(repo, 100, 200, "standup", "U1")

	_, err := svc.Create(context.Background(), &model.BookingRequest{
		StartTime:       150,
		DurationMinutes: 2,
		Description:     "sprint review",
		UserID:          "U2",
	})
	if err == nil {
		t.Fatal("expected conflict error, got nil")
	}

	appErr := apperrors.AsAppError(err)
	if appErr.Code != apperrors.CodeConflict {
		t.Errorf("expected code %s, got %s", apperrors.CodeConflict, appErr.Code)
	}
	if !strings.Contains(appErr.Message, "standup") {
		t.Errorf("expected conflict message to name the existing booking, got %q", appErr.Message)
	}
	if len(repo.bookings) != 1 {
		t.Errorf("expected store unchanged with 1 booking, got %d", len(repo.bookings))
	}
}

func TestCreate_AdjacentSlotsDoNotConflict(t *testing.T) {
	svc, repo, _ := newTestService(t)

	first, err := svc.Create(context.Background(), &model.BookingRequest{
		StartTime:       100,
		DurationMinutes: 1,
		Description:     "first",
		UserID:          "U1",
	})
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if first.EndTime != 159 {
		t.Fatalf("expected first booking to end at 159, got %d", first.EndTime)
	}

	// Starts the second after the first ends: adjacent, not overlapping.
	if _, err := svc.Create(context.Background(), &model.BookingRequest{
		StartTime:       160,
		DurationMinutes: 1,
		Description:     "second",
		UserID:          "U2",
	}); err != nil {
		t.Fatalf("adjacent create failed: %v", err)
	}

	if len(repo.bookings) != 2 {
		t.Errorf("expected 2 bookings, got %d", len(repo.bookings))
	}
}

func TestCreate_StoreNeverHoldsIntersectingIntervals(t *testing.T) {
	svc, repo, _ := newTestService(t)

	requests := []*model.BookingRequest{
		{StartTime: 0, DurationMinutes: 5, Description: "a", UserID: "U1"},
		{StartTime: 120, DurationMinutes: 5, Description: "b", UserID: "U2"},
		{StartTime: 300, DurationMinutes: 5, Description: "c", UserID: "U3"},
		{StartTime: 600, DurationMinutes: 5, Description: "d", UserID: "U1"},
		{StartTime: 899, DurationMinutes: 1, Description: "e", UserID: "U2"},
		{StartTime: 900, DurationMinutes: 1, Description: "f", UserID: "U3"},
	}
	for _, req := range requests {
		_, _ = svc.Create(context.Background(), req)
	}

	var all []*model.Booking
	for _, b := range repo.bookings {
		all = append(all, b)
	}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			a, b := all[i], all[j]
			if a.StartTime <= b.EndTime && a.EndTime >= b.StartTime {
				t.Errorf("bookings %d and %d intersect: [%d,%d] vs [%d,%d]",
					a.ID, b.ID, a.StartTime, a.EndTime, b.StartTime, b.EndTime)
			}
		}
	}
}

func TestCreate_RoomLockNeverReleasedTimesOut(t *testing.T) {
	svc, repo, locks := newTestService(t)
	locks.acquireErr = mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000}}}

	_, err := svc.Create(context.Background(), &model.BookingRequest{
		StartTime:       1000,
		DurationMinutes: 30,
		Description:     "movie night",
		UserID:          "U1",
	})
	if err == nil {
		t.Fatal("expected conflict error, got nil")
	}
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeConflict {
		t.Errorf("expected code %s, got %s", apperrors.CodeConflict, appErr.Code)
	}
	if len(repo.bookings) != 0 {
		t.Errorf("expected no write, got %d bookings", len(repo.bookings))
	}
}

func TestCreate_ConcurrentOverlappingCreatesOneWinner(t *testing.T) {
	svc, repo, _ := newTestService(t)

	// Different start seconds, intersecting intervals: [100,279] and [200,379].
	requests := []*model.BookingRequest{
		{StartTime: 100, DurationMinutes: 3, Description: "first", UserID: "U1"},
		{StartTime: 200, DurationMinutes: 3, Description: "second", UserID: "U2"},
	}

	errs := make([]error, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req *model.BookingRequest) {
			defer wg.Done()
			_, errs[i] = svc.Create(context.Background(), req)
		}(i, req)
	}
	wg.Wait()

	var conflicts int
	for _, err := range errs {
		if err == nil {
			continue
		}
		if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeConflict {
			t.Fatalf("expected conflict, got %v", err)
		}
		conflicts++
	}
	if conflicts != 1 {
		t.Errorf("expected exactly 1 rejected create, got %d", conflicts)
	}
	if stored := repo.snapshot(); len(stored) != 1 {
		t.Errorf("expected exactly 1 stored booking, got %d", len(stored))
	}
}

func TestExtend_RacingCreateOneWinner(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedBooking(repo, 0, 99, "first", "U1")

	// The extension to [0,219] and the create of [200,259] intersect; the
	// room lock serializes them and the loser sees the winner's write.
	var extendErr, createErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, extendErr = svc.Extend(context.Background(), 1, &model.ExtendRequest{ExtraMinutes: 2})
	}()
	go func() {
		defer wg.Done()
		_, createErr = svc.Create(context.Background(), &model.BookingRequest{
			StartTime:       200,
			DurationMinutes: 1,
			Description:     "second",
			UserID:          "U2",
		})
	}()
	wg.Wait()

	if (extendErr == nil) == (createErr == nil) {
		t.Fatalf("expected exactly one winner, extend err %v, create err %v", extendErr, createErr)
	}
	loserErr := extendErr
	if loserErr == nil {
		loserErr = createErr
	}
	if appErr := apperrors.AsAppError(loserErr); appErr.Code != apperrors.CodeConflict {
		t.Errorf("expected the loser to see a conflict, got %v", loserErr)
	}

	stored := repo.snapshot()
	for i := 0; i < len(stored); i++ {
		for j := i + 1; j < len(stored); j++ {
			a, b := stored[i], stored[j]
			if a.StartTime <= b.EndTime && a.EndTime >= b.StartTime {
				t.Errorf("bookings %d and %d intersect: [%d,%d] vs [%d,%d]",
					a.ID, b.ID, a.StartTime, a.EndTime, b.StartTime, b.EndTime)
			}
		}
	}
}

func TestCreate_SanitizesDescription(t *testing.T) {
	svc, _, _ := newTestService(t)

	booking, err := svc.Create(context.Background(), &model.BookingRequest{
		StartTime:       1000,
		DurationMinutes: 30,
		Description:     "  movie\t\tnight \n",
		UserID:          "U1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if booking.Description != "movie night" {
		t.Errorf("expected sanitized description %q, got %q", "movie night", booking.Description)
	}
}

func TestCreate_RejectsInvalidInput(t *testing.T) {
	svc, repo, _ := newTestService(t)

	tests := []struct {
		name string
		req  *model.BookingRequest
	}{
		{"zero duration", &model.BookingRequest{StartTime: 1000, DurationMinutes: 0, Description: "x", UserID: "U1"}},
		{"negative duration", &model.BookingRequest{StartTime: 1000, DurationMinutes: -5, Description: "x", UserID: "U1"}},
		{"blank description", &model.BookingRequest{StartTime: 1000, DurationMinutes: 30, Description: "   ", UserID: "U1"}},
		{"missing user", &model.BookingRequest{StartTime: 1000, DurationMinutes: 30, Description: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tt.req); err == nil {
				t.Fatal("expected validation error, got nil")
			} else if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeValidation {
				t.Errorf("expected code %s, got %s", apperrors.CodeValidation, appErr.Code)
			}
		})
	}
	if len(repo.bookings) != 0 {
		t.Errorf("expected no writes, got %d bookings", len(repo.bookings))
	}
}

func TestCancel_IsIdempotent(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedBooking(repo, 100, 159, "movie night", "U1")

	if err := svc.Cancel(context.Background(), 1); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if len(repo.bookings) != 0 {
		t.Fatalf("expected empty store, got %d bookings", len(repo.bookings))
	}

	// Cancelling again, and cancelling an id that never existed, both succeed.
	if err := svc.Cancel(context.Background(), 1); err != nil {
		t.Errorf("repeat cancel returned error: %v", err)
	}
	if err := svc.Cancel(context.Background(), 42); err != nil {
		t.Errorf("cancel of unknown id returned error: %v", err)
	}
}

func TestExtend_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Extend(context.Background(), 42, &model.ExtendRequest{ExtraMinutes: 15})
	if err == nil {
		t.Fatal("expected not found error, got nil")
	}
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeNotFound {
		t.Errorf("expected code %s, got %s", apperrors.CodeNotFound, appErr.Code)
	}
}

func TestExtend_RespectsOtherBookings(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedBooking(repo, 0, 99, "first", "U1")
	seedBooking(repo, 200, 299, "second", "U2")

	// 2 extra minutes would push the end to 219, into the second booking.
	_, err := svc.Extend(context.Background(), 1, &model.ExtendRequest{ExtraMinutes: 2})
	if err == nil {
		t.Fatal("expected conflict error, got nil")
	}
	appErr := apperrors.AsAppError(err)
	if appErr.Code != apperrors.CodeConflict {
		t.Errorf("expected code %s, got %s", apperrors.CodeConflict, appErr.Code)
	}
	if !strings.Contains(appErr.Message, "second") {
		t.Errorf("expected conflict message to name the blocking booking, got %q", appErr.Message)
	}
	if repo.bookings[1].EndTime != 99 {
		t.Errorf("expected end_time unchanged at 99, got %d", repo.bookings[1].EndTime)
	}

	// One extra minute stops at 159, clear of the second booking.
	booking, err := svc.Extend(context.Background(), 1, &model.ExtendRequest{ExtraMinutes: 1})
	if err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	if booking.EndTime != 159 {
		t.Errorf("expected end_time 159, got %d", booking.EndTime)
	}
	if booking.ID != 1 {
		t.Errorf("expected id to survive extension, got %d", booking.ID)
	}
	if repo.bookings[1].EndTime != 159 {
		t.Errorf("expected stored end_time 159, got %d", repo.bookings[1].EndTime)
	}
}

func TestListUserFuture_FiltersByEndTime(t *testing.T) {
	svc, repo, _ := newTestService(t)
	now := int64(1000)
	seedBooking(repo, 0, now, "already over", "U1")
	seedBooking(repo, 500, now+1, "still running", "U1")
	seedBooking(repo, 2000, 2599, "later", "U1")
	seedBooking(repo, 3000, 3599, "someone else", "U2")

	bookings, err := svc.ListUserFuture(context.Background(), "U1", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(bookings) != 2 {
		t.Fatalf("expected 2 bookings, got %d", len(bookings))
	}
	if bookings[0].Description != "still running" || bookings[1].Description != "later" {
		t.Errorf("unexpected bookings or ordering: %q, %q", bookings[0].Description, bookings[1].Description)
	}
}

func TestListCurrentAndNextTwo_CapsAtThreeWithinDay(t *testing.T) {
	svc, repo, _ := newTestService(t)

	// 2024-01-15 10:00:00 UTC; day ends 23:59:59 the same day.
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC).Unix()
	seedBooking(repo, now-600, now-300, "finished", "U1")
	seedBooking(repo, now-60, now+60, "running", "U1")
	seedBooking(repo, now+3600, now+7199, "next", "U2")
	seedBooking(repo, now+10800, now+14399, "after that", "U3")
	seedBooking(repo, now+14400, now+17999, "fourth today", "U1")
	tomorrow := time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC).Unix()
	seedBooking(repo, tomorrow, tomorrow+3599, "tomorrow", "U2")

	bookings, err := svc.ListCurrentAndNextTwo(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(bookings) != 3 {
		t.Fatalf("expected 3 bookings, got %d", len(bookings))
	}
	want := []string{"running", "next", "after that"}
	for i, desc := range want {
		if bookings[i].Description != desc {
			t.Errorf("position %d: expected %q, got %q", i, desc, bookings[i].Description)
		}
	}
}

func TestListRange_RejectsInvertedRange(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ListRange(context.Background(), 1000, 500)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeInvalidInput {
		t.Errorf("expected code %s, got %s", apperrors.CodeInvalidInput, appErr.Code)
	}
}
