package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	bookingerrors "roomview/internal/booking/errors"
	"roomview/pkg/config"
	mongotx "roomview/pkg/db/mongo"
	"roomview/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName     = "bookings"
	countersCollection = "counters"
	bookingSequence    = "booking_id"
)

// BookingRepository is the interval store: one row per reserved slot of the
// viewing room. Insert never checks overlap itself; that is the engine's job
// through the conflict validator, inside ExecuteTransaction.
type BookingRepository interface {
	Insert(ctx context.Context, booking *model.Booking) error
	Delete(ctx context.Context, id int64) error
	UpdateEnd(ctx context.Context, id int64, newEnd int64) error
	FindByID(ctx context.Context, id int64) (*model.Booking, error)
	FindOverlapping(ctx context.Context, start, end int64, excludeID *int64) (*model.Booking, error)
	FutureByUser(ctx context.Context, userID string, now int64) ([]*model.Booking, error)
	InRange(ctx context.Context, from, to int64) ([]*model.Booking, error)
	ActiveOrUpcoming(ctx context.Context, now, dayEnd int64, limit int) ([]*model.Booking, error)
	EnsureIndexes(ctx context.Context) error
	ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error
}

type mongoBookingRepository struct {
	cfg        *config.Config
	db         *mongo.Database
	collection *mongo.Collection
	counters   *mongo.Collection
	txManager  mongotx.TransactionManager
}

func NewMongoBookingRepository(cfg *config.Config) BookingRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoBookingRepository{
		cfg:        cfg,
		db:         db,
		collection: db.Collection(CollectionName),
		counters:   db.Collection(countersCollection),
		txManager:  mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

// withTimeout wraps the context with a timeout if not already in a transaction.
// Inside a transaction (SessionContext) the original context is returned
// unchanged with a no-op cancel, as wrapping a SessionContext would break
// transaction semantics.
func (r *mongoBookingRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}

	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		if remaining := time.Until(deadline); remaining < timeout {
			return context.WithTimeout(ctx, remaining)
		}
	}

	return context.WithTimeout(ctx, timeout)
}

// nextID atomically increments the booking id sequence. Ids are immutable once
// assigned and survive the booking's extension.
func (r *mongoBookingRepository) nextID(ctx context.Context) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var seq struct {
		Value int64 `bson:"value"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": bookingSequence},
		bson.M{"$inc": bson.M{"value": 1}},
		opts,
	).Decode(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to advance booking id sequence: %w", err)
	}

	return seq.Value, nil
}

func (r *mongoBookingRepository) Insert(ctx context.Context, booking *model.Booking) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	id, err := r.nextID(ctx)
	if err != nil {
		return err
	}
	booking.ID = id

	if _, err := r.collection.InsertOne(ctx, booking); err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

// Delete removes the booking if present. A missing id is not an error:
// cancellation is idempotent.
func (r *mongoBookingRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	return nil
}

func (r *mongoBookingRepository) UpdateEnd(ctx context.Context, id int64, newEnd int64) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"end_time": newEnd}},
	)
	if err != nil {
		return fmt.Errorf("failed to update booking end time: %w", err)
	}

	if result.MatchedCount == 0 {
		return bookingerrors.ErrNotFound
	}
	return nil
}

func (r *mongoBookingRepository) FindByID(ctx context.Context, id int64) (*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var booking model.Booking
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&booking)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, bookingerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find booking: %w", err)
	}

	return &booking, nil
}

// FindOverlapping returns one booking whose closed interval intersects
// [start, end], or nil when the slot is free. Two closed intervals intersect
// iff a.start <= b.end and a.end >= b.start.
func (r *mongoBookingRepository) FindOverlapping(ctx context.Context, start, end int64, excludeID *int64) (*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"start_time": bson.M{"$lte": end},
		"end_time":   bson.M{"$gte": start},
	}
	if excludeID != nil {
		filter["_id"] = bson.M{"$ne": *excludeID}
	}

	var booking model.Booking
	err := r.collection.FindOne(ctx, filter).Decode(&booking)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check for overlapping bookings: %w", err)
	}

	return &booking, nil
}

func (r *mongoBookingRepository) FutureByUser(ctx context.Context, userID string, now int64) ([]*model.Booking, error) {
	filter := bson.M{
		"user_id":  userID,
		"end_time": bson.M{"$gt": now},
	}
	return r.findOrdered(ctx, filter, 0)
}

func (r *mongoBookingRepository) InRange(ctx context.Context, from, to int64) ([]*model.Booking, error) {
	filter := bson.M{
		"start_time": bson.M{"$gte": from, "$lte": to},
	}
	return r.findOrdered(ctx, filter, 0)
}

func (r *mongoBookingRepository) ActiveOrUpcoming(ctx context.Context, now, dayEnd int64, limit int) ([]*model.Booking, error) {
	filter := bson.M{
		"end_time":   bson.M{"$gte": now},
		"start_time": bson.M{"$lte": dayEnd},
	}
	return r.findOrdered(ctx, filter, int64(limit))
}

func (r *mongoBookingRepository) findOrdered(ctx context.Context, filter bson.M, limit int64) ([]*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find bookings: %w", err)
	}
	defer cursor.Close(ctx)

	var bookings []*model.Booking
	if err = cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("failed to decode bookings: %w", err)
	}

	return bookings, nil
}

func (r *mongoBookingRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "start_time", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "end_time", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create booking indexes: %w", err)
	}
	return nil
}

func (r *mongoBookingRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}
