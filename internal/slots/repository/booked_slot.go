package repository

import (
	"context"
	"fmt"
	"time"

	"courtslots/pkg/config"
	"courtslots/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "Booked_slots"
)

// Indexes serve the booking reference lookup and the restore scan.
var Indexes = []mongo.IndexModel{
	{Keys: bson.D{{Key: "booking_ref", Value: 1}}},
	{Keys: bson.D{{Key: "state", Value: 1}}},
}

// BookedSlotRepository stores slots in the booked state. Live holds are
// never written here.
type BookedSlotRepository interface {
	SaveBooked(ctx context.Context, locks []model.SlotLock) error
	DeleteBooked(ctx context.Context, keys []model.SlotKey) error
	FindBooked(ctx context.Context) ([]model.SlotLock, error)
	FindByBookingRef(ctx context.Context, bookingRef string) ([]model.SlotLock, error)
	EnsureIndexes(ctx context.Context) error
}

type mongoBookedSlotRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoBookedSlotRepository(cfg *config.Config) BookedSlotRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoBookedSlotRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
	}
}

// withTimeout bounds ctx by timeout unless the caller already set a
// shorter deadline.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		return context.WithTimeout(ctx, timeout)
	}

	remaining := time.Until(deadline)
	if remaining < timeout {
		return context.WithTimeout(ctx, remaining)
	}

	return context.WithTimeout(ctx, timeout)
}

func (r *mongoBookedSlotRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	_, err := r.collection.Indexes().CreateMany(ctx, Indexes)
	if err != nil {
		return fmt.Errorf("create booked slot indexes: %w", err)
	}
	return nil
}

// SaveBooked upserts by slot key, so replaying a confirm is harmless.
func (r *mongoBookedSlotRepository) SaveBooked(ctx context.Context, locks []model.SlotLock) error {
	if len(locks) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	writes := make([]mongo.WriteModel, 0, len(locks))
	for _, l := range locks {
		l.CreatedAt = l.CreatedAt.UTC().Truncate(time.Millisecond)
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": l.Key}).
			SetReplacement(l).
			SetUpsert(true))
	}

	result, err := r.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("save booked slots: %w", err)
	}

	r.cfg.Log.Debug("Booked slots saved",
		"upserted", result.UpsertedCount,
		"modified", result.ModifiedCount,
	)
	return nil
}

func (r *mongoBookedSlotRepository) DeleteBooked(ctx context.Context, keys []model.SlotKey) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	_, err := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return fmt.Errorf("delete booked slots: %w", err)
	}
	return nil
}

func (r *mongoBookedSlotRepository) FindBooked(ctx context.Context) ([]model.SlotLock, error) {
	return r.find(ctx, bson.M{"state": model.SlotBooked})
}

func (r *mongoBookedSlotRepository) FindByBookingRef(ctx context.Context, bookingRef string) ([]model.SlotLock, error) {
	return r.find(ctx, bson.M{"booking_ref": bookingRef, "state": model.SlotBooked})
}

func (r *mongoBookedSlotRepository) find(ctx context.Context, filter bson.M) ([]model.SlotLock, error) {
	ctx, cancel := withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find booked slots: %w", err)
	}
	defer cursor.Close(ctx)

	var locks []model.SlotLock
	if err := cursor.All(ctx, &locks); err != nil {
		return nil, fmt.Errorf("decode booked slots: %w", err)
	}
	return locks, nil
}
