package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"insta_spider/internal/config"
	"insta_spider/internal/models"
)

type MongoDB struct {
	client        *mongo.Client
	database      *mongo.Database
	profiles      *mongo.Collection
	dailyProfiles *mongo.Collection
	contents      *mongo.Collection
	fixedPages    *mongo.Collection
	keywordStats  *mongo.Collection
	minFollowers  int
}

func NewMongoDB(config config.DBConfig) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.Connection))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't ping MongoDB: %w", err)
	}

	db := client.Database(config.Database)

	d := &MongoDB{
		client:        client,
		database:      db,
		profiles:      db.Collection(config.Collections.Profiles),
		dailyProfiles: db.Collection(config.Collections.DailyProfiles),
		contents:      db.Collection(config.Collections.Contents),
		fixedPages:    db.Collection(config.Collections.FixedPages),
		keywordStats:  db.Collection(config.Collections.KeywordUserStats),
		minFollowers:  config.MinFollowers,
	}

	d.createIndexes(ctx)

	return d, nil
}

// Index failures are logged only; the _id keys that carry deduplication need
// no extra index.
func (d *MongoDB) createIndexes(ctx context.Context) {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{d.contents, mongo.IndexModel{Keys: bson.D{{Key: "userName", Value: 1}, {Key: "publishedAtTimestamp", Value: -1}}}},
		{d.dailyProfiles, mongo.IndexModel{Keys: bson.D{{Key: "userName", Value: 1}, {Key: "publishedAtTimestamp", Value: -1}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			slog.Warn("create index failed", "collection", idx.coll.Name(), "err", err)
		}
	}
}

func (d *MongoDB) replace(ctx context.Context, coll *mongo.Collection, id string, doc any) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", coll.Name(), id, err)
	}
	return nil
}

func (d *MongoDB) UpsertProfile(ctx context.Context, p models.ProfileSnapshot) error {
	return d.replace(ctx, d.profiles, p.ID, p)
}

func (d *MongoDB) UpsertDaily(ctx context.Context, s models.DailySnapshot) error {
	return d.replace(ctx, d.dailyProfiles, s.ID, s)
}

func (d *MongoDB) UpsertContent(ctx context.Context, item models.ContentItem) error {
	return d.replace(ctx, d.contents, item.ID, item)
}

func (d *MongoDB) InsertContent(ctx context.Context, item models.ContentItem) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := d.contents.InsertOne(ctx, item)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert %s: %w", item.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert %s: %w", item.ID, err)
	}
	return nil
}

// Content returns the stored item, or nil when absent. Inspection helper;
// the crawl path only writes.
func (d *MongoDB) Content(ctx context.Context, id string) (*models.ContentItem, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var item models.ContentItem
	err := d.contents.FindOne(ctx, bson.M{"_id": id}).Decode(&item)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find content %s: %w", id, err)
	}
	return &item, nil
}

func (d *MongoDB) Targets(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	fixed, err := d.popular(ctx, d.fixedPages)
	if err != nil {
		return nil, err
	}
	keyword, err := d.popular(ctx, d.keywordStats)
	if err != nil {
		return nil, err
	}
	return RankTargets(fixed, keyword), nil
}

func (d *MongoDB) popular(ctx context.Context, coll *mongo.Collection) ([]models.Target, error) {
	filter := bson.M{"followersCount": bson.M{"$gte": d.minFollowers}}
	opts := options.Find().
		SetProjection(bson.M{"_id": 1, "followersCount": 1}).
		SetSort(bson.D{{Key: "followersCount", Value: -1}})

	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find targets in %s: %w", coll.Name(), err)
	}
	defer cursor.Close(ctx)

	var targets []models.Target
	if err := cursor.All(ctx, &targets); err != nil {
		return nil, fmt.Errorf("decode targets from %s: %w", coll.Name(), err)
	}
	return targets, nil
}

func (d *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}
