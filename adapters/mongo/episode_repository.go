package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/easygp/server/domain/entities"
	"github.com/easygp/server/domain/repositories"
)

type episodeDoc struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Title         string             `bson:"title"`
	Status        string             `bson:"status"`
	CreatedAt     time.Time          `bson:"created_at"`
	LastMessageAt *time.Time         `bson:"last_message_at,omitempty"`
}

func (d *episodeDoc) toEntity() *entities.Episode {
	return &entities.Episode{
		ID:            d.ID.Hex(),
		Title:         d.Title,
		Status:        entities.EpisodeStatus(d.Status),
		CreatedAt:     d.CreatedAt,
		LastMessageAt: d.LastMessageAt,
	}
}

// EpisodeRepository is the MongoDB implementation of
// repositories.EpisodeRepository.
type EpisodeRepository struct {
	collection *mongo.Collection
	feed       repositories.ChangeFeed
}

// NewEpisodeRepository creates a new MongoDB episode repository
func NewEpisodeRepository(db *mongo.Database, feed repositories.ChangeFeed) repositories.EpisodeRepository {
	return &EpisodeRepository{
		collection: db.Collection("episodes"),
		feed:       feed,
	}
}

// Create implements repositories.EpisodeRepository
func (r *EpisodeRepository) Create(ctx context.Context, episode *entities.Episode) error {
	if episode == nil {
		return errors.New("episode cannot be nil")
	}
	if err := episode.Validate(); err != nil {
		return err
	}
	if episode.CreatedAt.IsZero() {
		episode.CreatedAt = time.Now()
	}

	doc := bson.M{
		"title":      episode.Title,
		"status":     string(episode.Status),
		"created_at": episode.CreatedAt,
	}
	if episode.LastMessageAt != nil {
		doc["last_message_at"] = episode.LastMessageAt
	}

	result, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create episode: %w", err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		episode.ID = oid.Hex()
	}

	r.feed.Publish(episode.ID)
	return nil
}

// GetByID implements repositories.EpisodeRepository
func (r *EpisodeRepository) GetByID(ctx context.Context, id string) (*entities.Episode, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid episode ID format: %w", err)
	}

	var doc episodeDoc
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.New("episode not found")
		}
		return nil, fmt.Errorf("failed to get episode %s: %w", id, err)
	}

	return doc.toEntity(), nil
}

// List implements repositories.EpisodeRepository
func (r *EpisodeRepository) List(ctx context.Context, limit int) ([]*entities.Episode, error) {
	opts := options.Find().SetSort(bson.M{"created_at": 1})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*entities.Episode
	for cursor.Next(ctx) {
		var doc episodeDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode episode: %w", err)
		}
		result = append(result, doc.toEntity())
	}
	return result, cursor.Err()
}

// Update implements repositories.EpisodeRepository
func (r *EpisodeRepository) Update(ctx context.Context, episode *entities.Episode) error {
	if episode == nil {
		return errors.New("episode cannot be nil")
	}
	if episode.ID == "" {
		return errors.New("episode ID cannot be empty")
	}
	if err := episode.Validate(); err != nil {
		return err
	}

	objectID, err := primitive.ObjectIDFromHex(episode.ID)
	if err != nil {
		return fmt.Errorf("invalid episode ID format: %w", err)
	}

	update := bson.M{
		"$set": bson.M{
			"title":           episode.Title,
			"status":          string(episode.Status),
			"last_message_at": episode.LastMessageAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	if err != nil {
		return fmt.Errorf("failed to update episode: %w", err)
	}
	if result.MatchedCount == 0 {
		return errors.New("episode not found")
	}

	r.feed.Publish(episode.ID)
	return nil
}
