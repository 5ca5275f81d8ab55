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

type messageDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	EpisodeID string             `bson:"episode_id"`
	Role      string             `bson:"role"`
	Content   string             `bson:"content"`
	Timestamp time.Time          `bson:"timestamp"`
}

func (d *messageDoc) toEntity() *entities.Message {
	return &entities.Message{
		ID:        d.ID.Hex(),
		EpisodeID: d.EpisodeID,
		Role:      entities.MessageRole(d.Role),
		Content:   d.Content,
		Timestamp: d.Timestamp,
	}
}

// MessageRepository is the MongoDB implementation of
// repositories.MessageRepository.
type MessageRepository struct {
	collection *mongo.Collection
	feed       repositories.ChangeFeed
}

// NewMessageRepository creates a new MongoDB message repository
func NewMessageRepository(db *mongo.Database, feed repositories.ChangeFeed) repositories.MessageRepository {
	return &MessageRepository{
		collection: db.Collection("messages"),
		feed:       feed,
	}
}

// Create implements repositories.MessageRepository
func (r *MessageRepository) Create(ctx context.Context, message *entities.Message) error {
	if message == nil {
		return errors.New("message cannot be nil")
	}
	if err := message.Validate(); err != nil {
		return err
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	doc := bson.M{
		"episode_id": message.EpisodeID,
		"role":       string(message.Role),
		"content":    message.Content,
		"timestamp":  message.Timestamp,
	}

	result, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		message.ID = oid.Hex()
	}

	r.feed.Publish(message.EpisodeID)
	return nil
}

// GetByID implements repositories.MessageRepository
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*entities.Message, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid message ID format: %w", err)
	}

	var doc messageDoc
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.New("message not found")
		}
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	return doc.toEntity(), nil
}

// GetByEpisodeID implements repositories.MessageRepository
func (r *MessageRepository) GetByEpisodeID(ctx context.Context, episodeID string) ([]*entities.Message, error) {
	if episodeID == "" {
		return nil, errors.New("episode ID cannot be empty")
	}

	opts := options.Find().SetSort(bson.M{"timestamp": 1})
	cursor, err := r.collection.Find(ctx, bson.M{"episode_id": episodeID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for episode %s: %w", episodeID, err)
	}
	defer cursor.Close(ctx)

	var result []*entities.Message
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		result = append(result, doc.toEntity())
	}
	return result, cursor.Err()
}
