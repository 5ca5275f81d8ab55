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

type symptomDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	EpisodeID  string             `bson:"episode_id"`
	MessageID  string             `bson:"message_id"`
	Name       string             `bson:"name"`
	Present    bool               `bson:"present"`
	Confidence float64            `bson:"confidence"`
	Duration   string             `bson:"duration,omitempty"`
	Severity   string             `bson:"severity,omitempty"`
	RecordedAt time.Time          `bson:"recorded_at"`
}

func (d *symptomDoc) toEntity() *entities.Symptom {
	return &entities.Symptom{
		ID:         d.ID.Hex(),
		EpisodeID:  d.EpisodeID,
		MessageID:  d.MessageID,
		Name:       d.Name,
		Present:    d.Present,
		Confidence: d.Confidence,
		Duration:   d.Duration,
		Severity:   entities.Severity(d.Severity),
		RecordedAt: d.RecordedAt,
	}
}

// SymptomRepository is the MongoDB implementation of
// repositories.SymptomRepository.
type SymptomRepository struct {
	collection *mongo.Collection
	feed       repositories.ChangeFeed
}

// NewSymptomRepository creates a new MongoDB symptom repository
func NewSymptomRepository(db *mongo.Database, feed repositories.ChangeFeed) repositories.SymptomRepository {
	return &SymptomRepository{
		collection: db.Collection("symptoms"),
		feed:       feed,
	}
}

// Create implements repositories.SymptomRepository
func (r *SymptomRepository) Create(ctx context.Context, symptom *entities.Symptom) error {
	if symptom == nil {
		return errors.New("symptom cannot be nil")
	}
	if symptom.EpisodeID == "" {
		return errors.New("episode ID cannot be empty")
	}
	if symptom.Name == "" {
		return errors.New("symptom name cannot be empty")
	}
	if symptom.RecordedAt.IsZero() {
		symptom.RecordedAt = time.Now()
	}

	doc := bson.M{
		"episode_id":  symptom.EpisodeID,
		"message_id":  symptom.MessageID,
		"name":        symptom.Name,
		"present":     symptom.Present,
		"confidence":  symptom.Confidence,
		"recorded_at": symptom.RecordedAt,
	}
	if symptom.Duration != "" {
		doc["duration"] = symptom.Duration
	}
	if symptom.Severity != "" {
		doc["severity"] = string(symptom.Severity)
	}

	result, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create symptom: %w", err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		symptom.ID = oid.Hex()
	}

	r.feed.Publish(symptom.EpisodeID)
	return nil
}

// GetByEpisodeID implements repositories.SymptomRepository
func (r *SymptomRepository) GetByEpisodeID(ctx context.Context, episodeID string) ([]*entities.Symptom, error) {
	if episodeID == "" {
		return nil, errors.New("episode ID cannot be empty")
	}

	opts := options.Find().SetSort(bson.M{"recorded_at": 1})
	cursor, err := r.collection.Find(ctx, bson.M{"episode_id": episodeID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query symptoms for episode %s: %w", episodeID, err)
	}
	defer cursor.Close(ctx)

	var result []*entities.Symptom
	for cursor.Next(ctx) {
		var doc symptomDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode symptom: %w", err)
		}
		result = append(result, doc.toEntity())
	}
	return result, cursor.Err()
}
