// Package memory provides in-memory repositories backed by a change feed.
// Suitable as a simple production storage backend and as the test double.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easygp/server/domain/entities"
	"github.com/easygp/server/domain/repositories"
)

// Store holds all in-memory collections behind one lock. Every write is a
// single-record insert or update followed by a feed publication.
type Store struct {
	mu       sync.RWMutex
	episodes map[string]*entities.Episode
	messages map[string][]*entities.Message
	msgByID  map[string]*entities.Message
	symptoms map[string][]*entities.Symptom
	feed     repositories.ChangeFeed
}

// NewStore creates a new in-memory store publishing into feed
func NewStore(feed repositories.ChangeFeed) *Store {
	return &Store{
		episodes: make(map[string]*entities.Episode),
		messages: make(map[string][]*entities.Message),
		msgByID:  make(map[string]*entities.Message),
		symptoms: make(map[string][]*entities.Symptom),
		feed:     feed,
	}
}

// Episodes returns the episode repository view of the store
func (s *Store) Episodes() repositories.EpisodeRepository { return &episodeRepository{s} }

// Messages returns the message repository view of the store
func (s *Store) Messages() repositories.MessageRepository { return &messageRepository{s} }

// Symptoms returns the symptom repository view of the store
func (s *Store) Symptoms() repositories.SymptomRepository { return &symptomRepository{s} }

// Feed returns the change feed the store publishes into
func (s *Store) Feed() repositories.ChangeFeed { return s.feed }

type episodeRepository struct {
	store *Store
}

func (r *episodeRepository) Create(ctx context.Context, episode *entities.Episode) error {
	if episode == nil {
		return errors.New("episode cannot be nil")
	}
	if err := episode.Validate(); err != nil {
		return err
	}

	r.store.mu.Lock()
	if episode.ID == "" {
		episode.ID = uuid.New().String()
	}
	if episode.CreatedAt.IsZero() {
		episode.CreatedAt = time.Now()
	}
	episodeCopy := *episode
	r.store.episodes[episode.ID] = &episodeCopy
	r.store.mu.Unlock()

	r.store.feed.Publish(episode.ID)
	return nil
}

func (r *episodeRepository) GetByID(ctx context.Context, id string) (*entities.Episode, error) {
	if id == "" {
		return nil, errors.New("episode ID cannot be empty")
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	episode, exists := r.store.episodes[id]
	if !exists {
		return nil, errors.New("episode not found")
	}

	episodeCopy := *episode
	return &episodeCopy, nil
}

func (r *episodeRepository) List(ctx context.Context, limit int) ([]*entities.Episode, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]*entities.Episode, 0, len(r.store.episodes))
	for _, episode := range r.store.episodes {
		episodeCopy := *episode
		result = append(result, &episodeCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *episodeRepository) Update(ctx context.Context, episode *entities.Episode) error {
	if episode == nil {
		return errors.New("episode cannot be nil")
	}
	if episode.ID == "" {
		return errors.New("episode ID cannot be empty")
	}
	if err := episode.Validate(); err != nil {
		return err
	}

	r.store.mu.Lock()
	existing, exists := r.store.episodes[episode.ID]
	if !exists {
		r.store.mu.Unlock()
		return errors.New("episode not found")
	}
	episode.CreatedAt = existing.CreatedAt
	episodeCopy := *episode
	r.store.episodes[episode.ID] = &episodeCopy
	r.store.mu.Unlock()

	r.store.feed.Publish(episode.ID)
	return nil
}

type messageRepository struct {
	store *Store
}

func (r *messageRepository) Create(ctx context.Context, message *entities.Message) error {
	if message == nil {
		return errors.New("message cannot be nil")
	}
	if err := message.Validate(); err != nil {
		return err
	}

	r.store.mu.Lock()
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	messageCopy := *message
	r.store.messages[message.EpisodeID] = append(r.store.messages[message.EpisodeID], &messageCopy)
	r.store.msgByID[message.ID] = &messageCopy
	r.store.mu.Unlock()

	r.store.feed.Publish(message.EpisodeID)
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*entities.Message, error) {
	if id == "" {
		return nil, errors.New("message ID cannot be empty")
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	message, exists := r.store.msgByID[id]
	if !exists {
		return nil, errors.New("message not found")
	}

	messageCopy := *message
	return &messageCopy, nil
}

func (r *messageRepository) GetByEpisodeID(ctx context.Context, episodeID string) ([]*entities.Message, error) {
	if episodeID == "" {
		return nil, errors.New("episode ID cannot be empty")
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stored := r.store.messages[episodeID]
	result := make([]*entities.Message, len(stored))
	for i, message := range stored {
		messageCopy := *message
		result[i] = &messageCopy
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

type symptomRepository struct {
	store *Store
}

func (r *symptomRepository) Create(ctx context.Context, symptom *entities.Symptom) error {
	if symptom == nil {
		return errors.New("symptom cannot be nil")
	}
	if symptom.EpisodeID == "" {
		return errors.New("episode ID cannot be empty")
	}
	if symptom.Name == "" {
		return errors.New("symptom name cannot be empty")
	}

	r.store.mu.Lock()
	if symptom.ID == "" {
		symptom.ID = uuid.New().String()
	}
	if symptom.RecordedAt.IsZero() {
		symptom.RecordedAt = time.Now()
	}
	symptomCopy := *symptom
	r.store.symptoms[symptom.EpisodeID] = append(r.store.symptoms[symptom.EpisodeID], &symptomCopy)
	r.store.mu.Unlock()

	r.store.feed.Publish(symptom.EpisodeID)
	return nil
}

func (r *symptomRepository) GetByEpisodeID(ctx context.Context, episodeID string) ([]*entities.Symptom, error) {
	if episodeID == "" {
		return nil, errors.New("episode ID cannot be empty")
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stored := r.store.symptoms[episodeID]
	result := make([]*entities.Symptom, len(stored))
	for i, symptom := range stored {
		symptomCopy := *symptom
		result[i] = &symptomCopy
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].RecordedAt.Before(result[j].RecordedAt)
	})
	return result, nil
}
