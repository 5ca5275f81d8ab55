package repositories

import (
	"context"

	"github.com/easygp/server/domain/entities"
)

// EpisodeRepository defines data access methods for episodes
type EpisodeRepository interface {
	Create(ctx context.Context, episode *entities.Episode) error
	GetByID(ctx context.Context, id string) (*entities.Episode, error)
	List(ctx context.Context, limit int) ([]*entities.Episode, error)
	Update(ctx context.Context, episode *entities.Episode) error
}

// MessageRepository defines data access methods for messages.
// GetByEpisodeID returns messages ordered by timestamp ascending.
type MessageRepository interface {
	Create(ctx context.Context, message *entities.Message) error
	GetByID(ctx context.Context, id string) (*entities.Message, error)
	GetByEpisodeID(ctx context.Context, episodeID string) ([]*entities.Message, error)
}

// SymptomRepository defines data access methods for symptom records.
// GetByEpisodeID returns symptoms ordered by recording time ascending.
type SymptomRepository interface {
	Create(ctx context.Context, symptom *entities.Symptom) error
	GetByEpisodeID(ctx context.Context, episodeID string) ([]*entities.Symptom, error)
}

// ChangeFeed notifies subscribers when an episode's records change.
// Repositories publish after every successful write; dependent views
// subscribe instead of polling. The returned cancel func must be called
// to release the subscription.
type ChangeFeed interface {
	Subscribe(episodeID string) (<-chan struct{}, func())
	Publish(episodeID string)
}
