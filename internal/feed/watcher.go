package feed

import (
	"context"

	"go.uber.org/zap"

	"github.com/easygp/server/domain/entities"
	"github.com/easygp/server/domain/repositories"
)

// Watcher turns change notifications into ordered list snapshots, the
// live-query shape UI layers consume.
type Watcher struct {
	hub      repositories.ChangeFeed
	messages repositories.MessageRepository
	symptoms repositories.SymptomRepository
	logger   *zap.Logger
}

// NewWatcher creates a new snapshot watcher
func NewWatcher(
	hub repositories.ChangeFeed,
	messages repositories.MessageRepository,
	symptoms repositories.SymptomRepository,
	logger *zap.Logger,
) *Watcher {
	return &Watcher{
		hub:      hub,
		messages: messages,
		symptoms: symptoms,
		logger:   logger,
	}
}

// WatchMessages streams ordered message snapshots for an episode. The
// current snapshot is delivered first, then a fresh one after every
// store change. The stream closes when ctx is done.
func (w *Watcher) WatchMessages(ctx context.Context, episodeID string) <-chan []*entities.Message {
	out := make(chan []*entities.Message, 1)
	notify, cancel := w.hub.Subscribe(episodeID)

	go func() {
		defer close(out)
		defer cancel()

		for {
			snapshot, err := w.messages.GetByEpisodeID(ctx, episodeID)
			if err != nil {
				w.logger.Warn("Message snapshot query failed",
					zap.String("episode_id", episodeID),
					zap.Error(err))
			} else {
				select {
				case out <- snapshot:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// WatchSymptoms streams ordered symptom snapshots for an episode,
// following the same contract as WatchMessages.
func (w *Watcher) WatchSymptoms(ctx context.Context, episodeID string) <-chan []*entities.Symptom {
	out := make(chan []*entities.Symptom, 1)
	notify, cancel := w.hub.Subscribe(episodeID)

	go func() {
		defer close(out)
		defer cancel()

		for {
			snapshot, err := w.symptoms.GetByEpisodeID(ctx, episodeID)
			if err != nil {
				w.logger.Warn("Symptom snapshot query failed",
					zap.String("episode_id", episodeID),
					zap.Error(err))
			} else {
				select {
				case out <- snapshot:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
