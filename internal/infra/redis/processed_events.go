package redis

import (
	"context"
	"time"

	"github.com/operio-dev/1nproject/internal/domain/ports/repository"
)

const processedPrefix = "webhook:processed:"

var _ repository.ProcessedEventStore = (*ProcessedEventStore)(nil)

// ProcessedEventStore keeps a marker per handled webhook event for ttl.
type ProcessedEventStore struct {
	client Client
	ttl    time.Duration
}

func NewProcessedEventStore(client Client, ttl time.Duration) *ProcessedEventStore {
	return &ProcessedEventStore{client: client, ttl: ttl}
}

func (s *ProcessedEventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	return s.client.Exists(ctx, processedPrefix+eventID)
}

func (s *ProcessedEventStore) MarkProcessed(ctx context.Context, eventID string) error {
	return s.client.Set(ctx, processedPrefix+eventID, time.Now().UTC().Unix(), s.ttl)
}
