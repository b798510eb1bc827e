// Package storage provides the session-scoped event archive. Events are held
// in memory for the session's lifetime; durable persistence is owned by
// external collaborators.
package storage

import (
	"context"
	"fmt"

	"github.com/fiatjaf/eventstore"
	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/nbd-wtf/go-nostr"
)

// Storage archives raw events so they can be re-queried (chat feeds,
// reconciliation) without refetching from relays.
type Storage struct {
	backend eventstore.Store
}

// New creates an in-memory Storage instance
func New() (*Storage, error) {
	backend := &slicestore.SliceStore{}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize event store: %w", err)
	}

	return &Storage{backend: backend}, nil
}

// StoreEvent archives an event
func (s *Storage) StoreEvent(ctx context.Context, event *nostr.Event) error {
	if err := s.backend.SaveEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// EventExists checks whether an event is already archived
func (s *Storage) EventExists(ctx context.Context, eventID string) (bool, error) {
	filter := nostr.Filter{
		IDs:   []string{eventID},
		Limit: 1,
	}

	events, err := s.QueryEvents(ctx, filter)
	if err != nil {
		return false, err
	}

	return len(events) > 0, nil
}

// QueryEvents queries archived events using a Nostr filter
func (s *Storage) QueryEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	ch, err := s.backend.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	var events []*nostr.Event
	for event := range ch {
		events = append(events, event)
	}

	return events, nil
}

// Close releases the archive
func (s *Storage) Close() error {
	s.backend.Close()
	return nil
}
