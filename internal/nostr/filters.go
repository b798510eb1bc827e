package nostr

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zaptally/internal/config"
	"github.com/sandwichfarm/zaptally/internal/entities"
)

// Event kinds the ingestion pipeline cares about
const (
	KindProfileMetadata = 0
	KindLiveChatMessage = 1311
	KindZapReceipt      = 9735
)

// FilterBuilder creates Nostr filters based on ingest configuration
type FilterBuilder struct {
	config *config.Ingest
}

// NewFilterBuilder creates a new filter builder
func NewFilterBuilder(cfg *config.Ingest) *FilterBuilder {
	return &FilterBuilder{
		config: cfg,
	}
}

// tagName returns the tag that references a target: addressable events are
// referenced by "a" coordinate, plain events by "e" id.
func tagName(target *entities.Target) string {
	if target.Addressable {
		return "a"
	}
	return "e"
}

// BuildChatFilter creates a filter for live chat messages tagged to a room
func (fb *FilterBuilder) BuildChatFilter(room *entities.Target, since int64) nostr.Filter {
	filter := nostr.Filter{
		Kinds: []int{KindLiveChatMessage},
		Tags: nostr.TagMap{
			tagName(room): []string{room.ID},
		},
	}

	if since > 0 {
		sinceTs := nostr.Timestamp(since)
		filter.Since = &sinceTs
	}

	return filter
}

// BuildZapFilters creates filters for zap receipts addressed to the given
// targets. Event-id targets and addressable targets need separate tag
// constraints, so up to two filters come back.
func (fb *FilterBuilder) BuildZapFilters(targets []*entities.Target, since int64) []nostr.Filter {
	var eventIDs, coordinates []string
	for _, target := range targets {
		if target.Addressable {
			coordinates = append(coordinates, target.ID)
		} else {
			eventIDs = append(eventIDs, target.ID)
		}
	}

	var sinceTs *nostr.Timestamp
	if since > 0 {
		ts := nostr.Timestamp(since)
		sinceTs = &ts
	}

	filters := make([]nostr.Filter, 0, 2)

	if len(eventIDs) > 0 {
		filters = append(filters, nostr.Filter{
			Kinds: []int{KindZapReceipt},
			Tags:  nostr.TagMap{"e": eventIDs},
			Since: sinceTs,
		})
	}

	if len(coordinates) > 0 {
		filters = append(filters, nostr.Filter{
			Kinds: []int{KindZapReceipt},
			Tags:  nostr.TagMap{"a": coordinates},
			Since: sinceTs,
		})
	}

	return filters
}

// BuildProfileFilter creates a filter for profile metadata by author
func (fb *FilterBuilder) BuildProfileFilter(pubkeys []string) nostr.Filter {
	return nostr.Filter{
		Kinds:   []int{KindProfileMetadata},
		Authors: pubkeys,
	}
}

// BuildContentFilter creates a filter fetching content events by id
func (fb *FilterBuilder) BuildContentFilter(eventIDs []string) nostr.Filter {
	return nostr.Filter{
		IDs: eventIDs,
	}
}

// GetConfiguredKinds returns the configured event kinds to ingest
func (fb *FilterBuilder) GetConfiguredKinds() []int {
	kinds := fb.config.Kinds.ToIntSlice()
	if len(kinds) > 0 {
		return kinds
	}
	// Default kinds
	return []int{KindProfileMetadata, KindLiveChatMessage, KindZapReceipt}
}
