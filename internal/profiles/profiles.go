// Package profiles maintains a session-scoped cache of kind 0 profile
// metadata, backfilled in bulk and tolerant of partial results.
package profiles

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zaptally/internal/ops"
)

// KindProfileMetadata is the Nostr event kind for profile metadata
const KindProfileMetadata = 0

// Profile contains display metadata for a pubkey (kind 0)
type Profile struct {
	Pubkey      string `json:"-"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Nip05       string `json:"nip05,omitempty"`
	About       string `json:"about,omitempty"`
	Lud16       string `json:"lud16,omitempty"`
}

// BestName returns the preferred display name.
// Priority: display_name > name > nip05 > truncated pubkey.
func (p *Profile) BestName() string {
	if p == nil {
		return ""
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.Name != "" {
		return p.Name
	}
	if p.Nip05 != "" {
		return p.Nip05
	}
	return TruncatePubkey(p.Pubkey)
}

// ParseMetadata parses a kind 0 event's content into a Profile
func ParseMetadata(event *nostr.Event) (*Profile, error) {
	if event.Kind != KindProfileMetadata {
		return nil, fmt.Errorf("expected kind %d, got %d", KindProfileMetadata, event.Kind)
	}

	var p Profile
	if err := json.Unmarshal([]byte(event.Content), &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile metadata: %w", err)
	}
	p.Pubkey = event.PubKey

	return &p, nil
}

// Fetcher fetches events matching a filter from the relay pool
type Fetcher interface {
	Fetch(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
}

// Cache is a concurrent-safe profile cache backed by bulk kind 0 fetches
type Cache struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	fetcher  Fetcher
	logger   *ops.Logger
}

// NewCache creates a profile cache over the given fetcher
func NewCache(fetcher Fetcher, logger *ops.Logger) *Cache {
	if logger == nil {
		logger = ops.Default()
	}
	return &Cache{
		profiles: make(map[string]*Profile),
		fetcher:  fetcher,
		logger:   logger.WithComponent("profiles"),
	}
}

// Get returns the cached profile for a pubkey, or nil
func (c *Cache) Get(pubkey string) *Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profiles[pubkey]
}

// Put stores a profile, keeping it available to later Get/Ensure calls
func (c *Cache) Put(p *Profile) {
	if p == nil || p.Pubkey == "" {
		return
	}
	c.mu.Lock()
	c.profiles[p.Pubkey] = p
	c.mu.Unlock()
}

// Ensure fetches metadata for any pubkeys not already cached and returns the
// known profiles for the requested set. Missing profiles are simply absent
// from the result; a fetch failure never fails the caller.
func (c *Cache) Ensure(ctx context.Context, pubkeys []string) map[string]*Profile {
	missing := make([]string, 0, len(pubkeys))

	c.mu.RLock()
	for _, pk := range pubkeys {
		if _, ok := c.profiles[pk]; !ok {
			missing = append(missing, pk)
		}
	}
	c.mu.RUnlock()

	if len(missing) > 0 && c.fetcher != nil {
		filter := nostr.Filter{
			Kinds:   []int{KindProfileMetadata},
			Authors: missing,
		}

		events, err := c.fetcher.Fetch(ctx, filter)
		if err != nil {
			c.logger.Warn("profile fetch failed, proceeding with partial results",
				"missing", len(missing),
				"error", err)
		}

		for _, event := range events {
			profile, err := ParseMetadata(event)
			if err != nil {
				c.logger.Debug("skipping malformed profile metadata",
					"pubkey", event.PubKey,
					"error", err)
				continue
			}
			c.Put(profile)
		}
	}

	result := make(map[string]*Profile, len(pubkeys))
	c.mu.RLock()
	for _, pk := range pubkeys {
		if p, ok := c.profiles[pk]; ok {
			result[pk] = p
		}
	}
	c.mu.RUnlock()

	return result
}

// TruncatePubkey shortens a pubkey for display
func TruncatePubkey(pubkey string) string {
	if len(pubkey) <= 16 {
		return pubkey
	}
	return pubkey[:8] + "..." + pubkey[len(pubkey)-8:]
}
