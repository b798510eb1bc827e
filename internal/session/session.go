package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zaptally/internal/aggregates"
	"github.com/sandwichfarm/zaptally/internal/config"
	"github.com/sandwichfarm/zaptally/internal/dedup"
	"github.com/sandwichfarm/zaptally/internal/entities"
	znostr "github.com/sandwichfarm/zaptally/internal/nostr"
	"github.com/sandwichfarm/zaptally/internal/ops"
	"github.com/sandwichfarm/zaptally/internal/profiles"
	"github.com/sandwichfarm/zaptally/internal/storage"
	"github.com/sandwichfarm/zaptally/internal/zaps"
)

// Stream keys partition the dedup space so a chat message and a zap receipt
// with colliding ids (never in practice, cheap to rule out) stay independent.
const (
	streamChat = "chat"
	streamZaps = "zaps"
)

// ChatMessage is a live chat entry at the presentation boundary
type ChatMessage struct {
	ID        string
	Pubkey    string
	Content   string
	CreatedAt int64
}

// Session runs live ingestion for one room: chat messages and zap receipts
// flow from relay subscriptions through dedup and decode into the
// aggregation engine, with raw events archived for re-query.
type Session struct {
	cfg      *config.Config
	logger   *ops.Logger
	counters *ops.Counters

	manager  *znostr.SubscriptionManager
	dedup    *dedup.Deduplicator
	store    *storage.Storage
	engine   *aggregates.Engine
	verifier *aggregates.Verifier
	profiles *profiles.Cache
	filters  *znostr.FilterBuilder

	room    *entities.Target
	targets []*entities.Target

	mu   sync.Mutex
	subs []*znostr.Subscription

	profileCtx    context.Context
	profileCancel context.CancelFunc
	profileWG     sync.WaitGroup
}

// New wires a session over the given subscriber and profile fetcher. The
// room reference and any extra zap targets come from cfg.Session; an
// unresolvable room is fatal, unresolvable extra targets are dropped.
func New(cfg *config.Config, subscriber znostr.Subscriber, fetcher profiles.Fetcher, logger *ops.Logger) (*Session, error) {
	if logger == nil {
		logger = ops.Default()
	}

	room, err := entities.ResolveTarget(cfg.Session.Room)
	if err != nil {
		return nil, fmt.Errorf("invalid room reference: %w", err)
	}

	targets := []*entities.Target{room}
	extra, dropped := entities.ResolveTargets(cfg.Session.Targets)
	if dropped > 0 {
		logger.Warn("dropped unresolvable zap targets", "count", dropped)
	}
	targets = append(targets, extra...)

	store, err := storage.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event archive: %w", err)
	}

	engine := aggregates.NewEngine()

	s := &Session{
		cfg:      cfg,
		logger:   logger.WithComponent("session"),
		counters: ops.NewCounters(),
		manager:  znostr.NewSubscriptionManager(subscriber, cfg.Relays.Policy, logger),
		dedup:    dedup.New(),
		store:    store,
		engine:   engine,
		verifier: aggregates.NewVerifier(engine),
		profiles: profiles.NewCache(fetcher, logger),
		filters:  znostr.NewFilterBuilder(&cfg.Ingest),
		room:     room,
		targets:  targets,
	}
	return s, nil
}

// Engine exposes the live aggregation state
func (s *Session) Engine() *aggregates.Engine {
	return s.engine
}

// Verifier exposes the accounting verifier over the live engine
func (s *Session) Verifier() *aggregates.Verifier {
	return s.verifier
}

// Profiles exposes the profile cache for display lookups
func (s *Session) Profiles() *profiles.Cache {
	return s.profiles
}

// Room returns the resolved room target
func (s *Session) Room() *entities.Target {
	return s.room
}

// Start opens the chat and zap subscriptions. A subscription that exhausts
// its reconnect budget is reported and the session keeps running on the
// remaining streams.
func (s *Session) Start(ctx context.Context) error {
	s.profileCtx, s.profileCancel = context.WithCancel(ctx)

	onClosed := func(subID string, err error) {
		s.logger.Error("subscription permanently failed", "sub_id", subID, "error", err)
	}

	var subs []*znostr.Subscription

	if s.cfg.Ingest.Kinds.Chat {
		chatFilter := s.filters.BuildChatFilter(s.room, 0)
		sub := s.manager.Subscribe(ctx, nostr.Filters{chatFilter}, s.handleChatEvent, onClosed)
		subs = append(subs, sub)
	}

	if s.cfg.Ingest.Kinds.Zaps {
		zapFilters := s.filters.BuildZapFilters(s.targets, 0)
		if len(zapFilters) > 0 {
			sub := s.manager.Subscribe(ctx, nostr.Filters(zapFilters), s.handleZapEvent, onClosed)
			subs = append(subs, sub)
		}
	}

	if len(subs) == 0 {
		return errors.New("no event kinds enabled for ingestion")
	}

	s.mu.Lock()
	s.subs = subs
	s.mu.Unlock()

	s.logger.Info("session started",
		"room", s.room.ID,
		"targets", len(s.targets),
		"kinds", s.filters.GetConfiguredKinds(),
		"subscriptions", len(subs))
	return nil
}

func (s *Session) handleChatEvent(event *nostr.Event) {
	s.counters.EventSeen()

	if s.dedup.Seen(streamChat, event.ID) {
		s.counters.EventDeduped()
		return
	}
	s.archive(event)
	s.counters.ChatMessage()
}

func (s *Session) handleZapEvent(event *nostr.Event) {
	s.counters.EventSeen()

	if s.dedup.Seen(streamZaps, event.ID) {
		s.counters.EventDeduped()
		return
	}
	s.archive(event)

	receipt, err := zaps.DecodeReceipt(event)
	if err != nil {
		s.counters.DecodeFailure()
		s.logger.LogDecodeFailure(event.ID, err)
		return
	}

	minMsat := int64(s.cfg.Ingest.NoiseFilters.MinZapSats) * 1000
	if receipt.AmountMsat < minMsat {
		s.counters.NoiseFiltered()
		return
	}

	s.engine.Apply(receipt)
	s.counters.ZapApplied()

	v := s.verifier.Verify(receipt.TargetID)
	if !v.Matches {
		s.logger.LogAccountingMismatch(v.TargetID, v.ItemizedMsat, v.AggregateMsat)
	}

	if receipt.Payer != zaps.AnonymousPayer {
		s.backfillProfile(receipt.Payer)
	}
}

// backfillProfile fetches the payer's kind-0 metadata off the hot path and
// attaches it to the aggregate once resolved.
func (s *Session) backfillProfile(pubkey string) {
	if s.profiles.Get(pubkey) != nil {
		return
	}

	s.profileWG.Add(1)
	go func() {
		defer s.profileWG.Done()
		got := s.profiles.Ensure(s.profileCtx, []string{pubkey})
		if p, ok := got[pubkey]; ok {
			s.engine.SetProfile(pubkey, p)
		}
	}()
}

func (s *Session) archive(event *nostr.Event) {
	if err := s.store.StoreEvent(context.Background(), event); err != nil {
		s.logger.Warn("failed to archive event", "event_id", event.ID, "error", err)
	}
}

// ChatFeed returns the newest chat messages, timestamp descending. Ordering
// is applied here at the presentation boundary; arrival order upstream is
// unconstrained.
func (s *Session) ChatFeed(limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = s.cfg.Session.ChatFeedLimit
	}

	events, err := s.store.QueryEvents(context.Background(), nostr.Filter{
		Kinds: []int{znostr.KindLiveChatMessage},
	})
	if err != nil {
		return nil, fmt.Errorf("chat feed query failed: %w", err)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt > events[j].CreatedAt
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	feed := make([]ChatMessage, 0, len(events))
	for _, ev := range events {
		feed = append(feed, ChatMessage{
			ID:        ev.ID,
			Pubkey:    ev.PubKey,
			Content:   ev.Content,
			CreatedAt: int64(ev.CreatedAt),
		})
	}
	return feed, nil
}

// Diagnostics returns a point-in-time snapshot of ingestion counters and
// the verifier's current accounting state.
func (s *Session) Diagnostics() ops.SessionStats {
	report := s.verifier.VerifyAll()
	return s.counters.Snapshot(report.Passed, report.Failed)
}

// Stop tears down all subscriptions, stops reconnect loops and profile
// backfills, and closes the event archive.
func (s *Session) Stop() {
	s.manager.Close()

	if s.profileCancel != nil {
		s.profileCancel()
	}
	s.profileWG.Wait()

	if err := s.store.Close(); err != nil {
		s.logger.Warn("failed to close event archive", "error", err)
	}

	s.logger.Info("session stopped",
		"events_seen", s.Diagnostics().EventsSeen,
		"grand_total_msat", s.engine.GrandTotal())
}
