package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zaptally/internal/config"
	znostr "github.com/sandwichfarm/zaptally/internal/nostr"
)

const roomID = "5c83da77af1dec6d7289834998ad7aafbd9e2191396d75ec3cc27f5a77226f36"
const payerHex = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

// feedSubscriber serves canned events per subscription kind. Streams stay
// open until the context ends, so no reconnects fire during tests.
type feedSubscriber struct {
	chat []*nostr.Event
	zaps []*nostr.Event
}

func (f *feedSubscriber) Subscribe(ctx context.Context, filters nostr.Filters) (<-chan *nostr.Event, error) {
	var events []*nostr.Event
	if len(filters) > 0 && len(filters[0].Kinds) > 0 && filters[0].Kinds[0] == znostr.KindLiveChatMessage {
		events = f.chat
	} else {
		events = f.zaps
	}

	ch := make(chan *nostr.Event, len(events)+1)
	for _, ev := range events {
		ch <- ev
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// stubFetcher answers profile fetches with canned kind 0 events
type stubFetcher struct {
	mu     sync.Mutex
	events []*nostr.Event
}

func (s *stubFetcher) Fetch(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Session.Room = roomID
	cfg.Relays.Policy.RetryBaseMs = 1
	return cfg
}

func zapEvent(id string, msat int64, payer string) *nostr.Event {
	invoice := "lnbc1u1pj"
	switch msat {
	case 1_000_000:
		invoice = "lnbc10u1pj"
	case 2_000_000:
		invoice = "lnbc20u1pj"
	case 3_000_000:
		invoice = "lnbc30u1pj"
	case 5_000:
		invoice = "lnbc50n1pj"
	}

	description := `{"pubkey":"` + payer + `","content":"gm"}`
	if payer == "" {
		description = `{"content":"gm"}`
	}

	return &nostr.Event{
		ID:        id,
		Kind:      znostr.KindZapReceipt,
		CreatedAt: nostr.Timestamp(1700000000),
		Tags: nostr.Tags{
			{"e", roomID},
			{"description", description},
			{"bolt11", invoice},
		},
	}
}

func chatEvent(id, content string, createdAt int64) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		Kind:      znostr.KindLiveChatMessage,
		PubKey:    payerHex,
		Content:   content,
		CreatedAt: nostr.Timestamp(createdAt),
		Tags:      nostr.Tags{{"e", roomID}},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestSessionAppliesZapsOnce(t *testing.T) {
	// The 1000-sat receipt arrives twice (two relays), the 2000-sat once.
	// The total must be 3000 sats, not 4000.
	sub := &feedSubscriber{zaps: []*nostr.Event{
		zapEvent("z1", 1_000_000, payerHex),
		zapEvent("z2", 2_000_000, payerHex),
		zapEvent("z1", 1_000_000, payerHex),
	}}

	cfg := testConfig()
	s, err := New(cfg, sub, &stubFetcher{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return s.Diagnostics().EventsSeen >= 3 })

	if got := s.Engine().GrandTotal(); got != 3_000_000 {
		t.Errorf("GrandTotal = %d, want 3000000", got)
	}
	if got := s.Engine().ZapCount(); got != 2 {
		t.Errorf("ZapCount = %d, want 2", got)
	}
	diag := s.Diagnostics()
	if diag.EventsDeduped != 1 {
		t.Errorf("EventsDeduped = %d, want 1", diag.EventsDeduped)
	}
	if diag.TargetsFailed != 0 {
		t.Errorf("TargetsFailed = %d, want 0", diag.TargetsFailed)
	}
}

func TestSessionSkipsUndecodableReceipts(t *testing.T) {
	broken := &nostr.Event{
		ID:        "bad1",
		Kind:      znostr.KindZapReceipt,
		CreatedAt: nostr.Timestamp(1700000000),
		Tags:      nostr.Tags{{"e", roomID}},
	}
	sub := &feedSubscriber{zaps: []*nostr.Event{
		broken,
		zapEvent("z1", 1_000_000, payerHex),
	}}

	s, err := New(testConfig(), sub, &stubFetcher{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return s.Engine().ZapCount() == 1 })

	diag := s.Diagnostics()
	if diag.DecodeFailures != 1 {
		t.Errorf("DecodeFailures = %d, want 1", diag.DecodeFailures)
	}
	if got := s.Engine().GrandTotal(); got != 1_000_000 {
		t.Errorf("GrandTotal = %d, want 1000000", got)
	}
}

func TestSessionNoiseFilter(t *testing.T) {
	sub := &feedSubscriber{zaps: []*nostr.Event{
		zapEvent("tiny", 5_000, payerHex), // 5 sats
		zapEvent("z1", 1_000_000, payerHex),
	}}

	cfg := testConfig()
	cfg.Ingest.NoiseFilters.MinZapSats = 100

	s, err := New(cfg, sub, &stubFetcher{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return s.Diagnostics().NoiseFiltered == 1 })

	if got := s.Engine().ZapCount(); got != 1 {
		t.Errorf("ZapCount = %d, want 1", got)
	}
}

func TestSessionChatFeed(t *testing.T) {
	sub := &feedSubscriber{chat: []*nostr.Event{
		chatEvent("c1", "first", 1700000001),
		chatEvent("c3", "third", 1700000003),
		chatEvent("c2", "second", 1700000002),
	}}

	s, err := New(testConfig(), sub, &stubFetcher{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return s.Diagnostics().ChatMessages == 3 })

	feed, err := s.ChatFeed(0)
	if err != nil {
		t.Fatalf("ChatFeed: %v", err)
	}
	if len(feed) != 3 {
		t.Fatalf("feed = %d messages, want 3", len(feed))
	}
	// Newest first at the presentation boundary
	if feed[0].ID != "c3" || feed[1].ID != "c2" || feed[2].ID != "c1" {
		t.Errorf("feed order = [%s %s %s], want [c3 c2 c1]", feed[0].ID, feed[1].ID, feed[2].ID)
	}

	limited, err := s.ChatFeed(2)
	if err != nil {
		t.Fatalf("ChatFeed: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "c3" {
		t.Errorf("limited feed = %v", limited)
	}
}

func TestSessionProfileBackfill(t *testing.T) {
	fetcher := &stubFetcher{events: []*nostr.Event{{
		Kind:    0,
		PubKey:  payerHex,
		Content: `{"name":"alice"}`,
	}}}
	sub := &feedSubscriber{zaps: []*nostr.Event{
		zapEvent("z1", 1_000_000, payerHex),
	}}

	s, err := New(testConfig(), sub, fetcher, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool {
		ranked := s.Engine().TopZappers(1)
		return len(ranked) == 1 && ranked[0].Profile != nil
	})

	ranked := s.Engine().TopZappers(1)
	if ranked[0].Profile.Name != "alice" {
		t.Errorf("profile = %+v", ranked[0].Profile)
	}
}

func TestSessionInvalidRoom(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Room = "not-a-reference"

	if _, err := New(cfg, &feedSubscriber{}, &stubFetcher{}, nil); err == nil {
		t.Error("expected error for unresolvable room")
	}
}
