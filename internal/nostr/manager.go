package nostr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zaptally/internal/config"
	"github.com/sandwichfarm/zaptally/internal/ops"
)

// SubscriptionState tracks where a logical subscription is in its lifecycle
type SubscriptionState int

const (
	StateConnecting SubscriptionState = iota
	StateActive
	StateReconnecting
	StateFailed
	StateClosed
)

func (s SubscriptionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// EventHandler receives every raw event a subscription delivers. Duplicates
// across relays are expected here; deduplication happens downstream.
type EventHandler func(event *nostr.Event)

// ClosedHandler is invoked once when a subscription fails permanently
type ClosedHandler func(subID string, err error)

// Subscriber opens one logical subscription attempt. The returned channel
// delivers events until the upstream connection ends, then closes.
type Subscriber interface {
	Subscribe(ctx context.Context, filters nostr.Filters) (<-chan *nostr.Event, error)
}

// PoolSubscriber adapts the pool Client to the Subscriber interface, binding
// a fixed relay set.
type PoolSubscriber struct {
	Client *Client
	Relays []string
}

func (ps *PoolSubscriber) Subscribe(ctx context.Context, filters nostr.Filters) (<-chan *nostr.Event, error) {
	return ps.Client.SubscribeEvents(ctx, ps.Relays, filters), nil
}

// Subscription is one logical stream of events for a (filter, target) pair.
// Its reconnect loop owns the state; readers go through State.
type Subscription struct {
	ID      string
	Filters nostr.Filters

	mu      sync.Mutex
	state   SubscriptionState
	attempt int

	cancel context.CancelFunc
	done   chan struct{}

	onEvent  EventHandler
	onClosed ClosedHandler
}

// State returns the current lifecycle state and reconnect attempt counter
func (s *Subscription) State() (SubscriptionState, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.attempt
}

func (s *Subscription) setState(state SubscriptionState, attempt int) {
	s.mu.Lock()
	s.state = state
	s.attempt = attempt
	s.mu.Unlock()
}

// resetAttempts zeroes the counter after a successful event delivery
func (s *Subscription) resetAttempts() {
	s.mu.Lock()
	if s.state == StateActive {
		s.attempt = 0
	}
	s.mu.Unlock()
}

// SubscriptionManager owns one reconnect loop per logical subscription.
// Reconnects are bounded: delay grows linearly with the attempt number and
// after MaxRetries failed attempts the subscription is marked failed and
// reported upward. One stream failing never affects the others.
type SubscriptionManager struct {
	subscriber Subscriber
	policy     config.RelayPolicy
	logger     *ops.Logger

	mu     sync.Mutex
	subs   map[string]*Subscription
	nextID int

	wg sync.WaitGroup
}

// NewSubscriptionManager creates a manager over the given subscriber
func NewSubscriptionManager(subscriber Subscriber, policy config.RelayPolicy, logger *ops.Logger) *SubscriptionManager {
	if logger == nil {
		logger = ops.Default()
	}
	return &SubscriptionManager{
		subscriber: subscriber,
		policy:     policy,
		logger:     logger.WithComponent("subs"),
		subs:       make(map[string]*Subscription),
	}
}

// Subscribe opens a logical subscription and starts its reconnect loop.
// onEvent fires for every delivered event; onClosed fires once if the
// subscription permanently fails.
func (m *SubscriptionManager) Subscribe(ctx context.Context, filters nostr.Filters, onEvent EventHandler, onClosed ClosedHandler) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.nextID++
	sub := &Subscription{
		ID:       fmt.Sprintf("sub-%d", m.nextID),
		Filters:  filters,
		state:    StateConnecting,
		cancel:   cancel,
		done:     make(chan struct{}),
		onEvent:  onEvent,
		onClosed: onClosed,
	}
	m.subs[sub.ID] = sub
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(subCtx, sub)

	return sub
}

// Unsubscribe tears down a subscription and stops its reconnect loop
func (m *SubscriptionManager) Unsubscribe(sub *Subscription) {
	sub.cancel()
	<-sub.done
	sub.setState(StateClosed, 0)

	m.mu.Lock()
	delete(m.subs, sub.ID)
	m.mu.Unlock()
}

// Close tears down all subscriptions and waits for their loops to exit
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[string]*Subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
	m.wg.Wait()

	for _, sub := range subs {
		sub.setState(StateClosed, 0)
	}
}

// ActiveCount returns the number of live (not failed, not closed) subscriptions
func (m *SubscriptionManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, sub := range m.subs {
		state, _ := sub.State()
		if state != StateFailed && state != StateClosed {
			count++
		}
	}
	return count
}

// retryDelay computes the backoff before the given attempt: attempt * base
func (m *SubscriptionManager) retryDelay(attempt int) time.Duration {
	base := time.Duration(m.policy.RetryBaseMs) * time.Millisecond
	if base <= 0 {
		base = 5 * time.Second
	}
	return time.Duration(attempt) * base
}

// run is the single reconnect loop driving a subscription's state machine:
// Connecting -> Active -> Reconnecting(attempt) -> ... -> Failed.
func (m *SubscriptionManager) run(ctx context.Context, sub *Subscription) {
	defer m.wg.Done()
	defer close(sub.done)

	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		ch, err := m.subscriber.Subscribe(ctx, sub.Filters)
		if err == nil {
			sub.setState(StateActive, attempt)
			m.logger.LogSubscriptionState(sub.ID, StateActive.String(), attempt)

			delivered := false
			for event := range ch {
				if !delivered {
					delivered = true
				}
				// Any successful delivery clears the consecutive-failure count
				attempt = 0
				sub.resetAttempts()
				sub.onEvent(event)
			}

			// Channel closed: explicit teardown or upstream disconnect
			if ctx.Err() != nil {
				return
			}
			err = fmt.Errorf("subscription stream closed")
		}

		attempt++
		maxRetries := m.policy.MaxRetries
		if maxRetries <= 0 {
			maxRetries = 3
		}

		if attempt > maxRetries {
			sub.setState(StateFailed, attempt-1)
			m.logger.LogSubscriptionState(sub.ID, StateFailed.String(), attempt-1)
			if sub.onClosed != nil {
				sub.onClosed(sub.ID, fmt.Errorf("subscription %s failed after %d reconnect attempts: %w", sub.ID, maxRetries, err))
			}
			return
		}

		sub.setState(StateReconnecting, attempt)
		m.logger.LogSubscriptionState(sub.ID, StateReconnecting.String(), attempt)

		select {
		case <-time.After(m.retryDelay(attempt)):
		case <-ctx.Done():
			return
		}
	}
}
