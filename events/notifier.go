package events

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Subscription is returned by Subscribe and identifies one registration.
type Subscription struct {
	channel    string
	subscriber Subscriber
}

// Channel returns the channel the subscription listens on.
func (s *Subscription) Channel() string {
	return s.channel
}

// Subscriber returns the registered subscriber.
func (s *Subscription) Subscriber() Subscriber {
	return s.subscriber
}

// Notifier fans events out to the subscribers of a named channel.
// The zero value is not usable; create one with NewNotifier.
type Notifier struct {
	mu        sync.RWMutex
	version   string
	listeners map[string][]*Subscription
}

var _ Publisher = (*Notifier)(nil)

// Option configures a Notifier.
type Option func(*Notifier)

// WithVersion overrides the version reported by the notifier.
func WithVersion(version string) Option {
	return func(n *Notifier) {
		n.version = version
	}
}

// NewNotifier creates a notifier with no subscribers.
func NewNotifier(opts ...Option) *Notifier {
	n := &Notifier{
		version:   Version,
		listeners: make(map[string][]*Subscription),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Version reports the notification API version.
func (n *Notifier) Version() string {
	return n.version
}

// Subscribe registers s on channel. Subscribing the same subscriber twice
// results in two deliveries per event; callers that need exactly-once
// registration must guard it themselves.
func (n *Notifier) Subscribe(channel string, s Subscriber) *Subscription {
	sub := &Subscription{channel: channel, subscriber: s}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners[channel] = append(n.listeners[channel], sub)
	return sub
}

// Unsubscribe removes a subscription. Unknown subscriptions are ignored.
func (n *Notifier) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	subs := n.listeners[sub.channel]
	if i := slices.Index(subs, sub); i >= 0 {
		n.listeners[sub.channel] = slices.Delete(slices.Clone(subs), i, i+1)
	}
}

// Listeners returns the subscribers currently registered on channel.
func (n *Notifier) Listeners(channel string) []Subscriber {
	n.mu.RLock()
	defer n.mu.RUnlock()
	subs := n.listeners[channel]
	out := make([]Subscriber, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.subscriber)
	}
	return out
}

// Publish delivers ev to every subscriber of channel, in subscription order,
// on the calling goroutine.
func (n *Notifier) Publish(ctx context.Context, channel string, ev QueryEvent) {
	n.mu.RLock()
	subs := n.listeners[channel]
	n.mu.RUnlock()

	for _, sub := range subs {
		sub.subscriber.Handle(ctx, ev)
	}
}

// Instrument times fn and publishes ev on channel once it returns, filling in
// Start, End and Duration. The error from fn is returned unchanged.
func (n *Notifier) Instrument(ctx context.Context, channel string, ev QueryEvent, fn func(ctx context.Context) error) error {
	ev.Start = time.Now()
	err := fn(ctx)
	ev.End = time.Now()
	ev.Duration = ev.End.Sub(ev.Start)

	n.Publish(ctx, channel, ev)
	return err
}
