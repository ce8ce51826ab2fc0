// Package events is the in-process notification channel between event sources
// (database drivers, ORMs, hand-instrumented code) and instrumentation
// subscribers. Delivery is synchronous: Publish returns after every subscriber
// has handled the event on the caller's goroutine.
package events

import (
	"context"
	"time"

	"github.com/gaborage/querytap/connreg"
)

// QueryChannel is the channel query executions are published on.
const QueryChannel = "sql.query"

// Version is the version of the notification API exposed by Notifier.
const Version = "v1.4.0"

// QueryEvent describes one completed query. Subscribers must not retain it.
type QueryEvent struct {
	// Name is the optional operation label, e.g. "User#find" or "User Load".
	Name string
	// SQL is the statement text as sent to the driver. It may be malformed.
	SQL string
	// ConnectionID identifies the connection in a connreg.Registry; zero means unknown.
	ConnectionID connreg.ID
	Start        time.Time
	End          time.Time
	Duration     time.Duration
}

// DurationMillis returns the duration in fractional milliseconds.
func (e QueryEvent) DurationMillis() float64 {
	return float64(e.Duration) / float64(time.Millisecond)
}

// Subscriber handles events published on a channel.
type Subscriber interface {
	Handle(ctx context.Context, ev QueryEvent)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, ev QueryEvent)

// Handle calls f(ctx, ev).
func (f SubscriberFunc) Handle(ctx context.Context, ev QueryEvent) {
	f(ctx, ev)
}

// Publisher is implemented by anything event sources can publish to.
type Publisher interface {
	Publish(ctx context.Context, channel string, ev QueryEvent)
}
