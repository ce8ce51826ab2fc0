package database

import (
	"context"
	"sync"

	"github.com/gaborage/querytap/events"
)

type capture struct {
	mu     sync.Mutex
	events []events.QueryEvent
}

func (c *capture) Publish(_ context.Context, channel string, ev events.QueryEvent) {
	if channel != events.QueryChannel {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *capture) all() []events.QueryEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.QueryEvent(nil), c.events...)
}
