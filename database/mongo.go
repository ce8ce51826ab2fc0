package database

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/event"

	"github.com/gaborage/querytap/connreg"
	"github.com/gaborage/querytap/events"
)

const mongoAdapter = "mongodb"

// Commands that belong to the driver's own bookkeeping.
var ignoredMongoCommands = map[string]struct{}{
	"hello":        {},
	"ismaster":     {},
	"isMaster":     {},
	"ping":         {},
	"buildInfo":    {},
	"saslStart":    {},
	"saslContinue": {},
	"endSessions":  {},
}

// Maps MongoDB command names onto the operation vocabulary of labels.
var mongoOperations = map[string]string{
	"find":          "find",
	"count":         "find",
	"distinct":      "find",
	"aggregate":     "find",
	"insert":        "create",
	"update":        "save",
	"findAndModify": "save",
	"delete":        "destroy",
}

type mongoCommand struct {
	label string
	text  string
	id    connreg.ID
	start time.Time
}

type mongoMonitor struct {
	pub      events.Publisher
	registry *connreg.Registry
	inflight sync.Map // request ID -> *mongoCommand
	now      func() time.Time
}

// NewCommandMonitor returns a monitor for options.Client().SetMonitor that
// publishes every user command.
func NewCommandMonitor(pub events.Publisher, registry *connreg.Registry) *event.CommandMonitor {
	m := &mongoMonitor{pub: pub, registry: registry, now: time.Now}
	return &event.CommandMonitor{
		Started:   m.started,
		Succeeded: m.succeeded,
		Failed:    m.failed,
	}
}

func (m *mongoMonitor) started(_ context.Context, e *event.CommandStartedEvent) {
	if _, skip := ignoredMongoCommands[e.CommandName]; skip {
		return
	}
	m.inflight.Store(e.RequestID, &mongoCommand{
		label: mongoLabel(e.Command, e.CommandName),
		text:  e.Command.String(),
		id:    m.connectionID(e.ConnectionID),
		start: m.now(),
	})
}

func (m *mongoMonitor) succeeded(ctx context.Context, e *event.CommandSucceededEvent) {
	m.finish(ctx, e.CommandFinishedEvent)
}

func (m *mongoMonitor) failed(ctx context.Context, e *event.CommandFailedEvent) {
	m.finish(ctx, e.CommandFinishedEvent)
}

func (m *mongoMonitor) finish(ctx context.Context, e event.CommandFinishedEvent) {
	v, ok := m.inflight.LoadAndDelete(e.RequestID)
	if !ok || m.pub == nil {
		return
	}
	cmd := v.(*mongoCommand)

	name := cmd.label
	if op := OperationFromContext(ctx); op != "" {
		name = op
	}
	m.pub.Publish(ctx, events.QueryChannel, events.QueryEvent{
		Name:         name,
		SQL:          cmd.text,
		ConnectionID: cmd.id,
		Start:        cmd.start,
		End:          cmd.start.Add(e.Duration),
		Duration:     e.Duration,
	})
}

// connectionID attaches one registry entry per server address. Driver
// connection IDs look like "host:port[-N]".
func (m *mongoMonitor) connectionID(driverID string) connreg.ID {
	if m.registry == nil || driverID == "" {
		return 0
	}
	addr, _, _ := strings.Cut(driverID, "[")
	return m.registry.Attach(mongoAdapter+"://"+addr, connreg.FromAddress(mongoAdapter, addr))
}

// mongoLabel builds a "collection#operation" label, or "" when the command
// has no collection or its operation is not recognized.
func mongoLabel(cmd bson.Raw, name string) string {
	op, ok := mongoOperations[name]
	if !ok {
		return ""
	}
	collection, ok := cmd.Lookup(name).StringValueOK()
	if !ok || collection == "" {
		return ""
	}
	return collection + "#" + op
}
