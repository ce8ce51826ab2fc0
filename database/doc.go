// Package database adapts database drivers into query event sources.
//
// Each adapter times a query, attaches the connection's configuration to a
// connreg.Registry and publishes an events.QueryEvent on
// events.QueryChannel:
//
//   - PgxTracer plugs into pgx via pgx.ConnConfig.Tracer.
//   - DB wraps a *sql.DB for any database/sql driver.
//   - NewCommandMonitor returns a MongoDB command monitor.
//
// An operation label such as "User#find" can be attached to a call chain
// with WithOperation; adapters copy it into the event's Name.
package database

import (
	"context"
	"time"

	"github.com/gaborage/querytap/connreg"
	"github.com/gaborage/querytap/events"
)

type contextKey string

const operationKey contextKey = "query_operation"

// WithOperation labels every query made with ctx.
func WithOperation(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, operationKey, label)
}

// OperationFromContext returns the label set by WithOperation.
func OperationFromContext(ctx context.Context) string {
	label, _ := ctx.Value(operationKey).(string)
	return label
}

func publish(ctx context.Context, pub events.Publisher, query string, id connreg.ID, start, end time.Time) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, events.QueryChannel, events.QueryEvent{
		Name:         OperationFromContext(ctx),
		SQL:          query,
		ConnectionID: id,
		Start:        start,
		End:          end,
		Duration:     end.Sub(start),
	})
}
