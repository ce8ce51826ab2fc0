package agent

import (
	"database/sql"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/event"

	"github.com/gaborage/querytap/connreg"
	"github.com/gaborage/querytap/database"
)

// WrapDB wraps db so its statements are published to the agent's notifier.
// The pool is described by the static database section, if configured.
func (a *Agent) WrapDB(db *sql.DB) *database.DB {
	var cfg connreg.Config
	if a.staticConfig != nil {
		cfg = *a.staticConfig
	}
	return database.NewDB(db, a.notifier, a.registry, cfg)
}

// PgxTracer returns a pgx query tracer publishing to the agent's notifier.
func (a *Agent) PgxTracer() *database.PgxTracer {
	return database.NewPgxTracer(a.notifier, a.registry)
}

// OpenPostgres opens a pool for the static database section with the pgx
// tracer installed. The pool is not wrapped; the tracer publishes its events.
func (a *Agent) OpenPostgres() (*sql.DB, error) {
	if a.staticConfig == nil || a.staticConfig.Adapter != "postgresql" {
		return nil, fmt.Errorf("agent: database.type %q is not postgresql", a.cfg.Database.Type)
	}
	return database.OpenPostgres(&a.cfg.Database, a.PgxTracer())
}

// CommandMonitor returns a MongoDB command monitor publishing to the
// agent's notifier.
func (a *Agent) CommandMonitor() *event.CommandMonitor {
	return database.NewCommandMonitor(a.notifier, a.registry)
}
