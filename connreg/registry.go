// Package connreg maps connection identifiers carried on query events back to
// the configuration of the connection that ran the query.
//
// Event sources attach a connection once (when it is opened or first seen),
// stamp the returned ID on every event, and detach it when the connection
// closes. Lookups never fail loudly: an unknown or released ID simply resolves
// to nothing.
package connreg

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// ID identifies an attached connection. The zero value means "no connection".
type ID uint64

// Config is the subset of connection configuration the instrumentation needs.
type Config struct {
	Adapter  string `json:"adapter"`
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	Username string `json:"username,omitempty"`
}

// Address renders host:port, or just host when the port is unknown.
func (c Config) Address() string {
	if c.Port <= 0 {
		return c.Host
	}
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Resolver looks up the configuration for a connection ID.
type Resolver interface {
	Resolve(id ID) (*Config, bool)
}

// Registry is a concurrency-safe Resolver. Owners are compared with ==, so any
// comparable handle (a *pgx.Conn, a *sql.DB, a driver connection ID string)
// can be used as the key.
type Registry struct {
	mu      sync.RWMutex
	next    atomic.Uint64
	configs map[ID]Config
	owners  map[any]ID
}

var _ Resolver = (*Registry)(nil)

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		configs: make(map[ID]Config),
		owners:  make(map[any]ID),
	}
}

// Attach registers cfg for owner and returns its ID. Attaching the same owner
// again returns the existing ID and keeps the original configuration.
func (r *Registry) Attach(owner any, cfg Config) ID {
	r.mu.RLock()
	id, ok := r.owners[owner]
	r.mu.RUnlock()
	if ok {
		return id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.owners[owner]; ok {
		return id
	}
	id = ID(r.next.Add(1))
	r.owners[owner] = id
	r.configs[id] = cfg
	return id
}

// Lookup returns the ID previously attached for owner.
func (r *Registry) Lookup(owner any) (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.owners[owner]
	return id, ok
}

// Detach releases owner. Events still carrying its ID resolve to nothing.
func (r *Registry) Detach(owner any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.owners[owner]; ok {
		delete(r.owners, owner)
		delete(r.configs, id)
	}
}

// Resolve returns a copy of the configuration for id.
func (r *Registry) Resolve(id ID) (*Config, bool) {
	if r == nil || id == 0 {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	if !ok {
		return nil, false
	}
	return &cfg, true
}

// Len returns the number of attached connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}
