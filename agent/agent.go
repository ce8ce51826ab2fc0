// Package agent wires the query tap together: it owns the event notifier,
// connection registry, metric stores, samplers, tap and registrar built from
// one config.Config, and exposes the unit of work boundaries applications
// wrap their requests and jobs in.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/querytap/config"
	"github.com/gaborage/querytap/connreg"
	"github.com/gaborage/querytap/events"
	"github.com/gaborage/querytap/logger"
	"github.com/gaborage/querytap/observability"
	"github.com/gaborage/querytap/registrar"
	"github.com/gaborage/querytap/sampler"
	"github.com/gaborage/querytap/stats"
	"github.com/gaborage/querytap/tap"
)

const (
	// MetricsNamespace prefixes the Prometheus metrics exported by MetricsHandler.
	MetricsNamespace = "querytap"

	tracerName = "querytap/agent"
)

// ErrNilConfig is returned by New when no configuration is given.
var ErrNilConfig = errors.New("agent: config is nil")

// Agent is the composition root of the query tap.
type Agent struct {
	cfg *config.Config
	log logger.Logger

	provider      observability.Provider
	ownsProvider  bool
	tracer        trace.Tracer
	notifier      *events.Notifier
	registry      *connreg.Registry
	engine        *stats.Engine
	recorder      *stats.Recorder
	slowSQL       *sampler.SlowSQL
	transactions  *sampler.TransactionTracer
	tap           *tap.Tap
	registrar     *registrar.Registrar
	collector     *stats.Collector
	promRegistry  *prometheus.Registry
	staticConfig  *connreg.Config
	shutdownOnce  sync.Once
	shutdownError error
}

// Option customizes New.
type Option func(*Agent)

// WithLogger replaces the logger built from cfg.Log.
func WithLogger(log logger.Logger) Option {
	return func(a *Agent) {
		a.log = log
	}
}

// WithProvider supplies the observability provider instead of building one
// from the "observability" config section. The agent does not shut it down.
func WithProvider(p observability.Provider) Option {
	return func(a *Agent) {
		a.provider = p
	}
}

// WithNotifier subscribes the tap to an existing notifier.
func WithNotifier(n *events.Notifier) Option {
	return func(a *Agent) {
		a.notifier = n
	}
}

// New builds an agent from cfg. Nothing is subscribed until Start.
func New(cfg *config.Config, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	a := &Agent{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.New(cfg.Log.Level, cfg.Log.Pretty)
	}

	if a.provider == nil {
		p, err := newProvider(cfg, a.log)
		if err != nil {
			return nil, err
		}
		a.provider = p
		a.ownsProvider = true
	}
	a.tracer = a.provider.TracerProvider().Tracer(tracerName)

	otelStore, err := stats.NewOTelStore(a.provider.MeterProvider().Meter(stats.MeterName))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric instruments: %w", err)
	}

	if a.notifier == nil {
		a.notifier = events.NewNotifier()
	}
	a.registry = connreg.New()
	a.engine = stats.NewEngine()
	a.recorder = stats.NewRecorder(a.engine, otelStore)

	a.slowSQL = sampler.NewSlowSQL(sampler.SlowSQLOptions{
		Enabled:   cfg.Sampler.SQL.Enabled,
		Threshold: cfg.Sampler.SQL.Threshold,
		Max:       cfg.Sampler.SQL.Max,
		MaxLength: cfg.Sampler.SQL.MaxLength,
	})
	a.transactions = sampler.NewTransactionTracer(sampler.TransactionOptions{
		Enabled:   cfg.Sampler.Transaction.Enabled,
		Threshold: cfg.Sampler.Transaction.Threshold,
		Max:       cfg.Sampler.Transaction.Max,
		MaxLength: cfg.Sampler.SQL.MaxLength,
	})

	a.tap = tap.New(tap.Options{
		Resolver:           a.registry,
		Recorder:           a.recorder,
		SQLSampler:         a.slowSQL,
		TransactionSampler: a.transactions,
		Traced:             a.IsExecutionTraced,
		Logger:             a.log,
	})
	a.registrar = registrar.New(a.notifier, a.tap, registrar.Options{
		Config: cfg,
		Logger: a.log,
	})

	a.collector = stats.NewCollector(a.engine, MetricsNamespace)
	a.promRegistry = prometheus.NewRegistry()
	if err := a.promRegistry.Register(a.collector); err != nil {
		return nil, fmt.Errorf("failed to register metrics collector: %w", err)
	}

	if cfg.Database.Type != "" {
		c := connreg.FromDatabaseConfig(&cfg.Database)
		a.staticConfig = &c
	}

	a.log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Env).
		Bool("enabled", cfg.Agent.Enabled).
		Msg("Query tap agent created")
	return a, nil
}

// newProvider decodes the "observability" section, falling back to the app
// identity for the service resource.
func newProvider(cfg *config.Config, log logger.Logger) (observability.Provider, error) {
	var obsCfg observability.Config
	if cfg.Exists("observability") {
		if err := cfg.Unmarshal("observability", &obsCfg); err != nil {
			return nil, fmt.Errorf("failed to decode observability config: %w", err)
		}
	}
	if obsCfg.Service.Name == "" {
		obsCfg.Service.Name = cfg.App.Name
	}
	if obsCfg.Service.Version == "" {
		obsCfg.Service.Version = cfg.App.Version
	}
	if obsCfg.Environment == "" {
		obsCfg.Environment = cfg.App.Env
	}
	return observability.NewProvider(&obsCfg, log)
}

// Start installs the query instrumentation. It reports whether this call
// subscribed the tap.
func (a *Agent) Start(ctx context.Context) (bool, error) {
	installed, err := a.registrar.Install(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to install query instrumentation: %w", err)
	}
	return installed, nil
}

// Shutdown unsubscribes the tap and shuts down the observability provider
// if the agent built it. Later calls return the first result.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		if sub := a.registrar.Subscription(); sub != nil {
			a.notifier.Unsubscribe(sub)
		}
		if a.ownsProvider {
			if err := a.provider.Shutdown(ctx); err != nil {
				a.shutdownError = fmt.Errorf("failed to shutdown observability: %w", err)
			}
		}
		a.log.Info().Msg("Query tap agent stopped")
	})
	return a.shutdownError
}

// Config returns the configuration the agent was built from.
func (a *Agent) Config() *config.Config { return a.cfg }

// Logger returns the agent's logger.
func (a *Agent) Logger() logger.Logger { return a.log }

// Notifier returns the event source query events are published on.
func (a *Agent) Notifier() *events.Notifier { return a.notifier }

// Connections returns the connection registry resolving event connection IDs.
func (a *Agent) Connections() *connreg.Registry { return a.registry }

// Engine returns the in-process metric aggregates.
func (a *Agent) Engine() *stats.Engine { return a.engine }

// SlowSQL returns the slow statement sampler.
func (a *Agent) SlowSQL() *sampler.SlowSQL { return a.slowSQL }

// Transactions returns the transaction trace sampler.
func (a *Agent) Transactions() *sampler.TransactionTracer { return a.transactions }

// Tap returns the query event subscriber.
func (a *Agent) Tap() *tap.Tap { return a.tap }

// Registrar returns the registrar that subscribes the tap.
func (a *Agent) Registrar() *registrar.Registrar { return a.registrar }

// Provider returns the observability provider in use.
func (a *Agent) Provider() observability.Provider { return a.provider }

// Collector returns the Prometheus collector over Engine.
func (a *Agent) Collector() *stats.Collector { return a.collector }

// MetricsHandler serves the Engine aggregates in the Prometheus text format.
func (a *Agent) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{})
}
