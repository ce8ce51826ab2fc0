package registrar

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/mod/semver"

	"github.com/gaborage/querytap/config"
	"github.com/gaborage/querytap/events"
	"github.com/gaborage/querytap/logger"
	"github.com/gaborage/querytap/tap"
)

// DependencyName is the name of the database instrumentation dependency.
const DependencyName = "database_queries"

// DefaultMinMajor is the lowest notifier API major version supported.
const DefaultMinMajor = 1

var (
	// ErrNilSource is returned when no event source is given.
	ErrNilSource = errors.New("registrar: event source is nil")
	// ErrNilSubscriber is returned when no subscriber is given.
	ErrNilSubscriber = errors.New("registrar: subscriber is nil")
)

// Source is the event source instrumentation subscribes to.
type Source interface {
	Version() string
	Subscribe(channel string, s events.Subscriber) *events.Subscription
	Listeners(channel string) []events.Subscriber
}

// Options configures a Registrar.
type Options struct {
	// Config supplies the instrumentation opt-out. Nil means enabled.
	Config *config.Config
	Logger logger.Logger
	// MinMajor is the lowest accepted Source major version.
	MinMajor int
	// Channel defaults to events.QueryChannel.
	Channel string
}

// Registrar subscribes a query subscriber to an event source once.
type Registrar struct {
	source     Source
	subscriber events.Subscriber
	cfg        *config.Config
	log        logger.Logger
	minMajor   int
	channel    string

	mu           sync.Mutex
	dep          *Dependency
	subscription *events.Subscription
	skipReason   string
}

// New creates a registrar for subscriber on source.
func New(source Source, subscriber events.Subscriber, opts Options) *Registrar {
	r := &Registrar{
		source:     source,
		subscriber: subscriber,
		cfg:        opts.Config,
		log:        opts.Logger,
		minMajor:   opts.MinMajor,
		channel:    opts.Channel,
	}
	if r.log == nil {
		r.log = logger.NewWithWriter(io.Discard, "disabled")
	}
	if r.minMajor <= 0 {
		r.minMajor = DefaultMinMajor
	}
	if r.channel == "" {
		r.channel = events.QueryChannel
	}

	r.dep = &Dependency{
		Name: DependencyName,
		DependsOn: []func() bool{
			r.versionSupported,
			r.enabledAndNotSubscribed,
		},
		Executes: []func(){
			func() { r.log.Info().Str("channel", r.channel).Msg("Installing database query instrumentation") },
			func() { r.subscription = r.source.Subscribe(r.channel, r.subscriber) },
		},
	}
	return r
}

// Install subscribes the subscriber if every check passes. A skipped install
// returns (false, nil); only a missing source or subscriber is an error.
// Safe to call concurrently and repeatedly.
func (r *Registrar) Install(ctx context.Context) (bool, error) {
	if r.source == nil {
		return false, ErrNilSource
	}
	if r.subscriber == nil {
		return false, ErrNilSubscriber
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.skipReason = ""
	if r.dep.Detect() {
		return true, nil
	}
	if r.skipReason == "" && r.dep.Executed() {
		r.skipReason = "already installed"
	}
	if r.skipReason != "" {
		r.log.WithContext(ctx).Debug().
			Str("dependency", r.dep.Name).
			Str("reason", r.skipReason).
			Msg("Skipping database query instrumentation")
	}
	return false, nil
}

// Installed reports whether Install has subscribed.
func (r *Registrar) Installed() bool {
	return r.dep.Executed()
}

// Subscription returns the subscription created by Install, if any.
func (r *Registrar) Subscription() *events.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscription
}

func (r *Registrar) versionSupported() bool {
	v := r.source.Version()
	if !majorAtLeast(v, r.minMajor) {
		r.skipReason = "unsupported event source version " + strconv.Quote(v)
		return false
	}
	return true
}

func (r *Registrar) enabledAndNotSubscribed() bool {
	if r.cfg != nil && r.cfg.Instrumentation.Database.Disabled {
		r.skipReason = "disabled by configuration"
		return false
	}
	if AlreadySubscribed(r.source, r.channel) {
		r.skipReason = "a query tap is already subscribed"
		return false
	}
	return true
}

// AlreadySubscribed reports whether any *tap.Tap listens on channel. The
// scan is best-effort; sources that wrap their subscribers hide them.
func AlreadySubscribed(source Source, channel string) bool {
	for _, s := range source.Listeners(channel) {
		if _, ok := s.(*tap.Tap); ok {
			return true
		}
	}
	return false
}

// majorAtLeast reports whether version is valid semver with major >= min.
// A missing "v" prefix is tolerated.
func majorAtLeast(version string, min int) bool {
	if version != "" && !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return false
	}
	major, err := strconv.Atoi(strings.TrimPrefix(semver.Major(version), "v"))
	return err == nil && major >= min
}
