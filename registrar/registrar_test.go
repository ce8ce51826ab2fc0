package registrar

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/querytap/config"
	"github.com/gaborage/querytap/events"
	"github.com/gaborage/querytap/logger"
	"github.com/gaborage/querytap/tap"
)

const installLine = "Installing database query instrumentation"

func TestInstallSubscribesOnce(t *testing.T) {
	var buf bytes.Buffer
	n := events.NewNotifier()
	r := New(n, tap.New(tap.Options{}), Options{Logger: logger.NewWithWriter(&buf, "debug")})

	ok, err := r.Install(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, r.Installed())
	require.NotNil(t, r.Subscription())
	assert.Equal(t, events.QueryChannel, r.Subscription().Channel())

	ok, err = r.Install(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Len(t, n.Listeners(events.QueryChannel), 1)
	assert.Equal(t, 1, strings.Count(buf.String(), installLine))
	assert.Contains(t, buf.String(), "already installed")
}

func TestInstallConcurrent(t *testing.T) {
	n := events.NewNotifier()
	r := New(n, tap.New(tap.Options{}), Options{})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := r.Install(context.Background())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Len(t, n.Listeners(events.QueryChannel), 1)
}

func TestInstallSkipsExistingTap(t *testing.T) {
	var buf bytes.Buffer
	n := events.NewNotifier()
	n.Subscribe(events.QueryChannel, tap.New(tap.Options{}))

	r := New(n, tap.New(tap.Options{}), Options{Logger: logger.NewWithWriter(&buf, "debug")})
	ok, err := r.Install(context.Background())

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, n.Listeners(events.QueryChannel), 1)
	assert.NotContains(t, buf.String(), installLine)
	assert.Contains(t, buf.String(), "already subscribed")
}

func TestInstallIgnoresOtherSubscribers(t *testing.T) {
	n := events.NewNotifier()
	n.Subscribe(events.QueryChannel, events.SubscriberFunc(func(context.Context, events.QueryEvent) {}))

	ok, err := New(n, tap.New(tap.Options{}), Options{}).Install(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, n.Listeners(events.QueryChannel), 2)
}

func TestInstallDisabledByConfig(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte("instrumentation:\n  database:\n    disabled: true\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	n := events.NewNotifier()
	r := New(n, tap.New(tap.Options{}), Options{Config: cfg, Logger: logger.NewWithWriter(&buf, "debug")})

	ok, err := r.Install(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, r.Installed())
	assert.Empty(t, n.Listeners(events.QueryChannel))
	assert.Contains(t, buf.String(), "disabled by configuration")
}

func TestInstallVersionCheck(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		minMajor int
		want     bool
	}{
		{name: "current", version: events.Version, want: true},
		{name: "too old", version: "v0.9.0", want: false},
		{name: "below minimum", version: "v3.2.0", minMajor: 4, want: false},
		{name: "at minimum", version: "v4.0.0", minMajor: 4, want: true},
		{name: "newer", version: "v5.1.0", minMajor: 4, want: true},
		{name: "no prefix", version: "4.2.1", minMajor: 4, want: true},
		{name: "invalid", version: "latest", want: false},
		{name: "empty", version: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := events.NewNotifier(events.WithVersion(tt.version))
			ok, err := New(n, tap.New(tap.Options{}), Options{MinMajor: tt.minMajor}).Install(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.want, len(n.Listeners(events.QueryChannel)) == 1)
		})
	}
}

func TestInstallNilArguments(t *testing.T) {
	_, err := New(nil, tap.New(tap.Options{}), Options{}).Install(context.Background())
	assert.ErrorIs(t, err, ErrNilSource)

	_, err = New(events.NewNotifier(), nil, Options{}).Install(context.Background())
	assert.ErrorIs(t, err, ErrNilSubscriber)
}

func TestInstalledTapReceivesEvents(t *testing.T) {
	n := events.NewNotifier()
	var got []events.QueryEvent
	sub := events.SubscriberFunc(func(_ context.Context, ev events.QueryEvent) { got = append(got, ev) })

	ok, err := New(n, sub, Options{}).Install(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	n.Publish(context.Background(), events.QueryChannel, events.QueryEvent{SQL: "SELECT 1"})
	require.Len(t, got, 1)
}
