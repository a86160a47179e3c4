package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagehub/triagehub-backend/internal/models"
)

// fakeAdapter is a configurable in-package test double for the Plugin contract.
type fakeAdapter struct {
	name    string
	version string
	schema  Schema

	initErr   error
	startErr  error
	handleFn  func(ctx context.Context, msg models.Message) (models.Response, error)
	healthFn  func() models.HealthState
	eventFail bool

	mu       sync.Mutex
	inited   bool
	stopped  bool
	events   []models.EventType
	received []map[string]any
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name, version: "1.0.0", schema: Schema{Fields: map[string]SchemaField{}}}
}

func (f *fakeAdapter) Name() string         { return f.name }
func (f *fakeAdapter) Version() string      { return f.version }
func (f *fakeAdapter) ConfigSchema() Schema { return f.schema }

func (f *fakeAdapter) Initialize(_ context.Context, _ models.PluginConfig, _ CoreAPI) error {
	if f.initErr != nil {
		return f.initErr
	}
	f.mu.Lock()
	f.inited = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Start(context.Context) error { return f.startErr }

func (f *fakeAdapter) Stop(context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) HealthCheck(context.Context) models.HealthState {
	if f.healthFn != nil {
		return f.healthFn()
	}
	return models.HealthHealthy
}

func (f *fakeAdapter) HandleMessage(ctx context.Context, msg models.Message) (models.Response, error) {
	if f.handleFn != nil {
		return f.handleFn(ctx, msg)
	}
	return models.Response{Content: "ok from " + f.name, Type: models.ResponseMessage}, nil
}

func (f *fakeAdapter) SendMessage(context.Context, string, string, models.Response) bool { return true }

func (f *fakeAdapter) HandleEvent(_ context.Context, eventType models.EventType, data map[string]any) {
	f.mu.Lock()
	f.events = append(f.events, eventType)
	f.received = append(f.received, data)
	f.mu.Unlock()
	if f.eventFail {
		panic("event handler exploded")
	}
}

func (f *fakeAdapter) eventLog() []models.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.EventType, len(f.events))
	copy(out, f.events)
	return out
}

func newTestRegistry() *Registry {
	return NewRegistry(nil, NewConfigLoader(""), nil, time.Second)
}

func loadFake(t *testing.T, r *Registry, f *fakeAdapter) {
	t.Helper()
	r.RegisterFactory(f.name, func() Plugin { return f })
	require.True(t, r.Load(context.Background(), f.name, models.PluginConfig{
		PluginName: f.name, PluginVersion: f.version, Enabled: true, Config: map[string]any{},
	}))
}

func TestLoadRecordsHealthy(t *testing.T) {
	r := newTestRegistry()
	f := newFakeAdapter("slack")
	loadFake(t, r, f)

	h, ok := r.Health("slack")
	require.True(t, ok)
	assert.Equal(t, models.HealthHealthy, h)
	assert.Equal(t, []string{"slack"}, r.Loaded())
}

func TestLoadFailuresLeaveNoState(t *testing.T) {
	r := newTestRegistry()

	// No factory registered.
	assert.False(t, r.Load(context.Background(), "ghost", models.PluginConfig{}))

	// Initialize error.
	f := newFakeAdapter("broken")
	f.initErr = errors.New("no credentials")
	r.RegisterFactory("broken", func() Plugin { return f })
	assert.False(t, r.Load(context.Background(), "broken", models.PluginConfig{}))
	_, ok := r.Health("broken")
	assert.False(t, ok)

	// Factory panic.
	r.RegisterFactory("panicky", func() Plugin { panic("boom") })
	assert.False(t, r.Load(context.Background(), "panicky", models.PluginConfig{}))

	// Contract gap: empty name.
	r.RegisterFactory("anon", func() Plugin { a := newFakeAdapter(""); return a })
	assert.False(t, r.Load(context.Background(), "anon", models.PluginConfig{}))
	assert.Empty(t, r.Loaded())
}

func TestLoadWithAutoConfigTriState(t *testing.T) {
	r := newTestRegistry()

	ok := newFakeAdapter("okplug")
	r.RegisterFactory("okplug", func() Plugin { return ok })
	assert.Equal(t, LoadLoaded, r.LoadWithAutoConfig(context.Background(), "okplug"))

	disabled := newFakeAdapter("offplug")
	r.RegisterFactory("offplug", func() Plugin { return disabled })
	t.Setenv("PLUGIN_OFFPLUG_ENABLED", "false")
	assert.Equal(t, LoadDisabled, r.LoadWithAutoConfig(context.Background(), "offplug"))
	assert.NotContains(t, r.Loaded(), "offplug")

	strict := newFakeAdapter("strictplug")
	strict.schema = Schema{Fields: map[string]SchemaField{
		"api_key": {Type: TypeString, Required: true, Secret: true},
	}}
	r.RegisterFactory("strictplug", func() Plugin { return strict })
	assert.Equal(t, LoadError, r.LoadWithAutoConfig(context.Background(), "strictplug"))

	assert.Equal(t, LoadError, r.LoadWithAutoConfig(context.Background(), "unregistered"))
}

func TestDiscoverSkipsReservedNames(t *testing.T) {
	r := newTestRegistry()
	r.RegisterFactory("slack", func() Plugin { return newFakeAdapter("slack") })
	r.RegisterFactory("whatsapp", func() Plugin { return newFakeAdapter("whatsapp") })
	r.RegisterFactory("_internal", func() Plugin { return newFakeAdapter("_internal") })

	assert.Equal(t, []string{"slack", "whatsapp"}, r.Discover())
}

func TestRouteMessageUnknownChannel(t *testing.T) {
	r := newTestRegistry()
	resp := r.RouteMessage(context.Background(), "telegram", models.Message{})
	assert.Equal(t, models.ResponseError, resp.Type)
	assert.Contains(t, resp.Content, "Unknown channel type: telegram")
}

func TestRouteMessageSkipsUnhealthyAdapter(t *testing.T) {
	r := newTestRegistry()
	called := false
	f := newFakeAdapter("slack")
	f.handleFn = func(context.Context, models.Message) (models.Response, error) {
		called = true
		return models.Response{Type: models.ResponseMessage}, nil
	}
	loadFake(t, r, f)
	r.setHealth("slack", models.HealthUnhealthy)

	resp := r.RouteMessage(context.Background(), "slack", models.Message{})
	assert.Equal(t, models.ResponseError, resp.Type)
	assert.False(t, called, "adapter must not be invoked when not HEALTHY")
}

func TestRouteMessageCrashIsolation(t *testing.T) {
	r := newTestRegistry()

	crashing := newFakeAdapter("slack")
	crashing.handleFn = func(context.Context, models.Message) (models.Response, error) {
		return models.Response{}, fmt.Errorf("db down: host=prod-db-01")
	}
	loadFake(t, r, crashing)

	healthy := newFakeAdapter("whatsapp")
	loadFake(t, r, healthy)

	resp := r.RouteMessage(context.Background(), "slack", models.Message{ChannelID: "T1"})
	assert.Equal(t, models.ResponseError, resp.Type)
	assert.NotContains(t, resp.Content, "db down")
	assert.NotContains(t, resp.Content, "prod-db-01")

	h, _ := r.Health("slack")
	assert.Equal(t, models.HealthDegraded, h)

	// The second adapter is unaffected.
	resp = r.RouteMessage(context.Background(), "whatsapp", models.Message{ChannelID: "T1"})
	assert.Equal(t, models.ResponseMessage, resp.Type)
	h, _ = r.Health("whatsapp")
	assert.Equal(t, models.HealthHealthy, h)
}

func TestRouteMessagePanicIsCaught(t *testing.T) {
	r := newTestRegistry()
	f := newFakeAdapter("slack")
	f.handleFn = func(context.Context, models.Message) (models.Response, error) {
		panic("secret internal state")
	}
	loadFake(t, r, f)

	resp := r.RouteMessage(context.Background(), "slack", models.Message{})
	assert.Equal(t, models.ResponseError, resp.Type)
	assert.NotContains(t, resp.Content, "secret internal state")
	h, _ := r.Health("slack")
	assert.Equal(t, models.HealthDegraded, h)
}

func TestBroadcastReachesAllRegardlessOfHealth(t *testing.T) {
	r := newTestRegistry()

	a1 := newFakeAdapter("a1")
	a2 := newFakeAdapter("a2")
	a3 := newFakeAdapter("a3")
	a3.eventFail = true
	for _, f := range []*fakeAdapter{a1, a2, a3} {
		loadFake(t, r, f)
	}
	r.setHealth("a2", models.HealthUnhealthy)

	data := map[string]any{"plan_date": "2026-08-24"}
	r.BroadcastEvent(models.EventPlanGenerated, data)
	r.BroadcastEvent(models.EventTaskCompleted, nil)

	want := []models.EventType{models.EventPlanGenerated, models.EventTaskCompleted}
	require.Eventually(t, func() bool {
		return len(a1.eventLog()) == 2 && len(a2.eventLog()) == 2 && len(a3.eventLog()) == 2
	}, time.Second, 5*time.Millisecond)

	// Per-adapter order matches broadcast order; the unhealthy adapter and
	// the panicking adapter both still receive everything.
	assert.Equal(t, want, a1.eventLog())
	assert.Equal(t, want, a2.eventLog())
	assert.Equal(t, want, a3.eventLog())

	a1.mu.Lock()
	assert.Equal(t, data, a1.received[0])
	a1.mu.Unlock()

	// Event failures are not a liveness signal.
	h, _ := r.Health("a3")
	assert.Equal(t, models.HealthHealthy, h)
}

func TestHealthSweepRestoresDegraded(t *testing.T) {
	r := newTestRegistry()
	f := newFakeAdapter("slack")
	loadFake(t, r, f)
	r.setHealth("slack", models.HealthDegraded)

	snap := r.HealthCheckAll(context.Background())
	assert.Equal(t, models.HealthHealthy, snap["slack"])

	// Routing works again after the healthy report.
	resp := r.RouteMessage(context.Background(), "slack", models.Message{})
	assert.Equal(t, models.ResponseMessage, resp.Type)
}

func TestHealthSweepMapsPanicToUnhealthy(t *testing.T) {
	r := newTestRegistry()
	f := newFakeAdapter("slack")
	f.healthFn = func() models.HealthState { panic("probe failed") }
	loadFake(t, r, f)

	snap := r.HealthCheckAll(context.Background())
	assert.Equal(t, models.HealthUnhealthy, snap["slack"])
}

func TestStartAllIsolatesFailures(t *testing.T) {
	r := newTestRegistry()
	bad := newFakeAdapter("bad")
	bad.startErr = errors.New("socket refused")
	good := newFakeAdapter("good")
	loadFake(t, r, bad)
	loadFake(t, r, good)

	r.StartAll(context.Background())

	h, _ := r.Health("bad")
	assert.Equal(t, models.HealthUnhealthy, h)
	h, _ = r.Health("good")
	assert.Equal(t, models.HealthHealthy, h)
}

func TestStopAllMarksStopped(t *testing.T) {
	r := newTestRegistry()
	f := newFakeAdapter("slack")
	loadFake(t, r, f)

	r.StopAll(context.Background())

	h, _ := r.Health("slack")
	assert.Equal(t, models.HealthStopped, h)
	f.mu.Lock()
	assert.True(t, f.stopped)
	f.mu.Unlock()

	// Stopped adapters are not probed back to health.
	snap := r.HealthCheckAll(context.Background())
	assert.Equal(t, models.HealthStopped, snap["slack"])
}

func TestBroadcastAfterStopIsDropped(t *testing.T) {
	r := newTestRegistry()
	f := newFakeAdapter("slack")
	loadFake(t, r, f)

	r.StopAll(context.Background())

	// The queue is closed now; a late broadcast must be dropped, not panic.
	require.NotPanics(t, func() {
		r.BroadcastEvent(models.EventPlanGenerated, map[string]any{"user_id": "U1"})
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Empty(t, f.events, "no delivery after the queue was closed")
}

func TestConcurrentRouting(t *testing.T) {
	r := newTestRegistry()
	f := newFakeAdapter("slack")
	loadFake(t, r, f)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := r.RouteMessage(context.Background(), "slack", models.Message{UserID: "U1"})
			assert.Equal(t, models.ResponseMessage, resp.Type)
		}()
	}
	wg.Wait()
}
