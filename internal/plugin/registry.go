package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/triagehub/triagehub-backend/internal/models"
)

// User-facing routing messages. Internal error text never reaches these.
const (
	msgUnavailable  = "The service is temporarily unavailable. Please try again shortly."
	msgGenericError = "An error occurred processing your request"
)

// adapterQueueBuffer bounds each adapter's broadcast queue.
const adapterQueueBuffer = 256

// LoadOutcome is the tri-state result of LoadWithAutoConfig: a disabled
// plugin is not an error.
type LoadOutcome int

const (
	LoadError LoadOutcome = iota
	LoadDisabled
	LoadLoaded
)

func (o LoadOutcome) String() string {
	switch o {
	case LoadLoaded:
		return "loaded"
	case LoadDisabled:
		return "disabled"
	default:
		return "error"
	}
}

// loadedPlugin pairs an adapter instance with its broadcast queue. The
// queue goroutine serialises HandleEvent per adapter, preserving broadcast
// order, while adapters fan out in parallel with each other.
type loadedPlugin struct {
	plugin  Plugin
	config  models.PluginConfig
	events  chan queuedEvent
	drained chan struct{}
	closed  bool // guarded by Registry.mu; set before events is closed
}

type queuedEvent struct {
	eventType models.EventType
	data      map[string]any
}

// Registry owns adapter instances and their health state. Factories are
// registered at build time; there is no runtime code discovery.
type Registry struct {
	core      CoreAPI
	loader    *ConfigLoader
	logger    *slog.Logger
	stopGrace time.Duration

	mu        sync.RWMutex
	factories map[string]Factory
	plugins   map[string]*loadedPlugin
	health    map[string]models.HealthState
}

// NewRegistry creates an empty registry. stopGrace bounds how long StopAll
// waits for each adapter to stop cooperatively.
func NewRegistry(core CoreAPI, loader *ConfigLoader, logger *slog.Logger, stopGrace time.Duration) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if stopGrace <= 0 {
		stopGrace = 10 * time.Second
	}
	return &Registry{
		core:      core,
		loader:    loader,
		logger:    logger,
		stopGrace: stopGrace,
		factories: make(map[string]Factory),
		plugins:   make(map[string]*loadedPlugin),
		health:    make(map[string]models.HealthState),
	}
}

// RegisterFactory adds a build-time adapter factory under name.
// Names starting with "_" are reserved and ignored by Discover.
func (r *Registry) RegisterFactory(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Discover lists registered adapter names, sorted, excluding reserved
// "_"-prefixed entries.
func (r *Registry) Discover() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		if strings.HasPrefix(name, "_") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load constructs, verifies, and initialises the named adapter with an
// already-validated config. Every failure is logged with the plugin name
// and returns false; no partial state is retained and other plugins are
// unaffected.
func (r *Registry) Load(ctx context.Context, name string, cfg models.PluginConfig) bool {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("plugin load failed: no factory registered", "plugin", name)
		return false
	}
	instance, err := buildInstance(factory)
	if err != nil {
		r.logger.Error("plugin load failed", "plugin", name, "err", err)
		return false
	}
	return r.initAndRecord(ctx, name, instance, cfg)
}

// LoadWithAutoConfig probes the adapter's identity and schema, runs the
// config loader against that schema, and loads the adapter unless its
// config disables it. Probe and load share one construction: identity
// methods are callable on a bare instance.
func (r *Registry) LoadWithAutoConfig(ctx context.Context, name string) LoadOutcome {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("plugin load failed: no factory registered", "plugin", name)
		return LoadError
	}
	instance, err := buildInstance(factory)
	if err != nil {
		r.logger.Error("plugin load failed", "plugin", name, "err", err)
		return LoadError
	}

	cfg, err := r.loader.Load(instance.Name(), instance.Version(), instance.ConfigSchema())
	if err != nil {
		r.logger.Error("plugin configuration invalid", "plugin", name, "err", err)
		return LoadError
	}
	if !cfg.Enabled {
		r.logger.Info("plugin disabled by configuration, skipping", "plugin", name)
		return LoadDisabled
	}
	if !r.initAndRecord(ctx, name, instance, cfg) {
		return LoadError
	}
	return LoadLoaded
}

// buildInstance runs the factory, converting panics and contract gaps into
// errors so a broken adapter cannot take down the bus at load time.
func buildInstance(factory Factory) (p Plugin, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("factory panicked: %v", rec)
		}
	}()
	p = factory()
	if p == nil {
		return nil, fmt.Errorf("factory returned nil instance")
	}
	if p.Name() == "" {
		return nil, fmt.Errorf("adapter reports an empty name")
	}
	if p.Version() == "" {
		return nil, fmt.Errorf("adapter reports an empty version")
	}
	return p, nil
}

func (r *Registry) initAndRecord(ctx context.Context, name string, instance Plugin, cfg models.PluginConfig) bool {
	if err := safeInitialize(ctx, instance, cfg, r.core); err != nil {
		r.logger.Error("plugin initialization failed", "plugin", name, "err", err)
		return false
	}

	lp := &loadedPlugin{
		plugin:  instance,
		config:  cfg,
		events:  make(chan queuedEvent, adapterQueueBuffer),
		drained: make(chan struct{}),
	}
	go r.runEventQueue(name, lp)

	r.mu.Lock()
	r.plugins[name] = lp
	r.health[name] = models.HealthHealthy
	r.mu.Unlock()

	r.logger.Info("plugin loaded", "plugin", name, "version", cfg.PluginVersion)
	return true
}

func safeInitialize(ctx context.Context, p Plugin, cfg models.PluginConfig, core CoreAPI) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("initialize panicked: %v", rec)
		}
	}()
	return p.Initialize(ctx, cfg, core)
}

// StartAll starts every loaded adapter. A start failure marks that adapter
// UNHEALTHY; the others continue.
func (r *Registry) StartAll(ctx context.Context) {
	for name, lp := range r.snapshot() {
		err := func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("start panicked: %v", rec)
				}
			}()
			return lp.plugin.Start(ctx)
		}()
		if err != nil {
			r.logger.Error("plugin start failed", "plugin", name, "err", err)
			r.setHealth(name, models.HealthUnhealthy)
			continue
		}
		r.logger.Info("plugin started", "plugin", name)
	}
}

// StopAll stops every adapter, bounding each Stop by the grace window, then
// drains and closes the broadcast queues. Stopped adapters are marked
// STOPPED and remain loaded for inspection until the process exits.
func (r *Registry) StopAll(ctx context.Context) {
	for name, lp := range r.snapshot() {
		stopCtx, cancel := context.WithTimeout(ctx, r.stopGrace)
		err := func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("stop panicked: %v", rec)
				}
			}()
			return lp.plugin.Stop(stopCtx)
		}()
		cancel()
		if err != nil {
			r.logger.Error("plugin stop failed", "plugin", name, "err", err)
		}

		// Mark the queue closed under the lock so a concurrent broadcast
		// cannot send on the channel after it is closed.
		r.mu.Lock()
		lp.closed = true
		r.mu.Unlock()
		close(lp.events)
		select {
		case <-lp.drained:
		case <-time.After(r.stopGrace):
			r.logger.Warn("plugin event queue did not drain before grace expired", "plugin", name)
		}
		r.setHealth(name, models.HealthStopped)
	}
}

// RouteMessage is the inbound hot path. It never returns an error: unknown
// channels, unhealthy adapters, and adapter failures all map to error-typed
// responses with user-safe content. Concurrent entry is expected; adapters
// must be re-entrant.
func (r *Registry) RouteMessage(ctx context.Context, channelType string, msg models.Message) models.Response {
	r.mu.RLock()
	lp, ok := r.plugins[channelType]
	health := r.health[channelType]
	r.mu.RUnlock()

	if !ok {
		return models.ErrorResponse(fmt.Sprintf("Unknown channel type: %s", channelType))
	}
	if health != models.HealthHealthy {
		return models.ErrorResponse(msgUnavailable)
	}

	resp, err := safeHandleMessage(ctx, lp.plugin, msg)
	if err != nil {
		// Internal detail goes to the log only; the caller gets a generic
		// message and the adapter is demoted until its next healthy report.
		r.logger.Error("adapter failed handling message",
			"plugin", channelType, "channel_id", msg.ChannelID, "err", err)
		r.setHealth(channelType, models.HealthDegraded)
		return models.ErrorResponse(msgGenericError)
	}
	return resp
}

func safeHandleMessage(ctx context.Context, p Plugin, msg models.Message) (resp models.Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handle_message panicked: %v", rec)
		}
	}()
	return p.HandleMessage(ctx, msg)
}

// BroadcastEvent enqueues the event for every loaded adapter regardless of
// health (events are informational; adapters decide whether to act). Each
// adapter sees events in broadcast order; one adapter's failure never
// blocks another's delivery.
func (r *Registry) BroadcastEvent(eventType models.EventType, data map[string]any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, lp := range r.plugins {
		if lp.closed {
			continue
		}
		select {
		case lp.events <- queuedEvent{eventType: eventType, data: data}:
		default:
			r.logger.Warn("event dropped: adapter queue full",
				"plugin", name, "event_type", eventType)
		}
	}
}

func (r *Registry) runEventQueue(name string, lp *loadedPlugin) {
	defer close(lp.drained)
	for ev := range lp.events {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("adapter panicked handling event",
						"plugin", name, "event_type", ev.eventType, "panic", rec)
				}
			}()
			lp.plugin.HandleEvent(context.Background(), ev.eventType, ev.data)
		}()
	}
}

// HealthCheckAll sweeps every adapter and returns the snapshot used by both
// observability and the routing precondition. A panicking or error-state
// check maps to UNHEALTHY; a DEGRADED adapter reporting healthy is restored
// and resumes receiving routed messages. STOPPED adapters are not probed.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]models.HealthState {
	out := make(map[string]models.HealthState)
	for name, lp := range r.snapshot() {
		r.mu.RLock()
		current := r.health[name]
		r.mu.RUnlock()
		if current == models.HealthStopped {
			out[name] = models.HealthStopped
			continue
		}

		reported := safeHealthCheck(ctx, lp.plugin)
		r.setHealth(name, reported)
		out[name] = reported
	}
	return out
}

func safeHealthCheck(ctx context.Context, p Plugin) (state models.HealthState) {
	defer func() {
		if rec := recover(); rec != nil {
			state = models.HealthUnhealthy
		}
	}()
	state = p.HealthCheck(ctx)
	switch state {
	case models.HealthHealthy, models.HealthDegraded, models.HealthUnhealthy, models.HealthStopped:
		return state
	default:
		return models.HealthUnhealthy
	}
}

// ConfigValue returns a string config key of a loaded adapter. The gateway
// uses this to resolve per-plugin webhook secrets.
func (r *Registry) ConfigValue(name, key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lp, ok := r.plugins[name]
	if !ok {
		return "", false
	}
	v, ok := lp.config.Config[key].(string)
	return v, ok
}

// Health returns the registry's view of one adapter's health.
func (r *Registry) Health(name string) (models.HealthState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.health[name]
	return h, ok
}

// Loaded lists names of currently loaded adapters, sorted.
func (r *Registry) Loaded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) snapshot() map[string]*loadedPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*loadedPlugin, len(r.plugins))
	for name, lp := range r.plugins {
		out[name] = lp
	}
	return out
}

func (r *Registry) setHealth(name string, state models.HealthState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[name]; ok {
		r.health[name] = state
	}
}
