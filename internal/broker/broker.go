// Package broker routes UI channel requests to the config, window, and engine
// layers and forwards engine callbacks to subscribed UIs.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/rbright/towerlink/internal/config"
	"github.com/rbright/towerlink/internal/engine"
	"github.com/rbright/towerlink/internal/fsm"
	"github.com/rbright/towerlink/internal/ipc"
	"github.com/rbright/towerlink/internal/store"
	"github.com/rbright/towerlink/internal/window"
)

// Events emitted by the broker itself.
const (
	EventShowSettings           = "show-settings"
	EventPromptTelemetryConsent = "prompt-telemetry-consent"
	EventConfirmQuit            = "confirm-quit"
	EventMicTest                = "MicTest"
	EventConnectionState        = "connection-state"
)

var (
	// ErrUpdateRequired is returned by Start when the engine refuses this build.
	ErrUpdateRequired = errors.New("a mandatory update is available; update to continue")
	// ErrCannotRun is returned by Start when the engine cannot operate.
	ErrCannotRun = errors.New("voice engine reported it cannot run; check the engine log")
)

// Options wires a Broker.
type Options struct {
	Settings *config.Manager
	Engine   engine.Engine
	// Store holds window geometry next to the configuration.
	Store  store.KV
	Logger *slog.Logger
	// Platform is reported on update-platform; defaults to runtime.GOOS.
	Platform string
}

// Broker is an ipc.Handler and ipc.EventSource.
type Broker struct {
	settings *config.Manager
	engine   engine.Engine
	proxy    *window.Proxy
	window   *window.Manager
	hub      *ipc.Hub
	conn     *fsm.Machine
	logger   *slog.Logger
	platform string

	version          atomic.Value
	autoOpenSettings atomic.Bool

	routes map[string]route
}

type route func(ctx context.Context, req ipc.Request) (any, error)

// New builds a broker over a loaded config manager.
func New(opts Options) (*Broker, error) {
	if opts.Settings == nil {
		return nil, errors.New("broker requires a config manager")
	}
	if opts.Engine == nil {
		return nil, errors.New("broker requires an engine")
	}
	if opts.Store == nil {
		return nil, errors.New("broker requires a store")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Platform == "" {
		opts.Platform = runtime.GOOS
	}

	b := &Broker{
		settings: opts.Settings,
		engine:   opts.Engine,
		hub:      ipc.NewHub(),
		conn:     fsm.NewMachine(),
		logger:   opts.Logger,
		platform: opts.Platform,
	}
	b.version.Store("")
	b.proxy = window.NewProxy(b.emit)
	b.window = window.NewManager(b.proxy, b.proxy, opts.Store, opts.Settings, opts.Logger)
	b.autoOpenSettings.Store(opts.Settings.NeedsSetup())
	b.routes = b.buildRoutes()
	return b, nil
}

// Start bootstraps the engine, pushes the persisted login settings to it, and
// restores the window. It emits the telemetry prompt when consent is unknown.
func (b *Broker) Start(ctx context.Context, resourcePath string) error {
	boot, err := b.engine.Bootstrap(ctx, resourcePath)
	if err != nil {
		return fmt.Errorf("bootstrap engine: %w", err)
	}
	if boot.NeedUpdate {
		return ErrUpdateRequired
	}
	if !boot.CanRun {
		return ErrCannotRun
	}
	b.version.Store(boot.Version)

	cfg, err := b.settings.Config()
	if err != nil {
		return err
	}
	if err := b.engine.SetCid(ctx, cfg.CID); err != nil {
		return err
	}
	if err := b.engine.SetRadioGain(ctx, cfg.RadioGain); err != nil {
		return err
	}

	b.window.ApplyStartup()
	if b.settings.NeedsTelemetryConsent() {
		b.emit(EventPromptTelemetryConsent)
	}
	b.logger.Info("broker started",
		"engine_version", boot.Version,
		"needs_setup", b.autoOpenSettings.Load(),
	)
	return nil
}

// Handle implements ipc.Handler.
func (b *Broker) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	handler, ok := b.routes[req.Channel]
	if !ok {
		return ipc.Failure(req.ID, fmt.Errorf("unknown channel %q", req.Channel))
	}

	result, err := handler(ctx, req)
	if err != nil {
		b.logger.Warn("ipc request failed", "channel", req.Channel, "error", err.Error())
		return ipc.Failure(req.ID, err)
	}
	b.logger.Debug("ipc request", "channel", req.Channel)
	return ipc.Success(req.ID, result)
}

// Subscribe implements ipc.EventSource.
func (b *Broker) Subscribe() (<-chan ipc.Event, func()) {
	return b.hub.Subscribe()
}

// Close ends all subscriptions.
func (b *Broker) Close() {
	b.hub.Close()
	b.logger.Info("broker closed", "dropped_events", b.hub.Dropped())
}

// ConnectionState reports the current voice connection state.
func (b *Broker) ConnectionState() fsm.State {
	return b.conn.State()
}

func (b *Broker) emit(channel string, args ...any) {
	ev, err := ipc.NewEvent(channel, args...)
	if err != nil {
		b.logger.Error("encode event", "channel", channel, "error", err.Error())
		return
	}
	b.hub.Publish(ev)
}

func (b *Broker) fire(event fsm.Event) {
	before := b.conn.State()
	next, err := b.conn.Fire(event)
	if err != nil {
		b.logger.Debug("ignored connection event", "event", string(event), "error", err.Error())
		return
	}
	if next != before {
		b.emit(EventConnectionState, string(next))
	}
}
