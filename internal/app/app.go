package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rbright/towerlink/internal/audio"
	"github.com/rbright/towerlink/internal/broker"
	"github.com/rbright/towerlink/internal/cli"
	"github.com/rbright/towerlink/internal/config"
	"github.com/rbright/towerlink/internal/doctor"
	"github.com/rbright/towerlink/internal/engine"
	"github.com/rbright/towerlink/internal/ipc"
	"github.com/rbright/towerlink/internal/logging"
	"github.com/rbright/towerlink/internal/secret"
	"github.com/rbright/towerlink/internal/store"
	"github.com/rbright/towerlink/internal/version"
	"golang.org/x/sync/errgroup"
)

const binaryName = "towerlink"

// ResourcesEnv overrides the directory handed to the engine at bootstrap.
const ResourcesEnv = "TOWERLINK_RESOURCES"

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	// Secrets defaults to the OS keyring.
	Secrets secret.Box
	// DialEngine defaults to a gRPC dial of engine.EndpointFromEnv.
	DialEngine func(ctx context.Context, logger *slog.Logger) (engine.Engine, error)
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: logging disabled: %v\n", err)
		logRuntime = logging.Discard()
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}
	if r.Secrets == nil {
		r.Secrets = secret.NewKeyring()
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", parsed.ConfigPath,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandRun:
		return r.commandRun(ctx, parsed.ConfigPath, logger)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandSend:
		return r.commandSend(ctx, parsed.Channel, parsed.Args)
	case cli.CommandWatch:
		return r.commandWatch(ctx)
	case cli.CommandConfig:
		return r.commandConfig(parsed.ConfigPath, logger)
	case cli.CommandMigrate:
		return r.commandMigrate(parsed.ConfigPath, logger)
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandDoctor:
		return r.commandDoctor(ctx, parsed.ConfigPath, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

// settings is a loaded config manager and the store it is bound to.
type settings struct {
	manager *config.Manager
	store   *store.File
	path    string
	report  config.LoadReport
	// loadErr is a *config.MigrationError; the configuration is still usable.
	loadErr error
}

// loadSettings opens the store, binds a manager, and runs Load. Migration
// failures are reported as warnings and returned in loadErr.
func (r Runner) loadSettings(explicitPath string, logger *slog.Logger) (settings, error) {
	path, err := store.ResolvePath(explicitPath)
	if err != nil {
		return settings{}, err
	}
	kv, err := store.Open(path, store.WithClearInvalid(true))
	if err != nil {
		return settings{}, err
	}

	manager := config.NewManager(config.WithSecrets(r.Secrets), config.WithLogger(logger))
	if err := manager.SetStore(kv); err != nil {
		return settings{}, err
	}

	report, err := manager.Load()
	var migErr *config.MigrationError
	if err != nil && !errors.As(err, &migErr) {
		return settings{}, err
	}

	if report.Recovered != nil {
		fmt.Fprintf(r.Stderr, "warning: %v\n", report.Recovered)
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(r.Stderr, "warning: %s: %s\n", w.Field, w.Message)
		logger.Warn("config warning", "field", w.Field, "message", w.Message)
	}
	if migErr != nil {
		fmt.Fprintf(r.Stderr, "warning: %v (will retry on next start)\n", migErr)
	}

	return settings{manager: manager, store: kv, path: path, report: report, loadErr: err}, nil
}

func (r Runner) commandRun(ctx context.Context, configPath string, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{
		ProbeTimeout: 180 * time.Millisecond,
		Retries:      8,
		OnStale: func(_ context.Context, path string) {
			logger.Warn("removed stale socket", "path", path)
		},
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	loaded, err := r.loadSettings(configPath, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}

	eng, err := r.dialEngine(ctx, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("engine unavailable", "error", err.Error())
		return 1
	}
	defer func() { _ = eng.Close() }()

	b, err := broker.New(broker.Options{
		Settings: loaded.manager,
		Engine:   eng,
		Store:    loaded.store,
		Logger:   logger,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer b.Close()

	if err := b.Start(ctx, resourcePath()); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("broker start failed", "error", err.Error())
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ipc.Serve(gctx, listener, b)
	})
	g.Go(func() error {
		return b.PumpEvents(gctx)
	})

	logger.Info("serving", "socket", socketPath, "config", loaded.path)
	if err := g.Wait(); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("broker stopped", "error", err.Error())
		return 1
	}
	logger.Info("broker stopped", "connection", b.ConnectionState())
	return 0
}

func (r Runner) dialEngine(ctx context.Context, logger *slog.Logger) (engine.Engine, error) {
	if r.DialEngine != nil {
		return r.DialEngine(ctx, logger)
	}
	return engine.Dial(ctx, engine.DialConfig{Endpoint: engine.EndpointFromEnv(), Logger: logger})
}

// resourcePath is TOWERLINK_RESOURCES or the directory holding the executable.
func resourcePath() string {
	if dir := strings.TrimSpace(os.Getenv(ResourcesEnv)); dir != "" {
		return dir
	}
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "not running")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.ChannelStatus)
	if !handled {
		fmt.Fprintln(r.Stdout, "not running")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	var st broker.Status
	if err := json.Unmarshal(resp.Result, &st); err != nil {
		fmt.Fprintf(r.Stderr, "error: decode status: %v\n", err)
		return 1
	}
	if st.Connection == "" {
		st.Connection = "disconnected"
	}
	fmt.Fprintf(r.Stdout, "%s (ui=%d, config=v%d", st.Connection, st.Subscribers, st.ConfigVersion)
	if st.EngineVersion != "" {
		fmt.Fprintf(r.Stdout, ", engine=%s", st.EngineVersion)
	}
	if st.NeedsSetup {
		fmt.Fprint(r.Stdout, ", needs setup")
	}
	fmt.Fprintln(r.Stdout, ")")
	return 0
}

func (r Runner) commandSend(ctx context.Context, channel string, words []string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, channel, sendArgs(words)...)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: %s is not running\n", binaryName)
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(resp.Result) > 0 && string(resp.Result) != "null" {
		fmt.Fprintln(r.Stdout, string(resp.Result))
	}
	return 0
}

// sendArgs passes valid JSON through untouched and quotes everything else.
func sendArgs(words []string) []any {
	out := make([]any, 0, len(words))
	for _, w := range words {
		if json.Valid([]byte(w)) {
			out = append(out, json.RawMessage(w))
			continue
		}
		out = append(out, w)
	}
	return out
}

func (r Runner) commandWatch(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	events, err := ipc.Subscribe(ctx, socketPath, 220*time.Millisecond)
	if err != nil {
		if isSocketMissing(err) || isConnectionRefused(err) {
			fmt.Fprintf(r.Stderr, "error: %s is not running\n", binaryName)
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(r.Stdout)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
	}
	return 0
}

func (r Runner) commandConfig(configPath string, logger *slog.Logger) int {
	loaded, err := r.loadSettings(configPath, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	cfg, err := loaded.manager.Config()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	out, err := json.MarshalIndent(cfg.Redacted(), "", "  ")
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(r.Stdout, string(out))
	return 0
}

func (r Runner) commandMigrate(configPath string, logger *slog.Logger) int {
	loaded, err := r.loadSettings(configPath, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	for _, step := range loaded.report.Applied {
		fmt.Fprintf(r.Stdout, "applied %s\n", step)
	}
	if loaded.loadErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", loaded.loadErr)
		return 1
	}
	if len(loaded.report.Applied) == 0 {
		fmt.Fprintf(r.Stdout, "%s is up to date (version %d)\n", loaded.path, config.CurrentVersion)
		return 0
	}
	fmt.Fprintf(r.Stdout, "migrated %s from version %d to %d\n", loaded.path, loaded.report.FromVersion, config.CurrentVersion)
	return 0
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s %-6s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.Direction,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandDoctor(ctx context.Context, configPath string, logger *slog.Logger) int {
	in := doctor.Inputs{
		Secrets:        r.Secrets,
		EngineEndpoint: engine.EndpointFromEnv(),
	}
	loaded, err := r.loadSettings(configPath, logger)
	if err != nil {
		in.LoadErr = err
	} else {
		in.ConfigPath = loaded.path
		in.Load = loaded.report
		in.LoadErr = loaded.loadErr
	}

	report := doctor.Run(ctx, in)
	fmt.Fprintln(r.Stdout, report.String())
	if report.OK() {
		return 0
	}
	return 1
}

// tryForward reports handled=false when no broker is listening at socketPath.
func tryForward(ctx context.Context, socketPath string, channel string, args ...any) (ipc.Response, bool, error) {
	req, err := ipc.NewRequest(channel, args...)
	if err != nil {
		return ipc.Response{}, true, err
	}

	resp, err := ipc.Send(ctx, socketPath, req, 220*time.Millisecond)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward channel %q: %w", channel, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
