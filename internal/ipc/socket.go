package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

var ErrAlreadyRunning = errors.New("towerlink is already running")

// RuntimeSocketPath returns TOWERLINK_SOCKET when set, otherwise
// $XDG_RUNTIME_DIR/towerlink.sock.
func RuntimeSocketPath() (string, error) {
	if override := strings.TrimSpace(os.Getenv("TOWERLINK_SOCKET")); override != "" {
		return override, nil
	}
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, "towerlink.sock"), nil
}

// AcquireOptions tune single-instance socket acquisition.
type AcquireOptions struct {
	ProbeTimeout time.Duration
	Retries      int
	// OnStale runs after a dead socket file has been removed.
	OnStale func(ctx context.Context, path string)
}

// Acquire listens on path, taking over a stale socket left by a crashed
// instance. It returns ErrAlreadyRunning when a live broker answers there.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (net.Listener, error) {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 200 * time.Millisecond
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; attempt <= opts.Retries; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return listener, nil
		}

		if !isAddrInUse(err) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}

		alive, probeErr := Probe(ctx, path, opts.ProbeTimeout)
		if alive {
			return nil, ErrAlreadyRunning
		}
		if probeErr != nil {
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}

		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, removeErr)
		}
		if opts.OnStale != nil {
			opts.OnStale(ctx, path)
		}

		if attempt < opts.Retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
			}
		}
	}

	return nil, fmt.Errorf("failed to acquire socket %s after %d retries", path, opts.Retries)
}

func isAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.EADDRINUSE) || strings.Contains(err.Error(), "address already in use")
}
