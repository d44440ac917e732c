// Package window keeps the main window's geometry, mini mode, and on-top state.
package window

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rbright/towerlink/internal/config"
	"github.com/rbright/towerlink/internal/store"
)

const (
	DefaultWidth  = 800
	DefaultHeight = 660
	MinWidth      = 210
	MinHeight     = 120

	// MiniModeBreakpoint is the content width at or below which the window is in mini mode.
	MiniModeBreakpoint = 330
	// DefaultMiniWidth is used the first time mini mode is entered.
	DefaultMiniWidth = 300

	keyBounds     = "bounds"
	keyMiniBounds = "miniBounds"
)

// Mode selects which saved bounds to restore.
type Mode string

const (
	ModeMaxi Mode = "maxi"
	ModeMini Mode = "mini"
)

// Rect is a window rectangle in screen coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Window is the native window surface driven by the manager.
type Window interface {
	Bounds() Rect
	SetBounds(Rect)
	ContentSize() (width, height int)
	SetSize(width, height int)
	IsMaximized() bool
	Unmaximize()
	SetAlwaysOnTop(bool)
	FlashFrame(bool)
	Close()
}

// Screen resolves the display work area for a rectangle.
type Screen interface {
	WorkAreaMatching(Rect) Rect
}

// Settings is the slice of config.Manager used here.
type Settings interface {
	Config() (config.Configuration, error)
	Update(config.Partial) (config.Configuration, error)
}

// Manager applies window policy on top of a Window.
type Manager struct {
	win      Window
	screen   Screen
	store    store.KV
	settings Settings
	logger   *slog.Logger
}

// NewManager wires a manager. logger may be nil.
func NewManager(win Window, screen Screen, kv store.KV, settings Settings, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{win: win, screen: screen, store: kv, settings: settings, logger: logger}
}

// InMiniMode reports whether the content width is at or below the breakpoint.
func (m *Manager) InMiniMode() bool {
	width, _ := m.win.ContentSize()
	return width <= MiniModeBreakpoint
}

// SaveBounds stores the current bounds under the key for the current mode.
func (m *Manager) SaveBounds() error {
	key := keyBounds
	if m.InMiniMode() {
		key = keyMiniBounds
	}
	if err := m.store.Set(key, m.win.Bounds()); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// RestoreBounds applies the saved bounds for mode.
//
// Bounds whose origin falls outside the matching work area are replaced with
// the default size at the origin. With nothing saved, entering mini mode only
// shrinks the window to the default mini width.
func (m *Manager) RestoreBounds(mode Mode) {
	saved, ok := m.savedBounds(mode)
	if !ok {
		if mode == ModeMini {
			m.win.SetSize(DefaultMiniWidth, 1)
		}
		return
	}

	area := m.screen.WorkAreaMatching(saved)
	if saved.X > area.X+area.Width ||
		saved.X < area.X ||
		saved.Y < area.Y ||
		saved.Y > area.Y+area.Height {
		m.win.SetBounds(Rect{Width: DefaultWidth, Height: DefaultHeight})
		return
	}
	m.win.SetBounds(saved)
}

func (m *Manager) savedBounds(mode Mode) (Rect, bool) {
	key := keyBounds
	if mode == ModeMini {
		key = keyMiniBounds
	}

	raw, ok := m.store.Get(key)
	if !ok || string(raw) == "null" {
		return Rect{}, false
	}
	var r Rect
	if err := json.Unmarshal(raw, &r); err != nil {
		m.logger.Warn("ignoring unreadable saved bounds", "key", key, "error", err.Error())
		return Rect{}, false
	}
	return r, true
}

// ToggleMiniMode switches between the full and mini layouts.
func (m *Manager) ToggleMiniMode() error {
	// A maximized window ignores SetBounds until it is restored.
	if m.win.IsMaximized() {
		m.win.Unmaximize()
	}

	wasMini := m.InMiniMode()
	if err := m.SaveBounds(); err != nil {
		return err
	}
	if wasMini {
		m.RestoreBounds(ModeMaxi)
	} else {
		m.RestoreBounds(ModeMini)
	}
	m.HandleResize()
	return nil
}

// HandleResize keeps the on-top flag in step with mini mode when configured to.
func (m *Manager) HandleResize() {
	cfg, err := m.settings.Config()
	if err != nil {
		return
	}
	if cfg.AlwaysOnTop == config.AlwaysOnTopInMiniMode {
		m.win.SetAlwaysOnTop(m.InMiniMode())
	}
}

// ApplyAlwaysOnTop persists mode and sets the on-top flag for it.
func (m *Manager) ApplyAlwaysOnTop(mode config.AlwaysOnTopMode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown alwaysOnTop mode %q", mode)
	}
	m.win.SetAlwaysOnTop(mode == config.AlwaysOnTopAlways)
	if _, err := m.settings.Update(config.Partial{AlwaysOnTop: &mode}); err != nil {
		return err
	}
	return nil
}

// ApplyStartup restores the full-size bounds and the configured on-top state.
func (m *Manager) ApplyStartup() {
	m.RestoreBounds(ModeMaxi)
	cfg, err := m.settings.Config()
	if err != nil {
		return
	}
	m.win.SetAlwaysOnTop(cfg.AlwaysOnTop == config.AlwaysOnTopAlways)
}

// ErrCloseCancelled is returned by HandleClose when the user declines to quit.
var ErrCloseCancelled = errors.New("close cancelled")

// HandleClose runs the close policy: a connected session needs confirm to
// return true. Bounds are saved before the window closes.
func (m *Manager) HandleClose(connected bool, confirm func() bool) error {
	if connected && (confirm == nil || !confirm()) {
		return ErrCloseCancelled
	}
	if err := m.SaveBounds(); err != nil {
		m.logger.Error("save bounds on close failed", "error", err.Error())
	}
	m.win.Close()
	return nil
}

// Flash requests user attention.
func (m *Manager) Flash() {
	m.win.FlashFrame(true)
}
