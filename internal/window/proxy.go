package window

import "sync"

// Commands emitted to the UI process.
const (
	EventSetBounds      = "window-set-bounds"
	EventSetSize        = "window-set-size"
	EventUnmaximize     = "window-unmaximize"
	EventSetAlwaysOnTop = "window-set-always-on-top"
	EventFlashFrame     = "window-flash-frame"
	EventClose          = "window-close"
)

// State is the geometry the UI reports on the window-state channel.
type State struct {
	Bounds        Rect `json:"bounds"`
	ContentWidth  int  `json:"contentWidth"`
	ContentHeight int  `json:"contentHeight"`
	Maximized     bool `json:"maximized"`
	WorkArea      Rect `json:"workArea"`
	AlwaysOnTop   bool `json:"alwaysOnTop"`
}

// Emitter sends one event to the UI.
type Emitter func(channel string, args ...any)

// Proxy is a Window and Screen backed by state reported from the UI process.
// Commands update the cache optimistically and are forwarded as events.
type Proxy struct {
	emit Emitter

	mu    sync.Mutex
	state State
}

// NewProxy returns a proxy seeded with the default window size.
func NewProxy(emit Emitter) *Proxy {
	if emit == nil {
		emit = func(string, ...any) {}
	}
	return &Proxy{
		emit: emit,
		state: State{
			Bounds:        Rect{Width: DefaultWidth, Height: DefaultHeight},
			ContentWidth:  DefaultWidth,
			ContentHeight: DefaultHeight,
		},
	}
}

// Report replaces the cached state with what the UI observed.
func (p *Proxy) Report(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Snapshot returns the cached state.
func (p *Proxy) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Proxy) Bounds() Rect {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Bounds
}

func (p *Proxy) SetBounds(r Rect) {
	r.Width = max(r.Width, MinWidth)
	r.Height = max(r.Height, MinHeight)

	p.mu.Lock()
	p.state.Bounds = r
	p.state.ContentWidth = r.Width
	p.state.ContentHeight = r.Height
	p.mu.Unlock()
	p.emit(EventSetBounds, r)
}

func (p *Proxy) ContentSize() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.ContentWidth, p.state.ContentHeight
}

// SetSize clamps to the minimum window size, as the native window would.
func (p *Proxy) SetSize(width, height int) {
	width = max(width, MinWidth)
	height = max(height, MinHeight)

	p.mu.Lock()
	p.state.Bounds.Width = width
	p.state.Bounds.Height = height
	p.state.ContentWidth = width
	p.state.ContentHeight = height
	p.mu.Unlock()
	p.emit(EventSetSize, width, height)
}

func (p *Proxy) IsMaximized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Maximized
}

func (p *Proxy) Unmaximize() {
	p.mu.Lock()
	p.state.Maximized = false
	p.mu.Unlock()
	p.emit(EventUnmaximize)
}

func (p *Proxy) SetAlwaysOnTop(onTop bool) {
	p.mu.Lock()
	p.state.AlwaysOnTop = onTop
	p.mu.Unlock()
	p.emit(EventSetAlwaysOnTop, onTop)
}

func (p *Proxy) FlashFrame(flash bool) {
	p.emit(EventFlashFrame, flash)
}

func (p *Proxy) Close() {
	p.emit(EventClose)
}

// WorkAreaMatching returns the reported work area. Until the UI has reported
// one, every rectangle is treated as on-screen.
func (p *Proxy) WorkAreaMatching(r Rect) Rect {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.WorkArea == (Rect{}) {
		return r
	}
	return p.state.WorkArea
}
