package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbright/towerlink/internal/config"
	"github.com/rbright/towerlink/internal/engine"
	"github.com/rbright/towerlink/internal/fsm"
	"github.com/rbright/towerlink/internal/ipc"
	"github.com/rbright/towerlink/internal/window"
)

// Status is the reply to the status channel.
type Status struct {
	Connection    fsm.State `json:"connection"`
	Subscribers   int       `json:"subscribers"`
	DroppedEvents int       `json:"droppedEvents"`
	ConfigVersion int       `json:"configVersion"`
	NeedsSetup    bool      `json:"needsSetup"`
	EngineVersion string    `json:"engineVersion,omitempty"`
}

func arg[T any](req ipc.Request, i int) (T, error) {
	var v T
	err := req.Arg(i, &v)
	return v, err
}

// optionalArg decodes argument i when present.
func optionalArg[T any](req ipc.Request, i int, fallback T) (T, error) {
	if i >= len(req.Args) {
		return fallback, nil
	}
	return arg[T](req, i)
}

// update builds a route that decodes one argument into a partial config update.
func update[T any](b *Broker, apply func(*config.Partial, *T), after func(context.Context, T) error) route {
	return func(ctx context.Context, req ipc.Request) (any, error) {
		value, err := arg[T](req, 0)
		if err != nil {
			return nil, err
		}
		var p config.Partial
		apply(&p, &value)
		if _, err := b.settings.Update(p); err != nil {
			return nil, err
		}
		if after != nil {
			if err := after(ctx, value); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

func (b *Broker) buildRoutes() map[string]route {
	return map[string]route{
		ipc.ChannelStatus: b.status,

		"get-configuration": func(context.Context, ipc.Request) (any, error) {
			cfg, err := b.settings.Config()
			if err != nil {
				return nil, err
			}
			return cfg.Redacted(), nil
		},
		"set-always-on-top": func(_ context.Context, req ipc.Request) (any, error) {
			raw, err := arg[string](req, 0)
			if err != nil {
				return nil, err
			}
			mode, err := config.ParseAlwaysOnTopMode(raw)
			if err != nil {
				return nil, err
			}
			return nil, b.window.ApplyAlwaysOnTop(mode)
		},
		"set-audio-api":             update(b, func(p *config.Partial, v *int) { p.AudioAPI = v }, nil),
		"set-audio-input-device":    update(b, func(p *config.Partial, v *string) { p.AudioInputDeviceID = v }, nil),
		"set-headset-output-device": update(b, func(p *config.Partial, v *string) { p.HeadsetOutputDeviceID = v }, nil),
		"set-speaker-output-device": update(b, func(p *config.Partial, v *string) { p.SpeakerOutputDeviceID = v }, nil),
		"set-cid":                   update(b, func(p *config.Partial, v *string) { p.CID = v }, b.engine.SetCid),
		"set-radio-gain":            update(b, func(p *config.Partial, v *float64) { p.RadioGain = v }, b.engine.SetRadioGain),
		"set-hardware-type":         update(b, func(p *config.Partial, v *int) { p.HardwareType = v }, b.engine.SetHardwareType),
		"change-telemetry":          update(b, func(p *config.Partial, v *bool) { p.ConsentedToTelemetry = v }, nil),

		"set-password": func(_ context.Context, req ipc.Request) (any, error) {
			password, err := arg[string](req, 0)
			if err != nil {
				return nil, err
			}
			return nil, b.settings.SetPassword(password)
		},
		"should-enable-renderer-telemetry": func(context.Context, ipc.Request) (any, error) {
			cfg, err := b.settings.Config()
			if err != nil {
				return nil, err
			}
			return cfg.ConsentedToTelemetry != nil && *cfg.ConsentedToTelemetry, nil
		},

		"audio-get-apis": func(ctx context.Context, _ ipc.Request) (any, error) {
			return b.engine.GetAudioApis(ctx)
		},
		"audio-get-input-devices": func(ctx context.Context, req ipc.Request) (any, error) {
			apiID, err := arg[string](req, 0)
			if err != nil {
				return nil, err
			}
			return b.engine.GetAudioInputDevices(ctx, apiID)
		},
		"audio-get-output-devices": func(ctx context.Context, req ipc.Request) (any, error) {
			apiID, err := arg[string](req, 0)
			if err != nil {
				return nil, err
			}
			return b.engine.GetAudioOutputDevices(ctx, apiID)
		},

		"connect":    b.connect,
		"disconnect": b.disconnect,

		"audio-add-frequency": func(ctx context.Context, req ipc.Request) (any, error) {
			frequency, err := arg[int](req, 0)
			if err != nil {
				return nil, err
			}
			callsign, err := arg[string](req, 1)
			if err != nil {
				return nil, err
			}
			return b.engine.AddFrequency(ctx, frequency, callsign)
		},
		"audio-remove-frequency": func(ctx context.Context, req ipc.Request) (any, error) {
			frequency, err := arg[int](req, 0)
			if err != nil {
				return nil, err
			}
			return nil, b.engine.RemoveFrequency(ctx, frequency)
		},
		"audio-set-frequency-state": b.setFrequencyState,
		"audio-get-frequency-state": func(ctx context.Context, req ipc.Request) (any, error) {
			frequency, err := arg[int](req, 0)
			if err != nil {
				return nil, err
			}
			return b.engine.GetFrequencyState(ctx, frequency)
		},
		"audio-is-frequency-active": func(ctx context.Context, req ipc.Request) (any, error) {
			frequency, err := arg[int](req, 0)
			if err != nil {
				return nil, err
			}
			return b.engine.IsFrequencyActive(ctx, frequency)
		},
		"get-station": func(ctx context.Context, req ipc.Request) (any, error) {
			callsign, err := arg[string](req, 0)
			if err != nil {
				return nil, err
			}
			return nil, b.engine.GetStation(ctx, callsign)
		},
		"refresh-station": func(ctx context.Context, req ipc.Request) (any, error) {
			callsign, err := arg[string](req, 0)
			if err != nil {
				return nil, err
			}
			return nil, b.engine.RefreshStation(ctx, callsign)
		},
		"setup-ptt": func(ctx context.Context, _ ipc.Request) (any, error) {
			return nil, b.engine.SetupPttBegin(ctx)
		},
		"request-ptt-key-name": func(ctx context.Context, _ ipc.Request) (any, error) {
			return nil, b.engine.RequestPttKeyName(ctx)
		},
		"start-mic-test": func(ctx context.Context, _ ipc.Request) (any, error) {
			cfg, err := b.settings.Config()
			if err != nil {
				return nil, err
			}
			if err := b.pushAudioSettings(ctx, cfg); err != nil {
				return nil, err
			}
			return nil, b.engine.StartMicTest(ctx)
		},
		"stop-mic-test": func(ctx context.Context, _ ipc.Request) (any, error) {
			b.emit(EventMicTest, "0.0", "0.0")
			return nil, b.engine.StopMicTest(ctx)
		},

		"toggle-mini-mode": func(context.Context, ipc.Request) (any, error) {
			return nil, b.window.ToggleMiniMode()
		},
		"window-state": func(_ context.Context, req ipc.Request) (any, error) {
			state, err := arg[window.State](req, 0)
			if err != nil {
				return nil, err
			}
			b.proxy.Report(state)
			b.window.HandleResize()
			return nil, nil
		},
		"flashFrame": func(context.Context, ipc.Request) (any, error) {
			b.window.Flash()
			return nil, nil
		},
		"settings-ready": func(context.Context, ipc.Request) (any, error) {
			if b.autoOpenSettings.CompareAndSwap(true, false) {
				b.emit(EventShowSettings)
			}
			return nil, nil
		},

		"close-me": b.closeWindow,

		"update-platform": func(context.Context, ipc.Request) (any, error) {
			return b.platform, nil
		},
		"get-version": func(context.Context, ipc.Request) (any, error) {
			return b.version.Load().(string), nil
		},
	}
}

func (b *Broker) status(context.Context, ipc.Request) (any, error) {
	st := Status{
		Connection:    b.conn.State(),
		Subscribers:   b.hub.Subscribers(),
		DroppedEvents: b.hub.Dropped(),
		NeedsSetup:    b.settings.NeedsSetup(),
		EngineVersion: b.version.Load().(string),
	}
	if cfg, err := b.settings.Config(); err == nil {
		st.ConfigVersion = cfg.Version
	}
	return st, nil
}

// connect returns false without calling the engine when credentials are
// missing. The audio settings are pushed before every attempt.
func (b *Broker) connect(ctx context.Context, _ ipc.Request) (any, error) {
	cfg, err := b.settings.Config()
	if err != nil {
		return nil, err
	}
	if cfg.EncryptedPassword == "" || cfg.CID == "" {
		return false, nil
	}

	if err := b.pushAudioSettings(ctx, cfg); err != nil {
		return nil, err
	}
	password, err := b.settings.Password()
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}

	b.fire(fsm.EventConnect)
	ok, err := b.engine.Connect(ctx, password)
	if err != nil {
		b.fire(fsm.EventFail)
		return nil, err
	}
	if !ok {
		b.fire(fsm.EventDisconnected)
	}
	return ok, nil
}

func (b *Broker) pushAudioSettings(ctx context.Context, cfg config.Configuration) error {
	err := b.engine.SetAudioSettings(ctx, engine.AudioSettings{
		AudioAPI:              cfg.AudioAPI,
		InputDeviceID:         cfg.AudioInputDeviceID,
		HeadsetOutputDeviceID: cfg.HeadsetOutputDeviceID,
		SpeakerOutputDeviceID: cfg.SpeakerOutputDeviceID,
	})
	if err != nil {
		return err
	}
	return b.engine.SetHardwareType(ctx, cfg.HardwareType)
}

func (b *Broker) disconnect(ctx context.Context, _ ipc.Request) (any, error) {
	if err := b.engine.Disconnect(ctx); err != nil {
		return nil, err
	}
	b.fire(fsm.EventDisconnect)
	return nil, nil
}

func (b *Broker) setFrequencyState(ctx context.Context, req ipc.Request) (any, error) {
	frequency, err := arg[int](req, 0)
	if err != nil {
		return nil, err
	}
	flags := make([]bool, 5)
	for i := range flags {
		if flags[i], err = arg[bool](req, i+1); err != nil {
			return nil, err
		}
	}
	return b.engine.SetFrequencyState(ctx, frequency, engine.FrequencyState{
		RX:                flags[0],
		TX:                flags[1],
		XC:                flags[2],
		OnSpeaker:         flags[3],
		CrossCoupleAcross: flags[4],
	})
}

// closeWindow asks the UI to confirm when a session is live. The UI re-sends
// close-me with true once the user agrees.
func (b *Broker) closeWindow(ctx context.Context, req ipc.Request) (any, error) {
	confirmed, err := optionalArg(req, 0, false)
	if err != nil {
		return nil, err
	}
	connected, err := b.engine.IsConnected(ctx)
	if err != nil {
		b.logger.Warn("could not query connection before close", "error", err.Error())
		connected = b.conn.State() == fsm.StateConnected
	}

	err = b.window.HandleClose(connected, func() bool { return confirmed })
	if errors.Is(err, window.ErrCloseCancelled) {
		b.emit(EventConfirmQuit)
		return false, nil
	}
	if err != nil {
		return nil, err
	}
	return true, nil
}
