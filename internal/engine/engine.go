// Package engine bridges the shell to the native voice engine process over gRPC.
package engine

import "context"

// EventKind names an asynchronous engine event.
type EventKind string

const (
	EventVuMeter                    EventKind = "VuMeter"
	EventFrequencyRxBegin           EventKind = "FrequencyRxBegin"
	EventFrequencyRxEnd             EventKind = "FrequencyRxEnd"
	EventStationRxBegin             EventKind = "StationRxBegin"
	EventStationTransceiversUpdated EventKind = "StationTransceiversUpdated"
	EventStationStateUpdate         EventKind = "StationStateUpdate"
	EventStationDataReceived        EventKind = "StationDataReceived"
	EventPttState                   EventKind = "PttState"
	EventError                      EventKind = "Error"
	EventVoiceConnected             EventKind = "VoiceConnected"
	EventVoiceDisconnected          EventKind = "VoiceDisconnected"
	EventNetworkConnected           EventKind = "NetworkConnected"
	EventNetworkDisconnected        EventKind = "NetworkDisconnected"
	EventPttKeySet                  EventKind = "PttKeySet"
)

// Event is one engine callback. Args carry up to two string payloads.
type Event struct {
	Kind EventKind `json:"kind"`
	Args []string  `json:"args,omitempty"`
}

// Arg returns the i-th argument or "".
func (e Event) Arg(i int) string {
	if i < 0 || i >= len(e.Args) {
		return ""
	}
	return e.Args[i]
}

// BootstrapResult reports whether this build may run against the network.
type BootstrapResult struct {
	CanRun     bool   `json:"canRun"`
	NeedUpdate bool   `json:"needUpdate"`
	Version    string `json:"version"`
}

// AudioAPI is one host audio backend.
type AudioAPI struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AudioDevice is one input or output device of an audio API.
type AudioDevice struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}

// AudioSettings selects the devices used for the session.
type AudioSettings struct {
	AudioAPI              int    `json:"audioApi"`
	InputDeviceID         string `json:"inputDeviceId"`
	HeadsetOutputDeviceID string `json:"headsetOutputDeviceId"`
	SpeakerOutputDeviceID string `json:"speakerOutputDeviceId"`
}

// FrequencyState is the routing of one radio frequency.
type FrequencyState struct {
	RX                bool `json:"rx"`
	TX                bool `json:"tx"`
	XC                bool `json:"xc"`
	OnSpeaker         bool `json:"onSpeaker"`
	CrossCoupleAcross bool `json:"crossCoupleAcross"`
}

// Engine is the native engine call surface.
type Engine interface {
	Bootstrap(ctx context.Context, resourcePath string) (BootstrapResult, error)
	SetCid(ctx context.Context, cid string) error
	SetRadioGain(ctx context.Context, gain float64) error
	SetHardwareType(ctx context.Context, hardwareType int) error
	SetAudioSettings(ctx context.Context, settings AudioSettings) error
	GetAudioApis(ctx context.Context) ([]AudioAPI, error)
	GetAudioInputDevices(ctx context.Context, apiID string) ([]AudioDevice, error)
	GetAudioOutputDevices(ctx context.Context, apiID string) ([]AudioDevice, error)
	Connect(ctx context.Context, password string) (bool, error)
	Disconnect(ctx context.Context) error
	IsConnected(ctx context.Context) (bool, error)
	AddFrequency(ctx context.Context, frequency int, callsign string) (bool, error)
	RemoveFrequency(ctx context.Context, frequency int) error
	SetFrequencyState(ctx context.Context, frequency int, state FrequencyState) (bool, error)
	GetFrequencyState(ctx context.Context, frequency int) (FrequencyState, error)
	IsFrequencyActive(ctx context.Context, frequency int) (bool, error)
	GetStation(ctx context.Context, callsign string) error
	RefreshStation(ctx context.Context, callsign string) error
	SetupPttBegin(ctx context.Context) error
	RequestPttKeyName(ctx context.Context) error
	StartMicTest(ctx context.Context) error
	StopMicTest(ctx context.Context) error
	// Events streams callbacks until ctx is done or the engine goes away.
	Events(ctx context.Context) (<-chan Event, error)
	Close() error
}
