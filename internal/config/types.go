// Package config owns the persisted user settings: schema versions, migrations, and updates.
package config

import "fmt"

// CurrentVersion is the schema version every loaded record is brought forward to.
const CurrentVersion = 1

// AlwaysOnTopMode controls when the main window stays above other windows.
type AlwaysOnTopMode string

const (
	AlwaysOnTopNever      AlwaysOnTopMode = "never"
	AlwaysOnTopAlways     AlwaysOnTopMode = "always"
	AlwaysOnTopInMiniMode AlwaysOnTopMode = "inMiniMode"
)

// Valid reports whether m is one of the known modes.
func (m AlwaysOnTopMode) Valid() bool {
	switch m {
	case AlwaysOnTopNever, AlwaysOnTopAlways, AlwaysOnTopInMiniMode:
		return true
	default:
		return false
	}
}

// ParseAlwaysOnTopMode validates a mode received from the UI.
func ParseAlwaysOnTopMode(raw string) (AlwaysOnTopMode, error) {
	mode := AlwaysOnTopMode(raw)
	if !mode.Valid() {
		return "", fmt.Errorf("alwaysOnTop must be one of: never, always, inMiniMode (got %q)", raw)
	}
	return mode, nil
}

// Configuration is the fully migrated settings view used by the rest of the application.
type Configuration struct {
	Version int `json:"version"`

	AudioAPI              int    `json:"audioApi"`
	AudioInputDeviceID    string `json:"audioInputDeviceId"`
	HeadsetOutputDeviceID string `json:"headsetOutputDeviceId"`
	SpeakerOutputDeviceID string `json:"speakerOutputDeviceId"`

	CID string `json:"cid"`
	// EncryptedPassword is base64 text wrapping a secret.Box payload.
	EncryptedPassword string `json:"encryptedPassword,omitempty"`
	Callsign          string `json:"callsign"`

	HardwareType int     `json:"hardwareType"`
	RadioGain    float64 `json:"radioGain"`

	AlwaysOnTop AlwaysOnTopMode `json:"alwaysOnTop"`
	// ConsentedToTelemetry is nil until the user has been asked.
	ConsentedToTelemetry *bool `json:"consentedToTelemetry,omitempty"`
}

// clone returns a copy that shares no pointers with c.
func (c Configuration) clone() Configuration {
	out := c
	if c.ConsentedToTelemetry != nil {
		consent := *c.ConsentedToTelemetry
		out.ConsentedToTelemetry = &consent
	}
	return out
}

// Partial is a shallow update: nil fields are left untouched.
type Partial struct {
	AudioAPI              *int             `json:"audioApi,omitempty"`
	AudioInputDeviceID    *string          `json:"audioInputDeviceId,omitempty"`
	HeadsetOutputDeviceID *string          `json:"headsetOutputDeviceId,omitempty"`
	SpeakerOutputDeviceID *string          `json:"speakerOutputDeviceId,omitempty"`
	CID                   *string          `json:"cid,omitempty"`
	EncryptedPassword     *string          `json:"encryptedPassword,omitempty"`
	Callsign              *string          `json:"callsign,omitempty"`
	HardwareType          *int             `json:"hardwareType,omitempty"`
	RadioGain             *float64         `json:"radioGain,omitempty"`
	AlwaysOnTop           *AlwaysOnTopMode `json:"alwaysOnTop,omitempty"`
	ConsentedToTelemetry  *bool            `json:"consentedToTelemetry,omitempty"`
}

func (p Partial) applyTo(cfg *Configuration) {
	if p.AudioAPI != nil {
		cfg.AudioAPI = *p.AudioAPI
	}
	if p.AudioInputDeviceID != nil {
		cfg.AudioInputDeviceID = *p.AudioInputDeviceID
	}
	if p.HeadsetOutputDeviceID != nil {
		cfg.HeadsetOutputDeviceID = *p.HeadsetOutputDeviceID
	}
	if p.SpeakerOutputDeviceID != nil {
		cfg.SpeakerOutputDeviceID = *p.SpeakerOutputDeviceID
	}
	if p.CID != nil {
		cfg.CID = *p.CID
	}
	if p.EncryptedPassword != nil {
		cfg.EncryptedPassword = *p.EncryptedPassword
	}
	if p.Callsign != nil {
		cfg.Callsign = *p.Callsign
	}
	if p.HardwareType != nil {
		cfg.HardwareType = *p.HardwareType
	}
	if p.RadioGain != nil {
		cfg.RadioGain = *p.RadioGain
	}
	if p.AlwaysOnTop != nil {
		cfg.AlwaysOnTop = *p.AlwaysOnTop
	}
	if p.ConsentedToTelemetry != nil {
		consent := *p.ConsentedToTelemetry
		cfg.ConsentedToTelemetry = &consent
	}
}

// Warning is a non-fatal load or validation message.
type Warning struct {
	Field   string
	Message string
}

// LoadReport describes what Load found and changed.
type LoadReport struct {
	// FromVersion is the persisted version before migration; 0 when absent.
	FromVersion int
	Applied     []string
	Persisted   bool
	// Recovered holds the corruption that was replaced by defaults, if any.
	Recovered error
	Warnings  []Warning
}

// Redacted returns a JSON-friendly view with the encrypted password reduced to a presence flag.
func (c Configuration) Redacted() map[string]any {
	out := map[string]any{
		keyVersion:               c.Version,
		keyAudioAPI:              c.AudioAPI,
		keyAudioInputDeviceID:    c.AudioInputDeviceID,
		keyHeadsetOutputDeviceID: c.HeadsetOutputDeviceID,
		keySpeakerOutputDeviceID: c.SpeakerOutputDeviceID,
		keyCID:                   c.CID,
		keyCallsign:              c.Callsign,
		keyHardwareType:          c.HardwareType,
		keyRadioGain:             c.RadioGain,
		keyAlwaysOnTop:           string(c.AlwaysOnTop),
		"hasPassword":            c.EncryptedPassword != "",
	}
	if c.ConsentedToTelemetry != nil {
		out[keyConsentedToTelemetry] = *c.ConsentedToTelemetry
	}
	return out
}
