package config

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rbright/towerlink/internal/store"
)

// Top-level keys of the settings document owned by this package.
const (
	keyVersion               = "version"
	keyAudioAPI              = "audioApi"
	keyAudioInputDeviceID    = "audioInputDeviceId"
	keyHeadsetOutputDeviceID = "headsetOutputDeviceId"
	keySpeakerOutputDeviceID = "speakerOutputDeviceId"
	keyCID                   = "cid"
	keyPassword              = "password"
	keyEncryptedPassword     = "encryptedPassword"
	keyCallsign              = "callsign"
	keyHardwareType          = "hardwareType"
	keyRadioGain             = "radioGain"
	keyAlwaysOnTop           = "alwaysOnTop"
	keyConsentedToTelemetry  = "consentedToTelemetry"
)

// record is the superset of every historical persisted shape.
// Absent keys stay nil so migrations can detect shape by presence.
type record struct {
	Version               *int
	AudioAPI              *int
	AudioInputDeviceID    *string
	HeadsetOutputDeviceID *string
	SpeakerOutputDeviceID *string
	CID                   *string
	Password              *string
	EncryptedPassword     *string
	Callsign              *string
	HardwareType          *int
	RadioGain             *float64
	AlwaysOnTop           *alwaysOnTopField
	ConsentedToTelemetry  *bool

	// dropLegacyPassword is set once the plaintext password has been consumed.
	dropLegacyPassword bool
}

// alwaysOnTopField accepts both the boolean and the enum representation.
type alwaysOnTopField struct {
	mode    AlwaysOnTopMode
	legacy  bool
	invalid string
}

func (f *alwaysOnTopField) UnmarshalJSON(data []byte) error {
	var flag bool
	if err := json.Unmarshal(data, &flag); err == nil {
		f.legacy = true
		f.mode = AlwaysOnTopNever
		if flag {
			f.mode = AlwaysOnTopAlways
		}
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("expected boolean or one of never, always, inMiniMode")
	}

	mode := AlwaysOnTopMode(text)
	if !mode.Valid() {
		f.invalid = text
		f.mode = AlwaysOnTopNever
		return nil
	}
	f.mode = mode
	return nil
}

// needsNormalizing reports a persisted form other than the enum.
func (f *alwaysOnTopField) needsNormalizing() bool {
	return f != nil && (f.legacy || f.invalid != "")
}

// readRecord decodes the owned keys one at a time so a single bad value
// does not discard the rest of the record.
func readRecord(kv store.KV) (record, *CorruptRecordError) {
	var rec record
	corrupt := map[string]error{}

	decodeField(kv, keyVersion, &rec.Version, corrupt)
	decodeField(kv, keyAudioAPI, &rec.AudioAPI, corrupt)
	decodeField(kv, keyAudioInputDeviceID, &rec.AudioInputDeviceID, corrupt)
	decodeField(kv, keyHeadsetOutputDeviceID, &rec.HeadsetOutputDeviceID, corrupt)
	decodeField(kv, keySpeakerOutputDeviceID, &rec.SpeakerOutputDeviceID, corrupt)
	decodeField(kv, keyCID, &rec.CID, corrupt)
	decodeField(kv, keyPassword, &rec.Password, corrupt)
	decodeField(kv, keyEncryptedPassword, &rec.EncryptedPassword, corrupt)
	decodeField(kv, keyCallsign, &rec.Callsign, corrupt)
	decodeField(kv, keyHardwareType, &rec.HardwareType, corrupt)
	decodeField(kv, keyRadioGain, &rec.RadioGain, corrupt)
	decodeField(kv, keyAlwaysOnTop, &rec.AlwaysOnTop, corrupt)
	decodeField(kv, keyConsentedToTelemetry, &rec.ConsentedToTelemetry, corrupt)

	checkField(keyAudioAPI, &rec.AudioAPI, validateAudioAPI, corrupt)
	checkField(keyHardwareType, &rec.HardwareType, validateHardwareType, corrupt)
	checkField(keyRadioGain, &rec.RadioGain, validateRadioGain, corrupt)

	// An explicit null password is consumed like an empty one.
	if rec.Password == nil && kv.Has(keyPassword) {
		empty := ""
		rec.Password = &empty
	}

	if len(corrupt) == 0 {
		return rec, nil
	}
	return rec, &CorruptRecordError{Fields: corrupt}
}

func decodeField[T any](kv store.KV, key string, dst **T, corrupt map[string]error) {
	raw, ok := kv.Get(key)
	if !ok {
		return
	}
	var value *T
	if err := json.Unmarshal(raw, &value); err != nil {
		corrupt[key] = err
		return
	}
	*dst = value
}

// checkField drops a decoded value that is out of range so the default applies.
func checkField[T any](key string, value **T, check func(T) error, corrupt map[string]error) {
	if *value == nil {
		return
	}
	if err := check(**value); err != nil {
		corrupt[key] = err
		*value = nil
	}
}

// configuration fills absent fields with defaults.
func (r record) configuration() Configuration {
	cfg := Default()
	cfg.Version = 0
	if r.Version != nil {
		cfg.Version = *r.Version
	}
	if r.AudioAPI != nil {
		cfg.AudioAPI = *r.AudioAPI
	}
	if r.AudioInputDeviceID != nil {
		cfg.AudioInputDeviceID = *r.AudioInputDeviceID
	}
	if r.HeadsetOutputDeviceID != nil {
		cfg.HeadsetOutputDeviceID = *r.HeadsetOutputDeviceID
	}
	if r.SpeakerOutputDeviceID != nil {
		cfg.SpeakerOutputDeviceID = *r.SpeakerOutputDeviceID
	}
	if r.CID != nil {
		cfg.CID = *r.CID
	}
	if r.EncryptedPassword != nil {
		cfg.EncryptedPassword = *r.EncryptedPassword
	}
	if r.Callsign != nil {
		cfg.Callsign = *r.Callsign
	}
	if r.HardwareType != nil {
		cfg.HardwareType = *r.HardwareType
	}
	if r.RadioGain != nil {
		cfg.RadioGain = *r.RadioGain
	}
	if r.AlwaysOnTop != nil {
		cfg.AlwaysOnTop = r.AlwaysOnTop.mode
	}
	if r.ConsentedToTelemetry != nil {
		consent := *r.ConsentedToTelemetry
		cfg.ConsentedToTelemetry = &consent
	}
	return cfg
}

// persistedValues maps a configuration onto document writes and removals.
// The legacy password key is only removed when dropLegacyPassword is set and
// is otherwise left as it is on disk.
func persistedValues(cfg Configuration, dropLegacyPassword bool) (map[string]any, []string) {
	values := map[string]any{
		keyAudioAPI:              cfg.AudioAPI,
		keyAudioInputDeviceID:    cfg.AudioInputDeviceID,
		keyHeadsetOutputDeviceID: cfg.HeadsetOutputDeviceID,
		keySpeakerOutputDeviceID: cfg.SpeakerOutputDeviceID,
		keyCID:                   cfg.CID,
		keyCallsign:              cfg.Callsign,
		keyHardwareType:          cfg.HardwareType,
		keyRadioGain:             cfg.RadioGain,
		keyAlwaysOnTop:           cfg.AlwaysOnTop,
	}
	var remove []string

	if cfg.Version > 0 {
		values[keyVersion] = cfg.Version
	} else {
		remove = append(remove, keyVersion)
	}
	if cfg.EncryptedPassword != "" {
		values[keyEncryptedPassword] = cfg.EncryptedPassword
	} else {
		remove = append(remove, keyEncryptedPassword)
	}
	if cfg.ConsentedToTelemetry != nil {
		values[keyConsentedToTelemetry] = *cfg.ConsentedToTelemetry
	} else {
		remove = append(remove, keyConsentedToTelemetry)
	}
	if dropLegacyPassword {
		remove = append(remove, keyPassword)
	}
	return values, remove
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
