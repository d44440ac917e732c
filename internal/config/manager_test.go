package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rbright/towerlink/internal/secret"
	"github.com/rbright/towerlink/internal/store"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

type failingKV struct {
	store.KV
	failMerge error
}

func (f *failingKV) Merge(values map[string]any, remove ...string) error {
	if f.failMerge != nil {
		return f.failMerge
	}
	return f.KV.Merge(values, remove...)
}

func openStore(t *testing.T, contents string) (*store.File, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	if contents != "" {
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	}
	f, err := store.Open(path, store.WithClearInvalid(true))
	require.NoError(t, err)
	return f, path
}

func newLoadedManager(t *testing.T, contents string) (*Manager, *store.File, string) {
	t.Helper()

	keyring.MockInit()
	f, path := openStore(t, contents)
	m := NewManager(WithSecrets(secret.NewKeyring()))
	require.NoError(t, m.SetStore(f))
	_, err := m.Load()
	require.NoError(t, err)
	return m, f, path
}

func readDocument(t *testing.T, path string) map[string]any {
	t.Helper()

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(content, &doc))
	return doc
}

func TestManagerRequiresStoreBeforeUse(t *testing.T) {
	m := NewManager()

	_, err := m.Load()
	require.ErrorIs(t, err, ErrUninitializedStore)

	_, err = m.Config()
	require.ErrorIs(t, err, ErrUninitializedStore)

	_, err = m.Update(Partial{})
	require.ErrorIs(t, err, ErrUninitializedStore)
}

func TestManagerRequiresLoadBeforeRead(t *testing.T) {
	f, _ := openStore(t, "")
	m := NewManager()
	require.NoError(t, m.SetStore(f))

	_, err := m.Config()
	require.ErrorIs(t, err, ErrNotLoaded)

	cid := "1234567"
	_, err = m.Update(Partial{CID: &cid})
	require.ErrorIs(t, err, ErrNotLoaded)
}

func TestManagerSetStoreOnlyOnce(t *testing.T) {
	f, _ := openStore(t, "")
	m := NewManager()
	require.NoError(t, m.SetStore(f))
	require.ErrorIs(t, m.SetStore(f), ErrStoreAlreadyBound)
	require.Error(t, NewManager().SetStore(nil))
}

func TestLoadFirstLaunchUsesDefaults(t *testing.T) {
	m, _, path := newLoadedManager(t, "")

	cfg, err := m.Config()
	require.NoError(t, err)
	require.Equal(t, -1, cfg.AudioAPI)
	require.Equal(t, AlwaysOnTopNever, cfg.AlwaysOnTop)
	require.Nil(t, cfg.ConsentedToTelemetry)
	require.Equal(t, CurrentVersion, cfg.Version)
	require.Equal(t, 0.5, cfg.RadioGain)
	require.True(t, m.NeedsSetup())
	require.True(t, m.NeedsTelemetryConsent())

	doc := readDocument(t, path)
	require.EqualValues(t, CurrentVersion, doc["version"])
	require.NotContains(t, doc, "consentedToTelemetry")
}

func TestLoadEmptyObjectRecord(t *testing.T) {
	m, _, _ := newLoadedManager(t, "{}")

	cfg, err := m.Config()
	require.NoError(t, err)
	require.Equal(t, -1, cfg.AudioAPI)
	require.Equal(t, AlwaysOnTopNever, cfg.AlwaysOnTop)
	require.Nil(t, cfg.ConsentedToTelemetry)
}

func TestLoadNormalizesBooleanAlwaysOnTop(t *testing.T) {
	tests := []struct {
		input string
		want  AlwaysOnTopMode
	}{
		{input: `{"alwaysOnTop": true}`, want: AlwaysOnTopAlways},
		{input: `{"alwaysOnTop": false}`, want: AlwaysOnTopNever},
		{input: `{"alwaysOnTop": "inMiniMode"}`, want: AlwaysOnTopInMiniMode},
		{input: `{"alwaysOnTop": "always", "version": 1}`, want: AlwaysOnTopAlways},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			m, _, path := newLoadedManager(t, tc.input)

			cfg, err := m.Config()
			require.NoError(t, err)
			require.Equal(t, tc.want, cfg.AlwaysOnTop)
			require.True(t, cfg.AlwaysOnTop.Valid())
			require.Equal(t, string(tc.want), readDocument(t, path)["alwaysOnTop"])
		})
	}
}

func TestLoadUnknownAlwaysOnTopDegradesWithWarning(t *testing.T) {
	keyring.MockInit()
	f, _ := openStore(t, `{"alwaysOnTop": "sometimes", "version": 1}`)
	m := NewManager(WithSecrets(secret.NewKeyring()))
	require.NoError(t, m.SetStore(f))

	report, err := m.Load()
	require.NoError(t, err)
	require.Contains(t, report.Applied, "normalize-always-on-top")
	require.NotEmpty(t, report.Warnings)
	require.Equal(t, "alwaysOnTop", report.Warnings[0].Field)

	cfg, err := m.Config()
	require.NoError(t, err)
	require.Equal(t, AlwaysOnTopNever, cfg.AlwaysOnTop)
}

func TestLoadEncryptsLegacyPassword(t *testing.T) {
	m, _, path := newLoadedManager(t, `{"alwaysOnTop": true, "password": "secret123"}`)

	cfg, err := m.Config()
	require.NoError(t, err)
	require.Equal(t, AlwaysOnTopAlways, cfg.AlwaysOnTop)
	require.NotEmpty(t, cfg.EncryptedPassword)

	_, err = base64.StdEncoding.DecodeString(cfg.EncryptedPassword)
	require.NoError(t, err)

	password, err := m.Password()
	require.NoError(t, err)
	require.Equal(t, "secret123", password)

	doc := readDocument(t, path)
	require.NotContains(t, doc, "password")
	require.Equal(t, cfg.EncryptedPassword, doc["encryptedPassword"])
	require.EqualValues(t, CurrentVersion, doc["version"])
}

func TestLoadDropsPlaintextWhenAlreadyEncrypted(t *testing.T) {
	m, _, path := newLoadedManager(t, `{"password": "stale", "encryptedPassword": "c2VhbGVk", "version": 1}`)

	cfg, err := m.Config()
	require.NoError(t, err)
	require.Equal(t, "c2VhbGVk", cfg.EncryptedPassword)
	require.NotContains(t, readDocument(t, path), "password")
}

func TestLoadEncryptionUnavailableKeepsLegacyPassword(t *testing.T) {
	keyring.MockInitWithError(errors.New("secret service not running"))
	f, path := openStore(t, `{"alwaysOnTop": false, "password": "secret123", "cid": "1234567"}`)
	m := NewManager(WithSecrets(secret.NewKeyring()))
	require.NoError(t, m.SetStore(f))

	report, err := m.Load()
	require.ErrorIs(t, err, ErrEncryptionUnavailable)
	require.ErrorIs(t, err, secret.ErrUnavailable)

	var migErr *MigrationError
	require.ErrorAs(t, err, &migErr)
	require.Equal(t, "encrypt-password", migErr.Step)
	require.Equal(t, []string{"normalize-always-on-top"}, report.Applied)

	cfg, cfgErr := m.Config()
	require.NoError(t, cfgErr)
	require.Equal(t, "1234567", cfg.CID)
	require.Equal(t, AlwaysOnTopNever, cfg.AlwaysOnTop)
	require.Empty(t, cfg.EncryptedPassword)
	require.Equal(t, 0, cfg.Version)

	doc := readDocument(t, path)
	require.Equal(t, "secret123", doc["password"])
	require.NotContains(t, doc, "version")
	require.Equal(t, "never", doc["alwaysOnTop"])

	// The next launch with a working keychain completes the migration.
	keyring.MockInit()
	reopened, err := store.Open(path)
	require.NoError(t, err)
	retry := NewManager(WithSecrets(secret.NewKeyring()))
	require.NoError(t, retry.SetStore(reopened))
	report, err = retry.Load()
	require.NoError(t, err)
	require.Equal(t, []string{"encrypt-password", "stamp-version"}, report.Applied)

	password, err := retry.Password()
	require.NoError(t, err)
	require.Equal(t, "secret123", password)
	require.NotContains(t, readDocument(t, path), "password")
}

func TestLoadWithoutSecretsBoxSurfacesError(t *testing.T) {
	f, path := openStore(t, `{"password": "secret123"}`)
	m := NewManager()
	require.NoError(t, m.SetStore(f))

	_, err := m.Load()
	require.ErrorIs(t, err, ErrEncryptionUnavailable)
	require.Equal(t, "secret123", readDocument(t, path)["password"])
}

func TestLoadTwiceIsByteIdentical(t *testing.T) {
	m, _, path := newLoadedManager(t, `{"alwaysOnTop": true, "password": "secret123", "callsign": "ABC_TWR"}`)

	first, err := os.ReadFile(path)
	require.NoError(t, err)
	before, err := m.Config()
	require.NoError(t, err)

	report, err := m.Load()
	require.NoError(t, err)
	require.Empty(t, report.Applied)
	require.False(t, report.Persisted)
	require.Equal(t, CurrentVersion, report.FromVersion)

	second, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))

	after, err := m.Config()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestMigrationPipelineIsIdempotent(t *testing.T) {
	keyring.MockInit()
	password := "secret123"
	rec := record{AlwaysOnTop: &alwaysOnTopField{mode: AlwaysOnTopAlways, legacy: true}, Password: &password}

	mig := &migrator{secrets: secret.NewKeyring()}
	applied, err := mig.run(&rec)
	require.NoError(t, err)
	require.Equal(t, []string{"normalize-always-on-top", "encrypt-password", "stamp-version"}, applied)
	migrated := rec.configuration()

	applied, err = mig.run(&rec)
	require.NoError(t, err)
	require.Empty(t, applied)
	require.Equal(t, migrated, rec.configuration())
}

func TestLoadRecoversCorruptFields(t *testing.T) {
	keyring.MockInit()
	f, path := openStore(t, `{"version": 1, "audioApi": "wasapi", "callsign": "ABC_TWR", "alwaysOnTop": 3}`)
	m := NewManager(WithSecrets(secret.NewKeyring()))
	require.NoError(t, m.SetStore(f))

	report, err := m.Load()
	require.NoError(t, err)

	var corrupt *CorruptRecordError
	require.ErrorAs(t, report.Recovered, &corrupt)
	require.Contains(t, corrupt.Fields, "audioApi")
	require.Contains(t, corrupt.Fields, "alwaysOnTop")
	require.True(t, report.Persisted)

	cfg, err := m.Config()
	require.NoError(t, err)
	require.Equal(t, -1, cfg.AudioAPI)
	require.Equal(t, "ABC_TWR", cfg.Callsign)
	require.Equal(t, AlwaysOnTopNever, cfg.AlwaysOnTop)

	doc := readDocument(t, path)
	require.EqualValues(t, -1, doc["audioApi"])
}

func TestLoadResetsOutOfRangeFields(t *testing.T) {
	tests := []struct {
		name  string
		field string
		doc   string
	}{
		{name: "negative radio gain", field: "radioGain", doc: `{"version": 1, "callsign": "ABC_TWR", "radioGain": -0.2}`},
		{name: "negative hardware type", field: "hardwareType", doc: `{"version": 1, "callsign": "ABC_TWR", "hardwareType": -1}`},
		{name: "audio api below unset", field: "audioApi", doc: `{"version": 1, "callsign": "ABC_TWR", "audioApi": -7}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			keyring.MockInit()
			f, path := openStore(t, tc.doc)
			m := NewManager(WithSecrets(secret.NewKeyring()))
			require.NoError(t, m.SetStore(f))

			report, err := m.Load()
			require.NoError(t, err)
			require.True(t, report.Persisted)

			var corrupt *CorruptRecordError
			require.ErrorAs(t, report.Recovered, &corrupt)
			require.Contains(t, corrupt.Fields, tc.field)
			require.Len(t, report.Warnings, 1)
			require.Equal(t, tc.field, report.Warnings[0].Field)

			cfg, err := m.Config()
			require.NoError(t, err)
			want := Default()
			want.Callsign = "ABC_TWR"
			require.Equal(t, want, cfg)

			cid := "1234567"
			updated, err := m.Update(Partial{CID: &cid})
			require.NoError(t, err)
			require.Equal(t, "1234567", updated.CID)

			doc := readDocument(t, path)
			require.Equal(t, "1234567", doc["cid"])
		})
	}
}

func TestLoadConsumesNullLegacyPassword(t *testing.T) {
	m, _, path := newLoadedManager(t, `{"version": 1, "password": null, "cid": "1234567"}`)

	cfg, err := m.Config()
	require.NoError(t, err)
	require.Empty(t, cfg.EncryptedPassword)
	require.Equal(t, "1234567", cfg.CID)
	require.NotContains(t, readDocument(t, path), "password")
}

func TestLoadRecoversCorruptDocument(t *testing.T) {
	keyring.MockInit()
	f, _ := openStore(t, `{"cid": "123"`)
	m := NewManager(WithSecrets(secret.NewKeyring()))
	require.NoError(t, m.SetStore(f))

	report, err := m.Load()
	require.NoError(t, err)

	var corrupt *store.CorruptDocumentError
	require.ErrorAs(t, report.Recovered, &corrupt)

	cfg, err := m.Config()
	require.NoError(t, err)
	require.Equal(t, -1, cfg.AudioAPI)
	require.Nil(t, cfg.ConsentedToTelemetry)
}

func TestLoadKeepsNewerVersion(t *testing.T) {
	m, _, _ := newLoadedManager(t, `{"version": 7, "cid": "1"}`)

	cfg, err := m.Config()
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Version)
}

func TestLoadPreservesSiblingKeys(t *testing.T) {
	_, _, path := newLoadedManager(t, `{"bounds": {"x": 1, "y": 2, "width": 800, "height": 660}, "alwaysOnTop": true}`)

	doc := readDocument(t, path)
	require.Contains(t, doc, "bounds")
	require.Equal(t, "always", doc["alwaysOnTop"])
}

func TestUpdateMergesShallowly(t *testing.T) {
	m, _, path := newLoadedManager(t, `{"callsign": "ABC_TWR", "version": 1}`)

	cid := "1234567"
	cfg, err := m.Update(Partial{CID: &cid})
	require.NoError(t, err)
	require.Equal(t, "1234567", cfg.CID)
	require.Equal(t, "ABC_TWR", cfg.Callsign)

	current, err := m.Config()
	require.NoError(t, err)
	require.Equal(t, cfg, current)

	doc := readDocument(t, path)
	require.Equal(t, "1234567", doc["cid"])
	require.Equal(t, "ABC_TWR", doc["callsign"])
}

func TestUpdatePersistedRecordMatchesMemory(t *testing.T) {
	m, f, _ := newLoadedManager(t, "")

	api := 2
	gain := 0.8
	mode := AlwaysOnTopInMiniMode
	consent := false
	input := "mic-1"
	_, err := m.Update(Partial{
		AudioAPI:             &api,
		RadioGain:            &gain,
		AlwaysOnTop:          &mode,
		ConsentedToTelemetry: &consent,
		AudioInputDeviceID:   &input,
	})
	require.NoError(t, err)

	reloaded := NewManager()
	require.NoError(t, reloaded.SetStore(f))
	_, err = reloaded.Load()
	require.NoError(t, err)

	want, err := m.Config()
	require.NoError(t, err)
	got, err := reloaded.Config()
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.False(t, m.NeedsSetup())
	require.False(t, m.NeedsTelemetryConsent())
}

func TestUpdateRejectsInvalidAndKeepsState(t *testing.T) {
	m, _, _ := newLoadedManager(t, "")

	bad := AlwaysOnTopMode("sometimes")
	_, err := m.Update(Partial{AlwaysOnTop: &bad})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid config update")

	cfg, err := m.Config()
	require.NoError(t, err)
	require.Equal(t, AlwaysOnTopNever, cfg.AlwaysOnTop)
}

func TestUpdatePersistFailureRollsBack(t *testing.T) {
	keyring.MockInit()
	f, _ := openStore(t, `{"callsign": "ABC_TWR", "version": 1}`)
	kv := &failingKV{KV: f}
	m := NewManager(WithSecrets(secret.NewKeyring()))
	require.NoError(t, m.SetStore(kv))
	_, err := m.Load()
	require.NoError(t, err)

	kv.failMerge = errors.New("disk full")
	callsign := "XYZ_APP"
	_, err = m.Update(Partial{Callsign: &callsign})
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")

	cfg, err := m.Config()
	require.NoError(t, err)
	require.Equal(t, "ABC_TWR", cfg.Callsign)
}

func TestConfigReturnsIndependentCopy(t *testing.T) {
	m, _, _ := newLoadedManager(t, `{"consentedToTelemetry": true, "version": 1}`)

	cfg, err := m.Config()
	require.NoError(t, err)
	*cfg.ConsentedToTelemetry = false

	again, err := m.Config()
	require.NoError(t, err)
	require.True(t, *again.ConsentedToTelemetry)
}

func TestSetPasswordRoundTrip(t *testing.T) {
	m, _, path := newLoadedManager(t, "")

	require.NoError(t, m.SetPassword("hunter2"))
	password, err := m.Password()
	require.NoError(t, err)
	require.Equal(t, "hunter2", password)
	require.NotContains(t, readDocument(t, path), "password")
}

func TestPasswordEmptyWhenUnset(t *testing.T) {
	m, _, _ := newLoadedManager(t, "")

	password, err := m.Password()
	require.NoError(t, err)
	require.Empty(t, password)
}

func TestRedactedHidesEncryptedPassword(t *testing.T) {
	cfg := Default()
	cfg.EncryptedPassword = "c2VhbGVk"
	cfg.CID = "1234567"

	view := cfg.Redacted()
	require.NotContains(t, view, "encryptedPassword")
	require.NotContains(t, view, "consentedToTelemetry")
	require.Equal(t, true, view["hasPassword"])
	require.Equal(t, "never", view["alwaysOnTop"])
	require.Equal(t, "1234567", view["cid"])
	require.Equal(t, 0.5, view["radioGain"])

	consent := true
	cfg.ConsentedToTelemetry = &consent
	cfg.EncryptedPassword = ""
	view = cfg.Redacted()
	require.Equal(t, true, view["consentedToTelemetry"])
	require.Equal(t, false, view["hasPassword"])
}
