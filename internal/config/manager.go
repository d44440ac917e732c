package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rbright/towerlink/internal/secret"
	"github.com/rbright/towerlink/internal/store"
)

// Manager holds the authoritative in-memory configuration.
//
// Lifecycle: SetStore, then Load, then any number of Config/Update calls.
// Calls made out of order fail with ErrUninitializedStore or ErrNotLoaded.
type Manager struct {
	secrets secret.Box
	logger  *slog.Logger

	mu      sync.RWMutex
	store   store.KV
	current *Configuration
}

// Option customizes a Manager.
type Option func(*Manager)

// WithSecrets sets the capability used to encrypt passwords.
func WithSecrets(box secret.Box) Option {
	return func(m *Manager) {
		m.secrets = box
	}
}

// WithLogger sets the structured logger for migration and persistence events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager constructs an unbound manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	return m
}

// SetStore binds the persistent store. It may be called once.
func (m *Manager) SetStore(kv store.KV) error {
	if kv == nil {
		return errors.New("config store must not be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store != nil {
		return ErrStoreAlreadyBound
	}
	m.store = kv
	return nil
}

// Load reads the persisted record, migrates it to CurrentVersion, writes it
// back when anything changed, and makes it the current configuration.
//
// A migration failure still leaves a usable configuration loaded; the error is
// a *MigrationError and the failed step is retried on the next Load.
func (m *Manager) Load() (LoadReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store == nil {
		return LoadReport{}, ErrUninitializedStore
	}

	var report LoadReport
	if recoverer, ok := m.store.(interface{ Recovered() error }); ok {
		report.Recovered = recoverer.Recovered()
	}

	rec, corrupt := readRecord(m.store)
	if corrupt != nil {
		m.logger.Warn("config record has invalid fields; using defaults", "error", corrupt.Error())
		if report.Recovered == nil {
			report.Recovered = corrupt
		} else {
			report.Recovered = errors.Join(report.Recovered, corrupt)
		}
		for _, field := range sortedKeys(corrupt.Fields) {
			report.Warnings = append(report.Warnings, Warning{
				Field:   field,
				Message: fmt.Sprintf("invalid value replaced with default: %v", corrupt.Fields[field]),
			})
		}
	}
	if rec.Version != nil {
		report.FromVersion = *rec.Version
	}
	if report.FromVersion > CurrentVersion {
		report.Warnings = append(report.Warnings, Warning{
			Field:   keyVersion,
			Message: fmt.Sprintf("settings were written by a newer version (%d); keeping them as-is", report.FromVersion),
		})
	}

	mig := &migrator{secrets: m.secrets}
	applied, migrateErr := mig.run(&rec)
	report.Applied = applied
	report.Warnings = append(report.Warnings, mig.warnings...)

	cfg := rec.configuration()
	if len(applied) > 0 || corrupt != nil {
		values, remove := persistedValues(cfg, rec.dropLegacyPassword)
		if err := m.store.Merge(values, remove...); err != nil {
			return report, fmt.Errorf("persist migrated config: %w", err)
		}
		report.Persisted = true
	}

	m.current = &cfg
	m.logger.Info("config loaded",
		"from_version", report.FromVersion,
		"version", cfg.Version,
		"applied", applied,
		"persisted", report.Persisted,
	)

	if migrateErr != nil {
		m.logger.Error("config migration incomplete", "error", migrateErr.Error())
		return report, migrateErr
	}
	return report, nil
}

// Config returns a copy of the current configuration.
func (m *Manager) Config() (Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.store == nil {
		return Configuration{}, ErrUninitializedStore
	}
	if m.current == nil {
		return Configuration{}, ErrNotLoaded
	}
	return m.current.clone(), nil
}

// Update merges p into the current configuration and persists the result.
// The in-memory state only changes once the write has succeeded.
func (m *Manager) Update(p Partial) (Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store == nil {
		return Configuration{}, ErrUninitializedStore
	}
	if m.current == nil {
		return Configuration{}, ErrNotLoaded
	}

	next := m.current.clone()
	p.applyTo(&next)
	if err := Validate(next); err != nil {
		return Configuration{}, fmt.Errorf("invalid config update: %w", err)
	}

	values, remove := persistedValues(next, false)
	if err := m.store.Merge(values, remove...); err != nil {
		return Configuration{}, fmt.Errorf("persist config: %w", err)
	}

	m.current = &next
	return next.clone(), nil
}

// SetPassword encrypts plaintext and stores it as the encrypted password.
func (m *Manager) SetPassword(plaintext string) error {
	encoded, err := encryptPassword(m.secrets, plaintext)
	if err != nil {
		return err
	}
	_, err = m.Update(Partial{EncryptedPassword: &encoded})
	return err
}

// Password decrypts the stored password. It returns "" when none is stored.
func (m *Manager) Password() (string, error) {
	cfg, err := m.Config()
	if err != nil {
		return "", err
	}
	if cfg.EncryptedPassword == "" {
		return "", nil
	}
	return decryptPassword(m.secrets, cfg.EncryptedPassword)
}

// NeedsSetup reports whether the audio API has never been chosen.
func (m *Manager) NeedsSetup() bool {
	cfg, err := m.Config()
	if err != nil {
		return true
	}
	return cfg.AudioAPI == UnsetAudioAPI
}

// NeedsTelemetryConsent reports whether the user has not been asked about telemetry yet.
func (m *Manager) NeedsTelemetryConsent() bool {
	cfg, err := m.Config()
	if err != nil {
		return false
	}
	return cfg.ConsentedToTelemetry == nil
}
