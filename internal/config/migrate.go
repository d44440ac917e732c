package config

import (
	"encoding/base64"
	"fmt"

	"github.com/rbright/towerlink/internal/secret"
)

// migration is one step of the ordered upgrade pipeline.
//
// applies inspects field shape, never the version number alone, because very
// old records carry no version at all.
type migration struct {
	name    string
	applies func(*record) bool
	apply   func(*migrator, *record) error
}

// migrations run in slice order on every load.
var migrations = []migration{
	{
		name:    "normalize-always-on-top",
		applies: func(r *record) bool { return r.AlwaysOnTop.needsNormalizing() },
		apply:   normalizeAlwaysOnTop,
	},
	{
		name:    "encrypt-password",
		applies: func(r *record) bool { return r.Password != nil },
		apply:   encryptLegacyPassword,
	},
	{
		name: "stamp-version",
		applies: func(r *record) bool {
			return r.Version == nil || *r.Version < CurrentVersion
		},
		apply: func(_ *migrator, r *record) error {
			version := CurrentVersion
			r.Version = &version
			return nil
		},
	},
}

type migrator struct {
	secrets  secret.Box
	warnings []Warning
}

// run applies every applicable step in order and stops at the first failure.
// Steps applied before the failure are kept.
func (m *migrator) run(rec *record) ([]string, error) {
	applied := make([]string, 0, len(migrations))
	for _, step := range migrations {
		if !step.applies(rec) {
			continue
		}
		if err := step.apply(m, rec); err != nil {
			return applied, &MigrationError{Step: step.name, Err: err}
		}
		applied = append(applied, step.name)
	}
	return applied, nil
}

func normalizeAlwaysOnTop(m *migrator, r *record) error {
	if r.AlwaysOnTop.invalid != "" {
		m.warnings = append(m.warnings, Warning{
			Field:   keyAlwaysOnTop,
			Message: fmt.Sprintf("unknown value %q replaced with %q", r.AlwaysOnTop.invalid, AlwaysOnTopNever),
		})
	}
	r.AlwaysOnTop = &alwaysOnTopField{mode: r.AlwaysOnTop.mode}
	return nil
}

// encryptLegacyPassword moves a plaintext password into encryptedPassword.
// On failure the record is left exactly as it was.
func encryptLegacyPassword(m *migrator, r *record) error {
	if r.EncryptedPassword != nil && *r.EncryptedPassword != "" {
		r.Password = nil
		r.dropLegacyPassword = true
		return nil
	}
	if *r.Password == "" {
		r.Password = nil
		r.dropLegacyPassword = true
		return nil
	}

	encoded, err := encryptPassword(m.secrets, *r.Password)
	if err != nil {
		return err
	}
	r.EncryptedPassword = &encoded
	r.Password = nil
	r.dropLegacyPassword = true
	return nil
}

func encryptPassword(box secret.Box, plaintext string) (string, error) {
	if box == nil {
		return "", fmt.Errorf("%w: no secret storage configured", ErrEncryptionUnavailable)
	}
	if err := box.Available(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncryptionUnavailable, err)
	}
	sealed, err := box.Encrypt([]byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncryptionUnavailable, err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func decryptPassword(box secret.Box, encoded string) (string, error) {
	if box == nil {
		return "", fmt.Errorf("%w: no secret storage configured", ErrEncryptionUnavailable)
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode encrypted password: %w", err)
	}
	plaintext, err := box.Decrypt(sealed)
	if err != nil {
		return "", fmt.Errorf("decrypt password: %w", err)
	}
	return string(plaintext), nil
}
