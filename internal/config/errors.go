package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUninitializedStore is returned when an operation runs before SetStore.
	ErrUninitializedStore = errors.New("config store is not bound")
	// ErrStoreAlreadyBound is returned by a second SetStore call.
	ErrStoreAlreadyBound = errors.New("config store is already bound")
	// ErrNotLoaded is returned when the configuration is read before Load.
	ErrNotLoaded = errors.New("config has not been loaded")
	// ErrEncryptionUnavailable is returned when a credential cannot be encrypted on this host.
	ErrEncryptionUnavailable = errors.New("password encryption is unavailable")
)

// CorruptRecordError reports persisted fields that could not be decoded or
// hold out-of-range values.
// Load recovers by substituting defaults for those fields.
type CorruptRecordError struct {
	Fields map[string]error
}

func (e *CorruptRecordError) Error() string {
	names := sortedKeys(e.Fields)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Fields[name]))
	}
	return "corrupt config record: " + strings.Join(parts, "; ")
}

// MigrationError identifies the migration step that stopped the pipeline.
type MigrationError struct {
	Step string
	Err  error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %q: %v", e.Step, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}
