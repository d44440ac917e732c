package config

import (
	"fmt"
	"math"
)

// Validate enforces configuration invariants before a write is persisted.
func Validate(cfg Configuration) error {
	if err := validateAudioAPI(cfg.AudioAPI); err != nil {
		return err
	}
	if err := validateHardwareType(cfg.HardwareType); err != nil {
		return err
	}
	if err := validateRadioGain(cfg.RadioGain); err != nil {
		return err
	}
	if !cfg.AlwaysOnTop.Valid() {
		return fmt.Errorf("alwaysOnTop must be one of: never, always, inMiniMode")
	}
	return nil
}

func validateAudioAPI(v int) error {
	if v < UnsetAudioAPI {
		return fmt.Errorf("audioApi must be >= %d", UnsetAudioAPI)
	}
	return nil
}

func validateHardwareType(v int) error {
	if v < 0 {
		return fmt.Errorf("hardwareType must be >= 0")
	}
	return nil
}

func validateRadioGain(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("radioGain must be a finite value >= 0")
	}
	return nil
}
