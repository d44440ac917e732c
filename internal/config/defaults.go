package config

// UnsetAudioAPI marks an audio API that has never been chosen.
const UnsetAudioAPI = -1

// Default returns the configuration seen on first launch.
func Default() Configuration {
	return Configuration{
		Version:     CurrentVersion,
		AudioAPI:    UnsetAudioAPI,
		RadioGain:   0.5,
		AlwaysOnTop: AlwaysOnTopNever,
	}
}
