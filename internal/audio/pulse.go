// Package audio inventories the local PulseAudio devices the engine can open.
package audio

import (
	"context"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// Direction distinguishes capture sources from playback sinks.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Device describes one Pulse source or sink.
type Device struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Direction   Direction `json:"direction"`
	State       string    `json:"state"`
	Available   bool      `json:"available"`
	Muted       bool      `json:"muted"`
	Default     bool      `json:"default"`
}

// ListDevices returns Pulse inputs followed by outputs. Sink monitors are skipped.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("towerlink"),
		pulse.ClientApplicationIconName("audio-headset"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultSink, err := client.DefaultSink()
	if err != nil {
		return nil, fmt.Errorf("read default sink: %w", err)
	}

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	var sinkInfos pulseproto.GetSinkInfoListReply
	if err := client.RawRequest(&pulseproto.GetSinkInfoList{}, &sinkInfos); err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}

	devices := make([]Device, 0, len(sourceInfos)+len(sinkInfos))
	for _, source := range sourceInfos {
		if dev, ok := sourceDevice(source, defaultSource.ID()); ok {
			devices = append(devices, dev)
		}
	}
	for _, sink := range sinkInfos {
		if dev, ok := sinkDevice(sink, defaultSink.ID()); ok {
			devices = append(devices, dev)
		}
	}
	return devices, nil
}

// Filter keeps the devices flowing in one direction.
func Filter(devices []Device, dir Direction) []Device {
	out := make([]Device, 0, len(devices))
	for _, dev := range devices {
		if dev.Direction == dir {
			out = append(out, dev)
		}
	}
	return out
}

// Find resolves a configured device id or description fragment. "" and
// "default" select the default device for the direction.
func Find(devices []Device, dir Direction, term string) (Device, bool) {
	term = strings.TrimSpace(strings.ToLower(term))
	for _, dev := range Filter(devices, dir) {
		if term == "" || term == "default" {
			if dev.Default {
				return dev, true
			}
			continue
		}
		if deviceMatches(dev, term) {
			return dev, true
		}
	}
	return Device{}, false
}

// deviceMatches reports whether a search term matches a device id or description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

func sourceDevice(source *pulseproto.GetSourceInfoReply, defaultID string) (Device, bool) {
	if source == nil || strings.HasSuffix(source.SourceName, ".monitor") {
		return Device{}, false
	}
	ports := make([]portState, 0, len(source.Ports))
	for _, p := range source.Ports {
		ports = append(ports, portState{name: p.Name, available: p.Available})
	}
	return Device{
		ID:          source.SourceName,
		Description: source.Device,
		Direction:   DirectionInput,
		State:       stateString(source.State),
		Available:   portAvailable(source.ActivePortName, ports),
		Muted:       source.Mute,
		Default:     source.SourceName == defaultID,
	}, true
}

func sinkDevice(sink *pulseproto.GetSinkInfoReply, defaultID string) (Device, bool) {
	if sink == nil {
		return Device{}, false
	}
	ports := make([]portState, 0, len(sink.Ports))
	for _, p := range sink.Ports {
		ports = append(ports, portState{name: p.Name, available: p.Available})
	}
	return Device{
		ID:          sink.SinkName,
		Description: sink.Device,
		Direction:   DirectionOutput,
		State:       stateString(sink.State),
		Available:   portAvailable(sink.ActivePortName, ports),
		Muted:       sink.Mute,
		Default:     sink.SinkName == defaultID,
	}, true
}

// stateString maps Pulse source/sink state constants to human-readable values.
func stateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

type portState struct {
	name      string
	available uint32
}

// portAvailable maps the active port's availability to a boolean. No ports
// means the device is always usable.
func portAvailable(active string, ports []portState) bool {
	for _, port := range ports {
		if port.name != active {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.available == 0 || port.available == 2
	}
	return true
}
