package broker

import (
	"context"
	"errors"

	"github.com/rbright/towerlink/internal/engine"
	"github.com/rbright/towerlink/internal/fsm"
)

// uiEvent is how an engine event is presented to the UI.
type uiEvent struct {
	channel string
	argc    int
	conn    fsm.Event
}

var uiEvents = map[engine.EventKind]uiEvent{
	engine.EventVuMeter:                    {channel: "VuMeter", argc: 2},
	engine.EventFrequencyRxBegin:           {channel: "FrequencyRxBegin", argc: 1},
	engine.EventFrequencyRxEnd:             {channel: "FrequencyRxEnd", argc: 1},
	engine.EventStationRxBegin:             {channel: "StationRxBegin", argc: 2},
	engine.EventStationTransceiversUpdated: {channel: "station-transceivers-updated", argc: 2},
	engine.EventStationStateUpdate:         {channel: "station-state-update", argc: 2},
	engine.EventStationDataReceived:        {channel: "station-data-received", argc: 2},
	engine.EventPttState:                   {channel: "PttState", argc: 1},
	engine.EventError:                      {channel: "error", argc: 1},
	engine.EventVoiceConnected:             {channel: "VoiceConnected", conn: fsm.EventConnected},
	engine.EventVoiceDisconnected:          {channel: "VoiceDisconnected", conn: fsm.EventDisconnected},
	engine.EventNetworkConnected:           {channel: "network-connected", argc: 2},
	engine.EventNetworkDisconnected:        {channel: "network-disconnected"},
	engine.EventPttKeySet:                  {channel: "ptt-key-set", argc: 1},
}

// UIChannel returns the UI channel for an engine event kind.
func UIChannel(kind engine.EventKind) (string, bool) {
	ev, ok := uiEvents[kind]
	return ev.channel, ok
}

var errEngineStreamEnded = errors.New("engine event stream ended")

// PumpEvents forwards engine events until ctx is done.
func (b *Broker) PumpEvents(ctx context.Context) error {
	events, err := b.engine.Events(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errEngineStreamEnded
			}
			b.forward(ev)
		}
	}
}

func (b *Broker) forward(ev engine.Event) {
	mapped, ok := uiEvents[ev.Kind]
	if !ok {
		b.logger.Warn("unknown engine event", "kind", string(ev.Kind))
		return
	}
	if ev.Kind == engine.EventError {
		b.logger.Error("engine error", "message", ev.Arg(0))
	}

	args := make([]any, 0, mapped.argc)
	for i := 0; i < mapped.argc; i++ {
		args = append(args, ev.Arg(i))
	}
	b.emit(mapped.channel, args...)

	if mapped.conn != "" {
		b.fire(mapped.conn)
	}
}
