package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const (
	// ChannelSubscribe turns the connection into a one-way event stream.
	ChannelSubscribe = "subscribe"
	// ChannelStatus is answered by every running broker.
	ChannelStatus = "status"
)

// Request invokes one channel with positional arguments.
type Request struct {
	ID      string            `json:"id"`
	Channel string            `json:"channel"`
	Args    []json.RawMessage `json:"args,omitempty"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID     string          `json:"id,omitempty"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Event is pushed to subscribers.
type Event struct {
	Channel string            `json:"channel"`
	Args    []json.RawMessage `json:"args,omitempty"`
}

// NewRequest builds a request with a fresh ID.
func NewRequest(channel string, args ...any) (Request, error) {
	raw, err := marshalArgs(args)
	if err != nil {
		return Request{}, err
	}
	return Request{ID: uuid.NewString(), Channel: channel, Args: raw}, nil
}

// NewEvent builds an event, marshaling each argument.
func NewEvent(channel string, args ...any) (Event, error) {
	raw, err := marshalArgs(args)
	if err != nil {
		return Event{}, err
	}
	return Event{Channel: channel, Args: raw}, nil
}

func marshalArgs(args []any) ([]json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// Arg decodes the i-th argument into dst.
func (r Request) Arg(i int, dst any) error {
	if i < 0 || i >= len(r.Args) {
		return fmt.Errorf("%s: missing argument %d", r.Channel, i)
	}
	if err := json.Unmarshal(r.Args[i], dst); err != nil {
		return fmt.Errorf("%s: argument %d: %w", r.Channel, i, err)
	}
	return nil
}

// Success answers id with result. A nil result is sent as no result.
func Success(id string, result any) Response {
	if result == nil {
		return Response{ID: id, OK: true}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return Failure(id, fmt.Errorf("encode result: %w", err))
	}
	return Response{ID: id, OK: true, Result: raw}
}

// Failure answers id with err.
func Failure(id string, err error) Response {
	return Response{ID: id, OK: false, Error: err.Error()}
}
