package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service exposed by the engine.
const ServiceName = "towerlink.engine.v1.Engine"

const eventsStream = "Events"

func methodPath(method string) string {
	return "/" + ServiceName + "/" + method
}

// Request payloads. Field names are the wire contract with the engine.
type (
	emptyArgs     struct{}
	resourceArgs  struct{ ResourcePath string `json:"resourcePath"` }
	cidArgs       struct{ CID string `json:"cid"` }
	gainArgs      struct{ Gain float64 `json:"gain"` }
	hardwareArgs  struct{ HardwareType int `json:"hardwareType"` }
	apiArgs       struct{ APIID string `json:"apiId"` }
	passwordArgs  struct{ Password string `json:"password"` }
	callsignArgs  struct{ Callsign string `json:"callsign"` }
	frequencyArgs struct {
		Frequency int    `json:"frequency"`
		Callsign  string `json:"callsign,omitempty"`
	}
	frequencyStateArgs struct {
		Frequency int `json:"frequency"`
		FrequencyState
	}
)

type resultEnvelope struct {
	Result any `json:"result"`
}

// encodeStruct converts a JSON-shaped Go value into a structpb.Struct.
func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode engine message: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode engine message: %w", err)
	}
	return out, nil
}

// decodeStruct fills v from a structpb.Struct.
func decodeStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return errors.New("decode engine message: empty message")
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode engine message: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode engine message: %w", err)
	}
	return nil
}

// decodeResult fills v from the "result" field of a reply.
func decodeResult(s *structpb.Struct, v any) error {
	result, ok := s.GetFields()["result"]
	if !ok {
		return errors.New("decode engine reply: missing result")
	}
	raw, err := protojson.Marshal(result)
	if err != nil {
		return fmt.Errorf("decode engine reply: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode engine reply: %w", err)
	}
	return nil
}
