package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultEndpoint is used when TOWERLINK_ENGINE_ADDR is unset.
const DefaultEndpoint = "127.0.0.1:50061"

// EndpointFromEnv resolves the engine address.
func EndpointFromEnv() string {
	if addr := strings.TrimSpace(os.Getenv("TOWERLINK_ENGINE_ADDR")); addr != "" {
		return addr
	}
	return DefaultEndpoint
}

// DialConfig controls how the client reaches the engine.
type DialConfig struct {
	Endpoint    string
	DialTimeout time.Duration
	// CallTimeout bounds each unary call. Zero means 5s.
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Client is an Engine backed by a gRPC connection.
type Client struct {
	conn        *grpc.ClientConn
	callTimeout time.Duration
	logger      *slog.Logger
}

var _ Engine = (*Client)(nil)

// Dial connects to the engine and waits for the channel to become ready.
func Dial(ctx context.Context, cfg DialConfig) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("engine endpoint is empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial engine grpc %q: %w", endpoint, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn, cfg.Logger); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for engine grpc readiness: %w", err)
	}

	return &Client{conn: conn, callTimeout: cfg.CallTimeout, logger: cfg.Logger}, nil
}

// Health reports nil when the engine service is SERVING.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("engine health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("engine health status %s", resp.GetStatus())
	}
	return nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, args any, result any) error {
	in, err := encodeStruct(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, methodPath(method), in, out); err != nil {
		return fmt.Errorf("engine %s: %w", method, err)
	}
	if result == nil {
		return nil
	}
	if err := decodeResult(out, result); err != nil {
		return fmt.Errorf("engine %s: %w", method, err)
	}
	return nil
}

func (c *Client) Bootstrap(ctx context.Context, resourcePath string) (BootstrapResult, error) {
	var out BootstrapResult
	err := c.invoke(ctx, "Bootstrap", resourceArgs{ResourcePath: resourcePath}, &out)
	return out, err
}

func (c *Client) SetCid(ctx context.Context, cid string) error {
	return c.invoke(ctx, "SetCid", cidArgs{CID: cid}, nil)
}

func (c *Client) SetRadioGain(ctx context.Context, gain float64) error {
	return c.invoke(ctx, "SetRadioGain", gainArgs{Gain: gain}, nil)
}

func (c *Client) SetHardwareType(ctx context.Context, hardwareType int) error {
	return c.invoke(ctx, "SetHardwareType", hardwareArgs{HardwareType: hardwareType}, nil)
}

func (c *Client) SetAudioSettings(ctx context.Context, settings AudioSettings) error {
	return c.invoke(ctx, "SetAudioSettings", settings, nil)
}

func (c *Client) GetAudioApis(ctx context.Context) ([]AudioAPI, error) {
	var out []AudioAPI
	err := c.invoke(ctx, "GetAudioApis", emptyArgs{}, &out)
	return out, err
}

func (c *Client) GetAudioInputDevices(ctx context.Context, apiID string) ([]AudioDevice, error) {
	var out []AudioDevice
	err := c.invoke(ctx, "GetAudioInputDevices", apiArgs{APIID: apiID}, &out)
	return out, err
}

func (c *Client) GetAudioOutputDevices(ctx context.Context, apiID string) ([]AudioDevice, error) {
	var out []AudioDevice
	err := c.invoke(ctx, "GetAudioOutputDevices", apiArgs{APIID: apiID}, &out)
	return out, err
}

func (c *Client) Connect(ctx context.Context, password string) (bool, error) {
	var ok bool
	err := c.invoke(ctx, "Connect", passwordArgs{Password: password}, &ok)
	return ok, err
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.invoke(ctx, "Disconnect", emptyArgs{}, nil)
}

func (c *Client) IsConnected(ctx context.Context) (bool, error) {
	var ok bool
	err := c.invoke(ctx, "IsConnected", emptyArgs{}, &ok)
	return ok, err
}

func (c *Client) AddFrequency(ctx context.Context, frequency int, callsign string) (bool, error) {
	var ok bool
	err := c.invoke(ctx, "AddFrequency", frequencyArgs{Frequency: frequency, Callsign: callsign}, &ok)
	return ok, err
}

func (c *Client) RemoveFrequency(ctx context.Context, frequency int) error {
	return c.invoke(ctx, "RemoveFrequency", frequencyArgs{Frequency: frequency}, nil)
}

func (c *Client) SetFrequencyState(ctx context.Context, frequency int, state FrequencyState) (bool, error) {
	var ok bool
	err := c.invoke(ctx, "SetFrequencyState", frequencyStateArgs{Frequency: frequency, FrequencyState: state}, &ok)
	return ok, err
}

func (c *Client) GetFrequencyState(ctx context.Context, frequency int) (FrequencyState, error) {
	var out FrequencyState
	err := c.invoke(ctx, "GetFrequencyState", frequencyArgs{Frequency: frequency}, &out)
	return out, err
}

func (c *Client) IsFrequencyActive(ctx context.Context, frequency int) (bool, error) {
	var ok bool
	err := c.invoke(ctx, "IsFrequencyActive", frequencyArgs{Frequency: frequency}, &ok)
	return ok, err
}

func (c *Client) GetStation(ctx context.Context, callsign string) error {
	return c.invoke(ctx, "GetStation", callsignArgs{Callsign: callsign}, nil)
}

func (c *Client) RefreshStation(ctx context.Context, callsign string) error {
	return c.invoke(ctx, "RefreshStation", callsignArgs{Callsign: callsign}, nil)
}

func (c *Client) SetupPttBegin(ctx context.Context) error {
	return c.invoke(ctx, "SetupPttBegin", emptyArgs{}, nil)
}

func (c *Client) RequestPttKeyName(ctx context.Context) error {
	return c.invoke(ctx, "RequestPttKeyName", emptyArgs{}, nil)
}

func (c *Client) StartMicTest(ctx context.Context) error {
	return c.invoke(ctx, "StartMicTest", emptyArgs{}, nil)
}

func (c *Client) StopMicTest(ctx context.Context) error {
	return c.invoke(ctx, "StopMicTest", emptyArgs{}, nil)
}

var eventsStreamDesc = grpc.StreamDesc{StreamName: eventsStream, ServerStreams: true}

// Events opens the callback stream. The channel closes when ctx is done or
// the stream ends; a stream failure is logged.
func (c *Client) Events(ctx context.Context) (<-chan Event, error) {
	stream, err := c.conn.NewStream(ctx, &eventsStreamDesc, methodPath(eventsStream))
	if err != nil {
		return nil, fmt.Errorf("open engine event stream: %w", err)
	}
	if err := stream.SendMsg(&structpb.Struct{}); err != nil {
		return nil, fmt.Errorf("subscribe to engine events: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("subscribe to engine events: %w", err)
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for {
			msg := &structpb.Struct{}
			err := stream.RecvMsg(msg)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Error("engine event stream failed", "error", err.Error())
				}
				return
			}

			var ev Event
			if err := decodeStruct(msg, &ev); err != nil || ev.Kind == "" {
				c.logger.Warn("dropping malformed engine event", "error", fmt.Sprint(err))
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
