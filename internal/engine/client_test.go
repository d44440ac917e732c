package engine

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

type fakeEngine struct {
	mu        sync.Mutex
	calls     []string
	cid       string
	gain      float64
	hardware  int
	settings  AudioSettings
	password  string
	connected bool
	freqs     map[int]FrequencyState
	events    []Event
	failWith  error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{freqs: map[int]FrequencyState{}}
}

func (f *fakeEngine) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.failWith
}

func (f *fakeEngine) Bootstrap(_ context.Context, resourcePath string) (BootstrapResult, error) {
	if err := f.record("Bootstrap:" + resourcePath); err != nil {
		return BootstrapResult{}, err
	}
	return BootstrapResult{CanRun: true, Version: "1.2.3"}, nil
}

func (f *fakeEngine) SetCid(_ context.Context, cid string) error {
	f.cid = cid
	return f.record("SetCid")
}

func (f *fakeEngine) SetRadioGain(_ context.Context, gain float64) error {
	f.gain = gain
	return f.record("SetRadioGain")
}

func (f *fakeEngine) SetHardwareType(_ context.Context, hardwareType int) error {
	f.hardware = hardwareType
	return f.record("SetHardwareType")
}

func (f *fakeEngine) SetAudioSettings(_ context.Context, settings AudioSettings) error {
	f.settings = settings
	return f.record("SetAudioSettings")
}

func (f *fakeEngine) GetAudioApis(context.Context) ([]AudioAPI, error) {
	return []AudioAPI{{ID: "0", Name: "PulseAudio"}, {ID: "1", Name: "ALSA"}}, f.record("GetAudioApis")
}

func (f *fakeEngine) GetAudioInputDevices(_ context.Context, apiID string) ([]AudioDevice, error) {
	return []AudioDevice{{ID: apiID + "-mic", Name: "Headset Mic", IsDefault: true}}, f.record("GetAudioInputDevices")
}

func (f *fakeEngine) GetAudioOutputDevices(_ context.Context, apiID string) ([]AudioDevice, error) {
	return []AudioDevice{{ID: apiID + "-out", Name: "Speakers"}}, f.record("GetAudioOutputDevices")
}

func (f *fakeEngine) Connect(_ context.Context, password string) (bool, error) {
	f.password = password
	f.connected = true
	return true, f.record("Connect")
}

func (f *fakeEngine) Disconnect(context.Context) error {
	f.connected = false
	return f.record("Disconnect")
}

func (f *fakeEngine) IsConnected(context.Context) (bool, error) {
	return f.connected, f.record("IsConnected")
}

func (f *fakeEngine) AddFrequency(_ context.Context, frequency int, _ string) (bool, error) {
	f.freqs[frequency] = FrequencyState{}
	return true, f.record("AddFrequency")
}

func (f *fakeEngine) RemoveFrequency(_ context.Context, frequency int) error {
	delete(f.freqs, frequency)
	return f.record("RemoveFrequency")
}

func (f *fakeEngine) SetFrequencyState(_ context.Context, frequency int, state FrequencyState) (bool, error) {
	f.freqs[frequency] = state
	return true, f.record("SetFrequencyState")
}

func (f *fakeEngine) GetFrequencyState(_ context.Context, frequency int) (FrequencyState, error) {
	return f.freqs[frequency], f.record("GetFrequencyState")
}

func (f *fakeEngine) IsFrequencyActive(_ context.Context, frequency int) (bool, error) {
	_, ok := f.freqs[frequency]
	return ok, f.record("IsFrequencyActive")
}

func (f *fakeEngine) GetStation(_ context.Context, callsign string) error {
	return f.record("GetStation:" + callsign)
}

func (f *fakeEngine) RefreshStation(_ context.Context, callsign string) error {
	return f.record("RefreshStation:" + callsign)
}

func (f *fakeEngine) SetupPttBegin(context.Context) error     { return f.record("SetupPttBegin") }
func (f *fakeEngine) RequestPttKeyName(context.Context) error { return f.record("RequestPttKeyName") }
func (f *fakeEngine) StartMicTest(context.Context) error      { return f.record("StartMicTest") }
func (f *fakeEngine) StopMicTest(context.Context) error       { return f.record("StopMicTest") }

func (f *fakeEngine) Events(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event, len(f.events))
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	return out, nil
}

func (f *fakeEngine) Close() error { return nil }

func startTestEngine(t *testing.T, impl Engine, servingStatus healthpb.HealthCheckResponse_ServingStatus) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	grpcServer := grpc.NewServer()
	RegisterService(grpcServer, impl)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, servingStatus)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	go func() {
		_ = grpcServer.Serve(lis)
	}()
	t.Cleanup(func() {
		grpcServer.Stop()
		_ = lis.Close()
	})
	return lis.Addr().String()
}

func dialTestEngine(t *testing.T, endpoint string) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, err := Dial(ctx, DialConfig{Endpoint: endpoint, DialTimeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientRoundTripsUnaryCalls(t *testing.T) {
	fake := newFakeEngine()
	client := dialTestEngine(t, startTestEngine(t, fake, healthpb.HealthCheckResponse_SERVING))
	ctx := context.Background()

	boot, err := client.Bootstrap(ctx, "/opt/towerlink")
	require.NoError(t, err)
	require.True(t, boot.CanRun)
	require.Equal(t, "1.2.3", boot.Version)

	require.NoError(t, client.SetCid(ctx, "1234567"))
	require.NoError(t, client.SetRadioGain(ctx, 0.75))
	require.NoError(t, client.SetHardwareType(ctx, 2))
	require.NoError(t, client.SetAudioSettings(ctx, AudioSettings{AudioAPI: 1, InputDeviceID: "mic"}))
	require.Equal(t, "1234567", fake.cid)
	require.Equal(t, 0.75, fake.gain)
	require.Equal(t, 2, fake.hardware)
	require.Equal(t, AudioSettings{AudioAPI: 1, InputDeviceID: "mic"}, fake.settings)

	apis, err := client.GetAudioApis(ctx)
	require.NoError(t, err)
	require.Equal(t, []AudioAPI{{ID: "0", Name: "PulseAudio"}, {ID: "1", Name: "ALSA"}}, apis)

	inputs, err := client.GetAudioInputDevices(ctx, "0")
	require.NoError(t, err)
	require.Equal(t, []AudioDevice{{ID: "0-mic", Name: "Headset Mic", IsDefault: true}}, inputs)

	outputs, err := client.GetAudioOutputDevices(ctx, "0")
	require.NoError(t, err)
	require.Len(t, outputs, 1)

	ok, err := client.Connect(ctx, "hunter2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hunter2", fake.password)

	connected, err := client.IsConnected(ctx)
	require.NoError(t, err)
	require.True(t, connected)
	require.NoError(t, client.Disconnect(ctx))
}

func TestClientFrequencyCalls(t *testing.T) {
	fake := newFakeEngine()
	client := dialTestEngine(t, startTestEngine(t, fake, healthpb.HealthCheckResponse_SERVING))
	ctx := context.Background()

	ok, err := client.AddFrequency(ctx, 118100000, "EGLL_TWR")
	require.NoError(t, err)
	require.True(t, ok)

	want := FrequencyState{RX: true, TX: true, OnSpeaker: true}
	ok, err = client.SetFrequencyState(ctx, 118100000, want)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := client.GetFrequencyState(ctx, 118100000)
	require.NoError(t, err)
	require.Equal(t, want, got)

	active, err := client.IsFrequencyActive(ctx, 118100000)
	require.NoError(t, err)
	require.True(t, active)

	require.NoError(t, client.RemoveFrequency(ctx, 118100000))
	active, err = client.IsFrequencyActive(ctx, 118100000)
	require.NoError(t, err)
	require.False(t, active)

	require.NoError(t, client.GetStation(ctx, "EGLL_TWR"))
	require.NoError(t, client.RefreshStation(ctx, "EGLL_TWR"))
	require.NoError(t, client.SetupPttBegin(ctx))
	require.NoError(t, client.RequestPttKeyName(ctx))
	require.NoError(t, client.StartMicTest(ctx))
	require.NoError(t, client.StopMicTest(ctx))
	require.Contains(t, fake.calls, "GetStation:EGLL_TWR")
	require.Contains(t, fake.calls, "StopMicTest")
}

func TestClientSurfacesEngineErrors(t *testing.T) {
	fake := newFakeEngine()
	fake.failWith = status.Error(codes.FailedPrecondition, "not bootstrapped")
	client := dialTestEngine(t, startTestEngine(t, fake, healthpb.HealthCheckResponse_SERVING))

	err := client.SetCid(context.Background(), "1")
	require.Error(t, err)
	require.Equal(t, codes.FailedPrecondition, status.Code(errors.Unwrap(err)))
	require.Contains(t, err.Error(), "engine SetCid")
}

func TestClientStreamsEvents(t *testing.T) {
	fake := newFakeEngine()
	fake.events = []Event{
		{Kind: EventVuMeter, Args: []string{"0.4", "0.9"}},
		{Kind: EventVoiceConnected},
		{Kind: EventPttKeySet, Args: []string{"F1"}},
	}
	client := dialTestEngine(t, startTestEngine(t, fake, healthpb.HealthCheckResponse_SERVING))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	events, err := client.Events(ctx)
	require.NoError(t, err)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Equal(t, fake.events, got)
	require.Equal(t, "0.9", got[0].Arg(1))
	require.Empty(t, got[1].Arg(0))
}

func TestClientHealth(t *testing.T) {
	serving := dialTestEngine(t, startTestEngine(t, newFakeEngine(), healthpb.HealthCheckResponse_SERVING))
	require.NoError(t, serving.Health(context.Background()))

	notServing := dialTestEngine(t, startTestEngine(t, newFakeEngine(), healthpb.HealthCheckResponse_NOT_SERVING))
	err := notServing.Health(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "NOT_SERVING")
}

func TestDialEmptyEndpoint(t *testing.T) {
	_, err := Dial(context.Background(), DialConfig{Endpoint: "  "})
	require.Error(t, err)
	require.Contains(t, err.Error(), "endpoint is empty")
}

func TestDialReadinessTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, DialConfig{Endpoint: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	require.Error(t, err)
	require.Contains(t, err.Error(), "readiness")
}

func TestEndpointFromEnv(t *testing.T) {
	t.Setenv("TOWERLINK_ENGINE_ADDR", "")
	require.Equal(t, DefaultEndpoint, EndpointFromEnv())

	t.Setenv("TOWERLINK_ENGINE_ADDR", " 10.0.0.2:6000 ")
	require.Equal(t, "10.0.0.2:6000", EndpointFromEnv())
}
