// Package doctor runs runtime readiness diagnostics for config, secrets, audio, and the engine.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rbright/towerlink/internal/audio"
	"github.com/rbright/towerlink/internal/config"
	"github.com/rbright/towerlink/internal/engine"
	"github.com/rbright/towerlink/internal/secret"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Inputs carries what the caller already resolved before diagnostics run.
type Inputs struct {
	ConfigPath     string
	Load           config.LoadReport
	LoadErr        error
	Secrets        secret.Box
	EngineEndpoint string

	// ListDevices defaults to audio.ListDevices.
	ListDevices func(context.Context) ([]audio.Device, error)
}

// Run executes environment/config/runtime checks.
func Run(ctx context.Context, in Inputs) Report {
	checks := []Check{checkConfig(in)}

	if in.Secrets != nil {
		checks = append(checks, checkSecrets(in.Secrets))
	}

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime dir is set", "XDG_RUNTIME_DIR is empty; set it or TOWERLINK_SOCKET for the UI socket"))

	list := in.ListDevices
	if list == nil {
		list = audio.ListDevices
	}
	checks = append(checks, checkAudioDevices(ctx, list)...)
	checks = append(checks, checkEngine(ctx, in.EngineEndpoint))

	return Report{Checks: checks}
}

// checkConfig summarizes the load and migration outcome.
func checkConfig(in Inputs) Check {
	if in.LoadErr != nil {
		var migErr *config.MigrationError
		if errors.As(in.LoadErr, &migErr) {
			return Check{Name: "config", Pass: false, Message: fmt.Sprintf("loaded %q but migration step %q is pending: %v", in.ConfigPath, migErr.Step, migErr.Err)}
		}
		return Check{Name: "config", Pass: false, Message: in.LoadErr.Error()}
	}

	message := fmt.Sprintf("loaded %q (version %d)", in.ConfigPath, config.CurrentVersion)
	if len(in.Load.Applied) > 0 {
		message += fmt.Sprintf(", migrated: %s", strings.Join(in.Load.Applied, ", "))
	}
	if in.Load.Recovered != nil {
		message += ", recovered from corrupt settings"
	}
	return Check{Name: "config", Pass: true, Message: message}
}

func checkSecrets(box secret.Box) Check {
	if err := box.Available(); err != nil {
		return Check{Name: "secrets", Pass: false, Message: err.Error()}
	}
	return Check{Name: "secrets", Pass: true, Message: "OS keyring is available"}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkAudioDevices reports one check per direction so a missing headset is
// distinguishable from a missing microphone.
func checkAudioDevices(ctx context.Context, list func(context.Context) ([]audio.Device, error)) []Check {
	devices, err := list(ctx)
	if err != nil {
		return []Check{
			{Name: "audio.input", Pass: false, Message: err.Error()},
			{Name: "audio.output", Pass: false, Message: err.Error()},
		}
	}

	checks := make([]Check, 0, 2)
	for _, dir := range []audio.Direction{audio.DirectionInput, audio.DirectionOutput} {
		name := "audio." + string(dir)
		matching := audio.Filter(devices, dir)
		if len(matching) == 0 {
			checks = append(checks, Check{Name: name, Pass: false, Message: fmt.Sprintf("no %s devices found", dir)})
			continue
		}
		message := fmt.Sprintf("%d device(s)", len(matching))
		if def, ok := audio.Find(devices, dir, "default"); ok {
			message += fmt.Sprintf(", default %q", def.ID)
		}
		checks = append(checks, Check{Name: name, Pass: true, Message: message})
	}
	return checks
}

// checkEngine dials the engine and asks its health service.
func checkEngine(ctx context.Context, endpoint string) Check {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Check{Name: "engine", Pass: false, Message: "engine endpoint is empty"}
	}

	client, err := engine.Dial(ctx, engine.DialConfig{
		Endpoint:    endpoint,
		DialTimeout: 2 * time.Second,
		CallTimeout: 2 * time.Second,
	})
	if err != nil {
		return Check{Name: "engine", Pass: false, Message: err.Error()}
	}
	defer client.Close()

	if err := client.Health(ctx); err != nil {
		return Check{Name: "engine", Pass: false, Message: err.Error()}
	}
	return Check{Name: "engine", Pass: true, Message: fmt.Sprintf("serving at %s", endpoint)}
}
