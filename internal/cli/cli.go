package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandStatus  Command = "status"
	CommandSend    Command = "send"
	CommandWatch   Command = "watch"
	CommandConfig  Command = "config"
	CommandMigrate Command = "migrate"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRun:     {},
	CommandStatus:  {},
	CommandSend:    {},
	CommandWatch:   {},
	CommandConfig:  {},
	CommandMigrate: {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool

	// Channel and Args are set for send. Args are raw words; each is decoded
	// as JSON when possible and sent as a string otherwise.
	Channel string
	Args    []string
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp

			if cmd == CommandSend {
				rest := args[i+1:]
				if len(rest) == 0 || strings.TrimSpace(rest[0]) == "" {
					return Parsed{}, errors.New("send requires a channel")
				}
				parsed.Channel = rest[0]
				parsed.Args = append([]string(nil), rest[1:]...)
				return parsed, nil
			}
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command>

Commands:
  run                    Load settings, start the engine bridge, and serve the UI socket
  status                 Print broker connection state
  send CHANNEL [ARGS...] Send one request to the running broker (ARGS are JSON or plain strings)
  watch                  Stream broker events as JSON lines until interrupted
  config                 Print the current settings with secrets redacted
  migrate                Load and migrate settings, then print the applied steps
  devices                List PulseAudio input and output devices
  doctor                 Run configuration and environment checks
  version                Print version information
  help                   Show this help

Flags:
  --config PATH   Settings file path (default: $XDG_CONFIG_HOME/towerlink/config.json)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
