package supervisor

import (
	"fmt"
	"strconv"
	"strings"
)

// Wire tokens understood on the control channel. Messages are plain strings
// so any producer (worker watcher, HTTP API, reloader, signal handler) can
// form them without sharing types.
const (
	// MsgTerminate requests a full fleet shutdown.
	MsgTerminate = "__TERMINATE__"
	// MsgTerminateEarly is sent by a worker watcher when the process died
	// before acknowledging startup. Only meaningful during the ack barrier.
	MsgTerminateEarly = "__TERMINATE_EARLY__"
	// AckLine is the control line a worker prints on stdout to acknowledge
	// a successful startup.
	AckLine = "__ACK__"
	// AllProcesses is the restart-command token matching every transient
	// process.
	AllProcesses = "__ALL_PROCESSES__"

	scalePrefix       = "__SCALE__"
	tokenStartupFirst = "STARTUP_FIRST"
)

// CommandKind discriminates parsed control messages.
type CommandKind int

const (
	// CommandStop ends the monitor loop without touching the workers.
	CommandStop CommandKind = iota
	// CommandShutdown terminates the whole fleet.
	CommandShutdown
	// CommandScale resizes the server worker pool.
	CommandScale
	// CommandRestart restarts a filtered set of transient processes.
	CommandRestart
)

// Command is the tagged-variant form of a wire message. The delimited
// string encoding stays on the wire; everything past ParseCommand works
// with this type.
type Command struct {
	Kind  CommandKind
	Count int // CommandScale target

	// CommandRestart fields. Nil Names means all transient processes.
	Names         []string
	ReloadedFiles string
	Order         RestartOrder
}

// ParseCommand decodes a control message. Any message that is not a known
// token is a restart command of the shape names[:reloaded_files][:ORDER].
func ParseCommand(msg string) (Command, error) {
	switch msg {
	case "":
		return Command{Kind: CommandStop}, nil
	case MsgTerminate:
		return Command{Kind: CommandShutdown}, nil
	}

	if strings.HasPrefix(msg, scalePrefix) {
		raw := msg[strings.LastIndex(msg, ":")+1:]
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Command{}, fmt.Errorf("bad scale target %q: %w", raw, err)
		}
		return Command{Kind: CommandScale, Count: n}, nil
	}

	parts := strings.SplitN(msg, ":", 3)
	cmd := Command{Kind: CommandRestart, Order: ShutdownFirst}
	for _, name := range strings.Split(parts[0], ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cmd.Names = append(cmd.Names, name)
	}
	for _, name := range cmd.Names {
		if name == AllProcesses {
			cmd.Names = nil
			break
		}
	}
	if len(parts) > 1 && parts[1] != tokenStartupFirst {
		cmd.ReloadedFiles = parts[1]
	}
	for _, part := range parts[1:] {
		if part == tokenStartupFirst {
			cmd.Order = StartupFirst
		}
	}
	return cmd, nil
}

// ScaleMessage encodes a scale command for the wire.
func ScaleMessage(n int) string {
	return fmt.Sprintf("%s:%d", scalePrefix, n)
}

// RestartMessage encodes a restart command for the wire. Empty names means
// all transient processes.
func RestartMessage(names []string, reloadedFiles string, order RestartOrder) string {
	target := AllProcesses
	if len(names) > 0 {
		target = strings.Join(names, ",")
	}
	msg := target
	if reloadedFiles != "" || order == StartupFirst {
		msg += ":" + reloadedFiles
	}
	if order == StartupFirst {
		msg += ":" + tokenStartupFirst
	}
	return msg
}
