package collector

import "github.com/sawpanic/fundingedge/internal/persistence"

// CommandKind enumerates the public operations a collector stub exposes
// (§4.3): start, stop, status, debug. All are idempotent.
type CommandKind int

const (
	CmdStart CommandKind = iota
	CmdStop
	CmdStatus
	CmdDebug
)

// Command is sent over a worker's command channel (§9: management commands
// are serialized through that channel rather than shared locks).
type Command struct {
	Kind  CommandKind
	Reply chan CommandResult
}

// CommandResult carries back whatever a command produced.
type CommandResult struct {
	Status persistence.CollectorStatus
	Debug  DebugInfo
	Err    error
}

// DebugInfo is the `debug` operation's payload: a point-in-time view of a
// worker's internal state.
type DebugInfo struct {
	Venue           string
	RunID           string
	BufferedSymbols int
	Counters        Counters
	Running         bool
}
