// Package upstream implements the Cataloger: the component owning one
// live connection per configured upstream MCP server, its tool list, and
// the periodic refresh/reconnect loop that keeps each upstream's cached
// tool list current (spec section 4.1). The loop does not write into the
// Tool Catalog store, which is synced from the Catalogers once at startup.
// It is grounded on the teacher's
// internal/broker/upstream package (MCPManager's ticker-driven manage
// loop, diffTools change detection) and on Jint8888-Pocket-Omega's
// internal/mcp.Client (the stdio/streamable-HTTP dial switch against the
// mark3labs/mcp-go MCPClient interface, which this package also depends
// on for testability without a live subprocess or HTTP server).
package upstream

import "fmt"

// State is the lifecycle state of one upstream connection, per spec
// section 4.1's state machine: disconnected -> connecting -> connected,
// with error and authPending as terminal-until-retried states reachable
// from connecting.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
	StateAuthPending  State = "auth_pending"
)

// validTransitions enumerates the state machine's allowed edges; Cataloger
// rejects any transition not listed here, surfacing a programming error
// rather than silently corrupting status reporting.
var validTransitions = map[State]map[State]bool{
	StateDisconnected: {StateConnecting: true},
	StateConnecting:   {StateConnected: true, StateError: true, StateAuthPending: true},
	StateConnected:    {StateDisconnected: true, StateError: true},
	StateError:        {StateConnecting: true, StateDisconnected: true},
	StateAuthPending:  {StateConnecting: true, StateDisconnected: true},
}

func checkTransition(from, to State) error {
	if validTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("upstream: invalid state transition %s -> %s", from, to)
}
