package device

import (
	"encoding/json"
	"fmt"
)

// CommandStatus represents the lifecycle state of a remotely issued command.
type CommandStatus string

const (
	// CommandPending is the initial state, set by the remote side on creation.
	CommandPending CommandStatus = "pending"
	// CommandRunning is set by the processor immediately before execution.
	CommandRunning CommandStatus = "running"
	// CommandDone is a terminal state carrying a structured result.
	CommandDone CommandStatus = "done"
	// CommandError is a terminal state carrying an error message. An unknown
	// action transitions here directly without ever entering running.
	CommandError CommandStatus = "error"
)

// IsTerminal reports whether the status admits no further transitions.
func (s CommandStatus) IsTerminal() bool {
	return s == CommandDone || s == CommandError
}

// CanTransition reports whether the command state machine permits moving
// from s to next.
func (s CommandStatus) CanTransition(next CommandStatus) bool {
	switch s {
	case CommandPending:
		return next == CommandRunning || next == CommandError
	case CommandRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// Command is a remotely issued instruction observed on the commands
// sub-collection. Terminal states are written exactly once by the processor.
type Command struct {
	ID     string                 `json:"-"`
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params"`
	Status CommandStatus          `json:"status"`
}

// DecodeCommand builds a Command from a raw store document.
func DecodeCommand(id string, data map[string]interface{}) (*Command, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode command document: %w", err)
	}
	cmd := &Command{ID: id}
	if err := json.Unmarshal(raw, cmd); err != nil {
		return nil, fmt.Errorf("decode command document: %w", err)
	}
	if cmd.Action == "" {
		return nil, fmt.Errorf("command %s has no action", id)
	}
	if cmd.Params == nil {
		cmd.Params = make(map[string]interface{})
	}
	return cmd, nil
}
