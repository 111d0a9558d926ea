package coord

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownChannel is returned for commands addressing a channel
	// id that does not exist.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrStopped is returned when commanding a coordinator that is not
	// running.
	ErrStopped = errors.New("coordinator stopped")
)

// CommandType names a manual override operation.
type CommandType string

const (
	CmdHold         CommandType = "hold"
	CmdMute         CommandType = "mute"
	CmdSolo         CommandType = "solo"
	CmdEnable       CommandType = "enable"
	CmdDisableUntil CommandType = "disableUntil"
	CmdForceActive  CommandType = "forceActive"
)

// Command is a manual override addressed to a channel. Commands are
// queued and drained at the start of the next tick, so a command takes
// effect strictly before any scheduling decision that could contradict
// it. Issuing the same command twice is a no-op the second time.
type Command struct {
	Type      CommandType
	ChannelID string
	On        bool      // hold/mute/solo/enable/forceActive
	Until     time.Time // disableUntil only

	reply chan error
}

func (c Command) String() string {
	return fmt.Sprintf("%s(%s, on=%t)", c.Type, c.ChannelID, c.On)
}
