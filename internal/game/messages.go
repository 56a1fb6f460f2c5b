package game

import (
	"github.com/escapecode/bughunt/internal/session"
	"github.com/escapecode/bughunt/pkg/wire"
)

// Everything that can happen to a session — player actions, teammate
// events off the channel, timer expiry — flows through the controller's
// inbox as one of these messages, so handlers never race each other.

type Msg interface{ isSessionMsg() }

// FixBug marks one bug fixed by the local player.
type FixBug struct{ BugID string }

// CompletePage submits (or, once team-completed, just advances past) the
// current page.
type CompletePage struct{}

// Exit is the explicit logout path.
type Exit struct{}

// TeamEvent is an inbound realtime event from the channel.
type TeamEvent struct{ Event wire.Event }

// ChannelConnected fires each time the channel comes up, first connect and
// reconnects alike.
type ChannelConnected struct{}

// TimeExpired fires when the countdown reaches zero.
type TimeExpired struct{}

// GetState reflects internal state without data races. The reply also
// serves as a barrier: once it arrives, every earlier message is handled.
type GetState struct{ Reply chan State }

// Shutdown stops the loop without touching the stored session.
type Shutdown struct{}

func (FixBug) isSessionMsg()           {}
func (CompletePage) isSessionMsg()     {}
func (Exit) isSessionMsg()             {}
func (TeamEvent) isSessionMsg()        {}
func (ChannelConnected) isSessionMsg() {}
func (TimeExpired) isSessionMsg()      {}
func (GetState) isSessionMsg()         {}
func (Shutdown) isSessionMsg()         {}

// State is a copy of the controller's view of the world.
type State struct {
	Session    session.Session
	BugsFixed  []string
	Completion CompletionState
}
