package wire

import (
	"encoding/json"
	"fmt"
)

// Realtime events are framed as {"type": "..."} JSON messages on the team
// sync channel. We model them as a closed union so handlers can switch
// exhaustively; tags we don't recognize decode to UnknownEvent rather than
// failing, so an older client survives a newer server.

type Event interface{ isEvent() }

// GameStateEvent carries a full snapshot of the team's round progress.
// The server pushes one on join and after every page completion.
type GameStateEvent struct {
	Data Snapshot
}

// BugFixedEvent announces that a teammate marked one bug fixed.
type BugFixedEvent struct {
	PageNumber int
	BugID      string
	User       string
}

// PageCompletedEvent announces that a teammate validated the whole page.
type PageCompletedEvent struct {
	PageNumber int
	User       string
}

// SyncRequestEvent asks the server to resend the current snapshot.
// Outbound only.
type SyncRequestEvent struct{}

// UnknownEvent is the fallback arm for tags this client doesn't know.
type UnknownEvent struct {
	Type string
}

func (GameStateEvent) isEvent()     {}
func (BugFixedEvent) isEvent()      {}
func (PageCompletedEvent) isEvent() {}
func (SyncRequestEvent) isEvent()   {}
func (UnknownEvent) isEvent()       {}

// Snapshot mirrors the server's game_state payload.
type Snapshot struct {
	TeamName    string      `json:"team_name,omitempty"`
	RoundNumber int         `json:"round_number,omitempty"`
	CurrentPage int         `json:"current_page,omitempty"`
	Score       int         `json:"score"`
	Status      string      `json:"status,omitempty"`
	Pages       []PageState `json:"pages,omitempty"`
	Error       string      `json:"error,omitempty"`
}

type PageState struct {
	PageNumber int      `json:"page_number"`
	Completed  bool     `json:"completed"`
	BugsFixed  []string `json:"bugs_fixed,omitempty"`
}

const (
	tagGameState     = "game_state"
	tagBugFixed      = "bug_fixed"
	tagPageCompleted = "page_completed"
	tagSyncRequest   = "sync_request"
)

// envelope is the superset of fields across all tags. game_state nests its
// payload under "data"; the rest are flat.
type envelope struct {
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	PageNumber int             `json:"page_number,omitempty"`
	BugID      string          `json:"bug_id,omitempty"`
	User       string          `json:"user,omitempty"`
}

// DecodeEvent parses one framed message. Malformed JSON is an error; a
// well-formed message with an unrecognized tag is not.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch env.Type {
	case tagGameState:
		var snap Snapshot
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &snap); err != nil {
				return nil, fmt.Errorf("decode game_state payload: %w", err)
			}
		}
		return GameStateEvent{Data: snap}, nil

	case tagBugFixed:
		return BugFixedEvent{PageNumber: env.PageNumber, BugID: env.BugID, User: env.User}, nil

	case tagPageCompleted:
		return PageCompletedEvent{PageNumber: env.PageNumber, User: env.User}, nil

	case tagSyncRequest:
		return SyncRequestEvent{}, nil

	default:
		return UnknownEvent{Type: env.Type}, nil
	}
}

// EncodeEvent frames an event for the channel.
func EncodeEvent(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case GameStateEvent:
		payload, err := json.Marshal(e.Data)
		if err != nil {
			return nil, fmt.Errorf("encode game_state payload: %w", err)
		}
		return json.Marshal(envelope{Type: tagGameState, Data: payload})

	case BugFixedEvent:
		return json.Marshal(envelope{Type: tagBugFixed, PageNumber: e.PageNumber, BugID: e.BugID, User: e.User})

	case PageCompletedEvent:
		return json.Marshal(envelope{Type: tagPageCompleted, PageNumber: e.PageNumber, User: e.User})

	case SyncRequestEvent:
		return json.Marshal(envelope{Type: tagSyncRequest})

	default:
		return nil, fmt.Errorf("encode event: unsupported type %T", ev)
	}
}
