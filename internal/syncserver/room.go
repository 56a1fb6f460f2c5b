package syncserver

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/escapecode/bughunt/pkg/wire"
)

const (
	totalPages    = 10
	bugsPerPage   = 3
	pointsPerPage = 10
	roundDuration = 30 * time.Minute
)

type roomMsg interface{ isRoomMsg() }

type join struct {
	ClientID string
	Outbox   chan []byte // where this client wants to receive frames
}

type leave struct{ ClientID string }

// fromClient is one inbound channel event, tagged with its sender so
// sync_request answers go to that client only.
type fromClient struct {
	ClientID string
	Event    wire.Event
}

type getState struct {
	Reply chan wire.GameStateResponse
}

type validate struct {
	Req   wire.ValidatePageRequest
	Reply chan wire.ValidatePageResponse
}

type roomShutdown struct{}

func (join) isRoomMsg()         {}
func (leave) isRoomMsg()        {}
func (fromClient) isRoomMsg()   {}
func (getState) isRoomMsg()     {}
func (validate) isRoomMsg()     {}
func (roomShutdown) isRoomMsg() {}

// Room is the sync group for one (team, round): it owns the round's state
// and fans events out to every connected teammate. All mutation happens on
// the loop goroutine.
type Room struct {
	inbox chan roomMsg

	teamID   string
	round    int
	teamName string

	score       int
	currentPage int
	completed   map[int][]string // page -> bugs submitted
	endsAt      time.Time

	clients map[string]chan []byte

	clock  clockwork.Clock
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func newRoom(parent context.Context, teamID string, round int, clock clockwork.Clock, log *zap.Logger) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		inbox:       make(chan roomMsg, 64),
		teamID:      teamID,
		round:       round,
		teamName:    fmt.Sprintf("Team %s", teamID),
		currentPage: 1,
		completed:   make(map[int][]string),
		endsAt:      clock.Now().Add(roundDuration),
		clients:     make(map[string]chan []byte),
		clock:       clock,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- roomMsg { return r.inbox }

// State answers the game-state API for this room.
func (r *Room) State() wire.GameStateResponse {
	reply := make(chan wire.GameStateResponse, 1)
	r.inbox <- getState{Reply: reply}
	return <-reply
}

// Validate answers the validate-page API for this room.
func (r *Room) Validate(req wire.ValidatePageRequest) wire.ValidatePageResponse {
	reply := make(chan wire.ValidatePageResponse, 1)
	r.inbox <- validate{Req: req, Reply: reply}
	return <-reply
}

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case join:
				r.clients[msg.ClientID] = msg.Outbox
				// newly connected clients get the current snapshot right away
				r.sendTo(msg.ClientID, wire.GameStateEvent{Data: r.snapshot()})

			case leave:
				delete(r.clients, msg.ClientID)

			case fromClient:
				r.handleEvent(msg)

			case getState:
				msg.Reply <- wire.GameStateResponse{
					TeamName:      r.teamName,
					CurrentScore:  r.score,
					CurrentPage:   r.currentPage,
					TimeRemaining: r.timeRemaining(),
				}

			case validate:
				msg.Reply <- r.validatePage(msg.Req)

			case roomShutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleEvent(msg fromClient) {
	switch ev := msg.Event.(type) {
	case wire.BugFixedEvent:
		r.broadcast(ev)

	case wire.PageCompletedEvent:
		// The validate API is what records completion; the channel only
		// relays the news plus a fresh snapshot so late joiners converge.
		r.broadcast(ev)
		r.broadcast(wire.GameStateEvent{Data: r.snapshot()})

	case wire.SyncRequestEvent:
		r.sendTo(msg.ClientID, wire.GameStateEvent{Data: r.snapshot()})

	default:
		r.log.Info("unknown client event dropped",
			zap.String("client_id", msg.ClientID))
	}
}

func (r *Room) validatePage(req wire.ValidatePageRequest) wire.ValidatePageResponse {
	if req.Token == "" {
		return wire.ValidatePageResponse{Error: "Invalid token"}
	}
	if r.clock.Now().After(r.endsAt) {
		return wire.ValidatePageResponse{Error: "Time over", RedirectDashboard: true}
	}
	if len(req.BugsFixed) < bugsPerPage {
		return wire.ValidatePageResponse{
			Error: fmt.Sprintf("All %d bugs must be fixed", bugsPerPage),
		}
	}

	// completing a page twice must not double-score
	if _, done := r.completed[req.PageNumber]; !done {
		r.completed[req.PageNumber] = req.BugsFixed
		r.score += pointsPerPage
		r.currentPage = req.PageNumber + 1
	}

	if req.PageNumber < totalPages {
		next := req.PageNumber + 1
		return wire.ValidatePageResponse{
			Success:        true,
			CurrentScore:   r.score,
			NextPageURL:    fmt.Sprintf("/round%d/page%d.html?token=%s&team=%s", r.round, next, req.Token, req.TeamID),
			PagesCompleted: req.PageNumber,
			TotalPages:     totalPages,
		}
	}

	return wire.ValidatePageResponse{
		Success:           true,
		RoundCompleted:    true,
		FinalScore:        r.score,
		RedirectDashboard: true,
		Message:           fmt.Sprintf("Round %d Completed!", r.round),
	}
}

func (r *Room) snapshot() wire.Snapshot {
	pages := make([]wire.PageState, 0, totalPages)
	for p := 1; p <= totalPages; p++ {
		bugs, done := r.completed[p]
		pages = append(pages, wire.PageState{PageNumber: p, Completed: done, BugsFixed: bugs})
	}
	return wire.Snapshot{
		TeamName:    r.teamName,
		RoundNumber: r.round,
		CurrentPage: r.currentPage,
		Score:       r.score,
		Status:      r.status(),
		Pages:       pages,
	}
}

func (r *Room) status() string {
	if len(r.completed) >= totalPages {
		return "completed"
	}
	if r.clock.Now().After(r.endsAt) {
		return "time_over"
	}
	return "active"
}

func (r *Room) timeRemaining() int {
	remaining := int(r.endsAt.Sub(r.clock.Now()).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (r *Room) broadcast(ev wire.Event) {
	frame, err := wire.EncodeEvent(ev)
	if err != nil {
		r.log.Error("encode broadcast", zap.Error(err))
		return
	}
	for id, ch := range r.clients {
		select {
		case ch <- frame:
			// ok
		default:
			// client is slow/full - drop them
			close(ch)
			delete(r.clients, id)
		}
	}
}

func (r *Room) sendTo(clientID string, ev wire.Event) {
	ch, ok := r.clients[clientID]
	if !ok {
		return
	}
	frame, err := wire.EncodeEvent(ev)
	if err != nil {
		r.log.Error("encode frame", zap.Error(err))
		return
	}
	select {
	case ch <- frame:
	default:
		close(ch)
		delete(r.clients, clientID)
	}
}

func (r *Room) shutdown() {
	for id, ch := range r.clients {
		close(ch)
		delete(r.clients, id)
	}
	r.cancel()
}
