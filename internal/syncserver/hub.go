package syncserver

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type hubMsg interface{ isHubMsg() }

// EnsureRoom returns the room for (team, round), creating it on first use.
type EnsureRoom struct {
	TeamID string
	Round  int
	Reply  chan *Room
}

// GetRoom returns the room if it exists, nil otherwise.
type GetRoom struct {
	TeamID string
	Round  int
	Reply  chan *Room
}

type RemoveRoom struct {
	TeamID string
	Round  int
}

type ShutdownHub struct{}

func (EnsureRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

// Hub owns every live room, keyed by (team, round).
type Hub struct {
	inbox  chan hubMsg
	rooms  map[string]*Room
	clock  clockwork.Clock
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, clock clockwork.Clock, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan hubMsg, 64),
		rooms:  make(map[string]*Room),
		clock:  clock,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- hubMsg { return h.inbox }

// Ensure is the blocking convenience wrapper around EnsureRoom.
func (h *Hub) Ensure(teamID string, round int) *Room {
	reply := make(chan *Room, 1)
	h.inbox <- EnsureRoom{TeamID: teamID, Round: round, Reply: reply}
	return <-reply
}

func roomKey(teamID string, round int) string {
	return fmt.Sprintf("%s:%d", teamID, round)
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureRoom:
				key := roomKey(msg.TeamID, msg.Round)
				if room := h.rooms[key]; room != nil {
					msg.Reply <- room
					break
				}
				room := newRoom(h.ctx, msg.TeamID, msg.Round, h.clock, h.log)
				h.rooms[key] = room
				h.log.Info("room created",
					zap.String("team_id", msg.TeamID), zap.Int("round", msg.Round))
				msg.Reply <- room

			case GetRoom:
				msg.Reply <- h.rooms[roomKey(msg.TeamID, msg.Round)] // may be nil

			case RemoveRoom:
				delete(h.rooms, roomKey(msg.TeamID, msg.Round))

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for key, room := range h.rooms {
		room.Inbox() <- roomShutdown{}
		delete(h.rooms, key)
	}
	h.cancel()
}
