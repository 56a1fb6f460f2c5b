package syncserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/escapecode/bughunt/pkg/wire"
)

// Server is a development double of the game backend: the same HTTP API and
// sync channel surface the real backend exposes, enough for local play and
// for the client's integration tests. Not the production game server.
type Server struct {
	hub *Hub
	log *zap.Logger
}

func New(hub *Hub, log *zap.Logger) *Server {
	return &Server{hub: hub, log: log}
}

// Routes builds the router with the hub injected.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/game-state/", s.handleGameState)
	r.Post("/api/validate-page/", s.handleValidatePage)
	r.Get("/ws/game/team/{teamID}/round/{round}/", s.handleChannel)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func (s *Server) handleGameState(w http.ResponseWriter, r *http.Request) {
	var req wire.GameStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, wire.GameStateResponse{Error: "bad json"})
		return
	}
	if req.TeamID == "" || req.RoundNumber <= 0 {
		writeJSON(w, http.StatusBadRequest, wire.GameStateResponse{Error: "Team not found"})
		return
	}
	room := s.hub.Ensure(req.TeamID, req.RoundNumber)
	writeJSON(w, http.StatusOK, room.State())
}

func (s *Server) handleValidatePage(w http.ResponseWriter, r *http.Request) {
	var req wire.ValidatePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ValidatePageResponse{Error: "bad json"})
		return
	}
	if req.TeamID == "" || req.RoundNumber <= 0 {
		writeJSON(w, http.StatusBadRequest, wire.ValidatePageResponse{Error: "Team not found"})
		return
	}

	room := s.hub.Ensure(req.TeamID, req.RoundNumber)
	resp := room.Validate(req)

	status := http.StatusOK
	switch resp.Error {
	case "":
	case "Invalid token", "Time over":
		status = http.StatusForbidden
	default:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")
	round, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil || teamID == "" || round <= 0 {
		http.Error(w, "bad team or round", http.StatusBadRequest)
		return
	}

	room := s.hub.Ensure(teamID, round)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local development server
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	out := make(chan []byte, 8)
	clientID := uuid.NewString()

	room.Inbox() <- join{ClientID: clientID, Outbox: out}
	defer func() { room.Inbox() <- leave{ClientID: clientID} }()

	s.log.Info("client joined sync channel",
		zap.String("team_id", teamID), zap.Int("round", round),
		zap.String("client_id", clientID))

	// Writer goroutine
	writeCtx, writeCancel := context.WithCancel(r.Context())
	defer writeCancel()
	go func() {
		for frame := range out {
			ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
			_ = conn.Write(ctx, websocket.MessageText, frame)
			cancel()
		}
	}()

	// Reader loop
	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			return
		}

		ev, err := wire.DecodeEvent(data)
		if err != nil {
			s.log.Warn("malformed client frame dropped", zap.Error(err))
			continue
		}
		room.Inbox() <- fromClient{ClientID: clientID, Event: ev}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
