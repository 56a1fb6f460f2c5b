package realtime

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/escapecode/bughunt/internal/session"
	"github.com/escapecode/bughunt/pkg/wire"
)

const (
	reconnectDelay = 3 * time.Second
	dialTimeout    = 10 * time.Second
	writeTimeout   = 3 * time.Second
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// Config wires a Manager to its owner.
type Config struct {
	// BaseURL is the backend root, e.g. "http://host:8000". The channel
	// scheme mirrors it: http → ws, https → wss.
	BaseURL string
	// Sink receives every decoded inbound event.
	Sink func(wire.Event)
	// OnConnect fires each time the channel reaches the connected state.
	OnConnect func()
	// Done is the reconnect suppression predicate: once the current page
	// is team-completed there is nothing left to synchronize. It is
	// evaluated when a retry would be scheduled, not when it fires.
	Done func() bool

	Clock clockwork.Clock
	Log   *zap.Logger
}

// Manager owns at most one live websocket per (team, round). A drop while
// the page is still in play schedules exactly one reconnect attempt after
// a fixed delay; an explicit Close is terminal.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	state  connState
	conn   *websocket.Conn
	closed bool
	retry  clockwork.Timer
}

func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Manager{cfg: cfg}
}

// Connect opens the channel for the session's team and round. A session
// missing either is logged and ignored — callers should have validated
// upstream, but the manager defends against it anyway. A manager that is
// already connecting or connected won't start a second attempt.
func (m *Manager) Connect(sess session.Session) {
	if !sess.Complete() {
		m.cfg.Log.Error("cannot connect channel: missing team or round",
			zap.String("team_id", sess.TeamID), zap.Int("round", sess.Round))
		return
	}

	m.mu.Lock()
	if m.closed || m.state != stateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = stateConnecting
	m.mu.Unlock()

	go m.run(sess)
}

// Send delivers one outbound event, fire-and-forget. If the channel is not
// connected the event is dropped — never queued; the server, not the
// channel, is the durable source of truth.
func (m *Manager) Send(ev wire.Event) {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == stateConnected
	m.mu.Unlock()

	if !connected {
		m.cfg.Log.Debug("channel not connected, dropping outbound event")
		return
	}

	data, err := wire.EncodeEvent(ev)
	if err != nil {
		m.cfg.Log.Error("encode outbound event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		m.cfg.Log.Warn("channel write failed", zap.Error(err))
	}
}

// Close tears the channel down for good: any live connection is closed,
// any pending retry cancelled, and no further reconnect will ever run.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.retry != nil {
		m.retry.Stop()
	}
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

func (m *Manager) run(sess session.Session) {
	target := m.channelURL(sess)

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, target, nil)
	cancel()
	if err != nil {
		m.cfg.Log.Warn("channel dial failed", zap.String("url", target), zap.Error(err))
		m.handleClosed(sess)
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "bye")
		return
	}
	m.conn = conn
	m.state = stateConnected
	m.mu.Unlock()

	m.cfg.Log.Info("channel connected", zap.String("url", target))
	if m.cfg.OnConnect != nil {
		m.cfg.OnConnect()
	}

	m.readLoop(conn)

	conn.Close(websocket.StatusNormalClosure, "bye")
	m.handleClosed(sess)
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			// An error always precedes the close of this transport; the
			// close path below owns reconnection, so only log here.
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				m.cfg.Log.Info("channel closed by peer")
			default:
				m.cfg.Log.Warn("channel read error", zap.Error(err))
			}
			return
		}

		ev, err := wire.DecodeEvent(data)
		if err != nil {
			m.cfg.Log.Warn("malformed channel message dropped", zap.Error(err))
			continue
		}
		if u, ok := ev.(wire.UnknownEvent); ok {
			m.cfg.Log.Info("unknown channel message dropped", zap.String("type", u.Type))
			continue
		}
		m.cfg.Sink(ev)
	}
}

// handleClosed runs after every disconnect, whether the dial failed or an
// established connection dropped. The suppression predicate is evaluated
// here, at schedule time.
func (m *Manager) handleClosed(sess session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = stateDisconnected
	m.conn = nil

	if m.closed {
		return
	}
	if m.cfg.Done != nil && m.cfg.Done() {
		m.cfg.Log.Info("page already completed, not reconnecting")
		return
	}

	m.cfg.Log.Info("channel disconnected, reconnecting", zap.Duration("delay", reconnectDelay))
	m.retry = m.cfg.Clock.AfterFunc(reconnectDelay, func() {
		m.Connect(sess)
	})
}

func (m *Manager) channelURL(sess session.Session) string {
	scheme := "ws"
	host := m.cfg.BaseURL
	if u, err := url.Parse(m.cfg.BaseURL); err == nil && u.Host != "" {
		host = u.Host
		if u.Scheme == "https" {
			scheme = "wss"
		}
	} else {
		host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	}
	return fmt.Sprintf("%s://%s/ws/game/team/%s/round/%d/", scheme, host, sess.TeamID, sess.Round)
}
