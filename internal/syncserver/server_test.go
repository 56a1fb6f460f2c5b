package syncserver

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/escapecode/bughunt/internal/api"
	"github.com/escapecode/bughunt/internal/game"
	"github.com/escapecode/bughunt/internal/realtime"
	"github.com/escapecode/bughunt/internal/session"
	"github.com/escapecode/bughunt/internal/ui"
	"github.com/escapecode/bughunt/pkg/wire"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(ctx, clockwork.NewRealClock(), zap.NewNop())
	srv := httptest.NewServer(New(hub, zap.NewNop()).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func recvEvent(t *testing.T, ch <-chan wire.Event, within time.Duration) wire.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return nil // unreachable
	}
}

// waitFor receives events until one matches, tolerating interleaved
// snapshots and bug notices on the shared group channel.
func waitFor[T wire.Event](t *testing.T, ch <-chan wire.Event, within time.Duration) T {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev := <-ch:
			if match, ok := ev.(T); ok {
				return match
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero // unreachable
		}
	}
}

func newRawClient(t *testing.T, srvURL string) (*realtime.Manager, chan wire.Event) {
	t.Helper()
	events := make(chan wire.Event, 16)
	m := realtime.NewManager(realtime.Config{
		BaseURL: srvURL,
		Sink:    func(ev wire.Event) { events <- ev },
		Done:    func() bool { return false },
		Clock:   clockwork.NewRealClock(),
		Log:     zap.NewNop(),
	})
	t.Cleanup(m.Close)
	return m, events
}

func TestEndToEnd_TeamEventsFanOutOverTheWire(t *testing.T) {
	srv := newTestServer(t)
	sess := session.Session{TeamID: "t1", Token: "tok", Round: 1, Page: 1}

	alice, aliceEvents := newRawClient(t, srv.URL)
	bob, bobEvents := newRawClient(t, srv.URL)
	alice.Connect(sess)
	bob.Connect(sess)

	// both get the join snapshot
	waitFor[wire.GameStateEvent](t, aliceEvents, 2*time.Second)
	waitFor[wire.GameStateEvent](t, bobEvents, 2*time.Second)

	alice.Send(wire.BugFixedEvent{PageNumber: 1, BugID: "2", User: "alice"})

	for name, ch := range map[string]chan wire.Event{"alice": aliceEvents, "bob": bobEvents} {
		bf := waitFor[wire.BugFixedEvent](t, ch, 2*time.Second)
		if bf.BugID != "2" || bf.User != "alice" {
			t.Fatalf("%s saw wrong event: %+v", name, bf)
		}
	}

	// alice validates the page over the API, then announces it
	client := api.NewClient(srv.URL, zap.NewNop())
	resp, err := client.ValidatePage(context.Background(), wire.ValidatePageRequest{
		TeamID: "t1", Token: "tok", RoundNumber: 1, PageNumber: 1,
		BugsFixed: []string{"1", "2", "3"},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !resp.Success || resp.CurrentScore != pointsPerPage {
		t.Fatalf("validate response: %+v", resp)
	}

	alice.Send(wire.PageCompletedEvent{PageNumber: 1, User: "alice"})

	pc := waitFor[wire.PageCompletedEvent](t, bobEvents, 2*time.Second)
	if pc.PageNumber != 1 {
		t.Fatalf("bob saw wrong completion: %+v", pc)
	}
	gs := waitFor[wire.GameStateEvent](t, bobEvents, 2*time.Second)
	if !gs.Data.Pages[0].Completed {
		t.Fatalf("trailing snapshot missing completion: %+v", gs.Data)
	}
}

// quietView is a concurrency-safe no-op view for full-stack tests.
type quietView struct {
	mu        sync.Mutex
	continues int
}

func (v *quietView) Notify(string, ui.Level)     {}
func (v *quietView) Alert(string)                {}
func (v *quietView) Confirm(string) bool         { return true }
func (v *quietView) SetHeader(string, int, int)  {}
func (v *quietView) SetScore(int)                {}
func (v *quietView) SetBugCount(int, int)        {}
func (v *quietView) SetTimer(string, bool)       {}
func (v *quietView) EnableComplete()             {}
func (v *quietView) ShowContinue() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.continues++
}

type quietNav struct{}

func (quietNav) NavigateTo(string) {}
func (quietNav) Dashboard()        {}

func TestEndToEnd_ControllerConvergesOnTeammateCompletion(t *testing.T) {
	srv := newTestServer(t)

	view := &quietView{}
	store := session.NewStore(t.TempDir(), zap.NewNop())
	ctrl := game.New(game.Config{
		Store:     store,
		API:       api.NewClient(srv.URL, zap.NewNop()),
		View:      view,
		Nav:       quietNav{},
		Overrides: session.Partial{TeamID: "t1", Token: "tok", Round: 1, Page: 1},
		Clock:     clockwork.NewRealClock(),
		Log:       zap.NewNop(),
	})
	mgr := realtime.NewManager(realtime.Config{
		BaseURL: srv.URL,
		Sink:    ctrl.Deliver,
		Done:    ctrl.PageDone,
		Clock:   clockwork.NewRealClock(),
		Log:     zap.NewNop(),
	})
	ctrl.UseChannel(mgr)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// a teammate on another machine validates the page and announces it
	teammate, teammateEvents := newRawClient(t, srv.URL)
	teammate.Connect(session.Session{TeamID: "t1", Token: "tok", Round: 1, Page: 1})
	waitFor[wire.GameStateEvent](t, teammateEvents, 2*time.Second)

	client := api.NewClient(srv.URL, zap.NewNop())
	if _, err := client.ValidatePage(context.Background(), wire.ValidatePageRequest{
		TeamID: "t1", Token: "tok", RoundNumber: 1, PageNumber: 1,
		BugsFixed: []string{"1", "2", "3"},
	}); err != nil {
		t.Fatalf("teammate validate: %v", err)
	}
	teammate.Send(wire.PageCompletedEvent{PageNumber: 1, User: "teammate"})

	// the controller must converge to team-completed without any local call
	deadline := time.Now().Add(5 * time.Second)
	for {
		reply := make(chan game.State, 1)
		ctrl.Inbox() <- game.GetState{Reply: reply}
		state := <-reply
		if state.Completion == game.TeamCompleted {
			if !ctrl.PageDone() {
				t.Fatalf("reconnect suppression flag not set")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("controller never converged: %+v", state)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
