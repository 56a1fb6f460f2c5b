package syncserver

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/escapecode/bughunt/pkg/wire"
)

// helper: receive one frame with a timeout so tests never hang
func recvFrame(t *testing.T, ch <-chan []byte, within time.Duration) wire.Event {
	t.Helper()
	select {
	case frame, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		ev, err := wire.DecodeEvent(frame)
		if err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for frame")
		return nil // unreachable
	}
}

func recvNoFrame(t *testing.T, ch <-chan []byte, within time.Duration) {
	t.Helper()
	select {
	case frame, ok := <-ch:
		if !ok {
			return // closed → no further frames possible
		}
		t.Fatalf("expected no frame within %v, but got: %s", within, frame)
	case <-time.After(within):
		// good: no frame
	}
}

func newTestRoom(t *testing.T) (*Room, *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	clock := clockwork.NewFakeClock()
	return newRoom(ctx, "t1", 1, clock, zap.NewNop()), clock
}

func TestRoom_JoinReceivesSnapshotImmediately(t *testing.T) {
	r, _ := newTestRoom(t)

	out := make(chan []byte, 8)
	r.Inbox() <- join{ClientID: "c1", Outbox: out}

	ev := recvFrame(t, out, time.Second)
	gs, ok := ev.(wire.GameStateEvent)
	if !ok {
		t.Fatalf("expected game_state on join, got %T", ev)
	}
	if gs.Data.CurrentPage != 1 || gs.Data.Score != 0 || len(gs.Data.Pages) != totalPages {
		t.Fatalf("bad initial snapshot: %+v", gs.Data)
	}
}

func TestRoom_BugFixedBroadcastsToWholeGroup(t *testing.T) {
	r, _ := newTestRoom(t)

	out1 := make(chan []byte, 8)
	out2 := make(chan []byte, 8)
	r.Inbox() <- join{ClientID: "c1", Outbox: out1}
	r.Inbox() <- join{ClientID: "c2", Outbox: out2}
	recvFrame(t, out1, time.Second) // join snapshots
	recvFrame(t, out2, time.Second)

	r.Inbox() <- fromClient{ClientID: "c1", Event: wire.BugFixedEvent{PageNumber: 1, BugID: "2", User: "t1"}}

	// group semantics: the sender hears its own broadcast too
	for _, out := range []chan []byte{out1, out2} {
		ev := recvFrame(t, out, time.Second)
		bf, ok := ev.(wire.BugFixedEvent)
		if !ok || bf.BugID != "2" {
			t.Fatalf("expected bug_fixed, got %#v", ev)
		}
	}
}

func TestRoom_SyncRequestAnswersRequesterOnly(t *testing.T) {
	r, _ := newTestRoom(t)

	out1 := make(chan []byte, 8)
	out2 := make(chan []byte, 8)
	r.Inbox() <- join{ClientID: "c1", Outbox: out1}
	r.Inbox() <- join{ClientID: "c2", Outbox: out2}
	recvFrame(t, out1, time.Second)
	recvFrame(t, out2, time.Second)

	r.Inbox() <- fromClient{ClientID: "c2", Event: wire.SyncRequestEvent{}}

	if _, ok := recvFrame(t, out2, time.Second).(wire.GameStateEvent); !ok {
		t.Fatalf("requester did not get a snapshot")
	}
	recvNoFrame(t, out1, 100*time.Millisecond)
}

func TestRoom_ValidateRejectsShortBugList(t *testing.T) {
	r, _ := newTestRoom(t)

	resp := r.Validate(wire.ValidatePageRequest{
		TeamID: "t1", Token: "tok", RoundNumber: 1, PageNumber: 1,
		BugsFixed: []string{"1"},
	})
	if resp.Error == "" || resp.Success {
		t.Fatalf("short bug list must be rejected: %+v", resp)
	}
	if r.State().CurrentScore != 0 {
		t.Fatalf("rejected validation must not score")
	}
}

func TestRoom_ValidateScoresOncePerPage(t *testing.T) {
	r, _ := newTestRoom(t)
	req := wire.ValidatePageRequest{
		TeamID: "t1", Token: "tok", RoundNumber: 1, PageNumber: 1,
		BugsFixed: []string{"1", "2", "3"},
	}

	first := r.Validate(req)
	if !first.Success || first.CurrentScore != pointsPerPage {
		t.Fatalf("first validation: %+v", first)
	}
	if first.NextPageURL == "" {
		t.Fatalf("expected next page url")
	}

	// a teammate resubmitting the same page must not double-score
	again := r.Validate(req)
	if !again.Success || again.CurrentScore != pointsPerPage {
		t.Fatalf("revalidation double-scored: %+v", again)
	}

	state := r.State()
	if state.CurrentPage != 2 {
		t.Fatalf("current page not advanced: %+v", state)
	}
}

func TestRoom_ValidateLastPageCompletesRound(t *testing.T) {
	r, _ := newTestRoom(t)

	for page := 1; page <= totalPages; page++ {
		resp := r.Validate(wire.ValidatePageRequest{
			TeamID: "t1", Token: "tok", RoundNumber: 1, PageNumber: page,
			BugsFixed: []string{"1", "2", "3"},
		})
		if page < totalPages {
			if !resp.Success || resp.RoundCompleted {
				t.Fatalf("page %d: %+v", page, resp)
			}
			continue
		}
		if !resp.RoundCompleted || resp.FinalScore != totalPages*pointsPerPage {
			t.Fatalf("last page must complete the round: %+v", resp)
		}
		if resp.NextPageURL != "" {
			t.Fatalf("completed round must not point at a next page")
		}
	}
}

func TestRoom_ValidateAfterDeadlineRedirects(t *testing.T) {
	r, clock := newTestRoom(t)
	clock.Advance(roundDuration + time.Minute)

	resp := r.Validate(wire.ValidatePageRequest{
		TeamID: "t1", Token: "tok", RoundNumber: 1, PageNumber: 1,
		BugsFixed: []string{"1", "2", "3"},
	})
	if resp.Error != "Time over" || !resp.RedirectDashboard {
		t.Fatalf("expired round: %+v", resp)
	}
	if r.State().TimeRemaining != 0 {
		t.Fatalf("remaining time must clamp at zero")
	}
}

func TestRoom_PageCompletedRelaysEventAndSnapshot(t *testing.T) {
	r, _ := newTestRoom(t)

	out := make(chan []byte, 8)
	r.Inbox() <- join{ClientID: "c1", Outbox: out}
	recvFrame(t, out, time.Second)

	// validation recorded the completion; the channel relays the news
	r.Validate(wire.ValidatePageRequest{
		TeamID: "t1", Token: "tok", RoundNumber: 1, PageNumber: 1,
		BugsFixed: []string{"1", "2", "3"},
	})
	r.Inbox() <- fromClient{ClientID: "c1", Event: wire.PageCompletedEvent{PageNumber: 1, User: "t1"}}

	if pc, ok := recvFrame(t, out, time.Second).(wire.PageCompletedEvent); !ok || pc.PageNumber != 1 {
		t.Fatalf("expected relayed page_completed")
	}
	gs, ok := recvFrame(t, out, time.Second).(wire.GameStateEvent)
	if !ok {
		t.Fatalf("expected trailing snapshot")
	}
	if !gs.Data.Pages[0].Completed || gs.Data.Score != pointsPerPage {
		t.Fatalf("snapshot missing completion: %+v", gs.Data)
	}
}
