package game

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/escapecode/bughunt/internal/api"
	"github.com/escapecode/bughunt/internal/countdown"
	"github.com/escapecode/bughunt/internal/session"
	"github.com/escapecode/bughunt/internal/ui"
	"github.com/escapecode/bughunt/pkg/wire"
)

const (
	totalBugs     = 3
	pagesPerRound = 10

	// how long the success notification stays visible before navigating
	navigateDelay = 1500 * time.Millisecond
)

var (
	ErrNoToken           = errors.New("no auth token")
	ErrSessionIncomplete = errors.New("session missing team or round")
)

// CompletionState is the page's tri-state progress. Transitions only move
// forward: once team-completed, a page never reverts.
type CompletionState string

const (
	Incomplete    CompletionState = "incomplete"
	LocallyReady  CompletionState = "locally-ready"
	TeamCompleted CompletionState = "team-completed"
)

// API is the request/response surface the session depends on.
type API interface {
	GameState(ctx context.Context, req wire.GameStateRequest) (*wire.GameStateResponse, error)
	ValidatePage(ctx context.Context, req wire.ValidatePageRequest) (*wire.ValidatePageResponse, error)
}

// Channel is the realtime surface: connect once, fire-and-forget sends,
// terminal close.
type Channel interface {
	Connect(sess session.Session)
	Send(ev wire.Event)
	Close()
}

// Store is the durable session keystore.
type Store interface {
	Read() session.Session
	Write(p session.Partial) error
	Clear() error
}

// Navigator performs page transitions and the lobby redirect. The shell
// owns what "navigate" means; the controller only decides when.
type Navigator interface {
	NavigateTo(pageURL string)
	Dashboard()
}

// Config carries the controller's collaborators. Overrides are the entry
// parameters (team, token, round, page): they always win over stored
// values and are persisted back immediately.
type Config struct {
	Store     Store
	API       API
	View      ui.View
	Nav       Navigator
	Overrides session.Partial
	Clock     clockwork.Clock
	Log       *zap.Logger
}

// Controller coordinates local bug-fix progress, server-confirmed page
// state, and teammate events into one view of the current page. All state
// lives inside the loop goroutine; the only cross-goroutine value is the
// team-completed flag the channel reads to suppress reconnects.
type Controller struct {
	cfg     Config
	channel Channel

	sess       session.Session
	bugsFixed  map[string]struct{}
	completion CompletionState
	pageDone   atomic.Bool

	timer *countdown.Countdown

	inbox  chan Msg
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Controller{
		cfg:        cfg,
		bugsFixed:  make(map[string]struct{}),
		completion: Incomplete,
		inbox:      make(chan Msg, 64),
	}
}

// UseChannel attaches the realtime channel. Called once before Start; the
// two-step wiring exists because the channel's sink is this controller.
func (c *Controller) UseChannel(ch Channel) { c.channel = ch }

// Inbox accepts session messages from the shell and tests.
func (c *Controller) Inbox() chan<- Msg { return c.inbox }

// Deliver is the channel's sink: inbound events join the same queue as
// player actions.
func (c *Controller) Deliver(ev wire.Event) { c.inbox <- TeamEvent{Event: ev} }

// PageDone is the channel's reconnect suppression predicate.
func (c *Controller) PageDone() bool { return c.pageDone.Load() }

// Start runs initialization and, on success, spawns the session loop.
// Fatal precondition failures (no token, incomplete session) redirect to
// the dashboard and return an error without fetching state or opening the
// channel.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	if err := c.initialize(ctx); err != nil {
		return err
	}
	go c.loop()
	return nil
}

func (c *Controller) initialize(ctx context.Context) error {
	sess := c.cfg.Store.Read()

	// Entry parameters override stored values and are persisted so the
	// next page load sees them even without parameters.
	ov := c.cfg.Overrides
	if ov != (session.Partial{}) {
		if err := c.cfg.Store.Write(ov); err != nil {
			c.cfg.Log.Warn("persisting session overrides failed", zap.Error(err))
		}
	}
	if ov.TeamID != "" {
		sess.TeamID = ov.TeamID
	}
	if ov.Token != "" {
		sess.Token = ov.Token
	}
	if ov.Round > 0 {
		sess.Round = ov.Round
	}
	if ov.Page > 0 {
		sess.Page = ov.Page
	}

	if sess.Token == "" {
		c.cfg.View.Alert("Invalid access! Redirecting to dashboard...")
		c.cfg.Nav.Dashboard()
		return ErrNoToken
	}
	if !sess.Complete() {
		c.cfg.View.Alert("Session expired. Redirecting to dashboard...")
		c.cfg.Nav.Dashboard()
		return ErrSessionIncomplete
	}
	if sess.Page == 0 {
		sess.Page = 1
	}
	c.sess = sess

	c.cfg.View.SetBugCount(0, totalBugs)

	resp, err := c.cfg.API.GameState(ctx, wire.GameStateRequest{
		TeamID:      sess.TeamID,
		RoundNumber: sess.Round,
	})
	switch {
	case err == nil:
		c.cfg.View.SetHeader(resp.TeamName, sess.Round, sess.Page)
		c.cfg.View.SetScore(resp.CurrentScore)
		if resp.CurrentPage > sess.Page {
			// The team is already past this page.
			c.markTeamCompleted()
		}
		c.startCountdown(resp.TimeRemaining)
	case isDomainError(err):
		c.cfg.View.Alert(err.Error())
	default:
		// Transient failure: surface it, no automatic retry. The channel
		// still connects so teammate events keep flowing.
		c.cfg.Log.Warn("game state fetch failed", zap.Error(err))
		c.cfg.View.Alert("Failed to load game state.")
	}

	if c.channel != nil {
		c.channel.Connect(c.sess)
	}
	return nil
}

func (c *Controller) loop() {
	for {
		select {
		case <-c.ctx.Done():
			c.teardown()
			return

		case m := <-c.inbox:
			switch msg := m.(type) {
			case FixBug:
				c.fixBug(msg.BugID)

			case CompletePage:
				c.completePage()

			case TeamEvent:
				c.handleTeamEvent(msg.Event)

			case ChannelConnected:
				c.cfg.View.Notify("Connected to team sync", ui.LevelSuccess)
				// ask for a fresh snapshot so progress made while the
				// channel was down is reconciled
				if c.channel != nil {
					c.channel.Send(wire.SyncRequestEvent{})
				}

			case TimeExpired:
				c.cfg.View.Alert("Time is up! Returning to dashboard...")
				c.cfg.Nav.Dashboard()

			case Exit:
				if c.exit() {
					return
				}

			case GetState:
				msg.Reply <- c.snapshot()

			case Shutdown:
				c.teardown()
				return
			}
		}
	}
}

// fixBug marks a bug fixed by the local player. Re-fixing a bug is a pure
// no-op: no counter change, no notification, no broadcast.
func (c *Controller) fixBug(bugID string) {
	if _, done := c.bugsFixed[bugID]; done {
		return
	}
	c.bugsFixed[bugID] = struct{}{}
	c.cfg.View.SetBugCount(len(c.bugsFixed), totalBugs)

	if c.channel != nil {
		c.channel.Send(wire.BugFixedEvent{
			PageNumber: c.sess.Page,
			BugID:      bugID,
			User:       c.actor(),
		})
	}
	c.cfg.View.Notify(fmt.Sprintf("Bug %s fixed!", bugID), ui.LevelSuccess)
	c.maybeReady()
}

// maybeReady promotes the page to locally-ready once the required set is
// complete, whatever mix of local and teammate fixes got it there.
func (c *Controller) maybeReady() {
	if c.completion != Incomplete {
		return
	}
	if len(c.bugsFixed) < totalBugs {
		return
	}
	c.completion = LocallyReady
	c.cfg.View.Notify("All bugs fixed! You can complete this page!", ui.LevelSuccess)
	c.cfg.View.EnableComplete()
}

func (c *Controller) handleTeamEvent(ev wire.Event) {
	switch ev := ev.(type) {
	case wire.GameStateEvent:
		c.cfg.View.SetScore(ev.Data.Score)
		for _, p := range ev.Data.Pages {
			if p.PageNumber == c.sess.Page && p.Completed {
				c.markTeamCompleted()
			}
		}

	case wire.BugFixedEvent:
		c.cfg.View.Notify(fmt.Sprintf("%s fixed Bug %s", ev.User, ev.BugID), ui.LevelInfo)
		if _, done := c.bugsFixed[ev.BugID]; !done {
			c.bugsFixed[ev.BugID] = struct{}{}
			c.cfg.View.SetBugCount(len(c.bugsFixed), totalBugs)
			c.maybeReady()
		}

	case wire.PageCompletedEvent:
		if ev.PageNumber != c.sess.Page {
			return
		}
		c.cfg.View.Notify(fmt.Sprintf("%s completed this page!", ev.User), ui.LevelSuccess)
		c.markTeamCompleted()

	default:
		c.cfg.Log.Debug("unhandled team event", zap.Any("event", ev))
	}
}

// markTeamCompleted is the single transition into team-completed, shared
// by the validate response, the teammate event, and the snapshot paths.
// It never runs twice for one page instance.
func (c *Controller) markTeamCompleted() {
	if c.completion == TeamCompleted {
		return
	}
	c.completion = TeamCompleted
	c.pageDone.Store(true)
	c.cfg.View.Notify("Page completed by your team!", ui.LevelSuccess)
	c.cfg.View.ShowContinue()
}

func (c *Controller) completePage() {
	// Team completion is authoritative proof the server already recorded
	// this page; just move on, never resubmit.
	if c.completion == TeamCompleted {
		c.moveToNextPage()
		return
	}

	if len(c.bugsFixed) < totalBugs {
		c.cfg.View.Alert(fmt.Sprintf("You must fix all %d bugs first!", totalBugs))
		return
	}
	if !c.cfg.View.Confirm("Complete this page and move to the next?") {
		return
	}

	resp, err := c.cfg.API.ValidatePage(c.ctx, wire.ValidatePageRequest{
		TeamID:      c.sess.TeamID,
		Token:       c.sess.Token,
		RoundNumber: c.sess.Round,
		PageNumber:  c.sess.Page,
		BugsFixed:   c.bugList(),
	})
	if err != nil {
		var derr *api.DomainError
		if errors.As(err, &derr) {
			c.cfg.View.Alert(derr.Message)
			if derr.RedirectDashboard {
				c.cfg.Nav.Dashboard()
			}
			return
		}
		c.cfg.Log.Warn("validate page failed", zap.Error(err))
		c.cfg.View.Alert("Error completing page. Please try again.")
		return
	}

	c.cfg.View.SetScore(resp.CurrentScore)
	if c.channel != nil {
		c.channel.Send(wire.PageCompletedEvent{PageNumber: c.sess.Page, User: c.actor()})
	}

	if resp.RoundCompleted {
		c.cfg.View.Alert(fmt.Sprintf("%s Final Score: %d", resp.Message, resp.FinalScore))
		c.cfg.Nav.Dashboard()
		return
	}

	c.cfg.View.Notify("Page completed! +10 points", ui.LevelSuccess)
	c.cfg.Clock.Sleep(navigateDelay) // keep the success note visible
	c.cfg.Nav.NavigateTo(resp.NextPageURL)
}

func (c *Controller) moveToNextPage() {
	next := c.sess.Page + 1
	if next > pagesPerRound {
		c.cfg.View.Alert("Round completed! Returning to dashboard...")
		c.cfg.Nav.Dashboard()
		return
	}
	c.cfg.Nav.NavigateTo(pageURL(c.sess, next))
}

// exit handles explicit logout. Reports whether the session ended, so the
// loop knows to stop.
func (c *Controller) exit() bool {
	if !c.cfg.View.Confirm("Exit game and return to dashboard? (Progress will be saved)") {
		return false
	}
	c.teardown()
	if err := c.cfg.Store.Clear(); err != nil {
		c.cfg.Log.Warn("clearing session failed", zap.Error(err))
	}
	c.cfg.Nav.Dashboard()
	return true
}

func (c *Controller) teardown() {
	c.stopCountdown()
	if c.channel != nil {
		c.channel.Close()
	}
	c.cancel()
}

// startCountdown replaces any live timer; there is never more than one.
func (c *Controller) startCountdown(seconds int) {
	c.stopCountdown()
	c.timer = countdown.Start(c.cfg.Clock, seconds,
		c.cfg.View.SetTimer,
		func() { c.inbox <- TimeExpired{} },
		c.cfg.Log)
}

func (c *Controller) stopCountdown() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) snapshot() State {
	bugs := make([]string, 0, len(c.bugsFixed))
	for id := range c.bugsFixed {
		bugs = append(bugs, id)
	}
	slices.Sort(bugs)
	return State{Session: c.sess, BugsFixed: bugs, Completion: c.completion}
}

func (c *Controller) bugList() []string {
	return c.snapshot().BugsFixed
}

// actor names the local player in outbound events. The backend only knows
// teams, so the team id stands in for a username.
func (c *Controller) actor() string { return c.sess.TeamID }

func pageURL(sess session.Session, page int) string {
	q := url.Values{}
	q.Set("team", sess.TeamID)
	q.Set("token", sess.Token)
	q.Set("round", fmt.Sprint(sess.Round))
	q.Set("page", fmt.Sprint(page))
	return fmt.Sprintf("/round%d/page%d.html?%s", sess.Round, page, q.Encode())
}

func isDomainError(err error) bool {
	var derr *api.DomainError
	return errors.As(err, &derr)
}
