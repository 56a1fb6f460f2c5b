package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/escapecode/bughunt/internal/api"
	"github.com/escapecode/bughunt/internal/game"
	"github.com/escapecode/bughunt/internal/realtime"
	"github.com/escapecode/bughunt/internal/session"
	"github.com/escapecode/bughunt/internal/ui"
)

// target is where the controller asked to go next.
type target struct {
	pageURL   string
	dashboard bool
}

// navigator hands page transitions back to the shell loop. Buffered so the
// controller never blocks on it.
type navigator struct {
	targets chan target
}

func (n *navigator) NavigateTo(pageURL string) { n.targets <- target{pageURL: pageURL} }
func (n *navigator) Dashboard()                { n.targets <- target{dashboard: true} }

func newPlayCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join the current round and play it page by page.",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			log, err := newLogger(cfg.verbose)
			if err != nil {
				return err
			}
			defer log.Sync()
			return runPlay(cfg, log)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&cfg.team, "team", "", "team ID (overrides the stored session)")
	fs.StringVar(&cfg.token, "token", "", "game token (overrides the stored session)")
	fs.IntVar(&cfg.round, "round", 0, "round number (overrides the stored session)")
	fs.IntVar(&cfg.page, "page", 0, "page number (overrides the stored session)")
	return cmd
}

func runPlay(cfg *config, log *zap.Logger) error {
	store := session.NewStore(cfg.dataDir, log)
	client := api.NewClient(cfg.backendURL, log)

	// One reader owns stdin for the whole session. The command loop and
	// the confirm prompts take turns on the same stream, so neither can
	// buffer ahead and swallow a line meant for the other.
	lines := make(chan string)
	go pumpLines(os.Stdin, lines)
	view := ui.NewTerminal(os.Stdout, lineSource(lines))

	overrides := session.Partial{
		TeamID: cfg.team,
		Token:  cfg.token,
		Round:  cfg.round,
		Page:   cfg.page,
	}

	for {
		tgt, err := runPage(cfg, log, store, client, view, lines, overrides)
		if err != nil {
			return err
		}
		if tgt.dashboard {
			fmt.Println("Back to the dashboard. See you next round!")
			return nil
		}
		overrides, err = parsePageURL(tgt.pageURL)
		if err != nil {
			return fmt.Errorf("follow page URL %q: %w", tgt.pageURL, err)
		}
	}
}

func pumpLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	in := bufio.NewReader(r)
	for {
		line, err := in.ReadString('\n')
		if line != "" {
			lines <- line
		}
		if err != nil {
			return
		}
	}
}

func lineSource(lines <-chan string) func() (string, error) {
	return func() (string, error) {
		line, ok := <-lines
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

// runPage runs one controller for one page and returns where to go next.
func runPage(cfg *config, log *zap.Logger, store game.Store, client game.API, view ui.View, lines <-chan string, overrides session.Partial) (target, error) {
	nav := &navigator{targets: make(chan target, 4)}

	ctrl := game.New(game.Config{
		Store:     store,
		API:       client,
		View:      view,
		Nav:       nav,
		Overrides: overrides,
		Log:       log,
	})
	mgr := realtime.NewManager(realtime.Config{
		BaseURL:   cfg.backendURL,
		Sink:      ctrl.Deliver,
		Done:      ctrl.PageDone,
		OnConnect: func() { ctrl.Inbox() <- game.ChannelConnected{} },
		Log:       log,
	})
	ctrl.UseChannel(mgr)

	if err := ctrl.Start(context.Background()); err != nil {
		// The controller already alerted and redirected.
		if errors.Is(err, game.ErrNoToken) || errors.Is(err, game.ErrSessionIncomplete) {
			return target{dashboard: true}, nil
		}
		return target{}, err
	}

	// barrier waits for the dispatched command to be fully handled. While
	// we wait here the loop isn't receiving from lines, so a confirmation
	// prompt raised inside the handler gets the next line. A confirmed
	// exit stops the loop without answering; it always emits the
	// dashboard target first, which is the other arm of the select.
	barrier := func() (target, bool) {
		reply := make(chan game.State, 1)
		ctrl.Inbox() <- game.GetState{Reply: reply}
		select {
		case <-reply:
			return target{}, false
		case tgt := <-nav.targets:
			return tgt, true
		}
	}

	for {
		fmt.Print("> ")
		select {
		case tgt := <-nav.targets:
			ctrl.Inbox() <- game.Shutdown{}
			return tgt, nil

		case line, ok := <-lines:
			if !ok {
				ctrl.Inbox() <- game.Shutdown{}
				return target{dashboard: true}, nil
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			switch fields[0] {
			case "fix":
				if len(fields) < 2 {
					fmt.Println("usage: fix <bug-id>")
					continue
				}
				ctrl.Inbox() <- game.FixBug{BugID: fields[1]}
			case "complete":
				ctrl.Inbox() <- game.CompletePage{}
			case "exit":
				ctrl.Inbox() <- game.Exit{}
			case "help":
				fmt.Println("commands: fix <bug-id>, complete, exit")
				continue
			default:
				fmt.Printf("unknown command %q (try: help)\n", fields[0])
				continue
			}
			if tgt, moved := barrier(); moved {
				ctrl.Inbox() <- game.Shutdown{}
				return tgt, nil
			}
		}
	}
}

// parsePageURL turns a next-page URL into the entry parameters for the
// following controller. The query carries team, token, round and page so a
// fresh load lands on the same session.
func parsePageURL(raw string) (session.Partial, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return session.Partial{}, err
	}
	q := u.Query()
	p := session.Partial{
		TeamID: q.Get("team"),
		Token:  q.Get("token"),
	}
	if v := q.Get("round"); v != "" {
		if p.Round, err = strconv.Atoi(v); err != nil {
			return session.Partial{}, fmt.Errorf("round: %w", err)
		}
	}
	if v := q.Get("page"); v != "" {
		if p.Page, err = strconv.Atoi(v); err != nil {
			return session.Partial{}, fmt.Errorf("page: %w", err)
		}
	}
	return p, nil
}
