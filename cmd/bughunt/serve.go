package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/escapecode/bughunt/internal/syncserver"
)

func newServeCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local sync server for development.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(cfg.verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			hub := syncserver.NewHub(cmd.Context(), clockwork.NewRealClock(), log)
			defer func() { hub.Inbox() <- syncserver.ShutdownHub{} }()

			srv := &http.Server{
				Addr:              cfg.listen,
				Handler:           syncserver.New(hub, log).Routes(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				<-cmd.Context().Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			log.Info("sync server listening", zap.String("addr", cfg.listen))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.listen, "listen", ":8000", "listen address")
	return cmd
}
