// Command relayd serves the room relay websocket endpoint and the secret
// store RPC API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/PMK765/WebPartyGames/internal/config"
	"github.com/PMK765/WebPartyGames/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logrus.NewEntry(logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})).
		WithField("service", "relayd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("relayd stopped")
	}
	log.Info("relayd stopped")
}

func run(ctx context.Context, cfg config.Config, log *logrus.Entry) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:              cfg.RelayAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Websocket handlers outlive Shutdown unless their context ends.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}
	g.Go(func() error {
		log.WithField("addr", cfg.RelayAddr).Info("relayd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relayd: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		a.relay.Wait()
		return err
	})
	return g.Wait()
}
