package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bitswarm-labs/udptracker/internal/logx"
)

// httpServerAdapter runs the admin HTTP API under the same ctx-cancellation
// shutdown discipline as the UDP server.
type httpServerAdapter struct {
	addr    string
	handler http.Handler
}

func (a *httpServerAdapter) run(ctx context.Context) error {
	srv := &http.Server{Addr: a.addr, Handler: a.handler}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logx.Info("api: shutting down", "addr", a.addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
