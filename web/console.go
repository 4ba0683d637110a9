// Package web serves the node's operator console: a status page, a JSON API
// over the console commands, and live chirp streams over server-sent events
// and websockets.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/mbocsi/botanynet/app"
	"github.com/mbocsi/botanynet/broker"
	"github.com/mbocsi/botanynet/telemetry"
)

// streamBuffer is the per-subscriber backlog; a slower reader misses chirps.
const streamBuffer = 16

type Console struct {
	app       app.Console
	bus       *broker.Broker
	templates *Templates
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

func NewConsole(c app.Console, bus *broker.Broker, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		app:       c,
		bus:       bus,
		templates: NewTemplates(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Routes returns the HTTP routes for the console
func (c *Console) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/", telemetry.Instrument("home", http.HandlerFunc(c.HandleHome)))
	r.Method(http.MethodGet, "/metrics", telemetry.MetricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/status", telemetry.Instrument("status", http.HandlerFunc(c.HandleStatus)))
		r.Method(http.MethodGet, "/net", telemetry.Instrument("net", http.HandlerFunc(c.HandleNet)))
		r.Method(http.MethodPost, "/connect", telemetry.Instrument("connect", http.HandlerFunc(c.HandleConnect)))
		r.Method(http.MethodPost, "/disconnect", telemetry.Instrument("disconnect", http.HandlerFunc(c.HandleDisconnect)))
		r.Method(http.MethodPost, "/sample", telemetry.Instrument("sample", http.HandlerFunc(c.HandleSample)))
		r.Method(http.MethodPost, "/send/{topic}", telemetry.Instrument("send", http.HandlerFunc(c.HandleSend)))
		r.Method(http.MethodGet, "/history", telemetry.Instrument("history", http.HandlerFunc(c.HandleHistory)))
		r.Method(http.MethodGet, "/readings/{sensor}", telemetry.Instrument("readings", http.HandlerFunc(c.HandleReadings)))
	})

	r.Get("/events/{topic}", c.HandleTopicEvents)
	r.Get("/ws", c.HandleStream)
	return r
}

// Serve runs the console on addr until ctx is cancelled.
func (c *Console) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           c.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		// Event streams end with their request context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		c.logger.Info("Starting console", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	c.logger.Info("Console shut down")
	return nil
}
