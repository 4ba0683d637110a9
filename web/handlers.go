package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/mbocsi/botanynet/app"
	"github.com/mbocsi/botanynet/broker"
	"github.com/mbocsi/botanynet/client"
	"github.com/mbocsi/botanynet/proto"
	"github.com/mbocsi/botanynet/store"
)

const homeHistory = 20

func (c *Console) HandleHome(w http.ResponseWriter, r *http.Request) {
	status, err := c.app.Status(r.Context())
	if err != nil {
		c.handleError(w, err)
		return
	}
	history, err := c.app.History(r.Context(), homeHistory, "")
	if err != nil && !errors.Is(err, app.ErrNoJournal) {
		c.handleError(w, err)
		return
	}
	c.templates.RenderPage(w, map[string]any{
		"Status":  status,
		"History": history,
	})
}

func (c *Console) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := c.app.Status(r.Context())
	if err != nil {
		c.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (c *Console) HandleNet(w http.ResponseWriter, r *http.Request) {
	info, err := c.app.Net(r.Context())
	if err != nil {
		c.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (c *Console) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if err := c.app.Connect(r.Context()); err != nil {
		c.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (c *Console) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := c.app.Disconnect(r.Context()); err != nil {
		c.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Console) HandleSample(w http.ResponseWriter, r *http.Request) {
	readings, err := c.app.Sample(r.Context())
	if err != nil {
		c.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

// HandleSend publishes {"data": "..."} as a chirp on the short topic name.
func (c *Console) HandleSend(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")

	var req struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := c.app.Send(r.Context(), topic, req.Data); err != nil {
		c.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "Chirp sent to %s%s", proto.TopicPrefix, topic)
}

// HandleHistory lists journaled chirps, newest first.
func (c *Console) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	status := r.URL.Query().Get("status")
	if status != "" && status != store.StatusSent && status != store.StatusDropped {
		http.Error(w, "Invalid status", http.StatusBadRequest)
		return
	}

	entries, err := c.app.History(r.Context(), limit, status)
	if err != nil {
		c.handleError(w, err)
		return
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleReadings lists a sensor's readings over the last ?since= duration,
// one day by default.
func (c *Console) HandleReadings(w http.ResponseWriter, r *http.Request) {
	sensor := chi.URLParam(r, "sensor")
	window := 24 * time.Hour
	if s := r.URL.Query().Get("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			http.Error(w, "Invalid since duration", http.StatusBadRequest)
			return
		}
		window = d
	}

	readings, err := c.app.SensorHistory(r.Context(), sensor, time.Now().Add(-window))
	if err != nil {
		c.handleError(w, err)
		return
	}
	if readings == nil {
		readings = []store.Reading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

// HandleTopicEvents streams chirps on one topic as server-sent events. The
// topic is the short name, or "#" for every topic.
func (c *Console) HandleTopicEvents(w http.ResponseWriter, r *http.Request) {
	topic := streamTopic(chi.URLParam(r, "topic"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		c.logger.Error("Streaming unsupported", "topic", topic)
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan proto.Message, streamBuffer)
	c.bus.Subscribe(topic, ch)
	defer c.bus.Unsubscribe(topic, ch)

	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", topic)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-ch:
			var buf strings.Builder
			if err := c.templates.Render(&buf, "live-message", msg); err != nil {
				c.logger.Error("Failed to render live message", "error", err)
				continue
			}
			// SSE data must stay on one line.
			html := strings.NewReplacer("\n", "&#10;", "\r", "").Replace(buf.String())
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", html)
			flusher.Flush()
		}
	}
}

// HandleStream sends every chirp as a JSON message over a websocket until
// the peer goes away.
func (c *Console) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := make(chan proto.Message, streamBuffer)
	c.bus.Subscribe(broker.AllTopics, ch)
	defer c.bus.Unsubscribe(broker.AllTopics, ch)

	// The reader only watches for the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	c.logger.Debug("Stream client connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case <-closed:
			c.logger.Debug("Stream client disconnected", "remote", r.RemoteAddr)
			return
		case msg := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				c.logger.Debug("Stream write failed", "error", err)
				return
			}
		}
	}
}

func streamTopic(name string) string {
	switch {
	case name == "":
		return broker.AllTopics
	case name == broker.AllTopics, strings.HasPrefix(name, proto.TopicPrefix):
		return name
	default:
		return proto.TopicPrefix + name
	}
}

// handleError maps console errors to HTTP status codes
func (c *Console) handleError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, client.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, client.ErrNotConnected):
		status = http.StatusConflict
	case errors.Is(err, client.ErrEncodingOverflow):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, client.ErrTransport):
		status = http.StatusBadGateway
	case errors.Is(err, app.ErrNoJournal):
		status = http.StatusNotFound
	case errors.Is(err, app.ErrStopped):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		c.logger.Error("Console error", "error", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
