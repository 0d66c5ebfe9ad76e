package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/chatcaster/feed"
	"github.com/onnwee/chatcaster/hub"
	"github.com/onnwee/chatcaster/telemetry"
)

const (
	sseHeartbeat = 15 * time.Second
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingEvery  = wsPongWait * 9 / 10
)

// statusEvent is sent once when a stream opens.
type statusEvent struct {
	Kind   string      `json:"kind"`
	Status feed.Status `json:"status"`
}

func writeSSE(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// HandleEvents streams hub events as Server-Sent Events. The first event is
// the current status; comment lines keep idle connections open.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	// The server write timeout would otherwise cut the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "http_sse"))
	sub := h.ctl.Hub().Subscribe(hub.DefaultBuffer)
	defer h.ctl.Hub().Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, "status", h.ctl.Status()); err != nil {
		return
	}
	flusher.Flush()
	log.Debug("sse subscriber connected", slog.String("subscriber", sub.ID.String()))

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeSSE(w, string(ev.Kind), ev); err != nil {
				log.Debug("sse write failed", slog.Any("err", err))
				return
			}
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

func (h *Handlers) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // allow non-browser clients
	}
	return isOriginAllowed(origin, h.allowedOrigins)
}

// HandleWebSocket streams hub events as JSON text frames. Anything the
// client sends is discarded; the read loop only detects disconnects.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "http_ws"))
	up := upgrader
	up.CheckOrigin = h.checkOrigin
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}
	defer conn.Close()

	sub := h.ctl.Hub().Subscribe(hub.DefaultBuffer)
	defer h.ctl.Hub().Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("websocket closed unexpectedly", slog.Any("err", err))
				}
				return
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}
	if err := write(statusEvent{Kind: "status", Status: h.ctl.Status()}); err != nil {
		return
	}

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := write(ev); err != nil {
				log.Debug("websocket write failed", slog.Any("err", err))
				return
			}
		}
	}
}
