// internal/app/features/chart/stream.go
package chart

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/rollchart/internal/app/system/chartview"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Client → server actions.
const (
	actionDate   = "date"
	actionPeriod = "period"
	actionPing   = "ping"
)

// Server → client events.
const (
	eventState = "state"
	eventError = "error"
	eventPong  = "pong"
)

type streamRequest struct {
	Action string `json:"action"`
	Value  string `json:"value"`
}

type streamEvent struct {
	Event string           `json:"event"`
	State *chartview.State `json:"state,omitempty"`
	Error string           `json:"error,omitempty"`
}

// buildUpgrader creates a websocket upgrader that accepts only the allowed
// origins. An empty list permits all origins.
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// ServeStream handles GET /classes/{classNamee}/chart/ws.
//
// Every state change of the browser's view is pushed as
//
//	{"event":"state","state":{...}}
//
// and the client may change the selection with
//
//	{"action":"date","value":"2024-01-02"}
//	{"action":"period","value":"3"}
func (h *Handler) ServeStream(w http.ResponseWriter, r *http.Request) {
	v, _ := h.openView(w, r)
	if v == nil {
		return
	}

	// The upgrade writes its own response, so carry the session cookie over.
	var hdr http.Header
	if cookies := w.Header().Values("Set-Cookie"); len(cookies) > 0 {
		hdr = http.Header{"Set-Cookie": cookies}
	}

	conn, err := h.upgrader.Upgrade(w, r, hdr)
	if err != nil {
		h.Log.Warn("chart stream upgrade failed", zap.String("class", v.ClassID()), zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.Log.With(zap.String("view_id", v.ID()), zap.String("class", v.ClassID()))
	log.Debug("chart stream connected")

	states, unsubscribe := v.Subscribe()
	defer unsubscribe()

	replies := make(chan streamEvent, 4)
	readerDone := make(chan struct{})
	writerDone := make(chan struct{})
	defer close(writerDone)

	go h.readStream(r.Context(), conn, v, log, replies, readerDone, writerDone)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case s, ok := <-states:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "view closed"),
					time.Now().Add(writeWait))
				return
			}
			v.Touch()
			if err := writeEvent(conn, streamEvent{Event: eventState, State: &s}); err != nil {
				log.Debug("chart stream write failed", zap.Error(err))
				return
			}
		case ev := <-replies:
			if err := writeEvent(conn, ev); err != nil {
				log.Debug("chart stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-readerDone:
			log.Debug("chart stream closed")
			return
		}
	}
}

// readStream applies client actions until the connection fails. Replies go
// through the writer loop, which owns all writes.
func (h *Handler) readStream(ctx context.Context, conn *websocket.Conn, v *chartview.View, log *zap.Logger, replies chan<- streamEvent, done chan<- struct{}, writerDone <-chan struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	reply := func(ev streamEvent) {
		select {
		case replies <- ev:
		case <-writerDone:
		}
	}

	for {
		var req streamRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("chart stream unexpected close", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		value := strings.TrimSpace(req.Value)
		var err error
		switch req.Action {
		case actionPing:
			reply(streamEvent{Event: eventPong})
			continue
		case actionDate, actionPeriod:
			if value == "" {
				reply(streamEvent{Event: eventError, Error: req.Action + " is required"})
				continue
			}
			if req.Action == actionDate {
				err = v.SelectDate(ctx, value)
			} else {
				err = v.SelectPeriod(ctx, value)
			}
		default:
			reply(streamEvent{Event: eventError, Error: "unknown action: " + req.Action})
			continue
		}

		if err != nil {
			log.Debug("chart stream selection rejected", zap.String("action", req.Action), zap.Error(err))
			reply(streamEvent{Event: eventError, Error: "chart view expired, reload the page"})
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev streamEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}
