package chart_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/rollchart/internal/app/system/chartview"
	"github.com/gorilla/websocket"
)

type wsEvent struct {
	Event string           `json:"event"`
	State *chartview.State `json:"state"`
	Error string           `json:"error"`
}

func dialStream(t *testing.T, env *testEnv, class string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/classes/" + class + "/chart/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads events until match accepts one or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(wsEvent) bool) wsEvent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var ev wsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(ev) {
			return ev
		}
	}
}

func settledAttendance(ev wsEvent) bool {
	return ev.Event == "state" && ev.State != nil &&
		ev.State.Phase == chartview.AttendanceLoaded && !ev.State.Loading
}

func TestServeStream_PushesStateChanges(t *testing.T) {
	env := newTestEnv(t, sampleSource(), 5*time.Second)
	conn := dialStream(t, env, "7a")

	ev := readUntil(t, conn, settledAttendance)
	if ev.State.SelectedPeriod != "1" || len(ev.State.Rows) != 2 {
		t.Fatalf("initial state = %+v, want period 1 with 2 rows", ev.State)
	}

	if err := conn.WriteJSON(map[string]string{"action": "period", "value": "2"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ev = readUntil(t, conn, func(ev wsEvent) bool {
		return settledAttendance(ev) && ev.State.SelectedPeriod == "2"
	})
	if len(ev.State.Rows) != 1 || ev.State.Rows[0].Name != "Dev" {
		t.Errorf("Rows = %+v, want only Dev", ev.State.Rows)
	}
}

func TestServeStream_PingAndBadActions(t *testing.T) {
	env := newTestEnv(t, sampleSource(), 5*time.Second)
	conn := dialStream(t, env, "7a")

	if err := conn.WriteJSON(map[string]string{"action": "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, func(ev wsEvent) bool { return ev.Event == "pong" })

	if err := conn.WriteJSON(map[string]string{"action": "date", "value": ""}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readUntil(t, conn, func(ev wsEvent) bool { return ev.Event == "error" })
	if !strings.Contains(ev.Error, "date is required") {
		t.Errorf("error = %q, want date is required", ev.Error)
	}

	if err := conn.WriteJSON(map[string]string{"action": "export"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev = readUntil(t, conn, func(ev wsEvent) bool { return ev.Event == "error" })
	if !strings.Contains(ev.Error, "unknown action") {
		t.Errorf("error = %q, want unknown action", ev.Error)
	}
}

func TestServeStream_SubscriptionKeepsViewAlive(t *testing.T) {
	env := newTestEnv(t, sampleSource(), 5*time.Second)
	conn := dialStream(t, env, "7a")
	readUntil(t, conn, settledAttendance)

	if n := env.views.Sweep(0); n != 0 {
		t.Errorf("Sweep removed %d views with an open stream, want 0", n)
	}
}
