package control

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/wtdbg/wtdbg/internal/debugmanager"
)

func TestHandleEvents_BroadcastsSessionConnected(t *testing.T) {
	backendAddr := startFakeBackend(t, "12345")
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	connectBody := `{"network":"tcp","address":"` + backendAddr + `","dial_timeout":"1s"}`
	resp, err := http.Post(ts.URL+"/v1/sessions", "application/json", strings.NewReader(connectBody))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	resp.Body.Close()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("websocket read: %v", err)
	}

	var ev debugmanager.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.Type != "connected" {
		t.Fatalf("event type = %q, want connected", ev.Type)
	}
}
