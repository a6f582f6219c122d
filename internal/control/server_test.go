package control

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wtdbg/wtdbg/internal/config"
	"github.com/wtdbg/wtdbg/internal/debugmanager"
)

func startFakeBackend(t *testing.T, pid string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				r := bufio.NewReader(c)
				if _, err := r.ReadString('\n'); err != nil {
					return
				}
				c.Write([]byte("input " + pid + "\n"))
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func newTestServer(t *testing.T) (*httptest.Server, *debugmanager.Manager) {
	t.Helper()
	watcher, err := config.NewWatcher("")
	if err != nil {
		t.Fatalf("config.NewWatcher: %v", err)
	}
	t.Cleanup(func() { watcher.Close() })

	mgr := debugmanager.New(30*time.Minute, 2, 32)
	srv := NewServer(watcher, mgr, nil)
	ts := httptest.NewServer(srv.httpSrv.Handler)
	t.Cleanup(ts.Close)
	return ts, mgr
}

func TestHandleConnect_ReturnsSessionView(t *testing.T) {
	backendAddr := startFakeBackend(t, "12345")
	ts, _ := newTestServer(t)

	connectBody := `{"network":"tcp","address":"` + backendAddr + `","dial_timeout":"1s"}`
	resp, err := http.Post(ts.URL+"/v1/sessions", "application/json", strings.NewReader(connectBody))
	if err != nil {
		t.Fatalf("POST /v1/sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body = %s", resp.StatusCode, data)
	}

	var view sessionViewT
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.PID != "12345" {
		t.Fatalf("PID = %q, want 12345", view.PID)
	}
}

func TestHandleList_EmptyInitially(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v1/sessions")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var ids []string
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("sessions = %v, want none", ids)
	}
}

func TestHandleRepause_NoopWhenAlreadyPaused(t *testing.T) {
	backendAddr := startFakeBackend(t, "12345")
	ts, mgr := newTestServer(t)

	connectBody := `{"network":"tcp","address":"` + backendAddr + `","dial_timeout":"1s"}`
	resp, err := http.Post(ts.URL+"/v1/sessions", "application/json", strings.NewReader(connectBody))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	var view sessionViewT
	json.NewDecoder(resp.Body).Decode(&view)
	resp.Body.Close()

	repResp, err := http.Post(ts.URL+"/v1/sessions/"+view.ID+"/repause", "application/json", nil)
	if err != nil {
		t.Fatalf("repause: %v", err)
	}
	defer repResp.Body.Close()
	if repResp.StatusCode != http.StatusNoContent {
		data, _ := io.ReadAll(repResp.Body)
		t.Fatalf("status = %d, body = %s", repResp.StatusCode, data)
	}

	if len(mgr.List()) != 1 {
		t.Fatalf("expected session still registered after no-op repause")
	}
}

func TestHandleEnsurePaused_ReturnsPromptly(t *testing.T) {
	backendAddr := startFakeBackend(t, "12345")
	watcher, err := config.NewWatcher("")
	if err != nil {
		t.Fatalf("config.NewWatcher: %v", err)
	}
	defer watcher.Close()
	watcher.Get().CommandTimeout = 100 * time.Millisecond

	mgr := debugmanager.New(30*time.Minute, 2, 32)
	srv := NewServer(watcher, mgr, nil)
	ts := httptest.NewServer(srv.httpSrv.Handler)
	defer ts.Close()

	connectBody := `{"network":"tcp","address":"` + backendAddr + `","dial_timeout":"1s"}`
	resp, err := http.Post(ts.URL+"/v1/sessions", "application/json", strings.NewReader(connectBody))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	var view sessionViewT
	json.NewDecoder(resp.Body).Decode(&view)
	resp.Body.Close()

	start := time.Now()
	epResp, err := http.Post(ts.URL+"/v1/sessions/"+view.ID+"/ensure-paused", "application/json", nil)
	if err != nil {
		t.Fatalf("ensure-paused: %v", err)
	}
	defer epResp.Body.Close()
	if epResp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", epResp.StatusCode)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("ensure-paused took too long: %v", elapsed)
	}
}

func TestHandleDisconnectOne(t *testing.T) {
	backendAddr := startFakeBackend(t, "12345")
	ts, mgr := newTestServer(t)

	connectBody := `{"network":"tcp","address":"` + backendAddr + `","dial_timeout":"1s"}`
	resp, err := http.Post(ts.URL+"/v1/sessions", "application/json", strings.NewReader(connectBody))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	var view sessionViewT
	json.NewDecoder(resp.Body).Decode(&view)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/sessions/"+view.ID+"/disconnect", nil)
	discResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	defer discResp.Body.Close()
	if discResp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", discResp.StatusCode)
	}
	if len(mgr.List()) != 0 {
		t.Fatalf("expected session removed after disconnect")
	}
}

func TestHandleInterrupt_AcceptedWithoutInFlightContinue(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/sessions/nonexistent/interrupt", "application/json", nil)
	if err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	watcher, err := config.NewWatcher("")
	if err != nil {
		t.Fatalf("config.NewWatcher: %v", err)
	}
	defer watcher.Close()
	watcher.Get().BearerToken = "supersecret"

	mgr := debugmanager.New(30*time.Minute, 2, 32)
	srv := NewServer(watcher, mgr, nil)
	ts := httptest.NewServer(srv.httpSrv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/sessions")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}
