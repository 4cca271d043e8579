package runtime

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/collabmate/collabmate/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.GenerateConfig()
	cfg.Server.Bind = "127.0.0.1:0"
	cfg.Server.ShutdownGrace = 2 * time.Second
	cfg.Store.Dir = t.TempDir()
	cfg.Store.MaxAttempts = 2
	cfg.Store.RetryInterval = 10 * time.Millisecond
	cfg.Store.AttemptTimeout = time.Second
	cfg.Store.RecoveryInterval = 20 * time.Millisecond
	cfg.Store.PingInterval = 50 * time.Millisecond
	cfg.RateLimiters = config.RateLimiters{}
	cfg.Logging.Level = "error"
	return cfg
}

func get(t *testing.T, url string) (int, map[string]string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body := map[string]string{}
	data, _ := io.ReadAll(resp.Body)
	json.Unmarshal(data, &body)
	return resp.StatusCode, body
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRun_ServesHealthWhileStoreLocked(t *testing.T) {
	cfg := testConfig(t)

	// Another handle holds the directory lock, so every dial fails.
	holder, err := badger.Open(badger.DefaultOptions(cfg.Store.Dir).WithLogger(nil))
	if err != nil {
		t.Fatalf("open lock holder: %v", err)
	}
	held := true
	defer func() {
		if held {
			holder.Close()
		}
	}()

	r := New(cfg, Options{LogOutput: io.Discard})
	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	addr := r.Addr()
	if addr == nil {
		t.Fatalf("Run() stopped before binding: %v", <-done)
	}
	base := "http://" + addr.String()

	if status, _ := get(t, base+"/healthz"); status != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200 while the store is down", status)
	}

	waitFor(t, "readiness to report disconnected", func() bool {
		status, body := get(t, base+"/readyz")
		return status == http.StatusServiceUnavailable && body["store"] == "disconnected"
	})

	if err := holder.Close(); err != nil {
		t.Fatalf("close lock holder: %v", err)
	}
	held = false

	waitFor(t, "readiness to report connected", func() bool {
		status, body := get(t, base+"/readyz")
		return status == http.StatusOK && body["store"] == "connected"
	})

	r.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, wantErr nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after Stop()")
	}
}

func TestRun_BindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer occupied.Close()

	cfg := testConfig(t)
	cfg.Server.Bind = occupied.Addr().String()

	r := New(cfg, Options{LogOutput: io.Discard})
	if err := r.Run(); err == nil {
		t.Fatal("Run() error = nil, want bind failure")
	}
	if addr := r.Addr(); addr != nil {
		t.Errorf("Addr() = %v, want nil after bind failure", addr)
	}
}

func postJSON(t *testing.T, url, token string, body any) (int, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestRun_DrainsInFlightRequests(t *testing.T) {
	cfg := testConfig(t)
	r := New(cfg, Options{LogOutput: io.Discard})
	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	addr := r.Addr()
	if addr == nil {
		t.Fatalf("Run() stopped before binding: %v", <-done)
	}
	base := "http://" + addr.String()

	waitFor(t, "store to connect", func() bool {
		status, _ := get(t, base+"/readyz")
		return status == http.StatusOK
	})

	status, session := postJSON(t, base+"/api/auth/register", "", map[string]string{
		"name": "Drain", "email": "drain@runtime.test", "password": "secret123",
	})
	if status != http.StatusCreated && status != http.StatusOK {
		t.Fatalf("register status = %d", status)
	}
	token, _ := session["token"].(string)

	status, project := postJSON(t, base+"/api/projects", token, map[string]string{"name": "Drain"})
	if status != http.StatusCreated {
		t.Fatalf("create project status = %d", status)
	}
	projectID, _ := project["_id"].(string)

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	body := []byte(`{"title":"Finish during shutdown"}`)
	head := fmt.Sprintf("POST /api/tasks/project/%s HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"Authorization: Bearer %s\r\n"+
		"Content-Type: application/json\r\n"+
		"Content-Length: %d\r\n\r\n", projectID, addr.String(), token, len(body))
	if _, err := conn.Write(append([]byte(head), body[:5]...)); err != nil {
		t.Fatalf("write head: %v", err)
	}

	// Let the handler start reading the body before shutdown begins.
	time.Sleep(100 * time.Millisecond)
	r.Stop()
	time.Sleep(100 * time.Millisecond)

	if _, err := conn.Write(body[5:]); err != nil {
		t.Fatalf("write rest of body: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(cfg.Server.ShutdownGrace))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("in-flight request status = %d (%s), want 201", resp.StatusCode, data)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, wantErr nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after Stop()")
	}
}
