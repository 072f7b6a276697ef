package agent

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"reflect"
	"syscall"
	"testing"
	"time"

	"keylocker/internal/crypto"
	"keylocker/internal/logging"
	"keylocker/internal/store"
)

func testLogger() *logging.Logger {
	return logging.NewTestLogger(logging.LevelError, io.Discard)
}

// startAgent primes a store with the given secrets and runs an agent
// session in the background, waiting until it answers a ping.
func startAgent(t *testing.T, dir string, secrets map[string]string, ttl time.Duration) (*Agent, *Client) {
	t.Helper()

	key, err := crypto.RandomBytes(crypto.KeySize)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	st, err := store.Load(dir, key)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	for name, value := range secrets {
		if err := st.Add(name, value, nil, false); err != nil {
			t.Fatalf("add secret: %v", err)
		}
	}

	agentKey := append([]byte(nil), key...)
	a := New(dir, agentKey, ttl, testLogger())

	done := make(chan error, 1)
	go func() { done <- a.Serve(st) }()
	t.Cleanup(func() {
		a.RequestShutdown()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("agent did not stop on cleanup")
		}
	})

	client := NewClient(dir)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if client.IsRunning() {
			return a, client
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("agent did not start in time")
	return nil, nil
}

func TestAgentPing(t *testing.T) {
	_, client := startAgent(t, t.TempDir(), map[string]string{"A": "1"}, time.Hour)

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.TTLRemainingSecs == 0 {
		t.Error("TTLRemainingSecs = 0 right after start")
	}
	if status.TTLRemainingSecs > uint64(time.Hour/time.Second) {
		t.Errorf("TTLRemainingSecs = %d, exceeds configured TTL", status.TTLRemainingSecs)
	}
}

func TestAgentGetSecrets(t *testing.T) {
	want := map[string]string{
		"DB_PASSWORD": "s3cr3t",
		"API_KEY":     "sk-123",
	}
	_, client := startAgent(t, t.TempDir(), want, time.Hour)

	got, err := client.GetSecrets()
	if err != nil {
		t.Fatalf("GetSecrets() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetSecrets() = %v, want %v", got, want)
	}
}

func TestAgentGetSecret(t *testing.T) {
	_, client := startAgent(t, t.TempDir(), map[string]string{"A": "1"}, time.Hour)

	tests := []struct {
		name      string
		secret    string
		wantValue string
		wantOK    bool
	}{
		{"existing secret", "A", "1", true},
		{"missing secret", "NOPE", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, ok, err := client.GetSecret(tt.secret)
			if err != nil {
				t.Fatalf("GetSecret() error = %v", err)
			}
			if ok != tt.wantOK || value != tt.wantValue {
				t.Errorf("GetSecret() = (%q, %v), want (%q, %v)", value, ok, tt.wantValue, tt.wantOK)
			}
		})
	}
}

func TestAgentList(t *testing.T) {
	_, client := startAgent(t, t.TempDir(), map[string]string{"B": "2", "A": "1"}, time.Hour)

	names, err := client.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 2 {
		t.Errorf("List() = %v, want 2 names", names)
	}
}

func TestAgentConcurrentGetSecrets(t *testing.T) {
	want := map[string]string{"A": "1", "B": "2", "C": "3"}
	_, client := startAgent(t, t.TempDir(), want, time.Hour)

	type result struct {
		values map[string]string
		err    error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			values, err := client.GetSecrets()
			results <- result{values, err}
		}()
	}

	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("concurrent GetSecrets() error = %v", r.err)
		}
		if !reflect.DeepEqual(r.values, want) {
			t.Errorf("concurrent GetSecrets() = %v, want %v", r.values, want)
		}
	}
}

func TestAgentShutdown(t *testing.T) {
	dir := t.TempDir()
	a, client := startAgent(t, dir, map[string]string{"A": "1"}, time.Hour)

	if err := client.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	waitForState(t, a, StateStopped)

	if client.IsRunning() {
		t.Error("agent still answers after shutdown")
	}
	if _, err := os.Stat(SocketPath(dir)); !os.IsNotExist(err) {
		t.Error("socket file survived shutdown")
	}
	if _, err := os.Stat(PidPath(dir)); !os.IsNotExist(err) {
		t.Error("pid file survived shutdown")
	}
}

func TestAgentTTLEnforcement(t *testing.T) {
	dir := t.TempDir()
	a, client := startAgent(t, dir, map[string]string{"A": "1"}, 500*time.Millisecond)

	// The agent must stop within one poll interval after the TTL.
	waitForState(t, a, StateStopped)

	if client.IsRunning() {
		t.Error("agent still answers after TTL")
	}
	if _, err := os.Stat(SocketPath(dir)); !os.IsNotExist(err) {
		t.Error("socket file survived TTL expiry")
	}
}

func TestAgentZeroizesOnStop(t *testing.T) {
	dir := t.TempDir()
	a, client := startAgent(t, dir, map[string]string{"A": "1"}, time.Hour)

	key := a.key
	if err := client.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitForState(t, a, StateStopped)

	for i, b := range key {
		if b != 0 {
			t.Fatalf("key byte %d not zeroed after stop", i)
		}
	}
	if a.cache != nil {
		t.Error("secret cache not released after stop")
	}
}

// A closing terminal delivers SIGHUP; it must take the cooperative
// shutdown path and zeroize like any other stop.
func TestAgentStopsOnHangupSignal(t *testing.T) {
	dir := t.TempDir()
	a, client := startAgent(t, dir, map[string]string{"A": "1"}, time.Hour)

	key := a.key
	if err := syscall.Kill(os.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("send SIGHUP: %v", err)
	}

	waitForState(t, a, StateStopped)

	if client.IsRunning() {
		t.Error("agent still answers after SIGHUP")
	}
	if _, err := os.Stat(SocketPath(dir)); !os.IsNotExist(err) {
		t.Error("socket file survived SIGHUP")
	}
	for i, b := range key {
		if b != 0 {
			t.Fatalf("key byte %d not zeroed after SIGHUP", i)
		}
	}
}

// A running agent serves the snapshot it was primed with; the write
// path stops it, mutates the store, and starts a fresh session. The
// fresh session must reflect the mutation exactly.
func TestAgentRestartServesUpdatedStore(t *testing.T) {
	dir := t.TempDir()

	key, err := crypto.RandomBytes(crypto.KeySize)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	st, err := store.Load(dir, key)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	if err := st.Add("OLD", "v1", nil, false); err != nil {
		t.Fatalf("add secret: %v", err)
	}

	first := New(dir, append([]byte(nil), key...), time.Hour, testLogger())
	firstDone := make(chan error, 1)
	go func() { firstDone <- first.Serve(st) }()

	client := NewClient(dir)
	waitForState(t, first, StateRunning)

	if err := client.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitForState(t, first, StateStopped)
	<-firstDone

	if err := st.Remove("OLD"); err != nil {
		t.Fatalf("remove secret: %v", err)
	}
	if err := st.Add("NEW", "v2", nil, false); err != nil {
		t.Fatalf("add secret: %v", err)
	}

	second := New(dir, append([]byte(nil), key...), time.Hour, testLogger())
	secondDone := make(chan error, 1)
	go func() { secondDone <- second.Serve(st) }()
	t.Cleanup(func() {
		second.RequestShutdown()
		select {
		case <-secondDone:
		case <-time.After(5 * time.Second):
			t.Error("agent did not stop on cleanup")
		}
	})
	waitForState(t, second, StateRunning)

	got, err := client.GetSecrets()
	if err != nil {
		t.Fatalf("GetSecrets() error = %v", err)
	}
	want := map[string]string{"NEW": "v2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetSecrets() after restart = %v, want %v", got, want)
	}
}

func TestAgentRefusesSecondInstance(t *testing.T) {
	dir := t.TempDir()
	startAgent(t, dir, map[string]string{"A": "1"}, time.Hour)

	key, err := crypto.RandomBytes(crypto.KeySize)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	// A separate store: only the socket directory conflicts.
	st, err := store.Load(t.TempDir(), key)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}

	second := New(dir, key, time.Hour, testLogger())
	if err := second.Serve(st); !errors.Is(err, ErrAgentAlreadyRunning) {
		t.Errorf("second Serve() error = %v, want ErrAgentAlreadyRunning", err)
	}
}

func TestAgentTakesOverStaleSocket(t *testing.T) {
	dir := t.TempDir()

	// A crashed agent left its socket path behind with no listener.
	if err := os.WriteFile(SocketPath(dir), nil, 0o600); err != nil {
		t.Fatalf("write stale socket file: %v", err)
	}

	_, client := startAgent(t, dir, map[string]string{"A": "1"}, time.Hour)
	if !client.IsRunning() {
		t.Error("agent did not take over stale socket")
	}
}

func TestAgentUnknownAction(t *testing.T) {
	dir := t.TempDir()
	startAgent(t, dir, map[string]string{"A": "1"}, time.Hour)

	conn, err := net.Dial("unix", SocketPath(dir))
	if err != nil {
		t.Fatalf("dial agent: %v", err)
	}
	defer conn.Close()

	if err := writeLine(conn, Request{Action: "frobnicate"}); err != nil {
		t.Fatalf("write request: %v", err)
	}
	line, err := readLine(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != StatusError {
		t.Errorf("status = %q, want error", resp.Status)
	}
	if resp.Message == "" {
		t.Error("error response carries no message")
	}
}

func TestAgentMalformedRequest(t *testing.T) {
	dir := t.TempDir()
	startAgent(t, dir, map[string]string{"A": "1"}, time.Hour)

	conn, err := net.Dial("unix", SocketPath(dir))
	if err != nil {
		t.Fatalf("dial agent: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("this is not json\n")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	line, err := readLine(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != StatusError {
		t.Errorf("status = %q, want error", resp.Status)
	}
}

func TestAgentSocketPermissions(t *testing.T) {
	dir := t.TempDir()
	startAgent(t, dir, map[string]string{"A": "1"}, time.Hour)

	info, err := os.Stat(SocketPath(dir))
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("socket permissions = %o, want 600", perm)
	}
}

func TestClientWithoutAgent(t *testing.T) {
	client := NewClient(t.TempDir())

	if client.IsRunning() {
		t.Error("IsRunning() = true with no agent")
	}
	if _, err := client.GetSecrets(); !errors.Is(err, ErrAgentNotRunning) {
		t.Errorf("GetSecrets() error = %v, want ErrAgentNotRunning", err)
	}
	if _, _, err := client.GetSecret("A"); !errors.Is(err, ErrAgentNotRunning) {
		t.Errorf("GetSecret() error = %v, want ErrAgentNotRunning", err)
	}
	if _, err := client.Status(); !errors.Is(err, ErrAgentNotRunning) {
		t.Errorf("Status() error = %v, want ErrAgentNotRunning", err)
	}
	// Stopping a stopped agent is idempotent.
	if err := client.Stop(); err != nil {
		t.Errorf("Stop() error = %v, want nil", err)
	}
}

func waitForState(t *testing.T, a *Agent, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("agent state = %v, want %v", a.State(), want)
}
