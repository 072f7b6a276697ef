// Package agent implements the background daemon that holds the derived
// key and a decrypted view of the store in memory for a bounded session,
// serving clients over a unix socket. The key and cache exist only inside
// the agent process and are zeroized on every exit path.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"keylocker/internal/crypto"
	"keylocker/internal/logging"
	"keylocker/internal/store"
)

const (
	// SocketFile is the IPC endpoint inside the locker directory.
	SocketFile = "agent.sock"
	// PidFile records the daemon pid for liveness checks.
	PidFile = "agent.pid"

	// DefaultTTL is the session duration after which the agent stops
	// regardless of activity. Only the fixed TTL applies; there is no
	// separate idle timeout.
	DefaultTTL = 8 * time.Hour

	// pollInterval bounds the accept deadline so the TTL/shutdown check
	// runs on a deterministic cadence even with zero pending connections.
	pollInterval = 100 * time.Millisecond
)

var (
	// ErrAgentNotRunning maps a missing or dead socket. Callers branch on
	// it; it is the expected signal, not a failure.
	ErrAgentNotRunning = errors.New("agent: not running")
	// ErrAgentAlreadyRunning refuses a second start while a live agent
	// holds the socket.
	ErrAgentAlreadyRunning = errors.New("agent: already running")
)

// State is the agent lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// SocketPath returns the agent socket path for a locker directory.
func SocketPath(dir string) string {
	return filepath.Join(dir, SocketFile)
}

// PidPath returns the agent pid file path for a locker directory.
func PidPath(dir string) string {
	return filepath.Join(dir, PidFile)
}

// Agent is one daemon session. The secret cache is primed once before the
// socket opens and is read-only afterwards, so concurrent connection
// handlers read it without locking. Mutating the store requires stopping
// the agent and starting a fresh one.
type Agent struct {
	dir    string
	logger *logging.Logger
	ttl    time.Duration

	key       []byte
	cache     map[string][]byte
	names     []string
	startTime time.Time

	mu       sync.Mutex
	state    State
	shutdown bool
}

// New creates an agent session for the locker directory. The agent takes
// ownership of key and zeroizes it when the session ends.
func New(dir string, key []byte, ttl time.Duration, logger *logging.Logger) *Agent {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Agent{
		dir:    dir,
		logger: logger,
		ttl:    ttl,
		key:    key,
		state:  StateStopped,
	}
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// RequestShutdown sets the shutdown flag. Idempotent; the accept loop
// observes it within one poll interval.
func (a *Agent) RequestShutdown() {
	a.mu.Lock()
	a.shutdown = true
	a.mu.Unlock()
}

func (a *Agent) shouldStop() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if time.Since(a.startTime) >= a.ttl {
		a.shutdown = true
	}
	return a.shutdown
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Serve runs the daemon until the TTL elapses, a shutdown request
// arrives, or a termination signal is received. All exit paths zeroize
// the key and the secret cache before returning.
func (a *Agent) Serve(st *store.Store) error {
	a.setState(StateStarting)

	socketPath := SocketPath(a.dir)
	if err := ensureSocketFree(socketPath); err != nil {
		a.setState(StateStopped)
		return err
	}

	// Prime the cache before the socket opens: after this point the
	// cache is never written again.
	if err := a.prime(st); err != nil {
		a.setState(StateStopped)
		return fmt.Errorf("failed to prime secret cache: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		a.scrub()
		a.setState(StateStopped)
		return fmt.Errorf("failed to bind socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		listener.Close()
		os.Remove(socketPath)
		a.scrub()
		a.setState(StateStopped)
		return fmt.Errorf("failed to restrict socket permissions: %w", err)
	}

	pidPath := PidPath(a.dir)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		listener.Close()
		os.Remove(socketPath)
		a.scrub()
		a.setState(StateStopped)
		return fmt.Errorf("failed to write pid file: %w", err)
	}

	// Termination signals go through the same cooperative shutdown flag
	// so the zeroization path below always runs. SIGHUP is included:
	// its default action would kill the process without scrubbing when
	// the spawning terminal closes.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigChan
		a.logger.Info("agent.signal_received", "Received signal", map[string]interface{}{
			"signal": sig.String(),
		})
		a.RequestShutdown()
	}()

	a.mu.Lock()
	a.startTime = time.Now()
	a.state = StateRunning
	a.mu.Unlock()

	a.logger.Info("agent.started", "Agent session started", map[string]interface{}{
		"pid":     os.Getpid(),
		"socket":  socketPath,
		"ttl":     a.ttl.String(),
		"secrets": len(a.cache),
	})

	var handlers sync.WaitGroup

	unixListener := listener.(*net.UnixListener)
	for !a.shouldStop() {
		if err := unixListener.SetDeadline(time.Now().Add(pollInterval)); err != nil {
			a.logger.Error("agent.deadline_failed", "Failed to set accept deadline", map[string]interface{}{
				"error": err.Error(),
			})
			break
		}

		conn, err := listener.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			a.logger.Warn("agent.accept_failed", "Accept failed", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}

		handlers.Add(1)
		go func() {
			defer handlers.Done()
			a.handleConnection(conn)
		}()
	}

	a.setState(StateStopping)
	a.logger.Info("agent.stopping", "Agent session stopping", map[string]interface{}{
		"uptime_seconds": time.Since(a.startTime).Seconds(),
	})

	listener.Close()
	handlers.Wait()
	signal.Stop(sigChan)

	a.scrub()
	os.Remove(socketPath)
	os.Remove(pidPath)
	a.setState(StateStopped)

	a.logger.Info("agent.stopped", "Agent session stopped", nil)
	return nil
}

// prime decrypts every non-expired secret into the in-memory cache.
func (a *Agent) prime(st *store.Store) error {
	values, err := st.ExportAll()
	if err != nil {
		return err
	}
	a.cache = make(map[string][]byte, len(values))
	a.names = make([]string, 0, len(values))
	for name, value := range values {
		a.cache[name] = []byte(value)
		a.names = append(a.names, name)
	}
	sort.Strings(a.names)
	return nil
}

// scrub zeroizes the key and every cached secret value. It is the single
// cleanup path; Serve guarantees it runs before the process exits.
func (a *Agent) scrub() {
	crypto.Zero(a.key)
	for _, value := range a.cache {
		crypto.Zero(value)
	}
	a.cache = nil
	a.names = nil
}

// handleConnection serves one request/response exchange. Any panic in
// dispatch is converted into an error response so a bad request can never
// take the daemon down or skip the zeroization path.
func (a *Agent) handleConnection(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("agent.handler_panic", "Request handler panicked", map[string]interface{}{
				"panic": fmt.Sprint(r),
			})
			_ = writeLine(conn, Errorf("internal error"))
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	line, err := readLine(conn)
	if err != nil {
		_ = writeLine(conn, Errorf("invalid request: %v", err))
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		_ = writeLine(conn, Errorf("invalid request: %v", err))
		return
	}

	resp := a.dispatch(req)
	if err := writeLine(conn, resp); err != nil {
		a.logger.Warn("agent.write_failed", "Failed to write response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// dispatch routes a request to its handler. The switch is exhaustive over
// the protocol's closed action set; unknown actions answer with an error
// response rather than dropping the connection.
func (a *Agent) dispatch(req Request) Response {
	a.mu.Lock()
	elapsed := time.Since(a.startTime)
	expired := elapsed >= a.ttl
	if expired {
		a.shutdown = true
	}
	a.mu.Unlock()

	if expired {
		return Errorf("session expired")
	}

	switch req.Action {
	case ActionPing:
		remaining := a.ttl - elapsed
		if remaining < 0 {
			remaining = 0
		}
		return OK(PingData{
			UptimeSecs:       uint64(elapsed.Seconds()),
			TTLRemainingSecs: uint64(remaining.Seconds()),
		})

	case ActionGetSecrets:
		values := make(map[string]string, len(a.cache))
		for name, value := range a.cache {
			values[name] = string(value)
		}
		return OK(values)

	case ActionGetSecret:
		if req.Name == "" {
			return Errorf("get_secret requires a name")
		}
		data := map[string]string{}
		if value, ok := a.cache[req.Name]; ok {
			data["value"] = string(value)
		}
		// Absent names still answer ok; the value key is simply omitted.
		return OK(data)

	case ActionList:
		names := append([]string(nil), a.names...)
		return OK(names)

	case ActionShutdown:
		a.logger.Info("agent.shutdown_requested", "Shutdown requested by client", nil)
		a.RequestShutdown()
		return OK(map[string]string{"message": "agent stopping"})

	default:
		return Errorf("unknown action: %q", req.Action)
	}
}

// ensureSocketFree refuses to start when a live agent answers on the
// socket and removes a stale socket left by a crashed one.
func ensureSocketFree(socketPath string) error {
	if _, err := os.Stat(socketPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat socket: %w", err)
	}

	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err == nil {
		conn.Close()
		return ErrAgentAlreadyRunning
	}

	// Socket file exists but nothing listens: stale leftover.
	if err := os.Remove(socketPath); err != nil {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
