package agent

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"keylocker/internal/crypto"
)

// ErrSpawnTimeout indicates the spawned daemon never answered a ping
// within the bounded wait.
var ErrSpawnTimeout = errors.New("agent: daemon did not start in time")

// Spawn launches the agent daemon as a detached child re-exec of the
// current binary in `agent run` mode. The derived key is handed over via
// the child's stdin, hex-encoded, so it never appears on a command line
// or in the environment. Spawn returns once the daemon answers a ping.
func Spawn(dir string, key []byte) error {
	client := NewClient(dir)
	if client.IsRunning() {
		return ErrAgentAlreadyRunning
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}

	cmd := exec.Command(exe, "agent", "run", "--dir", dir)
	cmd.Stdout = nil
	cmd.Stderr = nil
	// New session: the daemon must not die with the spawning terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open daemon stdin: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	keyHex := []byte(hex.EncodeToString(key) + "\n")
	_, writeErr := stdin.Write(keyHex)
	closeErr := stdin.Close()
	crypto.Zero(keyHex)
	if writeErr != nil {
		return fmt.Errorf("failed to hand over key: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close daemon stdin: %w", closeErr)
	}

	// The child outlives us; release it so it is not reaped as our zombie.
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("failed to detach daemon: %w", err)
	}

	// Bounded wait for the socket to come up.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if client.IsRunning() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return ErrSpawnTimeout
}

// ReadKeyFromStdin reads the hex-encoded derived key handed over by
// Spawn. Called once by the `agent run` entry point.
func ReadKeyFromStdin(r io.Reader) ([]byte, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	// Trim the newline terminator.
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	key, err := hex.DecodeString(string(line))
	if err != nil {
		return nil, fmt.Errorf("malformed key: %w", err)
	}
	crypto.Zero(line)
	if len(key) != crypto.KeySize {
		crypto.Zero(key)
		return nil, fmt.Errorf("key has %d bytes, want %d", len(key), crypto.KeySize)
	}
	return key, nil
}

// IsProcessAlive reports whether the pid file in dir names a live process.
// Used by doctor-style diagnostics; socket pings remain the primary
// liveness mechanism.
func IsProcessAlive(dir string) bool {
	data, err := os.ReadFile(PidPath(dir))
	if err != nil {
		return false
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil || pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}
