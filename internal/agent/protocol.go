package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// The IPC protocol is line-delimited JSON over the agent's unix socket:
// one request, one response, connection closes. It is consumed by the TUI,
// the CLI, and external SDKs.

// Action identifies a request kind. The set is closed; dispatch is an
// exhaustive switch so a new action is a compile-visible change.
type Action string

const (
	// ActionPing checks liveness and returns uptime/TTL status.
	ActionPing Action = "ping"
	// ActionGetSecrets returns the full decrypted mapping.
	ActionGetSecrets Action = "get_secrets"
	// ActionGetSecret returns a single value; absent names yield an ok
	// response without a value rather than an error.
	ActionGetSecret Action = "get_secret"
	// ActionList returns the non-expired secret names.
	ActionList Action = "list"
	// ActionShutdown asks the agent to stop after responding.
	ActionShutdown Action = "shutdown"
)

// Statuses carried in Response.Status.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is a single client message.
type Request struct {
	Action Action `json:"action"`
	Name   string `json:"name,omitempty"`
}

// Response is the agent's reply.
type Response struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// PingData is the payload of a ping response.
type PingData struct {
	UptimeSecs       uint64 `json:"uptime_secs"`
	TTLRemainingSecs uint64 `json:"ttl_remaining_secs"`
}

// OK builds an ok response carrying data.
func OK(data interface{}) Response {
	raw, err := json.Marshal(data)
	if err != nil {
		return Errorf("failed to encode response: %v", err)
	}
	return Response{Status: StatusOK, Data: raw}
}

// Errorf builds an error response with a formatted message.
func Errorf(format string, args ...interface{}) Response {
	return Response{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// maxLineSize bounds a request or response line. One megabyte is generous
// for a full secret mapping.
const maxLineSize = 1 << 20

// writeLine encodes v as a single JSON line.
func writeLine(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// readLine reads one newline-terminated message. The limit bounds what
// a peer can make us buffer, not just what we accept afterwards: an
// unterminated stream stops allocating at the cap.
func readLine(r io.Reader) ([]byte, error) {
	reader := bufio.NewReaderSize(io.LimitReader(r, maxLineSize+1), 4096)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	if len(line) > maxLineSize {
		return nil, fmt.Errorf("message exceeds %d bytes", maxLineSize)
	}
	return line, nil
}
