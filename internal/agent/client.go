package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// Client talks to a running agent over its unix socket. Every method is a
// single request/response round trip; a missing or dead socket maps to
// ErrAgentNotRunning so callers can branch on "no agent" instead of
// treating it as a failure.
type Client struct {
	dir string
}

// NewClient creates a client for the agent in the given locker directory.
func NewClient(dir string) *Client {
	return &Client{dir: dir}
}

func (c *Client) roundTrip(req Request) (Response, error) {
	conn, err := net.DialTimeout("unix", SocketPath(c.dir), time.Second)
	if err != nil {
		return Response{}, ErrAgentNotRunning
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := writeLine(conn, req); err != nil {
		return Response{}, fmt.Errorf("failed to send request: %w", err)
	}

	line, err := readLine(conn)
	if err != nil {
		return Response{}, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("malformed response: %w", err)
	}
	return resp, nil
}

// IsRunning reports whether a live agent answers a ping.
func (c *Client) IsRunning() bool {
	resp, err := c.roundTrip(Request{Action: ActionPing})
	return err == nil && resp.Status == StatusOK
}

// GetSecrets returns the full decrypted mapping of non-expired secrets.
func (c *Client) GetSecrets() (map[string]string, error) {
	resp, err := c.roundTrip(Request{Action: ActionGetSecrets})
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusOK {
		return nil, errors.New(resp.Message)
	}
	var values map[string]string
	if err := json.Unmarshal(resp.Data, &values); err != nil {
		return nil, fmt.Errorf("malformed get_secrets payload: %w", err)
	}
	return values, nil
}

// GetSecret returns one secret value. The second return is false when the
// agent has no such secret; that is not an error.
func (c *Client) GetSecret(name string) (string, bool, error) {
	resp, err := c.roundTrip(Request{Action: ActionGetSecret, Name: name})
	if err != nil {
		return "", false, err
	}
	if resp.Status != StatusOK {
		return "", false, errors.New(resp.Message)
	}
	var data map[string]string
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", false, fmt.Errorf("malformed get_secret payload: %w", err)
	}
	value, ok := data["value"]
	return value, ok, nil
}

// List returns the non-expired secret names known to the agent.
func (c *Client) List() ([]string, error) {
	resp, err := c.roundTrip(Request{Action: ActionList})
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusOK {
		return nil, errors.New(resp.Message)
	}
	var names []string
	if err := json.Unmarshal(resp.Data, &names); err != nil {
		return nil, fmt.Errorf("malformed list payload: %w", err)
	}
	return names, nil
}

// Status returns the agent's uptime and remaining TTL.
func (c *Client) Status() (PingData, error) {
	resp, err := c.roundTrip(Request{Action: ActionPing})
	if err != nil {
		return PingData{}, err
	}
	if resp.Status != StatusOK {
		return PingData{}, errors.New(resp.Message)
	}
	var data PingData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return PingData{}, fmt.Errorf("malformed ping payload: %w", err)
	}
	return data, nil
}

// Stop asks the agent to shut down. Stopping an agent that is not running
// is not an error.
func (c *Client) Stop() error {
	resp, err := c.roundTrip(Request{Action: ActionShutdown})
	if err != nil {
		if errors.Is(err, ErrAgentNotRunning) {
			return nil
		}
		return err
	}
	if resp.Status != StatusOK {
		return errors.New(resp.Message)
	}
	return nil
}
