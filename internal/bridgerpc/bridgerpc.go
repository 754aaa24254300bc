// Package bridgerpc speaks the godot_bridge wire protocol: newline-
// delimited JSON over TCP, authenticated by a shared token in the first
// request. The doctor uses it to probe bridge health and verify that a
// reachable bridge actually serves the expected project.
package bridgerpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"
)

// maxLine bounds a single response line; the bridge never sends more.
const maxLine = 4 << 20

// request is one wire frame sent to the bridge.
type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
	Token  string `json:"token,omitempty"`
}

// response is one wire frame received from the bridge.
type response struct {
	ID     int64           `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// HealthInfo is the health method's payload. ProjectRoot is what the
// doctor matches against the expected project to confirm identity.
type HealthInfo struct {
	ProjectRoot  string  `json:"project_root"`
	GodotVersion string  `json:"godot_version,omitempty"`
	PluginUptime float64 `json:"plugin_uptime_sec,omitempty"`
}

// Client is an authenticated connection to a bridge.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	token  string
	nextID int64
}

// Connect dials host:port and performs the auth round trip within
// timeout. A refused or timed-out dial comes back unwrapped enough for
// [Unreachable] to classify it.
func Connect(ctx context.Context, host string, port int, token string, timeout time.Duration) (*Client, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("dialing bridge at %s:%d: %w", host, port, err)
	}
	c := &Client{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64<<10),
		token:  token,
	}
	if _, err := c.Request("auth", nil, timeout); err != nil {
		c.Close() //nolint:errcheck // best-effort close on failed auth
		return nil, fmt.Errorf("bridge auth: %w", err)
	}
	return c, nil
}

// Request sends one method call and waits for its response, bounded by
// timeout. The token rides on every frame; the bridge ignores it after
// auth.
func (c *Client) Request(method string, params any, timeout time.Duration) (json.RawMessage, error) {
	c.nextID++
	req := request{ID: c.nextID, Method: method, Params: params, Token: c.token}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", method, err)
	}

	deadline := time.Now().Add(timeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting deadline: %w", err)
	}
	if _, err := c.conn.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("sending %s request: %w", method, err)
	}

	line, err := c.readLine()
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response id %d does not match request id %d", resp.ID, req.ID)
	}
	if !resp.OK {
		return nil, fmt.Errorf("bridge rejected %s: %s", method, resp.Error)
	}
	return resp.Result, nil
}

// Health performs the health round trip.
func (c *Client) Health(timeout time.Duration) (*HealthInfo, error) {
	raw, err := c.Request("health", nil, timeout)
	if err != nil {
		return nil, err
	}
	var info HealthInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decoding health payload: %w", err)
	}
	return &info, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// readLine reads one newline-terminated frame with a size bound.
func (c *Client) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := readSlice(c.reader)
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxLine {
			return nil, fmt.Errorf("bridge response exceeds %d bytes", maxLine)
		}
		if !isPrefix {
			return line, nil
		}
	}
}

// readSlice wraps bufio.Reader.ReadLine to keep readLine readable.
func readSlice(r *bufio.Reader) ([]byte, bool, error) {
	return r.ReadLine()
}

// Unreachable reports whether err looks like "nothing is listening":
// connection refused, connect timeout, or an I/O deadline expiring
// before any byte arrived. These are the only error shapes the stale-
// lock classification accepts; anything else (auth rejection, protocol
// garbage, resets mid-stream) means something live is on the port.
func Unreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
