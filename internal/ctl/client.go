package ctl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client talks to a running daemon over the control socket.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to the daemon socket. A missing or dead socket fails
// fast, letting callers fall back to a direct connection.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends one request and reads its reply. body may be nil for
// actions without fields.
func (c *Client) Do(action string, body any) (*Response, error) {
	line, err := Marshal(action, body)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	reply, err := c.r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// Ping reports whether a daemon answers on the socket.
func Ping(socketPath string) bool {
	c, err := Dial(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()
	resp, err := c.Do(ActionPing, nil)
	return err == nil && resp.OK
}
