package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// client keeps one IPC connection open; the shell reuses it across commands.
type client struct {
	conn net.Conn
	dec  *json.Decoder
	enc  *json.Encoder
}

func dial(socketPath string) (*client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	return &client{
		conn: conn,
		dec:  json.NewDecoder(bufio.NewReader(conn)),
		enc:  json.NewEncoder(conn),
	}, nil
}

func (c *client) Close() error { return c.conn.Close() }

// call sends one line-delimited request and waits for its response.
func (c *client) call(req request) (json.RawMessage, error) {
	_ = c.conn.SetDeadline(time.Now().Add(5 * time.Second))
	defer c.conn.SetDeadline(time.Time{})

	// Encode terminates the line with '\n'.
	if err := c.enc.Encode(req); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Type, err)
	}

	var resp response
	if err := c.dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp.Data, nil
}
