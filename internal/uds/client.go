package uds

import (
	"fmt"
	"net"
	"time"
)

// Client performs one request/response exchange per call against the
// daemon socket.
type Client struct {
	socketPath  string
	dialTimeout time.Duration
	ioTimeout   time.Duration
}

// NewClient returns a client with a short dial timeout: a unix socket
// either answers promptly or its daemon is gone, and callers on the
// decision path fall back to local evaluation rather than wait.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath:  socketPath,
		dialTimeout: 2 * time.Second,
		ioTimeout:   30 * time.Second,
	}
}

// SetTimeout bounds the request/response exchange.
func (c *Client) SetTimeout(d time.Duration) {
	c.ioTimeout = d
}

func (c *Client) Send(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to connect to daemon at %s: %w\n"+
				"Is the daemon running? Start it with: warden serve",
			c.socketPath, err,
		)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(c.ioTimeout))

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &resp, nil
}

// SendCommand builds a request for command and sends it.
func (c *Client) SendCommand(command string, params any) (*Response, error) {
	req, err := NewRequest(command, params)
	if err != nil {
		return nil, err
	}
	return c.Send(req)
}
