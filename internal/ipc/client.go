package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// DialTimeout bounds connecting to the daemon socket.
const DialTimeout = 2 * time.Second

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, DialTimeout)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Req, Resp any](c *Client, method string, req Req) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start asks the daemon to publish a playlist.
func (c *Client) Start(req StartRequest) (*StartResponse, error) {
	return call[StartRequest, StartResponse](c, "Start", req)
}

// Stop ends the active stream.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopRequest, StopResponse](c, "Stop", StopRequest{})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusRequest, StatusResponse](c, "Status", StatusRequest{})
}

// Health runs the health checks.
func (c *Client) Health() (*HealthResponse, error) {
	return call[HealthRequest, HealthResponse](c, "Health", HealthRequest{})
}

// History returns journaled events.
func (c *Client) History(req HistoryRequest) (*HistoryResponse, error) {
	return call[HistoryRequest, HistoryResponse](c, "History", req)
}

// Locks returns lock contention counters.
func (c *Client) Locks() (*LocksResponse, error) {
	return call[LocksRequest, LocksResponse](c, "Locks", LocksRequest{})
}

// Preflight runs readiness checks on the daemon host.
func (c *Client) Preflight(probeDestination bool) (*PreflightResponse, error) {
	return call[PreflightRequest, PreflightResponse](c, "Preflight", PreflightRequest{ProbeDestination: probeDestination})
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	return call[LogTailRequest, LogTailResponse](c, "LogTail", req)
}

// TestNotification asks the daemon to send a test alert.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationRequest, TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}

// Shutdown asks the daemon process to exit.
func (c *Client) Shutdown() (*ShutdownResponse, error) {
	return call[ShutdownRequest, ShutdownResponse](c, "Shutdown", ShutdownRequest{})
}
