// Package fake implements a scripted modem driver and TCP client.
package fake

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/envirodiy/loggermodem/timing"
)

// Driver is a modem.Driver whose network visibility is scripted. Every call is recorded.
type Driver struct {
	mu    sync.Mutex
	clk   timing.Clock
	calls []string

	// WaitResults are returned by successive WaitForNetwork calls; false once exhausted.
	WaitResults []bool
	InitErr     error
	PinSleepErr error
	ConnectErr  error
	GPRSErr     error
}

// NewDriver returns a driver that spends the full timeout on clk when the network never shows up.
func NewDriver(clk timing.Clock, waitResults ...bool) *Driver {
	return &Driver{clk: clk, WaitResults: waitResults}
}

func (d *Driver) record(format string, args ...interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls in order.
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.calls...)
}

// Init records the call.
func (d *Driver) Init(ctx context.Context) error {
	d.record("Init")
	return d.InitErr
}

// SetupPinSleep records the call.
func (d *Driver) SetupPinSleep(ctx context.Context) error {
	d.record("SetupPinSleep")
	return d.PinSleepErr
}

// WaitForNetwork pops the next scripted result.
func (d *Driver) WaitForNetwork(ctx context.Context, timeoutMs uint32) bool {
	d.record("WaitForNetwork(%d)", timeoutMs)
	d.mu.Lock()
	visible := false
	if len(d.WaitResults) > 0 {
		visible = d.WaitResults[0]
		d.WaitResults = d.WaitResults[1:]
	}
	d.mu.Unlock()
	if !visible && d.clk != nil {
		d.clk.Delay(timeoutMs)
	}
	return visible
}

// NetworkConnect records the credentials.
func (d *Driver) NetworkConnect(ctx context.Context, ssid, password string) error {
	d.record("NetworkConnect(%s,%s)", ssid, password)
	return d.ConnectErr
}

// GPRSConnect records the access point.
func (d *Driver) GPRSConnect(ctx context.Context, apn, user, password string) error {
	d.record("GPRSConnect(%s,%s,%s)", apn, user, password)
	return d.GPRSErr
}

// GPRSDisconnect records the call.
func (d *Driver) GPRSDisconnect(ctx context.Context) error {
	d.record("GPRSDisconnect")
	return nil
}

// Client is a modem.Client backed by in-memory buffers.
type Client struct {
	mu        sync.Mutex
	connected bool
	host      string
	port      uint16
	written   []byte
	rx        []byte
	stops     int

	ConnectErr error
	// OnConnect returns the bytes the remote sends as soon as the connection opens.
	OnConnect func(host string, port uint16) []byte
	// OnWrite returns the bytes the remote sends in reply to a write.
	OnWrite func(p []byte) []byte
}

// Connect opens the fake connection.
func (c *Client) Connect(ctx context.Context, host string, port uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.connected, c.host, c.port = true, host, port
	if c.OnConnect != nil {
		c.rx = append(c.rx, c.OnConnect(host, port)...)
	}
	return nil
}

// Stop closes the fake connection and drops unread bytes.
func (c *Client) Stop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.rx = nil
	c.stops++
}

// Available returns the number of unread bytes.
func (c *Client) Available() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rx)
}

// ReadByte returns the next unread byte, or io.EOF when there is none.
func (c *Client) ReadByte() (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.rx) == 0 {
		return 0, io.EOF
	}
	b := c.rx[0]
	c.rx = c.rx[1:]
	return b, nil
}

// Write records p and queues the scripted reply.
func (c *Client) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return 0, io.ErrClosedPipe
	}
	c.written = append(c.written, p...)
	if c.OnWrite != nil {
		c.rx = append(c.rx, c.OnWrite(p)...)
	}
	return len(p), nil
}

// Respond queues bytes as if the remote had sent them.
func (c *Client) Respond(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rx = append(c.rx, p...)
}

// Target returns the host and port of the last connection.
func (c *Client) Target() (string, uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host, c.port
}

// Connected reports whether the connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Written returns everything written so far.
func (c *Client) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte{}, c.written...)
}

// Stops returns how many times Stop was called.
func (c *Client) Stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}
