// Package hostnet is the modem driver for boards whose operating system owns the network link.
// There is nothing to attach; the driver only checks that the host is online and opens TCP
// connections through the host's stack.
package hostnet

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/envirodiy/loggermodem/components/modem"
	"github.com/envirodiy/loggermodem/logging"
	"github.com/envirodiy/loggermodem/timing"
)

const (
	// DialTimeout bounds opening a connection.
	DialTimeout = 30 * time.Second
	// ReadTimeout bounds the wait for a single byte.
	ReadTimeout = time.Second
	// availableWait is how long Available lets the socket deliver before answering.
	availableWait = 5 * time.Millisecond
)

const probeIntervalMs = 1000

var (
	_ modem.Driver = (*Driver)(nil)
	_ modem.Client = (*Driver)(nil)
)

// Driver implements modem.Driver and modem.Client on the host network stack.
type Driver struct {
	clk    timing.Clock
	logger logging.Logger
	dialer net.Dialer
	// Online reports whether the host has a usable link. It defaults to HasRoutableInterface.
	Online func() bool

	conn   net.Conn
	reader *bufio.Reader
}

// New returns a host network driver.
func New(clk timing.Clock, logger logging.Logger) *Driver {
	return &Driver{
		clk:    clk,
		logger: logger,
		dialer: net.Dialer{Timeout: DialTimeout},
		Online: HasRoutableInterface,
	}
}

// HasRoutableInterface reports whether any interface that is up carries a non-loopback address.
func HasRoutableInterface() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.IsGlobalUnicast() {
				return true
			}
		}
	}
	return false
}

// Init does nothing; the host needs no setup.
func (d *Driver) Init(ctx context.Context) error {
	return nil
}

// SetupPinSleep does nothing.
func (d *Driver) SetupPinSleep(ctx context.Context) error {
	return nil
}

// WaitForNetwork polls Online until it succeeds or timeoutMs passes.
func (d *Driver) WaitForNetwork(ctx context.Context, timeoutMs uint32) bool {
	return timing.PollUntil(d.clk, timeoutMs, probeIntervalMs, d.Online)
}

// NetworkConnect is not supported; the host manages its own links.
func (d *Driver) NetworkConnect(ctx context.Context, ssid, password string) error {
	return errors.New("the host network is managed by the operating system")
}

// GPRSConnect is not supported.
func (d *Driver) GPRSConnect(ctx context.Context, apn, user, password string) error {
	return errors.New("the host network is managed by the operating system")
}

// GPRSDisconnect does nothing.
func (d *Driver) GPRSDisconnect(ctx context.Context) error {
	return nil
}

// Connect dials host:port over TCP, replacing any open connection.
func (d *Driver) Connect(ctx context.Context, host string, port uint16) error {
	d.Stop(ctx)
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	conn, err := d.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", addr)
	}
	d.conn = conn
	d.reader = bufio.NewReader(conn)
	d.logger.CDebugw(ctx, "connection open", "address", addr)
	return nil
}

// Stop closes the open connection.
func (d *Driver) Stop(ctx context.Context) {
	if d.conn == nil {
		return
	}
	if err := d.conn.Close(); err != nil {
		d.logger.CDebugw(ctx, "closing connection failed", "error", err)
	}
	d.conn = nil
	d.reader = nil
}

// Available returns the number of buffered bytes, giving the socket a moment to deliver when the
// buffer is empty.
func (d *Driver) Available() int {
	if d.reader == nil {
		return 0
	}
	if d.reader.Buffered() == 0 {
		if err := d.conn.SetReadDeadline(time.Now().Add(availableWait)); err != nil {
			return 0
		}
		//nolint:errcheck
		d.reader.Peek(1)
	}
	return d.reader.Buffered()
}

// ReadByte returns the next byte, waiting up to ReadTimeout for it.
func (d *Driver) ReadByte() (byte, error) {
	if d.reader == nil {
		return 0, net.ErrClosed
	}
	if err := d.conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		return 0, err
	}
	return d.reader.ReadByte()
}

// Write sends p over the open connection.
func (d *Driver) Write(p []byte) (int, error) {
	if d.conn == nil {
		return 0, net.ErrClosed
	}
	return d.conn.Write(p)
}
