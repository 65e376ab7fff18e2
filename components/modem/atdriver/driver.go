// Package atdriver drives Hayes AT command modules (SIMCom style cellular modules, ESP8266 and
// Digi XBee) over a serial line. The driver is both the modem's network driver and its TCP
// client: once a connection is open the line runs in transparent mode and carries the stream.
package atdriver

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/envirodiy/loggermodem/components/modem"
	"github.com/envirodiy/loggermodem/logging"
	"github.com/envirodiy/loggermodem/serial"
	"github.com/envirodiy/loggermodem/timing"
)

var (
	// ErrTimeout is returned when the module does not answer in time.
	ErrTimeout = errors.New("timed out waiting for module")
	// ErrNotConnected is returned when writing without an open TCP connection.
	ErrNotConnected = errors.New("no open connection")
)

// networkPollMs is the pause between registration queries.
const networkPollMs = 500

var (
	_ modem.Driver = (*Driver)(nil)
	_ modem.Client = (*Driver)(nil)
)

// Driver speaks one dialect over a byte line.
type Driver struct {
	port    io.ReadWriter
	family  string
	dialect dialect
	attrs   Attributes
	clk     timing.Clock
	logger  logging.Logger

	buf       [64]byte
	rx        []byte
	connected bool
}

// New returns a driver for the module family in caps talking over port.
func New(port io.ReadWriter, caps modem.Capabilities, attrs Attributes, clk timing.Clock, logger logging.Logger) (*Driver, error) {
	d, ok := dialects[caps.Family]
	if !ok {
		return nil, errors.Errorf("no AT command set for %s modules", caps.Family)
	}
	return &Driver{
		port:    port,
		family:  caps.Family,
		dialect: d,
		attrs:   attrs.withDefaults(),
		clk:     clk,
		logger:  logger,
	}, nil
}

// Open opens the serial device in conf and returns a driver on it. Close releases the device.
func Open(
	conf serial.Config,
	caps modem.Capabilities,
	attributes map[string]interface{},
	clk timing.Clock,
	logger logging.Logger,
) (*Driver, error) {
	attrs, err := DecodeAttributes(attributes)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(conf.Path, conf.Options(int(attrs.PollMs)))
	if err != nil {
		return nil, err
	}
	d, err := New(port, caps, attrs, clk, logger)
	if err != nil {
		return nil, multierr.Combine(err, port.Close())
	}
	return d, nil
}

// Close releases the underlying line when it can be closed.
func (d *Driver) Close() error {
	if closer, ok := d.port.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// fill moves whatever the line has ready into rx and returns how many bytes arrived.
func (d *Driver) fill() (int, error) {
	n, err := d.port.Read(d.buf[:])
	d.rx = append(d.rx, d.buf[:n]...)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

// readLine returns the next non-empty line within timeoutMs. A bare ">" prompt counts as a line.
func (d *Driver) readLine(timeoutMs uint32) (string, error) {
	start := d.clk.Millis()
	for {
		if idx := bytes.IndexAny(d.rx, "\r\n"); idx >= 0 {
			line := strings.TrimSpace(string(d.rx[:idx]))
			if d.rx[idx] == '\r' && idx+1 < len(d.rx) && d.rx[idx+1] == '\n' {
				idx++
			}
			d.rx = d.rx[idx+1:]
			if line != "" {
				return line, nil
			}
			continue
		}
		if prompt := bytes.TrimSpace(d.rx); len(prompt) == 1 && prompt[0] == '>' {
			d.rx = d.rx[:0]
			return ">", nil
		}
		n, err := d.fill()
		if err != nil {
			return "", err
		}
		if n > 0 {
			continue
		}
		if timing.Since(d.clk, start) >= timeoutMs {
			return "", ErrTimeout
		}
		d.clk.Delay(d.attrs.PollMs)
	}
}

func isErrorReply(line string) bool {
	return line == "ERROR" ||
		line == "CONNECT FAIL" ||
		strings.HasPrefix(line, "+CME ERROR") ||
		strings.HasPrefix(line, "+CMS ERROR")
}

// send runs one step and returns every line read up to and including the one that completed it.
// A non-zero budgetMs bounds the whole step including guard times. An escape that cannot fit its
// guard times is not sent.
func (d *Driver) send(s step, budgetMs uint32) ([]string, error) {
	begin := d.clk.Millis()
	if s.escape && budgetMs != 0 && budgetMs <= 2*d.attrs.GuardTimeMs {
		return nil, errors.Wrapf(ErrTimeout, "no time left for %q", s.cmd)
	}
	d.rx = d.rx[:0]
	if s.escape {
		d.clk.Delay(d.attrs.GuardTimeMs)
		if _, err := d.port.Write([]byte(s.cmd)); err != nil {
			return nil, errors.Wrap(err, "writing escape")
		}
		d.clk.Delay(d.attrs.GuardTimeMs)
	} else if _, err := d.port.Write([]byte(s.cmd + "\r")); err != nil {
		return nil, errors.Wrapf(err, "writing %q", s.cmd)
	}

	timeout := d.attrs.CommandTimeoutMs
	switch {
	case s.connect:
		timeout = d.attrs.ConnectTimeoutMs
	case s.timeoutMs != 0:
		timeout = s.timeoutMs
	}
	if budgetMs != 0 {
		spent := timing.Since(d.clk, begin)
		if spent >= budgetMs {
			return nil, errors.Wrapf(ErrTimeout, "no time left for %q", s.cmd)
		}
		timeout = min(timeout, budgetMs-spent)
	}

	var lines []string
	start := d.clk.Millis()
	for {
		elapsed := timing.Since(d.clk, start)
		if elapsed >= timeout {
			return lines, errors.Wrapf(ErrTimeout, "waiting for %q after %q", s.expect, s.cmd)
		}
		line, err := d.readLine(timeout - elapsed)
		if err != nil {
			return lines, errors.Wrapf(err, "waiting for %q after %q", s.expect, s.cmd)
		}
		lines = append(lines, line)
		if isErrorReply(line) {
			return lines, errors.Errorf("%s: %s", s.cmd, line)
		}
		if s.expect == "" || strings.Contains(line, s.expect) {
			return lines, nil
		}
	}
}

func (d *Driver) run(ctx context.Context, steps []step) ([]string, error) {
	return d.runWithin(ctx, steps, 0)
}

// runWithin runs steps, stopping with ErrTimeout once budgetMs has passed. Zero means no bound
// beyond each step's own timeout.
func (d *Driver) runWithin(ctx context.Context, steps []step, budgetMs uint32) ([]string, error) {
	var lines []string
	start := d.clk.Millis()
	for _, s := range steps {
		var left uint32
		if budgetMs != 0 {
			elapsed := timing.Since(d.clk, start)
			if elapsed >= budgetMs {
				return lines, errors.Wrapf(ErrTimeout, "no time left for %q", s.cmd)
			}
			left = budgetMs - elapsed
		}
		reply, err := d.send(s, left)
		lines = append(lines, reply...)
		if err != nil {
			d.logger.CDebugw(ctx, "command failed", "family", d.family, "command", s.cmd, "reply", lines)
			return lines, err
		}
	}
	return lines, nil
}

// Init waits for the module to answer and configures it.
func (d *Driver) Init(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= d.attrs.ReadyAttempts; attempt++ {
		if _, err = d.send(d.dialect.ready, 0); err == nil {
			break
		}
		d.logger.CDebugw(ctx, "module not ready", "attempt", attempt, "error", err)
	}
	if err != nil {
		return errors.Wrapf(err, "%s module did not respond", d.family)
	}
	_, err = d.run(ctx, d.dialect.init)
	return err
}

// SetupPinSleep makes the module follow its sleep request line.
func (d *Driver) SetupPinSleep(ctx context.Context) error {
	if len(d.dialect.pinSleep) == 0 {
		return nil
	}
	_, err := d.run(ctx, d.dialect.pinSleep)
	return err
}

func (d *Driver) onNetwork(ctx context.Context, budgetMs uint32) bool {
	lines, err := d.runWithin(ctx, d.dialect.query, budgetMs)
	return err == nil && d.dialect.registered(lines)
}

// WaitForNetwork queries registration until the module reports it or timeoutMs passes. Each query
// only gets the time that is left, so the wait ends within one read poll of timeoutMs.
func (d *Driver) WaitForNetwork(ctx context.Context, timeoutMs uint32) bool {
	start := d.clk.Millis()
	return timing.PollUntil(d.clk, timeoutMs, networkPollMs, func() bool {
		elapsed := timing.Since(d.clk, start)
		if elapsed >= timeoutMs {
			return false
		}
		return d.onNetwork(ctx, timeoutMs-elapsed)
	})
}

// NetworkConnect stores Wi-Fi credentials and joins the network.
func (d *Driver) NetworkConnect(ctx context.Context, ssid, password string) error {
	if d.dialect.join == nil {
		return errors.Errorf("%s modules cannot join Wi-Fi networks", d.family)
	}
	_, err := d.run(ctx, d.dialect.join(ssid, password))
	return err
}

// GPRSConnect opens the cellular data context.
func (d *Driver) GPRSConnect(ctx context.Context, apn, user, password string) error {
	if d.dialect.attach == nil {
		return errors.Errorf("%s modules have no cellular data context", d.family)
	}
	_, err := d.run(ctx, d.dialect.attach(apn, user, password))
	return err
}

// GPRSDisconnect closes the cellular data context.
func (d *Driver) GPRSDisconnect(ctx context.Context) error {
	if len(d.dialect.detach) == 0 {
		return nil
	}
	_, err := d.run(ctx, d.dialect.detach)
	return err
}

// Connect opens a TCP connection and switches the line to the connection's byte stream.
func (d *Driver) Connect(ctx context.Context, host string, port uint16) error {
	if d.connected {
		d.Stop(ctx)
	}
	if _, err := d.run(ctx, d.dialect.open(host, port)); err != nil {
		return errors.Wrapf(err, "connecting to %s:%d", host, port)
	}
	d.connected = true
	d.logger.CDebugw(ctx, "connection open", "host", host, "port", port)
	return nil
}

// Stop leaves transparent mode and closes the connection. Unread bytes are dropped.
func (d *Driver) Stop(ctx context.Context) {
	if !d.connected {
		return
	}
	d.connected = false
	if _, err := d.run(ctx, d.dialect.close); err != nil {
		d.logger.CDebugw(ctx, "closing connection failed", "error", err)
	}
	d.rx = d.rx[:0]
}

// Available returns the number of stream bytes ready to read.
func (d *Driver) Available() int {
	if len(d.rx) == 0 {
		if _, err := d.fill(); err != nil {
			d.logger.Debugw("reading line failed", "error", err)
		}
	}
	return len(d.rx)
}

// ReadByte returns the next stream byte, waiting up to the read timeout for it.
func (d *Driver) ReadByte() (byte, error) {
	start := d.clk.Millis()
	for len(d.rx) == 0 {
		n, err := d.fill()
		if err != nil {
			return 0, err
		}
		if n > 0 {
			break
		}
		if timing.Since(d.clk, start) >= d.attrs.ReadTimeoutMs {
			return 0, ErrTimeout
		}
		d.clk.Delay(d.attrs.PollMs)
	}
	b := d.rx[0]
	d.rx = d.rx[1:]
	return b, nil
}

// Write sends p over the open connection.
func (d *Driver) Write(p []byte) (int, error) {
	if !d.connected {
		return 0, ErrNotConnected
	}
	return d.port.Write(p)
}
