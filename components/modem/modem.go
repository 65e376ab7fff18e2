// Package modem owns a communication module: its power sequencer, its network driver and the
// byte stream used to talk to remote hosts. A Modem keeps the module powered before any network
// action and tracks the network session it opened.
package modem

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/envirodiy/loggermodem/components/board"
	"github.com/envirodiy/loggermodem/components/modem/power"
	"github.com/envirodiy/loggermodem/logging"
	"github.com/envirodiy/loggermodem/timing"
)

// Network attach windows in milliseconds.
const (
	WiFiWaitMs         = 10000
	WiFiRetryWaitMs    = 45000
	CellularRegisterMs = 55000
)

var (
	// ErrNotPowered is returned when the module could not be brought up before a network action.
	ErrNotPowered = errors.New("module is not powered")
	// ErrAttachFailed is returned when the module did not join the network.
	ErrAttachFailed = errors.New("network attach failed")
	// ErrNoTransport is returned by byte stream operations on a modem without a client.
	ErrNoTransport = errors.New("no communication stack")
)

// Stream is a buffered serial byte channel.
type Stream interface {
	// Available returns the number of bytes that can be read without waiting.
	Available() int
	// ReadByte returns the next byte, waiting a bounded time for it.
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
}

// Client is a TCP client running on the module.
type Client interface {
	Stream
	Connect(ctx context.Context, host string, port uint16) error
	Stop(ctx context.Context)
}

// Driver controls the module's network attachment.
type Driver interface {
	// Init brings up the module's command interface once it is powered.
	Init(ctx context.Context) error
	// SetupPinSleep tells the module to sleep when its enable line says so.
	SetupPinSleep(ctx context.Context) error
	// WaitForNetwork waits up to timeoutMs for the module to see its network.
	WaitForNetwork(ctx context.Context, timeoutMs uint32) bool
	// NetworkConnect sends Wi-Fi credentials.
	NetworkConnect(ctx context.Context, ssid, password string) error
	// GPRSConnect opens a cellular data context.
	GPRSConnect(ctx context.Context, apn, user, password string) error
	// GPRSDisconnect closes the cellular data context.
	GPRSDisconnect(ctx context.Context) error
}

// Options fix what module is attached and how it is wired.
type Options struct {
	Capabilities Capabilities
	SleepStyle   power.SleepStyle
	Pins         power.Pins
	Credentials  Credentials
}

// Dependencies are the collaborators a Modem drives. Driver and Client may be nil when the module
// has no communication stack; network operations then fail with ErrNoTransport.
type Dependencies struct {
	Board  board.Board
	Driver Driver
	Client Client
	Clock  timing.Clock
}

// Modem is the single owner of one module. Calls are not synchronized individually; callers
// running a multi-step exchange (connect, request, stop) hold Lock for its duration.
type Modem struct {
	sync.Mutex

	caps   Capabilities
	creds  Credentials
	seq    power.Sequencer
	driver Driver
	client Client
	clk    timing.Clock
	logger logging.Logger

	session *Session
}

// New sets up the power sequencer for the configured sleep style and, when there is a driver,
// wakes the module long enough to initialize it before putting it back to sleep.
func New(ctx context.Context, opts Options, deps Dependencies, logger logging.Logger) (*Modem, error) {
	if err := opts.Credentials.Validate(opts.Capabilities); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = timing.NewSystem()
	}
	seq, err := power.New(ctx, opts.SleepStyle, opts.Pins, deps.Board, deps.Clock, logger.Sublogger("power"))
	if err != nil {
		return nil, err
	}
	m := &Modem{
		caps:   opts.Capabilities,
		creds:  opts.Credentials,
		seq:    seq,
		driver: deps.Driver,
		client: deps.Client,
		clk:    deps.Clock,
		logger: logger,
	}
	if m.driver != nil {
		m.initDriver(ctx)
	}
	return m, nil
}

func (m *Modem) initDriver(ctx context.Context) {
	m.logger.Debugw("initializing modem", "family", m.caps.Family, "sleep_style", m.seq.Style().String())
	m.ensurePowered(ctx)
	if !m.seq.IsActive(ctx) {
		m.logger.Warn("module did not power up, skipping initialization")
		return
	}
	if err := m.driver.Init(ctx); err != nil {
		m.logger.Warnw("module initialization failed", "error", err)
	}
	if m.caps.PinSleep {
		if err := m.driver.SetupPinSleep(ctx); err != nil {
			m.logger.Warnw("enabling pin sleep failed", "error", err)
		}
	}
	if err := m.seq.Deactivate(ctx); err != nil {
		m.logger.Warnw("module did not power down after initialization", "error", err)
	}
}

func (m *Modem) ensurePowered(ctx context.Context) {
	if m.seq.IsActive(ctx) {
		return
	}
	if err := m.seq.Activate(ctx); err != nil {
		m.logger.Debugw("activation reported failure", "error", err)
	}
}

// Capabilities returns the capability descriptor of the attached module.
func (m *Modem) Capabilities() Capabilities {
	return m.caps
}

// Session returns the open network session, or nil.
func (m *Modem) Session() *Session {
	return m.session
}

// Clock returns the millisecond clock the modem waits against.
func (m *Modem) Clock() timing.Clock {
	return m.clk
}

// IsActive reports whether the module is awake.
func (m *Modem) IsActive(ctx context.Context) bool {
	return m.seq.IsActive(ctx)
}

// Activate wakes the module.
func (m *Modem) Activate(ctx context.Context) error {
	return m.seq.Activate(ctx)
}

// Deactivate puts the module to sleep and drops any session, which cannot survive a power cycle.
func (m *Modem) Deactivate(ctx context.Context) error {
	m.session = nil
	return m.seq.Deactivate(ctx)
}

// ConnectNetwork powers the module if needed and joins the configured network. Nothing is sent to
// the driver when the module cannot be powered. Attach is not retried.
func (m *Modem) ConnectNetwork(ctx context.Context) error {
	m.ensurePowered(ctx)
	if !m.seq.IsActive(ctx) {
		return ErrNotPowered
	}
	if m.driver == nil {
		return ErrNoTransport
	}

	var (
		kind AttachKind
		err  error
	)
	switch {
	case m.caps.Attach == AttachHost:
		kind, err = AttachHost, m.attachHost(ctx)
	case m.creds.WiFi() && m.caps.WiFi():
		kind, err = AttachWiFi, m.attachWiFi(ctx)
	case m.caps.Cellular():
		kind, err = AttachCellular, m.attachCellular(ctx)
	default:
		err = errors.Wrapf(ErrAttachFailed, "%s module has no usable credentials", m.caps.Family)
	}
	if err != nil {
		m.logger.Warnw("network connection failed", "error", err)
		return err
	}

	m.session = newSession(kind, m.clk.Millis())
	m.logger.Infow("network connected", "session", m.session.ID.String(), "attach", kind.String())
	return nil
}

func (m *Modem) attachHost(ctx context.Context) error {
	if !m.driver.WaitForNetwork(ctx, WiFiWaitMs) {
		return errors.Wrap(ErrAttachFailed, "host network is down")
	}
	return nil
}

func (m *Modem) attachWiFi(ctx context.Context) error {
	m.logger.Debugw("connecting to wifi network", "ssid", m.creds.SSID)
	if m.driver.WaitForNetwork(ctx, WiFiWaitMs) {
		return nil
	}
	m.logger.Debug("wifi not visible, resending credentials")
	if err := m.driver.NetworkConnect(ctx, m.creds.SSID, m.creds.Password); err != nil {
		m.logger.Debugw("sending wifi credentials failed", "error", err)
	}
	if !m.driver.WaitForNetwork(ctx, WiFiRetryWaitMs) {
		return errors.Wrapf(ErrAttachFailed, "joining %q", m.creds.SSID)
	}
	return nil
}

func (m *Modem) attachCellular(ctx context.Context) error {
	m.logger.Debug("waiting for cellular network")
	if !m.driver.WaitForNetwork(ctx, CellularRegisterMs) {
		return errors.Wrap(ErrAttachFailed, "cellular registration timed out")
	}
	if err := m.driver.GPRSConnect(ctx, m.creds.APN, "", ""); err != nil {
		return errors.Wrapf(multierr.Append(ErrAttachFailed, err), "activating data context on %q", m.creds.APN)
	}
	return nil
}

// DisconnectNetwork tears down the data context on modules that need an explicit detach. A module
// that is asleep has no data context, so nothing is sent to it.
func (m *Modem) DisconnectNetwork(ctx context.Context) error {
	if m.session != nil {
		m.logger.Debugw("closing network session", "session", m.session.ID.String())
	}
	m.session = nil
	if m.driver == nil || !m.caps.ExplicitDetach {
		return nil
	}
	if !m.seq.IsActive(ctx) {
		m.logger.Debug("module is not powered, skipping detach")
		return nil
	}
	return m.driver.GPRSDisconnect(ctx)
}

// Connect opens a TCP connection through the module.
func (m *Modem) Connect(ctx context.Context, host string, port uint16) error {
	if m.client == nil {
		return ErrNoTransport
	}
	return m.client.Connect(ctx, host, port)
}

// Stop closes the TCP connection.
func (m *Modem) Stop(ctx context.Context) {
	if m.client == nil {
		return
	}
	m.client.Stop(ctx)
}

// Stream returns the byte stream of the module's TCP client, or nil without one.
func (m *Modem) Stream() Stream {
	if m.client == nil {
		return nil
	}
	return m.client
}

// Close stops the client, leaves the network and powers the module down.
func (m *Modem) Close(ctx context.Context) error {
	m.Stop(ctx)
	return multierr.Combine(m.DisconnectNetwork(ctx), m.Deactivate(ctx))
}

// DumpBuffer empties stream of any trailing bytes, waiting delayMs before each read. At most
// maxReads bytes are drained so a chattering module cannot hold the caller forever. It returns the
// number of bytes dropped.
func DumpBuffer(stream Stream, clk timing.Clock, delayMs uint32, maxReads int, logger logging.Logger) int {
	clk.Delay(delayMs)
	drained := make([]byte, 0, 64)
	for maxReads > 0 && stream.Available() > 0 {
		b, err := stream.ReadByte()
		if err != nil {
			break
		}
		drained = append(drained, b)
		maxReads--
		clk.Delay(delayMs)
	}
	if len(drained) > 0 {
		logger.Debugw("dumped trailing bytes", "count", len(drained), "data", string(drained))
	}
	return len(drained)
}
