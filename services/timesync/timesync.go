// Package timesync fetches the time from a network TIME server through the modem and corrects the
// real-time clock when it has drifted.
package timesync

import (
	"context"

	"github.com/pkg/errors"

	"github.com/envirodiy/loggermodem/components/modem"
	"github.com/envirodiy/loggermodem/components/rtc"
	"github.com/envirodiy/loggermodem/logging"
	"github.com/envirodiy/loggermodem/timing"
)

// TIME servers and the handshake some modules need before they open the connection.
const (
	DefaultHost = "time.nist.gov"
	// NoDNSHost is used by modules that cannot resolve DefaultHost.
	NoDNSHost = "time-c.nist.gov"

	HandshakeProbe   = "Hi!"
	HandshakeDelayMs = 75

	// ToleranceSeconds is the drift accepted without rewriting the clock.
	ToleranceSeconds = 5

	dumpDelayMs  = 5
	dumpMaxReads = 5000
)

// Network is the part of a modem the client talks through.
type Network interface {
	Capabilities() modem.Capabilities
	Clock() timing.Clock
	Connect(ctx context.Context, host string, port uint16) error
	Stop(ctx context.Context)
	Stream() modem.Stream
}

var _ Network = (*modem.Modem)(nil)

// Client syncs one real-time clock from the network.
type Client struct {
	net    Network
	rtc    rtc.Clock
	conf   Config
	logger logging.Logger
}

// NewClient returns a client. Callers that share the modem hold its lock around every call.
func NewClient(net Network, clock rtc.Clock, conf Config, logger logging.Logger) *Client {
	return &Client{net: net, rtc: clock, conf: conf, logger: logger}
}

// Host returns the TIME server the client connects to.
func (c *Client) Host() string {
	if c.conf.Host != "" {
		return c.conf.Host
	}
	if !c.net.Capabilities().SupportsDNS {
		return NoDNSHost
	}
	return DefaultHost
}

func (c *Client) port() uint16 {
	if c.conf.Port != 0 {
		return c.conf.Port
	}
	return Port
}

// NetworkTime asks the TIME server for the current Unix time. Any failure returns 0 with the
// reason; the connection is always stopped afterwards.
func (c *Client) NetworkTime(ctx context.Context) (uint32, error) {
	host := c.Host()
	if err := c.net.Connect(ctx, host, c.port()); err != nil {
		return 0, errors.Wrapf(err, "connecting to %s", host)
	}
	defer c.net.Stop(ctx)

	stream := c.net.Stream()
	clk := c.net.Clock()
	if c.net.Capabilities().RequiresHandshake {
		if _, err := stream.Write([]byte(HandshakeProbe)); err != nil {
			return 0, errors.Wrap(err, "sending handshake probe")
		}
		clk.Delay(HandshakeDelayMs)
	}

	var reply [4]byte
	for i := range reply {
		b, err := stream.ReadByte()
		if err != nil {
			return 0, errors.Wrapf(err, "reading byte %d of the time reply", i)
		}
		reply[i] = b
	}
	modem.DumpBuffer(stream, clk, dumpDelayMs, dumpMaxReads, c.logger)

	epoch, err := ParseTime(reply)
	if err != nil {
		c.logger.CDebugw(ctx, "discarding network time", "host", host, "raw", DecodeTime(reply))
		return 0, err
	}
	c.logger.CDebugw(ctx, "network time", "host", host, "epoch", epoch)
	return epoch, nil
}

// SyncClock fetches network time and rewrites the real-time clock when it is more than
// ToleranceSeconds off. It reports whether the clock was written. Half the time spent fetching is
// added to the written value to account for the round trip.
func (c *Client) SyncClock(ctx context.Context) (bool, error) {
	clk := c.net.Clock()
	start := clk.Millis()

	nist, err := c.NetworkTime(ctx)
	if errors.Is(err, ErrTimeOutOfRange) {
		c.logger.Warnw("no reliable network time, leaving clock alone", "error", err)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if nist == 0 {
		return false, nil
	}
	nistLogger := int64(nist) + int64(c.conf.TimeZone)*3600
	nistRTC := nistLogger - int64(c.conf.RTCOffset)*3600
	syncSeconds := int64(timing.Since(clk, start) / 1000)

	rtcEpoch, err := c.rtc.ReadEpoch()
	if err != nil {
		return false, errors.Wrap(err, "reading real-time clock")
	}
	current := int64(rtcEpoch) + int64(c.conf.RTCOffset)*3600

	drift := nistLogger - current
	if drift <= ToleranceSeconds && drift >= -ToleranceSeconds {
		c.logger.Infow("clock already within tolerance of network time", "drift_seconds", drift)
		return false, nil
	}

	//nolint:gosec
	corrected := uint32(nistRTC + syncSeconds/2)
	if err := c.rtc.WriteEpoch(corrected); err != nil {
		return false, errors.Wrap(err, "writing real-time clock")
	}
	c.logger.Infow("clock synced to network time", "drift_seconds", drift, "epoch", corrected)
	return true, nil
}
