package timesync

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	boardfake "github.com/envirodiy/loggermodem/components/board/fake"
	"github.com/envirodiy/loggermodem/components/modem"
	modemfake "github.com/envirodiy/loggermodem/components/modem/fake"
	"github.com/envirodiy/loggermodem/components/modem/hostnet"
	"github.com/envirodiy/loggermodem/components/modem/power"
	rtcfake "github.com/envirodiy/loggermodem/components/rtc/fake"
	"github.com/envirodiy/loggermodem/logging"
	"github.com/envirodiy/loggermodem/timing"
	timingfake "github.com/envirodiy/loggermodem/timing/fake"
)

func timeReply(epoch uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, epoch+SecondsFrom1900To1970)
	return b
}

type fakeNetwork struct {
	caps   modem.Capabilities
	clk    *timingfake.Clock
	client *modemfake.Client
}

func newFakeNetwork(t *testing.T, family string, reply []byte) *fakeNetwork {
	t.Helper()
	caps, err := modem.LookupFamily(family)
	test.That(t, err, test.ShouldBeNil)
	n := &fakeNetwork{caps: caps, clk: timingfake.NewClock(0), client: &modemfake.Client{}}
	n.client.OnConnect = func(host string, port uint16) []byte {
		if caps.RequiresHandshake {
			return nil
		}
		return reply
	}
	n.client.OnWrite = func(p []byte) []byte {
		return reply
	}
	return n
}

func (n *fakeNetwork) Capabilities() modem.Capabilities { return n.caps }
func (n *fakeNetwork) Clock() timing.Clock               { return n.clk }
func (n *fakeNetwork) Stream() modem.Stream              { return n.client }
func (n *fakeNetwork) Stop(ctx context.Context)          { n.client.Stop(ctx) }
func (n *fakeNetwork) Connect(ctx context.Context, host string, port uint16) error {
	return n.client.Connect(ctx, host, port)
}

func TestHost(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cellular := NewClient(newFakeNetwork(t, "sim800", nil), nil, Config{}, logger)
	test.That(t, cellular.Host(), test.ShouldEqual, DefaultHost)

	xbee := NewClient(newFakeNetwork(t, "xbee", nil), nil, Config{}, logger)
	test.That(t, xbee.Host(), test.ShouldEqual, NoDNSHost)

	override := NewClient(newFakeNetwork(t, "xbee", nil), nil, Config{Host: "10.0.0.1"}, logger)
	test.That(t, override.Host(), test.ShouldEqual, "10.0.0.1")
}

func TestNetworkTime(t *testing.T) {
	ctx := context.Background()

	t.Run("plain connection", func(t *testing.T) {
		n := newFakeNetwork(t, "sim800", append(timeReply(1700000000), "\r\nCLOSED\r\n"...))
		c := NewClient(n, nil, Config{}, logging.NewTestLogger(t))

		epoch, err := c.NetworkTime(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, epoch, test.ShouldEqual, uint32(1700000000))
		host, port := n.client.Target()
		test.That(t, host, test.ShouldEqual, DefaultHost)
		test.That(t, port, test.ShouldEqual, uint16(Port))
		test.That(t, n.client.Written(), test.ShouldBeEmpty)
		test.That(t, n.client.Stops(), test.ShouldEqual, 1)
	})

	t.Run("handshake", func(t *testing.T) {
		n := newFakeNetwork(t, "xbee", timeReply(1700000000))
		c := NewClient(n, nil, Config{}, logging.NewTestLogger(t))

		epoch, err := c.NetworkTime(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, epoch, test.ShouldEqual, uint32(1700000000))
		test.That(t, string(n.client.Written()), test.ShouldEqual, HandshakeProbe)
		test.That(t, n.clk.Delayed(), test.ShouldBeGreaterThanOrEqualTo, uint64(HandshakeDelayMs))
		host, _ := n.client.Target()
		test.That(t, host, test.ShouldEqual, NoDNSHost)
	})

	t.Run("out of range", func(t *testing.T) {
		n := newFakeNetwork(t, "sim800", []byte{0x83, 0xAA, 0x7E, 0x80})
		c := NewClient(n, nil, Config{}, logging.NewTestLogger(t))

		epoch, err := c.NetworkTime(ctx)
		test.That(t, errors.Is(err, ErrTimeOutOfRange), test.ShouldBeTrue)
		test.That(t, epoch, test.ShouldEqual, uint32(0))
	})

	t.Run("short reply", func(t *testing.T) {
		n := newFakeNetwork(t, "sim800", []byte{0xE8, 0xFE})
		c := NewClient(n, nil, Config{}, logging.NewTestLogger(t))

		epoch, err := c.NetworkTime(ctx)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "byte 2")
		test.That(t, epoch, test.ShouldEqual, uint32(0))
		test.That(t, n.client.Stops(), test.ShouldEqual, 1)
	})

	t.Run("connect failure", func(t *testing.T) {
		n := newFakeNetwork(t, "sim800", nil)
		n.client.ConnectErr = errors.New("CONNECT FAIL")
		c := NewClient(n, nil, Config{}, logging.NewTestLogger(t))

		epoch, err := c.NetworkTime(ctx)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "time.nist.gov")
		test.That(t, epoch, test.ShouldEqual, uint32(0))
		test.That(t, n.client.Stops(), test.ShouldEqual, 0)
	})
}

func TestSyncClock(t *testing.T) {
	ctx := context.Background()
	const nist = 1700000000
	// Logger on UTC-5 with the RTC kept in UTC.
	conf := Config{TimeZone: -5, RTCOffset: -5}

	t.Run("drifted clock is written once", func(t *testing.T) {
		n := newFakeNetwork(t, "sim800", timeReply(nist))
		// The fetch takes four seconds, half of which is credited to the written time.
		n.client.OnConnect = func(string, uint16) []byte {
			n.clk.Advance(4000)
			return timeReply(nist)
		}
		clock := rtcfake.NewClock(nist - 100)
		c := NewClient(n, clock, conf, logging.NewTestLogger(t))

		synced, err := c.SyncClock(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, synced, test.ShouldBeTrue)
		test.That(t, clock.Writes(), test.ShouldResemble, []uint32{nist + 2})
	})

	t.Run("within tolerance", func(t *testing.T) {
		for _, rtcEpoch := range []uint32{nist, nist - 5, nist + 5} {
			clock := rtcfake.NewClock(rtcEpoch)
			c := NewClient(newFakeNetwork(t, "sim800", timeReply(nist)), clock, conf, logging.NewTestLogger(t))

			synced, err := c.SyncClock(ctx)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, synced, test.ShouldBeFalse)
			test.That(t, clock.Writes(), test.ShouldBeEmpty)
		}
	})

	t.Run("just past tolerance", func(t *testing.T) {
		clock := rtcfake.NewClock(nist + 6)
		c := NewClient(newFakeNetwork(t, "sim800", timeReply(nist)), clock, conf, logging.NewTestLogger(t))

		synced, err := c.SyncClock(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, synced, test.ShouldBeTrue)
		test.That(t, clock.Writes(), test.ShouldResemble, []uint32{nist})
	})

	t.Run("rtc in a different zone", func(t *testing.T) {
		// RTC kept in logger time: no offset between them.
		clock := rtcfake.NewClock(nist - 3600)
		c := NewClient(newFakeNetwork(t, "sim800", timeReply(nist)), clock, Config{TimeZone: 1}, logging.NewTestLogger(t))

		synced, err := c.SyncClock(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, synced, test.ShouldBeTrue)
		test.That(t, clock.Writes(), test.ShouldResemble, []uint32{nist + 3600})
	})

	t.Run("unknown network time never writes", func(t *testing.T) {
		clock := rtcfake.NewClock(1)
		c := NewClient(newFakeNetwork(t, "sim800", []byte{0, 0, 0, 0}), clock, conf, logging.NewTestLogger(t))

		synced, err := c.SyncClock(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, synced, test.ShouldBeFalse)
		test.That(t, clock.Writes(), test.ShouldBeEmpty)
	})

	t.Run("network failure", func(t *testing.T) {
		n := newFakeNetwork(t, "sim800", nil)
		n.client.ConnectErr = errors.New("no carrier")
		clock := rtcfake.NewClock(1)
		c := NewClient(n, clock, conf, logging.NewTestLogger(t))

		synced, err := c.SyncClock(ctx)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, synced, test.ShouldBeFalse)
		test.That(t, clock.Writes(), test.ShouldBeEmpty)
	})

	t.Run("rtc failure", func(t *testing.T) {
		clock := rtcfake.NewClock(nist - 100)
		clock.ReadErr = errors.New("i2c nack")
		c := NewClient(newFakeNetwork(t, "sim800", timeReply(nist)), clock, conf, logging.NewTestLogger(t))

		synced, err := c.SyncClock(ctx)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "i2c nack")
		test.That(t, synced, test.ShouldBeFalse)
	})
}

// serveTime runs a one-shot RFC 868 server on a loopback port.
func serveTime(t *testing.T, epoch uint32) uint16 {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		//nolint:errcheck
		conn.Write(timeReply(epoch))
	}()

	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	test.That(t, err, test.ShouldBeNil)
	port, err := strconv.Atoi(portStr)
	test.That(t, err, test.ShouldBeNil)
	return uint16(port)
}

func TestHostNetwork(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	port := serveTime(t, 1700000000)

	caps, err := modem.LookupFamily("host")
	test.That(t, err, test.ShouldBeNil)
	clk := timingfake.NewClock(0)
	driver := hostnet.New(clk, logger)
	driver.Online = func() bool { return true }
	m, err := modem.New(ctx,
		modem.Options{Capabilities: caps, SleepStyle: power.AlwaysOn, Pins: power.NoPins},
		modem.Dependencies{Board: boardfake.NewBoard(clk), Driver: driver, Client: driver, Clock: clk},
		logger)
	test.That(t, err, test.ShouldBeNil)

	clock := rtcfake.NewClock(1600000000)
	c := NewClient(m, clock, Config{Host: "127.0.0.1", Port: port}, logger)

	test.That(t, m.ConnectNetwork(ctx), test.ShouldBeNil)
	synced, err := c.SyncClock(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, synced, test.ShouldBeTrue)
	test.That(t, clock.Writes(), test.ShouldResemble, []uint32{1700000000})
	test.That(t, m.Close(ctx), test.ShouldBeNil)
}

type fakeLink struct {
	sync.Mutex
	connectErr error
	calls      []string
}

func (l *fakeLink) ConnectNetwork(ctx context.Context) error {
	l.calls = append(l.calls, "connect")
	return l.connectErr
}

func (l *fakeLink) DisconnectNetwork(ctx context.Context) error {
	l.calls = append(l.calls, "disconnect")
	return nil
}

func (l *fakeLink) Deactivate(ctx context.Context) error {
	l.calls = append(l.calls, "deactivate")
	return nil
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	clock := rtcfake.NewClock(1700000000 - 60)
	client := NewClient(newFakeNetwork(t, "sim800", timeReply(1700000000)), clock, Config{}, logging.NewTestLogger(t))

	link := &fakeLink{}
	s, err := NewScheduler(link, client, time.Hour, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	synced, err := s.RunOnce(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, synced, test.ShouldBeTrue)
	test.That(t, link.calls, test.ShouldResemble, []string{"connect", "disconnect", "deactivate"})
	test.That(t, s.LastResult().Runs, test.ShouldEqual, 1)

	// The modem is still put to sleep when the network never comes up.
	link = &fakeLink{connectErr: modem.ErrAttachFailed}
	s, err = NewScheduler(link, client, time.Hour, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	synced, err = s.RunOnce(ctx)
	test.That(t, errors.Is(err, modem.ErrAttachFailed), test.ShouldBeTrue)
	test.That(t, synced, test.ShouldBeFalse)
	test.That(t, link.calls, test.ShouldResemble, []string{"connect", "disconnect", "deactivate"})
	test.That(t, errors.Is(s.LastResult().Err, modem.ErrAttachFailed), test.ShouldBeTrue)
}

func TestSchedulerStart(t *testing.T) {
	clock := rtcfake.NewClock(1700000000 - 60)
	client := NewClient(newFakeNetwork(t, "sim800", timeReply(1700000000)), clock, Config{}, logging.NewTestLogger(t))
	s, err := NewScheduler(&fakeLink{}, client, time.Hour, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, s.Start(), test.ShouldBeNil)
	deadline := time.Now().Add(5 * time.Second)
	for s.LastResult().Runs == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	test.That(t, s.Shutdown(), test.ShouldBeNil)

	result := s.LastResult()
	test.That(t, result.Runs, test.ShouldEqual, 1)
	test.That(t, result.Synced, test.ShouldBeTrue)
	test.That(t, clock.Writes(), test.ShouldHaveLength, 1)
}
