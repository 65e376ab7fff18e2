package atdriver

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/envirodiy/loggermodem/components/modem"
	"github.com/envirodiy/loggermodem/logging"
	"github.com/envirodiy/loggermodem/timing/fake"
)

// scriptedPort answers commands from a table. Replies for a command are consumed in order, the
// last one repeating. Once a command starting with connectPrefix is answered the port passes
// writes through as connection data.
type scriptedPort struct {
	mu            sync.Mutex
	replies       map[string][]string
	connectPrefix string

	pending     []byte
	rx          []byte
	commands    []string
	data        []byte
	transparent bool
}

func newScriptedPort(replies map[string][]string) *scriptedPort {
	return &scriptedPort{replies: replies}
}

func (p *scriptedPort) reply(cmd string) string {
	queue, ok := p.replies[cmd]
	if !ok || len(queue) == 0 {
		return "\r\nERROR\r\n"
	}
	if len(queue) > 1 {
		p.replies[cmd] = queue[1:]
	}
	return queue[0]
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if string(b) == "+++" {
		p.transparent = false
		p.commands = append(p.commands, "+++")
		p.rx = append(p.rx, p.reply("+++")...)
		return len(b), nil
	}
	if p.transparent {
		p.data = append(p.data, b...)
		return len(b), nil
	}
	p.pending = append(p.pending, b...)
	for {
		idx := strings.IndexByte(string(p.pending), '\r')
		if idx < 0 {
			break
		}
		cmd := string(p.pending[:idx])
		p.pending = p.pending[idx+1:]
		p.commands = append(p.commands, cmd)
		p.rx = append(p.rx, p.reply(cmd)...)
		if p.connectPrefix != "" && strings.HasPrefix(cmd, p.connectPrefix) {
			p.transparent = true
		}
	}
	return len(b), nil
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := copy(b, p.rx)
	p.rx = p.rx[n:]
	return n, nil
}

// push queues bytes as if the remote end had sent them.
func (p *scriptedPort) push(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = append(p.rx, b...)
}

func (p *scriptedPort) sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.commands...)
}

func (p *scriptedPort) passedThrough() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.data)
}

const okReply = "\r\nOK\r\n"

func newTestDriver(t *testing.T, family string, port *scriptedPort) (*Driver, *fake.Clock) {
	t.Helper()
	caps, err := modem.LookupFamily(family)
	test.That(t, err, test.ShouldBeNil)
	clk := fake.NewClock(0)
	d, err := New(port, caps, Attributes{}, clk, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return d, clk
}

func TestDecodeAttributes(t *testing.T) {
	attrs, err := DecodeAttributes(map[string]interface{}{
		"command_timeout_ms": 500.0,
		"ready_attempts":     5.0,
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, attrs.CommandTimeoutMs, test.ShouldEqual, uint32(500))
	test.That(t, attrs.ReadyAttempts, test.ShouldEqual, 5)
	test.That(t, attrs.ConnectTimeoutMs, test.ShouldEqual, DefaultAttributes.ConnectTimeoutMs)
	test.That(t, attrs.PollMs, test.ShouldEqual, DefaultAttributes.PollMs)

	attrs, err = DecodeAttributes(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, attrs, test.ShouldResemble, DefaultAttributes)

	_, err = DecodeAttributes(map[string]interface{}{"baud": 9600})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "baud")
}

func TestNewUnknownDialect(t *testing.T) {
	caps, err := modem.LookupFamily("host")
	test.That(t, err, test.ShouldBeNil)
	_, err = New(newScriptedPort(nil), caps, Attributes{}, fake.NewClock(0), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "host")
}

func TestCellularInit(t *testing.T) {
	ctx := context.Background()

	t.Run("retries until ready", func(t *testing.T) {
		port := newScriptedPort(map[string][]string{
			"AT":           {"", "\r\nAT\r\n\r\nOK\r\n"},
			"ATE0":         {okReply},
			"AT+CMEE=2":    {okReply},
			"AT+CIPMODE=1": {okReply},
		})
		d, clk := newTestDriver(t, "sim800", port)

		test.That(t, d.Init(ctx), test.ShouldBeNil)
		test.That(t, port.sent(), test.ShouldResemble, []string{"AT", "AT", "ATE0", "AT+CMEE=2", "AT+CIPMODE=1"})
		test.That(t, clk.Millis(), test.ShouldBeGreaterThanOrEqualTo, DefaultAttributes.CommandTimeoutMs)
	})

	t.Run("silent module", func(t *testing.T) {
		port := newScriptedPort(map[string][]string{"AT": {""}})
		d, _ := newTestDriver(t, "sim900", port)

		err := d.Init(ctx)
		test.That(t, errors.Is(err, ErrTimeout), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "did not respond")
		test.That(t, port.sent(), test.ShouldHaveLength, DefaultAttributes.ReadyAttempts)
	})

	t.Run("no pin sleep", func(t *testing.T) {
		port := newScriptedPort(nil)
		d, _ := newTestDriver(t, "a7", port)
		test.That(t, d.SetupPinSleep(ctx), test.ShouldBeNil)
		test.That(t, port.sent(), test.ShouldBeEmpty)
	})
}

func TestCellularRegistration(t *testing.T) {
	ctx := context.Background()

	port := newScriptedPort(map[string][]string{
		"AT+CREG?": {
			"\r\n+CREG: 0,2\r\n\r\nOK\r\n",
			"\r\n+CREG: 0,2\r\n\r\nOK\r\n",
			"\r\n+CREG: 0,5\r\n\r\nOK\r\n",
		},
	})
	d, _ := newTestDriver(t, "sim800", port)
	test.That(t, d.WaitForNetwork(ctx, 55000), test.ShouldBeTrue)
	test.That(t, port.sent(), test.ShouldHaveLength, 3)

	port = newScriptedPort(map[string][]string{"AT+CREG?": {"\r\n+CREG: 0,3\r\n\r\nOK\r\n"}})
	d, clk := newTestDriver(t, "sim800", port)
	test.That(t, d.WaitForNetwork(ctx, 5000), test.ShouldBeFalse)
	test.That(t, clk.Millis(), test.ShouldBeGreaterThanOrEqualTo, uint32(5000))
}

func TestWaitForNetworkBudget(t *testing.T) {
	ctx := context.Background()

	t.Run("queries are cut to the time left", func(t *testing.T) {
		// The module never leaves transparent mode, so every query spends both guard times and then
		// waits out its reply.
		port := newScriptedPort(map[string][]string{"+++": {""}})
		d, clk := newTestDriver(t, "xbee", port)
		test.That(t, d.WaitForNetwork(ctx, 10000), test.ShouldBeFalse)
		test.That(t, clk.Millis(), test.ShouldEqual, uint32(10000))
		test.That(t, port.sent(), test.ShouldResemble, []string{"+++", "+++", "+++"})
	})

	t.Run("no escape without room for its guard times", func(t *testing.T) {
		port := newScriptedPort(map[string][]string{"+++": {"OK\r"}})
		d, clk := newTestDriver(t, "xbee", port)
		test.That(t, d.WaitForNetwork(ctx, 1500), test.ShouldBeFalse)
		test.That(t, clk.Millis(), test.ShouldEqual, uint32(1500))
		test.That(t, port.sent(), test.ShouldBeEmpty)
	})
}

func TestGPRS(t *testing.T) {
	ctx := context.Background()
	replies := func() map[string][]string {
		return map[string][]string{
			"AT+CGATT=1":                {okReply},
			`AT+CSTT="hologram","",""`: {okReply},
			"AT+CIICR":                  {okReply},
			"AT+CIFSR":                  {"\r\n10.170.1.2\r\n"},
			"AT+CIPSHUT":                {"\r\nSHUT OK\r\n"},
			"AT+CGATT=0":                {okReply},
		}
	}

	port := newScriptedPort(replies())
	d, _ := newTestDriver(t, "sim800", port)
	test.That(t, d.GPRSConnect(ctx, "hologram", "", ""), test.ShouldBeNil)
	test.That(t, port.sent(), test.ShouldResemble, []string{
		"AT+CGATT=1", `AT+CSTT="hologram","",""`, "AT+CIICR", "AT+CIFSR",
	})
	test.That(t, d.GPRSDisconnect(ctx), test.ShouldBeNil)
	test.That(t, port.sent()[4:], test.ShouldResemble, []string{"AT+CIPSHUT", "AT+CGATT=0"})

	failing := replies()
	failing["AT+CIICR"] = []string{"\r\n+CME ERROR: operation not allowed\r\n"}
	port = newScriptedPort(failing)
	d, _ = newTestDriver(t, "m590", port)
	err := d.GPRSConnect(ctx, "hologram", "", "")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "operation not allowed")
	test.That(t, port.sent(), test.ShouldHaveLength, 3)

	d, _ = newTestDriver(t, "esp8266", newScriptedPort(nil))
	test.That(t, d.GPRSConnect(ctx, "hologram", "", ""), test.ShouldNotBeNil)
	test.That(t, d.GPRSDisconnect(ctx), test.ShouldBeNil)
}

func TestCellularStream(t *testing.T) {
	ctx := context.Background()
	port := newScriptedPort(map[string][]string{
		`AT+CIPSTART="TCP","time.nist.gov","37"`: {"\r\nOK\r\n\r\nCONNECT\r\n\x83\xaa\x7e\x80"},
		"+++":         {okReply},
		"AT+CIPCLOSE": {"\r\nCLOSE OK\r\n"},
	})
	port.connectPrefix = "AT+CIPSTART"
	d, _ := newTestDriver(t, "sim800", port)

	_, err := d.Write([]byte("early"))
	test.That(t, errors.Is(err, ErrNotConnected), test.ShouldBeTrue)

	test.That(t, d.Connect(ctx, "time.nist.gov", 37), test.ShouldBeNil)
	test.That(t, d.Available(), test.ShouldEqual, 4)
	var got []byte
	for i := 0; i < 4; i++ {
		b, err := d.ReadByte()
		test.That(t, err, test.ShouldBeNil)
		got = append(got, b)
	}
	test.That(t, got, test.ShouldResemble, []byte{0x83, 0xaa, 0x7e, 0x80})
	_, err = d.ReadByte()
	test.That(t, errors.Is(err, ErrTimeout), test.ShouldBeTrue)

	n, err := d.Write([]byte("Hi!"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 3)
	test.That(t, port.passedThrough(), test.ShouldEqual, "Hi!")

	d.Stop(ctx)
	test.That(t, port.sent()[1:], test.ShouldResemble, []string{"+++", "AT+CIPCLOSE"})
	_, err = d.Write([]byte("late"))
	test.That(t, errors.Is(err, ErrNotConnected), test.ShouldBeTrue)

	// Stopping twice sends nothing.
	d.Stop(ctx)
	test.That(t, port.sent(), test.ShouldHaveLength, 3)
}

func TestConnectFailure(t *testing.T) {
	port := newScriptedPort(map[string][]string{
		`AT+CIPSTART="TCP","example.com","80"`: {"\r\nOK\r\n\r\nCONNECT FAIL\r\n"},
	})
	d, _ := newTestDriver(t, "sim800", port)
	err := d.Connect(context.Background(), "example.com", 80)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "example.com:80")
	_, err = d.Write([]byte("x"))
	test.That(t, errors.Is(err, ErrNotConnected), test.ShouldBeTrue)
}

func TestWiFiModule(t *testing.T) {
	ctx := context.Background()
	port := newScriptedPort(map[string][]string{
		`AT+CWJAP="field-station","hunter2"`: {"\r\nWIFI CONNECTED\r\nWIFI GOT IP\r\n\r\nOK\r\n"},
		"AT+CIPSTATUS":                       {"\r\nSTATUS:5\r\n\r\nOK\r\n", "\r\nSTATUS:2\r\n\r\nOK\r\n"},
		`AT+CIPSTART="TCP","time.nist.gov",37`: {"\r\nCONNECT\r\n\r\nOK\r\n"},
		"AT+CIPSEND": {"\r\nOK\r\n\r\n>"},
	})
	port.connectPrefix = "AT+CIPSEND"
	d, _ := newTestDriver(t, "esp8266", port)

	test.That(t, d.NetworkConnect(ctx, "field-station", "hunter2"), test.ShouldBeNil)
	test.That(t, d.WaitForNetwork(ctx, 10000), test.ShouldBeTrue)
	test.That(t, d.Connect(ctx, "time.nist.gov", 37), test.ShouldBeNil)
	test.That(t, port.sent(), test.ShouldResemble, []string{
		`AT+CWJAP="field-station","hunter2"`,
		"AT+CIPSTATUS", "AT+CIPSTATUS",
		`AT+CIPSTART="TCP","time.nist.gov",37`, "AT+CIPSEND",
	})

	port.push([]byte{0x01, 0x02})
	test.That(t, d.Available(), test.ShouldEqual, 2)
}

func TestXBee(t *testing.T) {
	ctx := context.Background()
	port := newScriptedPort(map[string][]string{
		"+++":                 {"OK\r"},
		"ATAP0":               {"OK\r"},
		"ATCN":                {"OK\r"},
		"ATSM1":               {"OK\r"},
		"ATWR":                {"OK\r"},
		"ATAI":                {"23\r", "0\r"},
		"ATIP1":               {"OK\r"},
		"ATDLtime-c.nist.gov": {"OK\r"},
		"ATDE25":              {"OK\r"},
	})
	d, clk := newTestDriver(t, "xbee", port)

	test.That(t, d.Init(ctx), test.ShouldBeNil)
	test.That(t, port.sent(), test.ShouldResemble, []string{"+++", "ATAP0", "ATCN"})
	// The escape is surrounded by guard silence.
	test.That(t, clk.Delayed(), test.ShouldBeGreaterThanOrEqualTo, uint64(2*DefaultAttributes.GuardTimeMs))

	test.That(t, d.SetupPinSleep(ctx), test.ShouldBeNil)
	test.That(t, port.sent()[3:], test.ShouldResemble, []string{"+++", "ATSM1", "ATWR", "ATCN"})

	test.That(t, d.WaitForNetwork(ctx, 45000), test.ShouldBeTrue)
	test.That(t, port.sent()[7:], test.ShouldResemble, []string{"+++", "ATAI", "ATCN", "+++", "ATAI", "ATCN"})

	test.That(t, d.Connect(ctx, "time-c.nist.gov", 37), test.ShouldBeNil)
	test.That(t, port.sent()[13:], test.ShouldResemble, []string{
		"+++", "ATIP1", "ATDLtime-c.nist.gov", "ATDE25", "ATCN",
	})
	n, err := d.Write([]byte("Hi!"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 3)
}
