package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"go.viam.com/test"
)

type pinState struct {
	Pin    int
	High   bool
	reason string
}

// assertLogMatches will fuzzy match log lines. Notably, this checks the time format, but ignores
// the exact time. And it expects a match on the filename, but the exact line number can be wrong.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	// Use the length of the first string as a weak verification of checking that the result looks like a date.
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	// Log level and logger name.
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	// Filename:line_number.
	actualFilename, actualLineNumber, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, found := strings.Cut(expectedParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])

	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	if len(actualParts) == 5 {
		return
	}

	// JSON encoding of maps can be unpredictable, compare parsed maps.
	expectedMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(expectedParts[5]), &expectedMap), test.ShouldBeNil)
	actualMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(actualParts[5]), &actualMap), test.ShouldBeNil)
	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func newBufferLogger(name string, level Level) (*impl, *bytes.Buffer) {
	notStdout := &bytes.Buffer{}
	return &impl{name, NewAtomicLevelAt(level), true, []Appender{NewWriterAppender(notStdout)}}, notStdout
}

func TestConsoleOutputFormat(t *testing.T) {
	logger, notStdout := newBufferLogger("modem", DEBUG)

	logger.Info("modem setup complete")
	assertLogMatches(t, notStdout,
		`2026-10-15T09:12:09.459Z	INFO	modem	logging/impl_test.go:70	modem setup complete`)

	logger.Info("pulsing pin ", 23)
	assertLogMatches(t, notStdout,
		`2026-10-15T09:12:09.459Z	INFO	modem	logging/impl_test.go:74	pulsing pin 23`)

	logger.Debugw("status sampled", "pin", 19, "high", true)
	assertLogMatches(t, notStdout,
		`2026-10-15T09:12:09.459Z	DEBUG	modem	logging/impl_test.go:78	status sampled	{"pin":19,"high":true}`)

	// Only public struct fields are serialized.
	logger.Warnw("confirmation timed out", "state", pinState{Pin: 19, High: false, reason: "timeout"})
	assertLogMatches(t, notStdout,
		`2026-10-15T09:12:09.459Z	WARN	modem	logging/impl_test.go:83	confirmation timed out	{"state":{"Pin":19,"High":false}}`)

	// An unpaired key is reported rather than dropped.
	logger.Errorw("attach failed", "apn")
	assertLogMatches(t, notStdout,
		`2026-10-15T09:12:09.459Z	ERROR	modem	logging/impl_test.go:88	attach failed	{"apn":"unpaired log key"}`)
}

func TestLevels(t *testing.T) {
	logger, notStdout := newBufferLogger("timesync", WARN)

	logger.Debug("dropped")
	logger.Info("dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Warn("kept")
	assertLogMatches(t, notStdout,
		`2026-10-15T09:12:09.459Z	WARN	timesync	logging/impl_test.go:99	kept`)

	// A debug context overrides the level for CDebug calls.
	logger.CDebugw(EnableDebugMode(context.Background(), ""), "forced debug")
	assertLogMatches(t, notStdout,
		`2026-10-15T09:12:09.459Z	DEBUG	timesync	logging/impl_test.go:104	forced debug`)
	logger.CDebugw(context.Background(), "dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
}

func TestSublogger(t *testing.T) {
	logger, notStdout := newBufferLogger("modem", INFO)
	sub := logger.Sublogger("power")

	sub.Info("rail on")
	assertLogMatches(t, notStdout,
		`2026-10-15T09:12:09.459Z	INFO	modem.power	logging/impl_test.go:119	rail on`)

	// A level change reaches every logger in the tree.
	logger.SetLevel(ERROR)
	test.That(t, sub.GetLevel(), test.ShouldEqual, ERROR)
	sub.Info("dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)
}

func TestObservedTestLogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Sublogger("rtc").Infow("clock written", "epoch", 1700000000)

	entries := observed.FilterMessage("clock written").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "rtc")
	test.That(t, entries[0].ContextMap()["epoch"], test.ShouldEqual, int64(1700000000))
	test.That(t, logger.Sync(), test.ShouldBeNil)
}

func TestLevelFromString(t *testing.T) {
	for input, expected := range map[string]Level{
		"debug":   DEBUG,
		"INFO":    INFO,
		"":        INFO,
		"warning": WARN,
		"Warn":    WARN,
		"error":   ERROR,
	} {
		level, err := LevelFromString(input)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, expected)
	}

	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "loud")
}
