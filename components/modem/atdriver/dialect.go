package atdriver

import (
	"fmt"
	"strings"
)

// step is one command and the reply that completes it. An empty expect takes the first line.
type step struct {
	cmd    string
	expect string
	// escape steps are sent without a terminator and wrapped in guard silence.
	escape bool
	// timeoutMs overrides the command timeout when set.
	timeoutMs uint32
	// connect steps wait for the connect timeout.
	connect bool
}

func at(cmd string) step {
	return step{cmd: cmd, expect: "OK"}
}

func escapeStep() step {
	return step{cmd: "+++", expect: "OK", escape: true}
}

// A dialect is the command set of one module family.
type dialect struct {
	ready      step
	init       []step
	pinSleep   []step
	query      []step
	registered func(lines []string) bool
	join       func(ssid, password string) []step
	attach     func(apn, user, password string) []step
	detach     []step
	open       func(host string, port uint16) []step
	close      []step
}

// simcom covers the SIMCom and AI-Thinker style modules, run in transparent mode.
var simcom = dialect{
	ready: at("AT"),
	init:  []step{at("ATE0"), at("AT+CMEE=2"), at("AT+CIPMODE=1")},
	query: []step{at("AT+CREG?")},
	registered: func(lines []string) bool {
		for _, line := range lines {
			if !strings.HasPrefix(line, "+CREG:") {
				continue
			}
			fields := strings.Split(strings.TrimPrefix(line, "+CREG:"), ",")
			if len(fields) < 2 {
				return false
			}
			// 1 is registered home, 5 is roaming.
			stat := strings.TrimSpace(fields[1])
			return stat == "1" || stat == "5"
		}
		return false
	},
	attach: func(apn, user, password string) []step {
		return []step{
			{cmd: "AT+CGATT=1", expect: "OK", timeoutMs: 10000},
			at(fmt.Sprintf(`AT+CSTT="%s","%s","%s"`, apn, user, password)),
			{cmd: "AT+CIICR", expect: "OK", timeoutMs: 60000},
			// CIFSR answers with the bare address.
			{cmd: "AT+CIFSR", expect: "."},
		}
	},
	detach: []step{
		{cmd: "AT+CIPSHUT", expect: "SHUT OK", timeoutMs: 65000},
		{cmd: "AT+CGATT=0", expect: "OK", timeoutMs: 65000},
	},
	open: func(host string, port uint16) []step {
		return []step{{cmd: fmt.Sprintf(`AT+CIPSTART="TCP","%s","%d"`, host, port), expect: "CONNECT", connect: true}}
	},
	close: []step{escapeStep(), {cmd: "AT+CIPCLOSE", expect: "CLOSE OK"}},
}

var espressif = dialect{
	ready: at("AT"),
	init:  []step{at("ATE0"), at("AT+CWMODE=1"), at("AT+CIPMODE=1")},
	query: []step{at("AT+CIPSTATUS")},
	registered: func(lines []string) bool {
		for _, line := range lines {
			switch strings.TrimSpace(line) {
			case "STATUS:2", "STATUS:3", "STATUS:4":
				return true
			}
		}
		return false
	},
	join: func(ssid, password string) []step {
		return []step{{cmd: fmt.Sprintf(`AT+CWJAP="%s","%s"`, ssid, password), expect: "OK", timeoutMs: 30000}}
	},
	open: func(host string, port uint16) []step {
		return []step{
			{cmd: fmt.Sprintf(`AT+CIPSTART="TCP","%s",%d`, host, port), expect: "OK", connect: true},
			{cmd: "AT+CIPSEND", expect: ">"},
		}
	},
	close: []step{escapeStep(), at("AT+CIPCLOSE")},
}

// digi modules take commands only in command mode, entered with a guarded escape and left with
// ATCN.
var digi = dialect{
	ready: escapeStep(),
	init:  []step{at("ATAP0"), at("ATCN")},
	pinSleep: []step{
		escapeStep(), at("ATSM1"), at("ATWR"), at("ATCN"),
	},
	query: []step{escapeStep(), {cmd: "ATAI"}, at("ATCN")},
	registered: func(lines []string) bool {
		for _, line := range lines {
			if strings.TrimSpace(line) == "0" {
				return true
			}
		}
		return false
	},
	join: func(ssid, password string) []step {
		return []step{
			escapeStep(), at("ATEE2"), at("ATID" + ssid), at("ATPK" + password), at("ATWR"), at("ATCN"),
		}
	},
	attach: func(apn, _, _ string) []step {
		return []step{escapeStep(), at("ATAN" + apn), at("ATWR"), at("ATCN")}
	},
	// Airplane mode drops the data context.
	detach: []step{escapeStep(), at("ATAM1"), at("ATAM0"), at("ATCN")},
	open: func(host string, port uint16) []step {
		return []step{
			escapeStep(), at("ATIP1"), at("ATDL" + host), at(fmt.Sprintf("ATDE%X", port)), at("ATCN"),
		}
	},
	close: []step{escapeStep(), at("ATTM0"), at("ATTM64"), at("ATCN")},
}

var dialects = map[string]dialect{
	"sim800":  simcom,
	"sim900":  simcom,
	"a6":      simcom,
	"a7":      simcom,
	"m590":    simcom,
	"esp8266": espressif,
	"xbee":    digi,
}
