package modem

import (
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// AttachKind is how a module joins a network.
type AttachKind int

// The attach kinds.
const (
	// AttachCellular registers on a cellular network and opens a data context.
	AttachCellular AttachKind = iota
	// AttachWiFi associates with an access point.
	AttachWiFi
	// AttachWiFiOrCellular uses Wi-Fi when an SSID is configured and cellular otherwise.
	AttachWiFiOrCellular
	// AttachHost relies on the host operating system having the link up already.
	AttachHost
)

func (k AttachKind) String() string {
	switch k {
	case AttachCellular:
		return "cellular"
	case AttachWiFi:
		return "wifi"
	case AttachWiFiOrCellular:
		return "wifi_or_cellular"
	case AttachHost:
		return "host"
	}
	return "unknown"
}

// Capabilities describes what a module family can do. It is chosen once when the modem is set up.
type Capabilities struct {
	Family string
	Attach AttachKind
	// SupportsDNS is false for modules that can only connect to literal host names they resolve
	// through a fixed table.
	SupportsDNS bool
	// RequiresHandshake is set for modules that only open a TCP connection once the client has
	// sent something.
	RequiresHandshake bool
	// ExplicitDetach is set when the data context must be torn down on disconnect.
	ExplicitDetach bool
	// PinSleep is set when the module must be told to honour its sleep pin after initialization.
	PinSleep bool
}

// WiFi reports whether the module can associate with an access point.
func (c Capabilities) WiFi() bool {
	return c.Attach == AttachWiFi || c.Attach == AttachWiFiOrCellular
}

// Cellular reports whether the module can register on a cellular network.
func (c Capabilities) Cellular() bool {
	return c.Attach == AttachCellular || c.Attach == AttachWiFiOrCellular
}

func cellularFamily(name string) Capabilities {
	return Capabilities{Family: name, Attach: AttachCellular, SupportsDNS: true, ExplicitDetach: true}
}

var families = map[string]Capabilities{
	"sim800": cellularFamily("sim800"),
	"sim900": cellularFamily("sim900"),
	"a6":     cellularFamily("a6"),
	"a7":     cellularFamily("a7"),
	"m590":   cellularFamily("m590"),
	"esp8266": {
		Family:      "esp8266",
		Attach:      AttachWiFi,
		SupportsDNS: true,
	},
	"xbee": {
		Family:            "xbee",
		Attach:            AttachWiFiOrCellular,
		RequiresHandshake: true,
		ExplicitDetach:    true,
		PinSleep:          true,
	},
	"host": {
		Family:      "host",
		Attach:      AttachHost,
		SupportsDNS: true,
	},
}

// LookupFamily returns the capabilities of a known module family.
func LookupFamily(name string) (Capabilities, error) {
	caps, ok := families[strings.ToLower(name)]
	if !ok {
		return Capabilities{}, errors.Errorf("unknown modem family %q, expected one of %s",
			name, strings.Join(Families(), ", "))
	}
	return caps, nil
}

// Families lists the known module family names.
func Families() []string {
	names := lo.Keys(families)
	slices.Sort(names)
	return names
}
