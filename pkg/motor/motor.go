// Package motor drives the single motor-control characteristic exposed by
// nearby BLE peripherals.
//
// A Manager owns three collaborators that share one Registry:
//
//   - Scanner runs a time-bounded discovery scan filtered by ServiceUUID.
//   - Registry keeps one session per peripheral address and walks it through
//     Connecting, ServicesDiscovering and Ready.
//   - Dispatcher writes one-byte commands to Ready sessions.
//
// Everything the presentation layer learns is delivered through Listener.
package motor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/srg/motorctl/internal/device"
)

const (
	// ServiceUUID identifies motor controllers in advertisements and GATT discovery
	ServiceUUID = "0A66A21A-422A-4A97-9AF3-575E67A55C7E"

	// CharacteristicUUID is the writable command characteristic inside ServiceUUID
	CharacteristicUUID = "CC67E36C-323A-4E36-A33E-039B3E452285"

	// DefaultScanWindow is how long a scan runs before it is stopped
	DefaultScanWindow = 5000 * time.Millisecond
)

// Command is the single byte written to the motor characteristic
type Command byte

const (
	CommandStop    Command = 0x00
	CommandForward Command = 0x01
	CommandReverse Command = 0x02
)

func (c Command) String() string {
	switch c {
	case CommandStop:
		return "stop"
	case CommandForward:
		return "forward"
	case CommandReverse:
		return "reverse"
	default:
		return fmt.Sprintf("0x%02x", byte(c))
	}
}

// ParseCommand accepts a command name (stop, forward, reverse, and the
// right/left aliases) or a byte value such as "1" or "0x02".
func ParseCommand(s string) (Command, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "stop", "release":
		return CommandStop, nil
	case "forward", "fwd", "right":
		return CommandForward, nil
	case "reverse", "rev", "left":
		return CommandReverse, nil
	case "":
		return 0, fmt.Errorf("command is empty")
	}

	n, err := strconv.ParseUint(v, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid command %q: expected stop, forward, reverse or a byte value", s)
	}
	return Command(n), nil
}

// ReadyState is the lifecycle position of a peripheral session
type ReadyState int

const (
	Disconnected ReadyState = iota
	Connecting
	ServicesDiscovering
	Ready
)

func (s ReadyState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case ServicesDiscovering:
		return "services_discovering"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status labels delivered with OnDeviceStateChanged
const (
	StatusConnecting             = "Connecting..."
	StatusDiscovering            = "Connected, discovering services..."
	StatusConnected              = "Connected"
	StatusCharacteristicNotFound = "Error: characteristic not found"
	StatusConnectionFailed       = "Connection failed"
	StatusDisconnected           = "Disconnected"
)

// Peripheral is a scan result matching ServiceUUID
type Peripheral struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int    `json:"rssi"`
}

// DisplayName returns the advertised name, or the address when the peripheral is anonymous
func (p Peripheral) DisplayName() string {
	if strings.TrimSpace(p.Name) == "" {
		return p.Address
	}
	return p.Name
}

func peripheralFrom(adv device.Advertisement) Peripheral {
	return Peripheral{
		Address: adv.Addr(),
		Name:    adv.LocalName(),
		RSSI:    adv.RSSI(),
	}
}
