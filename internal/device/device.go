package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource is not found on a peripheral
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	ConnectFailed    ConnectionState = "connection_failed"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrConnectFailed    = &ConnectionError{State: ConnectFailed}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff, Msg: "bluetooth is turned off or unavailable"}
)

// ErrUnsupported is returned when a backend or platform cannot provide an operation.
var ErrUnsupported = errors.New("unsupported")

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// NormalizeError maps well-known platform error messages to structured ConnectionError types.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is Bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "adapter not found"),
		containsIgnoreCase(msg, "no such device"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "not implemented"):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	default:
		return err
	}
}

// ScanningDevice represents a BLE radio capable of scanning for advertisements.
// Scan blocks until ctx is done or the platform fails.
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Advertisement is the subset of advertising data the client cares about
type Advertisement interface {
	LocalName() string
	Services() []string
	RSSI() int
	Addr() string
	Connectable() bool
}

// Characteristic is an opaque handle to a resolved, writable GATT characteristic.
type Characteristic interface {
	UUID() string
}

// Connection is an opaque handle to a platform GATT connection.
//
// DiscoverServices and Write are requests: they return immediately and any
// outcome is reported through the owning Transport's event channel.
type Connection interface {
	Address() string
	DiscoverServices(serviceUUID, characteristicUUID string)
	Write(char Characteristic, payload []byte)
	Close() error
}

// Transport issues platform connect requests and reports their outcomes.
type Transport interface {
	// Connect requests a connection and returns its handle right away.
	// Completion is reported as EventConnected or EventConnectionError.
	Connect(address string) (Connection, error)
	Events() <-chan Event
}

// Adapter is a complete platform backend: scanner plus GATT transport.
type Adapter interface {
	ScanningDevice
	Transport
	Close() error
}

// EventKind identifies a platform connectivity callback
type EventKind int

const (
	EventConnected EventKind = iota
	EventServicesResolved
	EventDisconnected
	EventConnectionError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventServicesResolved:
		return "services_resolved"
	case EventDisconnected:
		return "disconnected"
	case EventConnectionError:
		return "connection_error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a platform connectivity callback delivered as a value.
type Event struct {
	Kind    EventKind
	Address string
	Conn    Connection

	// Characteristic is set for EventServicesResolved when the target was found.
	Characteristic Characteristic
	Err            error
}
