//go:build linux || darwin || windows

// Package tinygo implements the motor client's platform boundary on top of
// tinygo.org/x/bluetooth (BlueZ over D-Bus on Linux, CoreBluetooth on macOS,
// WinRT on Windows).
package tinygo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/motorctl/internal/device"
	"tinygo.org/x/bluetooth"
)

// DefaultEventBuffer is the buffer size of the adapter's event channel
const DefaultEventBuffer = 64

// Adapter implements device.Adapter on top of tinygo bluetooth.
//
// tinygo addresses are platform specific values that can only be obtained
// from scan results, so Connect only accepts peripherals seen by a previous scan.
type Adapter struct {
	radio  *bluetooth.Adapter
	logger *logrus.Logger

	// services whose presence is reported in advertisements
	watched []bluetooth.UUID

	enableOnce sync.Once
	enableErr  error

	// scanned addresses and live connections, keyed by addressKey
	seen  *hashmap.Map[string, bluetooth.Address]
	conns *hashmap.Map[string, *Connection]

	events    chan device.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewAdapter creates a tinygo backed adapter. watchedServices are the service
// UUIDs reported through Advertisement.Services; tinygo exposes only a membership test.
func NewAdapter(logger *logrus.Logger, watchedServices ...string) (*Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}

	watched := make([]bluetooth.UUID, 0, len(watchedServices))
	for _, s := range watchedServices {
		u, err := ParseUUID(s)
		if err != nil {
			return nil, err
		}
		watched = append(watched, u)
	}

	return &Adapter{
		radio:   bluetooth.DefaultAdapter,
		logger:  logger,
		watched: watched,
		seen:    newSeenMap(),
		conns:   newConnMap(),
		events:  make(chan device.Event, DefaultEventBuffer),
		done:    make(chan struct{}),
	}, nil
}

func newSeenMap() *hashmap.Map[string, bluetooth.Address] {
	return hashmap.New[string, bluetooth.Address]()
}

func newConnMap() *hashmap.Map[string, *Connection] {
	return hashmap.New[string, *Connection]()
}

// addressKey folds the spellings of one MAC address onto a single map key
func addressKey(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// remember records a scanned peripheral as connectable
func (a *Adapter) remember(address string, addr bluetooth.Address) {
	a.seen.Set(addressKey(address), addr)
}

func (a *Adapter) lookup(address string) (bluetooth.Address, bool) {
	return a.seen.Get(addressKey(address))
}

// linkChanged is the platform connect handler. A drop of a live connection
// is reported as EventDisconnected; connects are reported by Connect itself.
func (a *Adapter) linkChanged(address string, connected bool) {
	if connected {
		return
	}
	conn, ok := a.conns.Get(addressKey(address))
	if !ok {
		a.logger.WithField("address", address).Debug("Link lost for untracked peripheral")
		return
	}
	conn.lost()
}

func (a *Adapter) track(c *Connection) {
	a.conns.Set(addressKey(c.address), c)
}

func (a *Adapter) untrack(c *Connection) {
	key := addressKey(c.address)
	if cur, ok := a.conns.Get(key); ok && cur == c {
		a.conns.Del(key)
	}
}

// ParseUUID parses a 16-bit or 128-bit UUID in any of the accepted notations
func ParseUUID(s string) (bluetooth.UUID, error) {
	n := device.NormalizeUUID(s)
	if n == "" {
		return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q", s)
	}
	if len(n) == 4 {
		var short uint16
		if _, err := fmt.Sscanf(n, "%04x", &short); err != nil {
			return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		return bluetooth.New16BitUUID(short), nil
	}
	if len(n) != 32 {
		return bluetooth.UUID{}, fmt.Errorf("unsupported UUID length %q", s)
	}
	dashed := strings.Join([]string{n[0:8], n[8:12], n[12:16], n[16:20], n[20:32]}, "-")
	return bluetooth.ParseUUID(dashed)
}

func (a *Adapter) enable() error {
	a.enableOnce.Do(func() {
		a.radio.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
			a.linkChanged(dev.Address.String(), connected)
		})
		if err := a.radio.Enable(); err != nil {
			a.logger.WithError(err).Error("Failed to enable bluetooth adapter")
			a.enableErr = fmt.Errorf("failed to enable adapter: %w", device.NormalizeError(err))
		}
	})
	return a.enableErr
}

// Scan runs a platform scan until ctx is done. Cancellation is not an error.
func (a *Adapter) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	if err := a.enable(); err != nil {
		return err
	}

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			if err := a.radio.StopScan(); err != nil {
				a.logger.WithError(err).Debug("StopScan failed")
			}
		case <-stopped:
		}
	}()

	reported := make(map[string]struct{})
	err := a.radio.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		a.remember(addr, result.Address)

		if !allowDup {
			if _, dup := reported[addr]; dup {
				return
			}
			reported[addr] = struct{}{}
		}
		handler(&advertisement{result: result, watched: a.watched})
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("scan failed: %w", device.NormalizeError(err))
	}
	return nil
}

// Connect issues a connect request to a previously scanned peripheral
func (a *Adapter) Connect(address string) (device.Connection, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}
	select {
	case <-a.done:
		return nil, fmt.Errorf("adapter is closed: %w", device.ErrNotConnected)
	default:
	}
	if err := a.enable(); err != nil {
		return nil, err
	}

	addr, ok := a.lookup(address)
	if !ok {
		return nil, &device.ConnectionError{State: device.ConnectFailed, Msg: fmt.Sprintf("peripheral %s has not been seen in a scan", address)}
	}

	conn := newConnection(a, address, addr)
	a.track(conn)
	conn.start()
	return conn, nil
}

// Events returns the channel on which connectivity callbacks are delivered
func (a *Adapter) Events() <-chan device.Event {
	return a.events
}

func (a *Adapter) post(ev device.Event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

// Close stops event delivery. The shared tinygo adapter itself stays enabled.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
	})
	return nil
}

// advertisement wraps a tinygo scan result
type advertisement struct {
	result  bluetooth.ScanResult
	watched []bluetooth.UUID
}

func (a *advertisement) LocalName() string { return a.result.LocalName() }
func (a *advertisement) RSSI() int         { return int(a.result.RSSI) }
func (a *advertisement) Addr() string      { return a.result.Address.String() }
func (a *advertisement) Connectable() bool { return true }

func (a *advertisement) Services() []string {
	var out []string
	for _, u := range a.watched {
		if a.result.HasServiceUUID(u) {
			out = append(out, device.NormalizeUUID(u.String()))
		}
	}
	return out
}
