//go:build linux || darwin || windows

package tinygo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/motorctl/internal/device"
	"github.com/srg/motorctl/internal/groutine"
	"tinygo.org/x/bluetooth"
)

// Characteristic wraps a discovered tinygo characteristic
type Characteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *Characteristic) UUID() string {
	return device.NormalizeUUID(c.char.UUID().String())
}

// link holds the operations bound to a live tinygo device
type link struct {
	discover   func(svc, char bluetooth.UUID) (*Characteristic, error)
	disconnect func() error
}

// Connection is a single tinygo GATT connection
type Connection struct {
	adapter *Adapter
	address string
	addr    bluetooth.Address
	logger  *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	live   *link
	closed atomic.Bool

	writeMu sync.Mutex
}

func newConnection(a *Adapter, address string, addr bluetooth.Address) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		adapter: a,
		address: address,
		addr:    addr,
		logger:  a.logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *Connection) Address() string {
	return c.address
}

func (c *Connection) start() {
	groutine.Go(c.ctx, "tinygo-connect-"+c.address, c.connect)
}

func (c *Connection) connect(context.Context) {
	dev, err := c.adapter.radio.Connect(c.addr, bluetooth.ConnectionParams{})
	if err != nil {
		if c.closed.Load() {
			return
		}
		c.logger.WithFields(logrus.Fields{
			"address": c.address,
			"error":   err,
		}).Error("Failed to connect")
		c.adapter.post(device.Event{
			Kind:    device.EventConnectionError,
			Address: c.address,
			Conn:    c,
			Err:     fmt.Errorf("failed to connect to device with address %q: %w", c.address, device.NormalizeError(err)),
		})
		return
	}

	l := &link{
		discover: func(svcUUID, charUUID bluetooth.UUID) (*Characteristic, error) {
			services, err := dev.DiscoverServices([]bluetooth.UUID{svcUUID})
			if err != nil {
				return nil, err
			}
			for _, svc := range services {
				chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{charUUID})
				if err != nil {
					return nil, err
				}
				for _, ch := range chars {
					if ch.UUID() == charUUID {
						return &Characteristic{char: ch}, nil
					}
				}
			}
			return nil, nil
		},
		disconnect: func() error {
			return dev.Disconnect()
		},
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		if err := l.disconnect(); err != nil {
			c.logger.WithError(err).Warn("Failed to disconnect after close")
		}
		return
	}
	c.live = l
	c.mu.Unlock()

	c.logger.WithField("address", c.address).Info("BLE device connected")
	c.adapter.post(device.Event{Kind: device.EventConnected, Address: c.address, Conn: c})
}

func (c *Connection) current() *link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// DiscoverServices resolves the characteristic asynchronously; see device.Connection.
// tinygo reports a missing UUID in a filtered discovery as an error, which is treated as not found.
func (c *Connection) DiscoverServices(serviceUUID, characteristicUUID string) {
	groutine.Go(c.ctx, "tinygo-discover-"+c.address, func(context.Context) {
		ev := device.Event{Kind: device.EventServicesResolved, Address: c.address, Conn: c}

		l := c.current()
		svc, svcErr := ParseUUID(serviceUUID)
		char, charErr := ParseUUID(characteristicUUID)
		switch {
		case l == nil:
			ev.Err = device.ErrNotConnected
		case svcErr != nil:
			ev.Err = svcErr
		case charErr != nil:
			ev.Err = charErr
		default:
			found, err := l.discover(svc, char)
			if err != nil {
				c.logger.WithFields(logrus.Fields{
					"address": c.address,
					"error":   err,
				}).Debug("Filtered discovery failed, treating as not found")
			} else if found != nil {
				ev.Characteristic = found
			}
		}

		if c.closed.Load() {
			return
		}
		c.adapter.post(ev)
	})
}

// Write sends the payload without response; failures are logged only.
func (c *Connection) Write(char device.Characteristic, payload []byte) {
	tc, ok := char.(*Characteristic)
	if !ok || tc == nil {
		c.logger.WithField("address", c.address).Error("Write to a characteristic not owned by tinygo")
		return
	}
	if c.closed.Load() {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := tc.char.WriteWithoutResponse(payload); err != nil {
		err = device.NormalizeError(err)
		c.logger.WithFields(logrus.Fields{
			"address": c.address,
			"payload": fmt.Sprintf("%x", payload),
			"error":   err,
		}).Warn("Characteristic write failed")
		if device.IsConnectionState(err, device.NotConnected) {
			c.lost()
		}
	}
}

// lost reports a link that dropped without Close. Only the first report of a
// live link posts EventDisconnected.
func (c *Connection) lost() {
	if c.closed.Load() {
		return
	}
	c.mu.Lock()
	l := c.live
	c.live = nil
	c.mu.Unlock()
	if l == nil {
		return
	}

	c.logger.WithField("address", c.address).Info("BLE device disconnected")
	c.adapter.post(device.Event{Kind: device.EventDisconnected, Address: c.address, Conn: c})
}

// Close disconnects the device. Safe to call more than once.
func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()
	c.adapter.untrack(c)

	c.mu.Lock()
	l := c.live
	c.live = nil
	c.mu.Unlock()

	if l == nil {
		return nil
	}
	if err := l.disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", c.address, device.NormalizeError(err))
	}
	return nil
}
