package goble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/motorctl/internal/device"
	"github.com/srg/motorctl/internal/groutine"
)

// BLECharacteristic wraps a discovered go-ble characteristic handle
type BLECharacteristic struct {
	BLEChar *ble.Characteristic
}

// UUID returns the normalized characteristic UUID
func (c *BLECharacteristic) UUID() string {
	if c == nil || c.BLEChar == nil {
		return ""
	}
	return device.NormalizeUUID(c.BLEChar.UUID.String())
}

type writeRequest struct {
	char    *BLECharacteristic
	payload []byte
}

// BLEConnection is a single go-ble GATT connection.
// All platform calls run on the connection's own goroutines; results go to the adapter's event channel.
type BLEConnection struct {
	adapter *Adapter
	radio   Radio
	address string
	logger  *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	connMutex sync.RWMutex
	client    GATTClient
	closed    atomic.Bool

	writes chan writeRequest
}

func newConnection(a *Adapter, r Radio, address string) *BLEConnection {
	ctx, cancel := context.WithCancel(context.Background())
	return &BLEConnection{
		adapter: a,
		radio:   r,
		address: address,
		logger:  a.logger,
		ctx:     ctx,
		cancel:  cancel,
		writes:  make(chan writeRequest, DefaultWriteBuffer),
	}
}

// Address returns the peripheral address of this connection
func (c *BLEConnection) Address() string {
	return c.address
}

func (c *BLEConnection) start() {
	groutine.Go(c.ctx, "ble-dial-"+c.address, c.dial)
}

func (c *BLEConnection) dial(ctx context.Context) {
	log := c.logger.WithFields(logrus.Fields{"address": c.address, "goroutine": groutine.Name(ctx)})
	log.Debug("Dialing BLE device...")

	client, err := c.radio.Dial(ctx, c.address)
	if err != nil {
		if c.closed.Load() {
			return
		}
		log.WithField("error", err).Error("Failed to dial BLE device")
		c.adapter.post(device.Event{
			Kind:    device.EventConnectionError,
			Address: c.address,
			Conn:    c,
			Err:     fmt.Errorf("failed to connect to device with address %q: %w", c.address, device.NormalizeError(err)),
		})
		return
	}

	c.connMutex.Lock()
	if c.closed.Load() {
		c.connMutex.Unlock()
		// Closed while dialing: release the link we just got
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection after close")
		}
		return
	}
	c.client = client
	c.connMutex.Unlock()

	groutine.Go(c.ctx, "ble-writer-"+c.address, c.writeLoop)
	groutine.Go(c.ctx, "ble-connection-monitor-"+c.address, func(ctx context.Context) {
		c.monitor(ctx, client)
	})

	c.logger.WithField("address", c.address).Info("BLE device connected")
	c.adapter.post(device.Event{Kind: device.EventConnected, Address: c.address, Conn: c})
}

// monitor reports a link loss the platform detected on its own
func (c *BLEConnection) monitor(ctx context.Context, client GATTClient) {
	select {
	case <-client.Disconnected():
		if c.closed.Load() {
			return
		}
		c.logger.WithFields(logrus.Fields{
			"address":   c.address,
			"goroutine": groutine.Name(ctx),
		}).Warn("BLE device reported disconnection")
		c.adapter.post(device.Event{Kind: device.EventDisconnected, Address: c.address, Conn: c})
	case <-ctx.Done():
	}
}

func (c *BLEConnection) currentClient() GATTClient {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.client
}

// DiscoverServices looks up a single characteristic under a single service.
// The result is reported as EventServicesResolved; a nil Characteristic means not found.
func (c *BLEConnection) DiscoverServices(serviceUUID, characteristicUUID string) {
	groutine.Go(c.ctx, "ble-discover-"+c.address, func(ctx context.Context) {
		char, err := c.discover(serviceUUID, characteristicUUID)
		if c.closed.Load() {
			return
		}

		ev := device.Event{Kind: device.EventServicesResolved, Address: c.address, Conn: c, Err: err}
		if char != nil {
			ev.Characteristic = char
		}
		c.adapter.post(ev)
	})
}

func (c *BLEConnection) discover(serviceUUID, characteristicUUID string) (*BLECharacteristic, error) {
	client := c.currentClient()
	if client == nil {
		return nil, device.ErrNotConnected
	}

	svcUUID, err := ble.Parse(device.NormalizeUUID(serviceUUID))
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", serviceUUID, err)
	}
	charUUID, err := ble.Parse(device.NormalizeUUID(characteristicUUID))
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", characteristicUUID, err)
	}

	c.logger.WithFields(logrus.Fields{
		"address":      c.address,
		"service_uuid": serviceUUID,
		"char_uuid":    characteristicUUID,
	}).Debug("Discovering services and characteristics...")

	services, err := client.DiscoverServices([]ble.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", device.NormalizeError(err))
	}

	for _, svc := range services {
		if !svc.UUID.Equal(svcUUID) {
			continue
		}
		chars, err := client.DiscoverCharacteristics([]ble.UUID{charUUID}, svc)
		if err != nil {
			return nil, fmt.Errorf("failed to discover characteristics: %w", device.NormalizeError(err))
		}
		for _, ch := range chars {
			if ch.UUID.Equal(charUUID) {
				return &BLECharacteristic{BLEChar: ch}, nil
			}
		}
	}

	c.logger.WithError(&device.NotFoundError{
		Resource: "characteristic",
		UUIDs:    []string{serviceUUID, characteristicUUID},
	}).Debug("Target characteristic is missing")
	return nil, nil
}

// Write queues a write on the connection's FIFO writer. Results are logged, never reported.
func (c *BLEConnection) Write(char device.Characteristic, payload []byte) {
	bleChar, ok := char.(*BLECharacteristic)
	if !ok || bleChar == nil || bleChar.BLEChar == nil {
		c.logger.WithField("address", c.address).Error("Write to a characteristic not owned by go-ble")
		return
	}
	if c.closed.Load() {
		return
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	select {
	case c.writes <- writeRequest{char: bleChar, payload: data}:
	default:
		c.logger.WithFields(logrus.Fields{
			"address": c.address,
			"payload": fmt.Sprintf("%x", data),
		}).Warn("Write buffer full, dropping write")
	}
}

func (c *BLEConnection) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.writes:
			client := c.currentClient()
			if client == nil {
				continue
			}
			if err := client.WriteCharacteristic(req.char.BLEChar, req.payload, false); err != nil {
				c.logger.WithFields(logrus.Fields{
					"address": c.address,
					"payload": fmt.Sprintf("%x", req.payload),
					"error":   device.NormalizeError(err),
				}).Warn("Characteristic write failed")
			}
		}
	}
}

// Close cancels the connection. Safe to call more than once and before dialing completes.
func (c *BLEConnection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.connMutex.Lock()
	client := c.client
	c.client = nil
	c.connMutex.Unlock()

	c.cancel()

	if client == nil {
		return nil
	}

	c.logger.WithField("address", c.address).Info("Disconnecting BLE device...")
	if err := client.CancelConnection(); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", c.address, device.NormalizeError(err))
	}
	return nil
}
