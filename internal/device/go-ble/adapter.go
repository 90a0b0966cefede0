package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/motorctl/internal/device"
)

const (
	// DefaultEventBuffer is the buffer size of the adapter's event channel
	DefaultEventBuffer = 64

	// DefaultWriteBuffer is the number of pending writes a connection holds before dropping
	DefaultWriteBuffer = 16
)

// GATTClient is the part of ble.Client a connection needs.
type GATTClient interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// Radio is the part of ble.Device the adapter needs.
type Radio interface {
	Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error
	Dial(ctx context.Context, address string) (GATTClient, error)
	Stop() error
}

// bleRadio adapts a ble.Device to Radio
type bleRadio struct {
	dev ble.Device
}

func (r *bleRadio) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	return r.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
}

func (r *bleRadio) Dial(ctx context.Context, address string) (GATTClient, error) {
	client, err := r.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *bleRadio) Stop() error {
	return r.dev.Stop()
}

// DeviceFactory creates the platform radio (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (Radio, error) {
	dev, err := newPlatformDevice()
	if err != nil {
		return nil, err
	}
	return &bleRadio{dev: dev}, nil
}

// Adapter implements device.Adapter on top of go-ble.
// The platform radio is created lazily on first scan or connect.
type Adapter struct {
	logger *logrus.Logger

	mu    sync.Mutex
	radio Radio

	events    chan device.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewAdapter creates a go-ble backed adapter
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		logger: logger,
		events: make(chan device.Event, DefaultEventBuffer),
		done:   make(chan struct{}),
	}
}

func (a *Adapter) getRadio() (Radio, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	select {
	case <-a.done:
		return nil, fmt.Errorf("adapter is closed: %w", device.ErrNotConnected)
	default:
	}

	if a.radio == nil {
		r, err := DeviceFactory()
		if err != nil {
			a.logger.WithError(err).Error("Failed to create BLE device")
			return nil, fmt.Errorf("failed to create BLE device: %w", device.NormalizeError(err))
		}
		a.radio = r
	}
	return a.radio, nil
}

// Scan runs a platform scan until ctx is done. Cancellation is not an error.
func (a *Adapter) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	r, err := a.getRadio()
	if err != nil {
		return err
	}

	err = r.Scan(ctx, allowDup, handler)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", device.NormalizeError(err))
	}
	return nil
}

// Connect issues a platform connect request. Dialing happens asynchronously;
// the outcome is reported on Events.
func (a *Adapter) Connect(address string) (device.Connection, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	r, err := a.getRadio()
	if err != nil {
		return nil, err
	}

	conn := newConnection(a, r, address)
	conn.start()
	return conn, nil
}

// Events returns the channel on which connectivity callbacks are delivered
func (a *Adapter) Events() <-chan device.Event {
	return a.events
}

// post delivers an event unless the adapter has been closed
func (a *Adapter) post(ev device.Event) {
	select {
	case a.events <- ev:
	case <-a.done:
		a.logger.WithFields(logrus.Fields{
			"address": ev.Address,
			"event":   ev.Kind,
		}).Debug("Adapter closed, dropping event")
	}
}

// Close stops the platform radio. Pending events are dropped.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)

		a.mu.Lock()
		r := a.radio
		a.radio = nil
		a.mu.Unlock()

		if r != nil {
			err = device.NormalizeError(r.Stop())
		}
	})
	return err
}
