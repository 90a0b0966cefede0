package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/srg/motorctl/internal/device"
)

// FakeAdapter is an in-memory device.Adapter.
//
// By default connect requests stay pending until the test emits an event; the
// With* options make the adapter answer on its own, like a cooperative peripheral.
type FakeAdapter struct {
	mu             sync.Mutex
	advertisements []device.Advertisement
	scanErr        error
	connectErr     map[string]error
	autoConnect    bool
	autoResolve    bool
	scans          int

	conns  *hashmap.Map[string, *FakeConnection]
	events chan device.Event
	closed bool
}

// NewFakeAdapter creates an adapter with no advertisements and manual events
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		connectErr: make(map[string]error),
		conns:      hashmap.New[string, *FakeConnection](),
		events:     make(chan device.Event, 64),
	}
}

// WithAdvertisements sets what every scan reports before blocking
func (a *FakeAdapter) WithAdvertisements(advs ...device.Advertisement) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advertisements = append(a.advertisements, advs...)
	return a
}

// WithScanError makes every scan fail right away
func (a *FakeAdapter) WithScanError(err error) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanErr = err
	return a
}

// WithConnectError makes Connect refuse address
func (a *FakeAdapter) WithConnectError(address string, err error) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectErr[address] = err
	return a
}

// WithAutoConnect emits EventConnected for every accepted connect request
func (a *FakeAdapter) WithAutoConnect() *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.autoConnect = true
	return a
}

// WithAutoResolve answers every discovery request with the requested characteristic
func (a *FakeAdapter) WithAutoResolve() *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.autoResolve = true
	return a
}

// Scan reports the configured advertisements, then blocks until ctx is done
func (a *FakeAdapter) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	a.mu.Lock()
	a.scans++
	advs := append([]device.Advertisement(nil), a.advertisements...)
	err := a.scanErr
	a.mu.Unlock()

	if err != nil {
		return err
	}
	for _, adv := range advs {
		if ctx.Err() != nil {
			return nil
		}
		handler(adv)
	}
	<-ctx.Done()
	return nil
}

// Scans returns how many platform scans were run
func (a *FakeAdapter) Scans() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

// Connect records a new FakeConnection for address
func (a *FakeAdapter) Connect(address string) (device.Connection, error) {
	a.mu.Lock()
	err := a.connectErr[address]
	auto := a.autoConnect
	closed := a.closed
	a.mu.Unlock()

	if closed {
		return nil, fmt.Errorf("adapter is closed: %w", device.ErrNotConnected)
	}
	if err != nil {
		return nil, err
	}

	conn := &FakeConnection{adapter: a, address: address}
	a.conns.Set(address, conn)
	if auto {
		a.Emit(device.Event{Kind: device.EventConnected, Address: address, Conn: conn})
	}
	return conn, nil
}

// Connection returns the latest connection requested for address
func (a *FakeAdapter) Connection(address string) (*FakeConnection, bool) {
	return a.conns.Get(address)
}

// Events returns the event channel
func (a *FakeAdapter) Events() <-chan device.Event {
	return a.events
}

// Emit queues a platform event
func (a *FakeAdapter) Emit(ev device.Event) {
	a.events <- ev
}

// Close marks the adapter closed; events stay readable
func (a *FakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// FakeConnection is the device.Connection handed out by FakeAdapter
type FakeConnection struct {
	adapter *FakeAdapter
	address string

	mu        sync.Mutex
	discovery [][2]string
	writes    [][]byte
	closes    int
}

func (c *FakeConnection) Address() string {
	return c.address
}

func (c *FakeConnection) DiscoverServices(serviceUUID, characteristicUUID string) {
	c.mu.Lock()
	c.discovery = append(c.discovery, [2]string{serviceUUID, characteristicUUID})
	c.mu.Unlock()

	c.adapter.mu.Lock()
	auto := c.adapter.autoResolve
	c.adapter.mu.Unlock()
	if auto {
		c.Resolve(&FakeCharacteristic{ID: device.NormalizeUUID(characteristicUUID)})
	}
}

func (c *FakeConnection) Write(_ device.Characteristic, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), payload...))
}

func (c *FakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

// Connected emits EventConnected for this connection
func (c *FakeConnection) Connected() {
	c.adapter.Emit(device.Event{Kind: device.EventConnected, Address: c.address, Conn: c})
}

// Resolve emits EventServicesResolved; a nil characteristic means not found
func (c *FakeConnection) Resolve(char device.Characteristic) {
	c.adapter.Emit(device.Event{Kind: device.EventServicesResolved, Address: c.address, Conn: c, Characteristic: char})
}

// ResolveError emits a failed EventServicesResolved
func (c *FakeConnection) ResolveError(err error) {
	c.adapter.Emit(device.Event{Kind: device.EventServicesResolved, Address: c.address, Conn: c, Err: err})
}

// Disconnected emits EventDisconnected for this connection
func (c *FakeConnection) Disconnected() {
	c.adapter.Emit(device.Event{Kind: device.EventDisconnected, Address: c.address, Conn: c})
}

// Failed emits EventConnectionError for this connection
func (c *FakeConnection) Failed(err error) {
	c.adapter.Emit(device.Event{Kind: device.EventConnectionError, Address: c.address, Conn: c, Err: err})
}

// Writes returns a copy of every payload written so far
func (c *FakeConnection) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// Discoveries returns the (service, characteristic) pairs requested so far
func (c *FakeConnection) Discoveries() [][2]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][2]string(nil), c.discovery...)
}

// Closes returns how many times Close was called
func (c *FakeConnection) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// FakeCharacteristic is a resolved characteristic handle
type FakeCharacteristic struct {
	ID string
}

func (c *FakeCharacteristic) UUID() string {
	return c.ID
}
