package mocks

import (
	"github.com/srg/motorctl/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a mock of device.Transport
type MockTransport struct {
	mock.Mock
	events chan device.Event
}

func NewMockTransport() *MockTransport {
	return &MockTransport{events: make(chan device.Event)}
}

func (m *MockTransport) Connect(address string) (device.Connection, error) {
	args := m.Called(address)
	conn, _ := args.Get(0).(device.Connection)
	return conn, args.Error(1)
}

func (m *MockTransport) Events() <-chan device.Event {
	return m.events
}

// MockConnection is a mock of device.Connection
type MockConnection struct {
	mock.Mock
	address string
}

// NewMockConnection creates a connection mock bound to address
func NewMockConnection(address string) *MockConnection {
	return &MockConnection{address: address}
}

func (m *MockConnection) Address() string {
	return m.address
}

func (m *MockConnection) DiscoverServices(serviceUUID, characteristicUUID string) {
	m.Called(serviceUUID, characteristicUUID)
}

func (m *MockConnection) Write(char device.Characteristic, payload []byte) {
	m.Called(char, payload)
}

func (m *MockConnection) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockCharacteristic is a fixed device.Characteristic
type MockCharacteristic struct {
	ID string
}

func (c *MockCharacteristic) UUID() string {
	return c.ID
}
