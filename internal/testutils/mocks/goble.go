// Package mocks holds testify mocks for the platform boundaries.
package mocks

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/motorctl/internal/device"
	goble "github.com/srg/motorctl/internal/device/go-ble"
	"github.com/stretchr/testify/mock"
)

// MockRadio is a mock of goble.Radio
type MockRadio struct {
	mock.Mock
}

func (m *MockRadio) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	args := m.Called(ctx, allowDup, handler)
	return args.Error(0)
}

func (m *MockRadio) Dial(ctx context.Context, address string) (goble.GATTClient, error) {
	args := m.Called(ctx, address)
	client, _ := args.Get(0).(goble.GATTClient)
	return client, args.Error(1)
}

func (m *MockRadio) Stop() error {
	args := m.Called()
	return args.Error(0)
}

// MockGATTClient is a mock of goble.GATTClient
type MockGATTClient struct {
	mock.Mock
}

func (m *MockGATTClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	services, _ := args.Get(0).([]*ble.Service)
	return services, args.Error(1)
}

func (m *MockGATTClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	chars, _ := args.Get(0).([]*ble.Characteristic)
	return chars, args.Error(1)
}

func (m *MockGATTClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	args := m.Called(c, value, noRsp)
	return args.Error(0)
}

func (m *MockGATTClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockGATTClient) Disconnected() <-chan struct{} {
	args := m.Called()
	ch, _ := args.Get(0).(chan struct{})
	return ch
}
