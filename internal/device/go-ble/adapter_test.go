package goble_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/motorctl/internal/device"
	goble "github.com/srg/motorctl/internal/device/go-ble"
	"github.com/srg/motorctl/internal/testutils"
	"github.com/srg/motorctl/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	testAddress     = "AA:BB:CC:DD:EE:FF"
	testServiceUUID = "0A66A21A-422A-4A97-9AF3-575E67A55C7E"
	testCharUUID    = "CC67E36C-323A-4E36-A33E-039B3E452285"
)

type AdapterTestSuite struct {
	suite.Suite

	logger          *logrus.Logger
	originalFactory func() (goble.Radio, error)

	radio   *mocks.MockRadio
	client  *mocks.MockGATTClient
	gone    chan struct{}
	adapter *goble.Adapter
}

func (s *AdapterTestSuite) SetupSuite() {
	s.logger = testutils.NewTestHelper(s.T()).Logger
	s.originalFactory = goble.DeviceFactory
}

func (s *AdapterTestSuite) TearDownSuite() {
	goble.DeviceFactory = s.originalFactory
}

func (s *AdapterTestSuite) SetupTest() {
	s.radio = &mocks.MockRadio{}
	s.client = &mocks.MockGATTClient{}
	s.gone = make(chan struct{})
	s.client.On("Disconnected").Return(s.gone).Maybe()
	s.radio.On("Stop").Return(nil).Maybe()

	goble.DeviceFactory = func() (goble.Radio, error) {
		return s.radio, nil
	}
	s.adapter = goble.NewAdapter(s.logger)
}

func (s *AdapterTestSuite) TearDownTest() {
	s.Require().NoError(s.adapter.Close())
}

// nextEvent waits for one event from the adapter
func (s *AdapterTestSuite) nextEvent() device.Event {
	select {
	case ev := <-s.adapter.Events():
		return ev
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for adapter event")
		return device.Event{}
	}
}

func (s *AdapterTestSuite) connect() device.Connection {
	s.radio.On("Dial", mock.Anything, testAddress).Return(s.client, nil).Once()

	conn, err := s.adapter.Connect(testAddress)
	s.Require().NoError(err, "connect request MUST be accepted")

	ev := s.nextEvent()
	s.Require().Equal(device.EventConnected, ev.Kind)
	s.Require().Same(conn, ev.Conn, "event MUST carry the requesting connection")
	return conn
}

func motorProfile() (*ble.Service, *ble.Characteristic) {
	svc := &ble.Service{UUID: ble.MustParse(device.NormalizeUUID(testServiceUUID))}
	char := &ble.Characteristic{UUID: ble.MustParse(device.NormalizeUUID(testCharUUID)), Property: ble.CharWrite}
	svc.Characteristics = []*ble.Characteristic{char}
	return svc, char
}

func (s *AdapterTestSuite) TestConnect() {
	s.Run("rejects empty address", func() {
		_, err := s.adapter.Connect("  ")
		s.Require().Error(err)
		s.Assert().Contains(err.Error(), "device address is empty")
	})

	s.Run("reports dial success", func() {
		conn := s.connect()
		s.Assert().Equal(testAddress, conn.Address())
	})
}

func (s *AdapterTestSuite) TestConnect_DialFailure() {
	// GOAL: Verify a failed dial surfaces as a connection error event
	//
	// TEST SCENARIO: Dial fails → EventConnectionError with wrapped cause → no Connected event
	s.radio.On("Dial", mock.Anything, testAddress).Return(nil, errors.New("connection refused")).Once()

	conn, err := s.adapter.Connect(testAddress)
	s.Require().NoError(err, "connect request MUST be accepted before dialing")

	ev := s.nextEvent()
	s.Assert().Equal(device.EventConnectionError, ev.Kind)
	s.Assert().Same(conn, ev.Conn)
	s.Require().Error(ev.Err)
	s.Assert().Contains(ev.Err.Error(), "connection refused")
}

func (s *AdapterTestSuite) TestConnect_DialFailureNamesWorker() {
	// GOAL: Verify dial failures are logged with the worker that hit them
	//
	// TEST SCENARIO: Dial fails → error entry carries address and goroutine "ble-dial-<address>"
	s.Require().NoError(s.adapter.Close())
	logger, hook := logrustest.NewNullLogger()
	s.adapter = goble.NewAdapter(logger)
	s.radio.On("Dial", mock.Anything, testAddress).Return(nil, errors.New("connection refused")).Once()

	_, err := s.adapter.Connect(testAddress)
	s.Require().NoError(err)
	s.Require().Equal(device.EventConnectionError, s.nextEvent().Kind)

	var failed *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "Failed to dial BLE device" {
			failed = e
		}
	}
	s.Require().NotNil(failed, "dial failure MUST be logged")
	s.Assert().Equal(logrus.ErrorLevel, failed.Level)
	s.Assert().Equal(testAddress, failed.Data["address"])
	s.Assert().Equal("ble-dial-"+testAddress, failed.Data["goroutine"], "entry MUST name the dialing goroutine")
}

func (s *AdapterTestSuite) TestConnect_FactoryFailure() {
	goble.DeviceFactory = func() (goble.Radio, error) {
		return nil, errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
	}

	_, err := s.adapter.Connect(testAddress)
	s.Require().Error(err)
	s.Assert().ErrorIs(err, device.ErrBluetoothOff, "powered-off radio MUST be normalized")
}

func (s *AdapterTestSuite) TestDiscoverServices_Found() {
	svc, char := motorProfile()
	s.client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{svc}, nil).Once()
	s.client.On("DiscoverCharacteristics", mock.Anything, svc).Return([]*ble.Characteristic{char}, nil).Once()

	conn := s.connect()
	conn.DiscoverServices(testServiceUUID, testCharUUID)

	ev := s.nextEvent()
	s.Require().Equal(device.EventServicesResolved, ev.Kind)
	s.Require().NoError(ev.Err)
	s.Require().NotNil(ev.Characteristic, "characteristic MUST be resolved")
	s.Assert().Equal(device.NormalizeUUID(testCharUUID), ev.Characteristic.UUID())
}

func (s *AdapterTestSuite) TestDiscoverServices_NotFound() {
	svc, _ := motorProfile()
	s.client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{svc}, nil).Once()
	s.client.On("DiscoverCharacteristics", mock.Anything, svc).Return([]*ble.Characteristic{}, nil).Once()

	conn := s.connect()
	conn.DiscoverServices(testServiceUUID, testCharUUID)

	ev := s.nextEvent()
	s.Require().Equal(device.EventServicesResolved, ev.Kind)
	s.Assert().NoError(ev.Err)
	s.Assert().Nil(ev.Characteristic, "missing characteristic MUST be reported as nil")
}

func (s *AdapterTestSuite) TestDiscoverServices_Error() {
	s.client.On("DiscoverServices", mock.Anything).Return(nil, errors.New("att: request timeout")).Once()

	conn := s.connect()
	conn.DiscoverServices(testServiceUUID, testCharUUID)

	ev := s.nextEvent()
	s.Require().Equal(device.EventServicesResolved, ev.Kind)
	s.Require().Error(ev.Err)
	s.Assert().Contains(ev.Err.Error(), "failed to discover services")
	s.Assert().Nil(ev.Characteristic)
}

func (s *AdapterTestSuite) TestWrite() {
	// GOAL: Verify writes reach the platform as single acknowledged writes, in order
	//
	// TEST SCENARIO: resolve characteristic → write 0x01 then 0x00 → both arrive with noRsp=false in order
	svc, char := motorProfile()
	s.client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{svc}, nil).Once()
	s.client.On("DiscoverCharacteristics", mock.Anything, svc).Return([]*ble.Characteristic{char}, nil).Once()

	var order [][]byte
	written := make(chan struct{}, 2)
	s.client.On("WriteCharacteristic", char, mock.Anything, false).Run(func(args mock.Arguments) {
		order = append(order, args.Get(1).([]byte))
		written <- struct{}{}
	}).Return(nil)

	conn := s.connect()
	conn.DiscoverServices(testServiceUUID, testCharUUID)
	ev := s.nextEvent()
	s.Require().NotNil(ev.Characteristic)

	conn.Write(ev.Characteristic, []byte{0x01})
	conn.Write(ev.Characteristic, []byte{0x00})

	for i := 0; i < 2; i++ {
		select {
		case <-written:
		case <-time.After(2 * time.Second):
			s.FailNow("write did not reach the platform")
		}
	}
	s.Assert().Equal([][]byte{{0x01}, {0x00}}, order)
}

func (s *AdapterTestSuite) TestWrite_ForeignCharacteristic() {
	conn := s.connect()

	conn.Write(&mocks.MockCharacteristic{ID: "2a19"}, []byte{0x01})

	s.client.AssertNotCalled(s.T(), "WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything)
}

func (s *AdapterTestSuite) TestRemoteDisconnect() {
	conn := s.connect()

	close(s.gone)

	ev := s.nextEvent()
	s.Assert().Equal(device.EventDisconnected, ev.Kind)
	s.Assert().Same(conn, ev.Conn)
}

func (s *AdapterTestSuite) TestClose() {
	s.client.On("CancelConnection").Return(nil).Once()
	conn := s.connect()

	s.Require().NoError(conn.Close())
	s.Require().NoError(conn.Close(), "second close MUST be a no-op")
	close(s.gone)

	select {
	case ev := <-s.adapter.Events():
		s.Failf("unexpected event after close", "got %s", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
	s.client.AssertNumberOfCalls(s.T(), "CancelConnection", 1)
}

func (s *AdapterTestSuite) TestScan() {
	adv := testutils.NewAdvertisementBuilder().
		WithAddress(testAddress).
		WithName("Motor").
		WithServices(testServiceUUID).
		Build()

	s.radio.On("Scan", mock.Anything, true, mock.Anything).Run(func(args mock.Arguments) {
		handler := args.Get(2).(func(device.Advertisement))
		handler(adv)
	}).Return(context.Canceled).Once()

	var seen []device.Advertisement
	err := s.adapter.Scan(context.Background(), true, func(a device.Advertisement) {
		seen = append(seen, a)
	})

	s.Require().NoError(err, "cancellation MUST not be reported as an error")
	s.Require().Len(seen, 1)
	s.Assert().Equal(testAddress, seen[0].Addr())
}

func (s *AdapterTestSuite) TestScan_Failure() {
	s.radio.On("Scan", mock.Anything, true, mock.Anything).Return(errors.New("bluetooth is turned off")).Once()

	err := s.adapter.Scan(context.Background(), true, func(device.Advertisement) {})

	s.Require().Error(err)
	s.Assert().ErrorIs(err, device.ErrBluetoothOff)
}

func (s *AdapterTestSuite) TestClosedAdapter() {
	s.Require().NoError(s.adapter.Close())

	_, err := s.adapter.Connect(testAddress)
	s.Assert().ErrorIs(err, device.ErrNotConnected)
}

func TestAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(AdapterTestSuite))
}
