package testutils

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/motorctl/pkg/motor"
	"github.com/stretchr/testify/suite"
)

// MotorSuite provides a reusable testify suite around a motor.Manager driven
// by a FakeAdapter and observed through a RecordingListener.
//
// Basic usage:
//
//	type ConnectSuite struct {
//	    testutils.MotorSuite
//	}
//
//	func (s *ConnectSuite) TestReady() {
//	    s.Require().NoError(s.Manager.Connect(motor.Peripheral{Address: "AA:BB"}))
//	    conn := s.RequireConnection("AA:BB")
//	    conn.Connected()
//	    ...
//	}
//
// Suites that need a cooperative peripheral or a shorter scan window
// configure Adapter and Options in their own SetupTest before calling
// MotorSuite.SetupTest.
type MotorSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Adapter  *FakeAdapter
	Listener *RecordingListener
	Manager  *motor.Manager
	Options  []motor.Option

	// Timeout bounds every wait on asynchronous notifications
	Timeout time.Duration

	cancel context.CancelFunc
	pump   chan struct{}
}

func (s *MotorSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.Timeout = 2 * time.Second
}

// SetupTest creates the manager and starts its event pump
func (s *MotorSuite) SetupTest() {
	if s.Adapter == nil {
		s.Adapter = NewFakeAdapter()
	}
	s.Listener = NewRecordingListener()

	opts := append([]motor.Option{motor.WithLogger(s.Logger)}, s.Options...)
	m, err := motor.NewManager(s.Adapter, s.Listener, opts...)
	s.Require().NoError(err, "manager MUST be created")
	s.Manager = m

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.pump = make(chan struct{})
	go func() {
		defer close(s.pump)
		_ = m.Run(ctx)
	}()
}

// TearDownTest closes the manager and stops the pump
func (s *MotorSuite) TearDownTest() {
	if s.Manager != nil {
		s.Require().NoError(s.Manager.Close())
	}
	if s.cancel != nil {
		s.cancel()
		<-s.pump
	}
	s.Adapter = nil
	s.Manager = nil
	s.Options = nil
}

// RequireConnection returns the fake connection requested for address
func (s *MotorSuite) RequireConnection(address string) *FakeConnection {
	conn, ok := s.Adapter.Connection(address)
	s.Require().True(ok, "connect request MUST reach the platform for %s", address)
	return conn
}

// RequireStatus waits until address reports status
func (s *MotorSuite) RequireStatus(address, status string) {
	s.Require().True(s.Listener.WaitForStatus(address, status, s.Timeout),
		"%s MUST report %q, got %v", address, status, s.Listener.States(address))
}

// RequireState waits until the manager reports state for address
func (s *MotorSuite) RequireState(address string, state motor.ReadyState) {
	s.Require().Eventually(func() bool {
		return s.Manager.State(address) == state
	}, s.Timeout, 5*time.Millisecond, "%s MUST reach %s", address, state)
}

// ConnectReady drives address through a full connect and discovery
func (s *MotorSuite) ConnectReady(address string) *FakeConnection {
	s.Require().NoError(s.Manager.Connect(motor.Peripheral{Address: address}))
	conn := s.RequireConnection(address)
	conn.Connected()
	s.RequireStatus(address, motor.StatusDiscovering)
	conn.Resolve(&FakeCharacteristic{ID: motor.CharacteristicUUID})
	s.RequireStatus(address, motor.StatusConnected)
	s.RequireState(address, motor.Ready)
	return conn
}
