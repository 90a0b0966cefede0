package motor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/motorctl/internal/testutils"
	"github.com/srg/motorctl/pkg/motor"
)

// hookListener records notifications and then runs onState, which may call
// back into the registry
type hookListener struct {
	*testutils.RecordingListener
	onState func(address, status string, ready bool)
}

func (l *hookListener) OnDeviceStateChanged(address, status string, ready bool) {
	l.RecordingListener.OnDeviceStateChanged(address, status, ready)
	if l.onState != nil {
		l.onState(address, status, ready)
	}
}

// RegistryReentryTestSuite covers listeners that use the registry from inside
// their callbacks
type RegistryReentryTestSuite struct {
	suite.Suite

	adapter    *testutils.FakeAdapter
	listener   *hookListener
	registry   *motor.Registry
	dispatcher *motor.Dispatcher
}

func (s *RegistryReentryTestSuite) SetupTest() {
	logger := testutils.NewTestHelper(s.T()).Logger
	s.adapter = testutils.NewFakeAdapter()
	s.listener = &hookListener{RecordingListener: testutils.NewRecordingListener()}
	s.registry = motor.NewRegistry(s.adapter, s.listener, logger)
	s.dispatcher = motor.NewDispatcher(s.registry, logger)
}

func (s *RegistryReentryTestSuite) await(ch <-chan struct{}, what string) {
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		s.FailNow(what + " MUST NOT block")
	}
}

func (s *RegistryReentryTestSuite) TestQueryFromCallbackWhileClosingAll() {
	// GOAL: Verify a listener can query and send while another goroutine closes all sessions
	//
	// TEST SCENARIO: Ready callback parks → CloseAll runs and returns → callback calls State and Send →
	// both see the teardown → "Disconnected" is delivered after the Ready callback
	inReady := make(chan struct{})
	closedAll := make(chan struct{})
	var (
		state   motor.ReadyState
		sendErr error
	)
	s.listener.onState = func(address, _ string, ready bool) {
		if !ready {
			return
		}
		close(inReady)
		select {
		case <-closedAll:
		case <-time.After(3 * time.Second):
		}
		state = s.registry.State(address)
		sendErr = s.dispatcher.Send(address, motor.CommandForward)
	}

	s.Require().NoError(s.registry.Open(addrAB))
	s.registry.OnConnected(addrAB)

	resolved := make(chan struct{})
	go func() {
		defer close(resolved)
		s.registry.OnServicesResolved(addrAB, &testutils.FakeCharacteristic{ID: "x"})
	}()
	s.await(inReady, "Ready notification")

	go func() {
		defer close(closedAll)
		s.registry.CloseAll()
	}()
	s.await(closedAll, "CloseAll")
	s.await(resolved, "Ready callback")

	s.Assert().Equal(motor.Disconnected, state, "query MUST see the teardown")
	s.Assert().ErrorIs(sendErr, motor.ErrWriteTargetAbsent)
	s.Assert().Equal([]string{
		motor.StatusConnecting,
		motor.StatusDiscovering,
		motor.StatusConnected,
		motor.StatusDisconnected,
	}, s.listener.States(addrAB), "notifications MUST keep transition order")
	s.Assert().Equal(0, s.registry.Len())

	conn, _ := s.adapter.Connection(addrAB)
	s.Assert().Empty(conn.Writes())
}

func (s *RegistryReentryTestSuite) TestTransitionFromCallback() {
	s.listener.onState = func(address, status string, _ bool) {
		if status == motor.StatusDiscovering {
			s.registry.OnDisconnected(address)
		}
	}

	s.Require().NoError(s.registry.Open(addrAB))
	s.registry.OnConnected(addrAB)

	s.Assert().Equal([]string{
		motor.StatusConnecting,
		motor.StatusDiscovering,
		motor.StatusDisconnected,
	}, s.listener.States(addrAB))
	s.Assert().Equal(0, s.registry.Len())
}

func (s *RegistryReentryTestSuite) TestCloseAllFromCallback() {
	s.listener.onState = func(_, _ string, ready bool) {
		if ready {
			s.registry.CloseAll()
		}
	}

	s.Require().NoError(s.registry.Open(addrAB))
	s.registry.OnConnected(addrAB)
	s.registry.OnServicesResolved(addrAB, &testutils.FakeCharacteristic{ID: "x"})

	states := s.listener.States(addrAB)
	s.Require().Len(states, 4)
	s.Assert().Equal(motor.StatusDisconnected, states[3])
	s.Assert().Equal(0, s.registry.Len())

	s.Require().NoError(s.registry.Open(addrAB), "address MUST be reusable once the last notification is out")
}

func TestRegistryReentryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryReentryTestSuite))
}

func TestManager_CallbacksMayUseManager(t *testing.T) {
	// GOAL: Verify the event pump survives a listener that sends and closes sessions from its callback
	//
	// TEST SCENARIO: Ready via pump → callback sends forward and calls CloseAll → write issued → "Disconnected" follows
	adapter := testutils.NewFakeAdapter().WithAutoConnect().WithAutoResolve()
	listener := &hookListener{RecordingListener: testutils.NewRecordingListener()}
	m, err := motor.NewManager(adapter, listener, motor.WithLogger(testutils.NewTestHelper(t).Logger))
	require.NoError(t, err)
	listener.onState = func(address, _ string, ready bool) {
		if ready {
			_ = m.Send(address, motor.CommandForward)
			m.CloseAll()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()
	defer m.Close()

	require.NoError(t, m.Connect(motor.Peripheral{Address: addrAB}))
	require.True(t, listener.WaitForStatus(addrAB, motor.StatusDisconnected, 2*time.Second),
		"session MUST be torn down, got %v", listener.States(addrAB))

	conn, _ := adapter.Connection(addrAB)
	assert.Equal(t, [][]byte{{0x01}}, conn.Writes())
	assert.Equal(t, []string{
		motor.StatusConnecting,
		motor.StatusDiscovering,
		motor.StatusConnected,
		motor.StatusDisconnected,
	}, listener.States(addrAB))
}
