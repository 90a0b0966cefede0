package motor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/motorctl/internal/device"
)

// note is one queued status notification. last marks the teardown
// notification after which the session leaves the map.
type note struct {
	status string
	ready  bool
	last   bool
}

// session is the registry's record of one peripheral.
//
// mu guards the fields and the mailbox. Notifications are queued under mu in
// transition order; the goroutine that finds the mailbox idle delivers them
// one by one with no lock held, so the listener may call back into the
// registry.
type session struct {
	mu sync.Mutex

	address string
	conn    device.Connection
	char    device.Characteristic
	state   ReadyState
	closed  bool

	mailbox  []note
	draining bool
}

// Registry tracks at most one session per peripheral address.
type Registry struct {
	transport device.Transport
	listener  Listener
	logger    *logrus.Logger

	serviceUUID        string
	characteristicUUID string

	sessions *hashmap.Map[string, *session]
}

// NewRegistry creates a registry that opens connections through transport.
func NewRegistry(transport device.Transport, listener Listener, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	if listener == nil {
		listener = NopListener{}
	}
	return &Registry{
		transport:          transport,
		listener:           listener,
		logger:             logger,
		serviceUUID:        ServiceUUID,
		characteristicUUID: CharacteristicUUID,
		sessions:           hashmap.New[string, *session](),
	}
}

// notifyLocked queues one status notification and releases s.mu.
// Notifications queued while another goroutine is delivering for the same
// session are delivered by that goroutine, after the ones ahead of them.
func (r *Registry) notifyLocked(s *session, status string, ready bool) {
	r.emitLocked(s, note{status: status, ready: ready})
}

func (r *Registry) emitLocked(s *session, n note) {
	s.mailbox = append(s.mailbox, n)
	if s.draining {
		s.mu.Unlock()
		return
	}

	s.draining = true
	for len(s.mailbox) > 0 {
		next := s.mailbox[0]
		s.mailbox = s.mailbox[1:]
		s.mu.Unlock()
		r.deliver(s, next)
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (r *Registry) deliver(s *session, n note) {
	r.logger.WithFields(logrus.Fields{
		"address": s.address,
		"status":  n.status,
		"ready":   n.ready,
	}).Debug("Session state changed")
	r.listener.OnDeviceStateChanged(s.address, n.status, n.ready)

	// removed only after its last notification so that a new session for
	// the same address cannot report ahead of it
	if n.last {
		r.sessions.Del(s.address)
		r.logger.WithField("address", s.address).Debug("Session removed")
	}
}

// Open creates a session for address in Connecting and issues the platform
// connect request. It fails with ErrAlreadyConnected when a session exists.
func (r *Registry) Open(address string) error {
	s := &session{address: address, state: Connecting}

	// locked before it becomes visible so that events for the new connection
	// wait until the handle is recorded
	s.mu.Lock()
	if _, loaded := r.sessions.GetOrInsert(address, s); loaded {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, address)
	}

	conn, err := r.transport.Connect(address)
	s.conn = conn
	r.notifyLocked(s, StatusConnecting, false)

	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Connect request refused")
		r.teardown(s, StatusConnectionFailed)
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	r.logger.WithField("address", address).Info("Connecting to peripheral")
	return nil
}

// OnConnected moves a Connecting session to ServicesDiscovering and requests
// discovery of the motor characteristic.
func (r *Registry) OnConnected(address string) {
	r.onConnected(address, nil)
}

func (r *Registry) onConnected(address string, from device.Connection) {
	s := r.lock(address, from)
	if s == nil {
		return
	}
	if s.state != Connecting {
		r.logger.WithFields(logrus.Fields{
			"address": address,
			"state":   s.state,
		}).Debug("Ignoring connected callback")
		s.mu.Unlock()
		return
	}

	s.state = ServicesDiscovering
	conn := s.conn
	r.notifyLocked(s, StatusDiscovering, false)

	if conn != nil {
		conn.DiscoverServices(r.serviceUUID, r.characteristicUUID)
	}
}

// OnServicesResolved completes discovery. A nil characteristic means the
// target was not found and tears the session down.
func (r *Registry) OnServicesResolved(address string, char device.Characteristic) {
	r.onServicesResolved(address, nil, char)
}

func (r *Registry) onServicesResolved(address string, from device.Connection, char device.Characteristic) {
	s := r.lock(address, from)
	if s == nil {
		return
	}
	if s.state != ServicesDiscovering {
		r.logger.WithFields(logrus.Fields{
			"address": address,
			"state":   s.state,
		}).Debug("Ignoring services resolved callback")
		s.mu.Unlock()
		return
	}

	if char == nil {
		r.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   ErrCharacteristicNotFound,
		}).Warn("Motor characteristic not found")
		r.teardownLocked(s, StatusCharacteristicNotFound)
		return
	}

	s.char = char
	s.state = Ready
	r.logger.WithField("address", address).Info("Peripheral ready")
	r.notifyLocked(s, StatusConnected, true)
}

// OnDisconnected removes the session regardless of its state
func (r *Registry) OnDisconnected(address string) {
	r.onDisconnected(address, nil)
}

func (r *Registry) onDisconnected(address string, from device.Connection) {
	s := r.lock(address, from)
	if s == nil {
		return
	}
	r.logger.WithField("address", address).Info("Peripheral disconnected")
	r.teardownLocked(s, StatusDisconnected)
}

// OnConnectionError removes the session and reports the connection as failed
func (r *Registry) OnConnectionError(address string, err error) {
	r.onConnectionError(address, nil, err)
}

func (r *Registry) onConnectionError(address string, from device.Connection, err error) {
	s := r.lock(address, from)
	if s == nil {
		return
	}
	r.logger.WithFields(logrus.Fields{
		"address": address,
		"state":   s.state,
		"error":   err,
	}).Error("Connection failed")
	r.teardownLocked(s, StatusConnectionFailed)
}

// HandleEvent applies a platform event. Events whose connection handle is
// not the live session's are stale and ignored.
func (r *Registry) HandleEvent(ev device.Event) {
	switch ev.Kind {
	case device.EventConnected:
		r.onConnected(ev.Address, ev.Conn)
	case device.EventServicesResolved:
		if ev.Err != nil {
			r.onConnectionError(ev.Address, ev.Conn, fmt.Errorf("service discovery failed: %w", ev.Err))
			return
		}
		r.onServicesResolved(ev.Address, ev.Conn, ev.Characteristic)
	case device.EventDisconnected:
		r.onDisconnected(ev.Address, ev.Conn)
	case device.EventConnectionError:
		r.onConnectionError(ev.Address, ev.Conn, ev.Err)
	default:
		r.logger.WithField("event", ev.Kind).Warn("Unknown platform event")
	}
}

// CloseAll tears down every session. Each one produces a single
// "Disconnected" notification.
func (r *Registry) CloseAll() {
	var all []*session
	r.sessions.Range(func(_ string, s *session) bool {
		all = append(all, s)
		return true
	})

	for _, s := range all {
		r.teardown(s, StatusDisconnected)
	}
	if len(all) > 0 {
		r.logger.WithField("count", len(all)).Info("Closed all sessions")
	}
}

// State reports the session state for address; Disconnected when there is none
func (r *Registry) State(address string) ReadyState {
	s, ok := r.sessions.Get(address)
	if !ok {
		return Disconnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Disconnected
	}
	return s.state
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	n := 0
	r.sessions.Range(func(_ string, s *session) bool {
		s.mu.Lock()
		if !s.closed {
			n++
		}
		s.mu.Unlock()
		return true
	})
	return n
}

// Addresses returns the addresses of live sessions in no particular order
func (r *Registry) Addresses() []string {
	var out []string
	r.sessions.Range(func(addr string, s *session) bool {
		s.mu.Lock()
		if !s.closed {
			out = append(out, addr)
		}
		s.mu.Unlock()
		return true
	})
	return out
}

// target returns the write target of a Ready session
func (r *Registry) target(address string) (device.Connection, device.Characteristic, error) {
	s, ok := r.sessions.Get(address)
	if !ok {
		return nil, nil, ErrWriteTargetAbsent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != Ready || s.char == nil {
		return nil, nil, ErrWriteTargetAbsent
	}
	return s.conn, s.char, nil
}

// lock returns the live session for address with s.mu held, or nil when there
// is none or when from is set and is not the session's connection.
func (r *Registry) lock(address string, from device.Connection) *session {
	s, ok := r.sessions.Get(address)
	if !ok {
		r.logger.WithField("address", address).Debug("No session for callback")
		return nil
	}

	s.mu.Lock()
	if s.closed || (from != nil && s.conn != from) {
		s.mu.Unlock()
		r.logger.WithField("address", address).Debug("Ignoring stale callback")
		return nil
	}
	return s
}

func (r *Registry) teardown(s *session, status string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	r.teardownLocked(s, status)
}

// teardownLocked closes the session and queues its last notification.
// s.mu is released while the connection is closed; closed already keeps
// every other transition away.
func (r *Registry) teardownLocked(s *session, status string) {
	s.closed = true
	s.state = Disconnected
	conn := s.conn
	s.conn = nil
	s.char = nil
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, device.ErrNotConnected) {
			r.logger.WithFields(logrus.Fields{
				"address": s.address,
				"error":   err,
			}).Warn("Failed to close connection")
		}
	}

	s.mu.Lock()
	r.emitLocked(s, note{status: status, last: true})
}
