package motor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/motorctl/internal/device"
)

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger shared by all components
func WithLogger(logger *logrus.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithScanWindow overrides DefaultScanWindow
func WithScanWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.scanWindow = d
		}
	}
}

// WithServiceUUID overrides the advertised and discovered service
func WithServiceUUID(uuid string) Option {
	return func(m *Manager) {
		if uuid != "" {
			m.serviceUUID = uuid
		}
	}
}

// WithCharacteristicUUID overrides the command characteristic
func WithCharacteristicUUID(uuid string) Option {
	return func(m *Manager) {
		if uuid != "" {
			m.characteristicUUID = uuid
		}
	}
}

// Manager wires a Scanner, a Registry and a Dispatcher to one platform adapter.
type Manager struct {
	adapter device.Adapter
	logger  *logrus.Logger

	scanWindow         time.Duration
	serviceUUID        string
	characteristicUUID string

	registry   *Registry
	scanner    *Scanner
	dispatcher *Dispatcher

	closeOnce sync.Once
	closed    chan struct{}
}

// NewManager creates a manager. Call Run to start applying platform events.
func NewManager(adapter device.Adapter, listener Listener, opts ...Option) (*Manager, error) {
	if adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	if listener == nil {
		listener = NopListener{}
	}

	m := &Manager{
		adapter:            adapter,
		logger:             logrus.New(),
		scanWindow:         DefaultScanWindow,
		serviceUUID:        ServiceUUID,
		characteristicUUID: CharacteristicUUID,
		closed:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if _, err := device.ValidateUUID(m.serviceUUID, m.characteristicUUID); err != nil {
		return nil, fmt.Errorf("invalid motor profile: %w", err)
	}

	m.registry = NewRegistry(adapter, listener, m.logger)
	m.registry.serviceUUID = m.serviceUUID
	m.registry.characteristicUUID = m.characteristicUUID

	m.scanner = NewScanner(adapter, listener, m.logger)
	m.scanner.serviceUUID = m.serviceUUID
	m.scanner.window = m.scanWindow

	m.dispatcher = NewDispatcher(m.registry, m.logger)
	return m, nil
}

// Run applies platform events to the registry until ctx is done or the
// manager is closed. It must be called from exactly one goroutine.
func (m *Manager) Run(ctx context.Context) error {
	events := m.adapter.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closed:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.logger.WithFields(logrus.Fields{
				"address": ev.Address,
				"event":   ev.Kind,
			}).Debug("Platform event")
			m.registry.HandleEvent(ev)
		}
	}
}

// StartScan opens a scan window; a no-op while one is open
func (m *Manager) StartScan() {
	m.scanner.StartScan()
}

// Scanning reports whether a scan window is open
func (m *Manager) Scanning() bool {
	return m.scanner.Scanning()
}

// Connect opens a session for p. A session that already exists is left alone.
func (m *Manager) Connect(p Peripheral) error {
	err := m.registry.Open(p.Address)
	if errors.Is(err, ErrAlreadyConnected) {
		m.logger.WithField("address", p.Address).Debug("Already connected")
		return nil
	}
	return err
}

// Send writes cmd to the Ready session for address, see Dispatcher.Send.
// A command for an address without a Ready session is dropped; the returned
// ErrWriteTargetAbsent is informational and callers may ignore it.
func (m *Manager) Send(address string, cmd Command) error {
	return m.dispatcher.Send(address, cmd)
}

// State reports the session state for address
func (m *Manager) State(address string) ReadyState {
	return m.registry.State(address)
}

// Sessions returns the addresses of live sessions
func (m *Manager) Sessions() []string {
	return m.registry.Addresses()
}

// CloseAll tears down every session
func (m *Manager) CloseAll() {
	m.registry.CloseAll()
}

// Close stops scanning, tears down every session and closes the adapter.
// It must not be called from a Listener callback.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.scanner.Close()
		m.registry.CloseAll()
		close(m.closed)
		err = m.adapter.Close()
	})
	return err
}
