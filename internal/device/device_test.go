package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      *NotFoundError
		expected string
	}{
		{
			name:     "resource only",
			err:      &NotFoundError{Resource: "service"},
			expected: "service not found",
		},
		{
			name:     "single UUID",
			err:      &NotFoundError{Resource: "service", UUIDs: []string{"180d"}},
			expected: `service "180d" not found`,
		},
		{
			name:     "characteristic in service",
			err:      &NotFoundError{Resource: "characteristic", UUIDs: []string{"180d", "2a37"}},
			expected: `characteristic "2a37" not found in service "180d"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestConnectionError(t *testing.T) {
	t.Run("matches sentinel by state", func(t *testing.T) {
		err := fmt.Errorf("open AA:BB: %w", &ConnectionError{State: AlreadyConnected, Msg: "session exists"})

		assert.ErrorIs(t, err, ErrAlreadyConnected)
		assert.NotErrorIs(t, err, ErrNotConnected)
		assert.True(t, IsConnectionState(err, AlreadyConnected))
		assert.False(t, IsConnectionState(err, ConnectFailed))
	})

	t.Run("formats with and without message", func(t *testing.T) {
		assert.Equal(t, "not_connected", ErrNotConnected.Error())
		assert.Equal(t, "connection_failed: dial timeout", (&ConnectionError{State: ConnectFailed, Msg: "dial timeout"}).Error())

		var nilErr *ConnectionError
		assert.Equal(t, "<nil>", nilErr.Error())
	})
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{
			name:   "darwin powered off",
			err:    errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"),
			target: ErrBluetoothOff,
		},
		{
			name:   "linux missing adapter",
			err:    errors.New("can't init hci: no such device"),
			target: ErrBluetoothOff,
		},
		{
			name:   "peer gone",
			err:    errors.New("Device Not Connected"),
			target: ErrNotConnected,
		},
		{
			name:   "duplicate dial",
			err:    errors.New("device already connected"),
			target: ErrAlreadyConnected,
		},
		{
			name:   "missing platform feature",
			err:    errors.New("not implemented"),
			target: ErrUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.err)
			assert.ErrorIs(t, got, tt.target)
			assert.Contains(t, got.Error(), tt.err.Error(), "original message MUST be preserved")
		})
	}

	t.Run("passes through unknown errors", func(t *testing.T) {
		orig := errors.New("something else")
		assert.Same(t, orig, NormalizeError(orig))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, NormalizeError(nil))
	})
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "connected", EventConnected.String())
	assert.Equal(t, "services_resolved", EventServicesResolved.String())
	assert.Equal(t, "disconnected", EventDisconnected.String())
	assert.Equal(t, "connection_error", EventConnectionError.String())
	assert.Equal(t, "event(42)", EventKind(42).String())
}
