package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/motorctl/internal/device"
	"github.com/srg/motorctl/pkg/motor"
)

// Command-level errors
var (
	// ErrConnectTimeout indicates the controller did not become ready within --timeout.
	ErrConnectTimeout = errors.New("timed out waiting for the controller")

	// ErrConnectionLost indicates the session ended while a command was running.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNotFound indicates the scan window closed without seeing the requested controller.
	ErrNotFound = errors.New("controller not found")
)

// FormatUserError turns an error chain into one line for the terminal
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off, unavailable, or this program lacks permission to use it"
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("not supported on this platform: %v", err)
	case errors.Is(err, ErrConnectTimeout), errors.Is(err, ErrConnectionLost), errors.Is(err, ErrNotFound):
		return err.Error()
	case errors.Is(err, motor.ErrConnectionFailed):
		return fmt.Sprintf("could not connect: %v", err)
	}

	msg := err.Error()
	if len(msg) > 0 {
		msg = strings.ToUpper(msg[:1]) + msg[1:]
	}
	return msg
}
