package motor

import (
	"errors"

	"github.com/srg/motorctl/internal/device"
)

// Session errors. None of them reach the Listener; it only sees status labels.
var (
	// ErrAlreadyConnected is returned by Open when a session exists for the address
	ErrAlreadyConnected = device.ErrAlreadyConnected

	// ErrConnectionFailed is the terminal outcome of a refused or failed connection
	ErrConnectionFailed = device.ErrConnectFailed

	// ErrCharacteristicNotFound is the terminal outcome of a discovery that did not find CharacteristicUUID
	ErrCharacteristicNotFound = &device.NotFoundError{Resource: "characteristic", UUIDs: []string{ServiceUUID, CharacteristicUUID}}

	// ErrWriteTargetAbsent is returned by Send when the address has no Ready session
	ErrWriteTargetAbsent = errors.New("no ready characteristic for address")
)
