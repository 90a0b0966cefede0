package motor

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Dispatcher writes one-byte commands to Ready sessions.
type Dispatcher struct {
	registry *Registry
	logger   *logrus.Logger
}

// NewDispatcher creates a dispatcher writing through the registry's sessions
func NewDispatcher(registry *Registry, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Send issues a fire-and-forget write of cmd to the session for address.
// Without a Ready session the command is dropped and ErrWriteTargetAbsent is
// returned; the outcome of an issued write is never reported.
func (d *Dispatcher) Send(address string, cmd Command) error {
	conn, char, err := d.registry.target(address)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"address": address,
			"command": cmd,
		}).Debug("Dropping command, no ready session")
		return err
	}

	d.logger.WithFields(logrus.Fields{
		"address": address,
		"command": cmd,
		"payload": fmt.Sprintf("%02x", byte(cmd)),
	}).Debug("Writing command")
	conn.Write(char, []byte{byte(cmd)})
	return nil
}
