package devicefactory

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/motorctl/internal/device"
	"github.com/srg/motorctl/internal/device/go-ble"
	"github.com/srg/motorctl/internal/device/tinygo"
)

// Supported backend names
const (
	BackendGoBLE  = "go-ble"
	BackendTinyGo = "tinygo"
)

// Backends lists the accepted backend names, default first
var Backends = []string{BackendGoBLE, BackendTinyGo}

// AdapterFactory creates the platform adapter for a backend name.
// This is a variable so that it can be overridden in tests.
var AdapterFactory = func(backend string, logger *logrus.Logger, serviceUUID string) (device.Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendGoBLE:
		return goble.NewAdapter(logger), nil
	case BackendTinyGo:
		a, err := tinygo.NewAdapter(logger, serviceUUID)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown bluetooth backend %q (supported: %s)", backend, strings.Join(Backends, ", "))
	}
}

// NewAdapter creates the platform adapter for the given backend
func NewAdapter(backend string, logger *logrus.Logger, serviceUUID string) (device.Adapter, error) {
	return AdapterFactory(backend, logger, serviceUUID)
}
