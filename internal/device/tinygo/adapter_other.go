//go:build !linux && !darwin && !windows

package tinygo

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/motorctl/internal/device"
)

// Adapter is unavailable on this platform
type Adapter struct {
	device.Adapter
}

// NewAdapter always fails on platforms tinygo bluetooth does not support
func NewAdapter(_ *logrus.Logger, _ ...string) (*Adapter, error) {
	return nil, fmt.Errorf("tinygo bluetooth backend: %w", device.ErrUnsupported)
}
