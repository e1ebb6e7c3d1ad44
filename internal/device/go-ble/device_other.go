//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/flipble/internal/device"
)

func newDefaultDevice() (ble.Device, error) {
	return nil, fmt.Errorf("%w: go-ble has no %s support", device.ErrUnavailable, runtime.GOOS)
}
