// Package device defines the platform seam between the Flipper transport and a
// Bluetooth Low Energy stack.
//
// The interfaces follow the shape of a GATT client as exposed by host stacks:
//   - Platform: capability gate and device request (scan + chooser)
//   - Peripheral: a chosen device with a disconnect observer
//   - Server / Service / Characteristic / Descriptor: GATT resolution and I/O
//
// Backends live in sub-packages (go-ble, tinygo) and translate library errors
// into the sentinels declared here.
package device
