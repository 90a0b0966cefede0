// Package device defines the platform boundary of the motor client: the
// scanning radio, the GATT transport that issues connect, discovery and
// write requests, and the connectivity events those requests produce.
//
// Implementations live in sub-packages (go-ble, tinygo). They must deliver
// every outcome as an Event on the transport channel and never call back
// into the caller directly.
package device
