package motor

// Listener receives scan and session notifications.
//
// Callbacks are made from the goroutine that caused them (the caller of
// StartScan or Connect, the scan goroutine, the scan timer, or the event
// pump) without any lock held. Notifications for one session, and for one
// scan, are delivered in order. Implementations decide their own thread
// affinity.
//
// OnDeviceStateChanged may call back into the manager (State, Send, Connect,
// CloseAll); a notification caused by such a call is delivered after the
// current one returns. No callback may call Manager.Close: it waits for the
// running scan to deliver OnScanFinished, and for the callback itself.
type Listener interface {
	OnScanStarted()
	OnScanResult(p Peripheral)
	OnScanFinished()
	OnDeviceStateChanged(address, status string, ready bool)
}

// ErrorListener is optionally implemented by a Listener that wants to hear
// about platform failures (radio off, missing permission) which otherwise
// only show up in the log.
type ErrorListener interface {
	OnError(err error)
}

// NopListener ignores every notification
type NopListener struct{}

func (NopListener) OnScanStarted()                            {}
func (NopListener) OnScanResult(Peripheral)                   {}
func (NopListener) OnScanFinished()                           {}
func (NopListener) OnDeviceStateChanged(string, string, bool) {}

func reportError(l Listener, err error) {
	if el, ok := l.(ErrorListener); ok && err != nil {
		el.OnError(err)
	}
}
