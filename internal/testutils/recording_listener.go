package testutils

import (
	"fmt"
	"sync"
	"time"

	"github.com/srg/motorctl/pkg/motor"
)

// Notification kinds recorded by RecordingListener
const (
	NoteScanStarted  = "scan_started"
	NoteScanResult   = "scan_result"
	NoteScanFinished = "scan_finished"
	NoteState        = "state"
	NoteError        = "error"
)

// Note is one listener callback
type Note struct {
	Kind       string
	Peripheral motor.Peripheral
	Address    string
	Status     string
	Ready      bool
	Err        error
}

func (n Note) String() string {
	switch n.Kind {
	case NoteScanResult:
		return fmt.Sprintf("%s %s", n.Kind, n.Peripheral.Address)
	case NoteState:
		return fmt.Sprintf("%s %s %q ready=%v", n.Kind, n.Address, n.Status, n.Ready)
	case NoteError:
		return fmt.Sprintf("%s %v", n.Kind, n.Err)
	default:
		return n.Kind
	}
}

// RecordingListener records every motor.Listener callback in arrival order
type RecordingListener struct {
	mu    sync.Mutex
	notes []Note
}

func NewRecordingListener() *RecordingListener {
	return &RecordingListener{}
}

func (l *RecordingListener) add(n Note) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notes = append(l.notes, n)
}

func (l *RecordingListener) OnScanStarted() { l.add(Note{Kind: NoteScanStarted}) }

func (l *RecordingListener) OnScanResult(p motor.Peripheral) {
	l.add(Note{Kind: NoteScanResult, Peripheral: p})
}

func (l *RecordingListener) OnScanFinished() { l.add(Note{Kind: NoteScanFinished}) }

func (l *RecordingListener) OnDeviceStateChanged(address, status string, ready bool) {
	l.add(Note{Kind: NoteState, Address: address, Status: status, Ready: ready})
}

func (l *RecordingListener) OnError(err error) {
	l.add(Note{Kind: NoteError, Err: err})
}

// Notes returns a snapshot of everything recorded
func (l *RecordingListener) Notes() []Note {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Note(nil), l.notes...)
}

// Filter returns the recorded notes of one kind
func (l *RecordingListener) Filter(kind string) []Note {
	var out []Note
	for _, n := range l.Notes() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// States returns the status labels reported for address, in order
func (l *RecordingListener) States(address string) []string {
	var out []string
	for _, n := range l.Filter(NoteState) {
		if n.Address == address {
			out = append(out, n.Status)
		}
	}
	return out
}

// WaitFor polls until cond holds for the recorded notes or timeout elapses
func (l *RecordingListener) WaitFor(timeout time.Duration, cond func([]Note) bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond(l.Notes()) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// WaitForStatus waits until address has reported status
func (l *RecordingListener) WaitForStatus(address, status string, timeout time.Duration) bool {
	return l.WaitFor(timeout, func(notes []Note) bool {
		for _, n := range notes {
			if n.Kind == NoteState && n.Address == address && n.Status == status {
				return true
			}
		}
		return false
	})
}

// Reset forgets everything recorded so far
func (l *RecordingListener) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notes = nil
}
