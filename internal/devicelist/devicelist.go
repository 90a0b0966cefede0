// Package devicelist keeps the presentation view of discovered motor controllers.
package devicelist

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/motorctl/pkg/motor"
)

// DeviceRecord is one row of the device list
type DeviceRecord struct {
	Address   string `json:"address"`
	Name      string `json:"name"`
	RSSI      int    `json:"rssi"`
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

// List is a concurrency-safe, insertion-ordered set of records keyed by address
type List struct {
	mu      sync.RWMutex
	records *orderedmap.OrderedMap[string, *DeviceRecord]
}

func New() *List {
	return &List{records: orderedmap.New[string, *DeviceRecord]()}
}

// Add records p unless its address is already listed, in which case only the
// signal strength is refreshed. It reports whether a new record was added.
func (l *List) Add(p motor.Peripheral) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r, ok := l.records.Get(p.Address); ok {
		r.RSSI = p.RSSI
		return false
	}
	l.records.Set(p.Address, &DeviceRecord{
		Address: p.Address,
		Name:    p.DisplayName(),
		RSSI:    p.RSSI,
	})
	return true
}

// UpdateStatus mirrors a session notification. Unknown addresses are ignored.
func (l *List) UpdateStatus(address, status string, connected bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records.Get(address)
	if !ok {
		return false
	}
	r.Status = status
	r.Connected = connected
	return true
}

// Clear drops every record
func (l *List) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = orderedmap.New[string, *DeviceRecord]()
}

// Records returns copies of all records in discovery order
func (l *List) Records() []DeviceRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]DeviceRecord, 0, l.records.Len())
	for pair := l.records.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, *pair.Value)
	}
	return out
}

// Get returns a copy of the record for address
func (l *List) Get(address string) (DeviceRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.records.Get(address)
	if !ok {
		return DeviceRecord{}, false
	}
	return *r, true
}

// At returns the record at position i in discovery order
func (l *List) At(i int) (DeviceRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if i < 0 || i >= l.records.Len() {
		return DeviceRecord{}, false
	}
	pair := l.records.Oldest()
	for ; i > 0; i-- {
		pair = pair.Next()
	}
	return *pair.Value, true
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records.Len()
}
