package devicelist_test

import (
	"sync"
	"testing"

	"github.com/srg/motorctl/internal/devicelist"
	"github.com/srg/motorctl/pkg/motor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd_DeduplicatesByAddress(t *testing.T) {
	l := devicelist.New()

	assert.True(t, l.Add(motor.Peripheral{Address: "AA:BB", Name: "Motor-1", RSSI: -70}))
	assert.True(t, l.Add(motor.Peripheral{Address: "CC:DD", RSSI: -60}))
	assert.False(t, l.Add(motor.Peripheral{Address: "AA:BB", Name: "Renamed", RSSI: -40}), "duplicate address MUST NOT add a row")

	assert.Equal(t, []devicelist.DeviceRecord{
		{Address: "AA:BB", Name: "Motor-1", RSSI: -40},
		{Address: "CC:DD", Name: "CC:DD", RSSI: -60},
	}, l.Records(), "records MUST keep discovery order and refresh RSSI only")
}

func TestUpdateStatus(t *testing.T) {
	l := devicelist.New()
	l.Add(motor.Peripheral{Address: "AA:BB", Name: "Motor"})

	assert.True(t, l.UpdateStatus("AA:BB", motor.StatusConnected, true))
	assert.False(t, l.UpdateStatus("EE:FF", motor.StatusConnecting, false), "unknown address MUST be ignored")

	r, ok := l.Get("AA:BB")
	require.True(t, ok)
	assert.Equal(t, motor.StatusConnected, r.Status)
	assert.True(t, r.Connected)

	_, ok = l.Get("EE:FF")
	assert.False(t, ok)
	assert.Equal(t, 1, l.Len())
}

func TestRecords_AreCopies(t *testing.T) {
	l := devicelist.New()
	l.Add(motor.Peripheral{Address: "AA:BB"})

	records := l.Records()
	records[0].Status = "tampered"

	r, _ := l.Get("AA:BB")
	assert.Empty(t, r.Status, "callers MUST NOT mutate the list through returned records")
}

func TestAt(t *testing.T) {
	l := devicelist.New()
	l.Add(motor.Peripheral{Address: "01"})
	l.Add(motor.Peripheral{Address: "02"})
	l.Add(motor.Peripheral{Address: "03"})

	r, ok := l.At(2)
	require.True(t, ok)
	assert.Equal(t, "03", r.Address)

	_, ok = l.At(3)
	assert.False(t, ok)
	_, ok = l.At(-1)
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	l := devicelist.New()
	l.Add(motor.Peripheral{Address: "AA:BB"})
	l.Clear()

	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Records())
	assert.True(t, l.Add(motor.Peripheral{Address: "AA:BB"}), "address MUST be addable again after Clear")
}

func TestConcurrentAccess(t *testing.T) {
	l := devicelist.New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Add(motor.Peripheral{Address: "AA:BB", RSSI: -j})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.UpdateStatus("AA:BB", motor.StatusConnecting, false)
				_ = l.Records()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, l.Len())
}
