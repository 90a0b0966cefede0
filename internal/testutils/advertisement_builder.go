package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/motorctl/internal/device"
)

// Advertisement is a static device.Advertisement used by tests
type Advertisement struct {
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Rssi        int      `json:"rssi"`
	ServiceList []string `json:"services"`
	IsConnect   bool     `json:"connectable"`
}

func (a *Advertisement) LocalName() string  { return a.Name }
func (a *Advertisement) Services() []string { return a.ServiceList }
func (a *Advertisement) RSSI() int          { return a.Rssi }
func (a *Advertisement) Addr() string       { return a.Address }
func (a *Advertisement) Connectable() bool  { return a.IsConnect }

// AdvertisementBuilder builds advertisements for scan tests.
// It provides a fluent API; unset fields keep their zero values except connectable, which defaults to true.
type AdvertisementBuilder struct {
	adv Advertisement
}

// NewAdvertisementBuilder creates a new AdvertisementBuilder with default values.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: Advertisement{IsConnect: true}}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Rssi = rssi
	return b
}

// WithServices adds service UUIDs to the advertisement.
// UUIDs are normalized the way the backends report them.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	for _, u := range uuids {
		b.adv.ServiceList = append(b.adv.ServiceList, device.NormalizeUUID(u))
	}
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.IsConnect = c
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)
	adv := Advertisement{IsConnect: true}
	if err := json.Unmarshal([]byte(jsonStr), &adv); err != nil {
		panic(fmt.Sprintf("FromJSON: failed to unmarshal advertisement: %v", err))
	}
	services := adv.ServiceList
	adv.ServiceList = nil
	b.adv = adv
	return b.WithServices(services...)
}

// Build returns a copy of the configured advertisement
func (b *AdvertisementBuilder) Build() device.Advertisement {
	adv := b.adv
	adv.ServiceList = append([]string(nil), b.adv.ServiceList...)
	return &adv
}
