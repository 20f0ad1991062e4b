// Package devices discovers cast receivers on the LAN and keeps a live
// cache of them. Discovery is continuous mDNS browsing with TCP liveness
// pruning; friendly names come from TXT records with the receiver's setup
// endpoint as a fallback.
package devices

import (
	"net"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

var (
	ErrNoDeviceAvailable  = errors.New("devices: no cast devices found")
	ErrDeviceNotAvailable = errors.New("devices: requested device not available")
)

// Device is one discovered cast receiver.
type Device struct {
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	IsAudioOnly bool   `json:"isAudioOnly"`
}

// Addr returns the device's host:port form.
func (d Device) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// DevicePicker picks the nth device (1-based) from the list, ordered by
// name for stable numbering across calls.
func DevicePicker(devs []Device, n int) (Device, error) {
	if len(devs) == 0 {
		return Device{}, ErrNoDeviceAvailable
	}
	if n <= 0 || n > len(devs) {
		return Device{}, ErrDeviceNotAvailable
	}

	sorted := make([]Device, len(devs))
	copy(sorted, devs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	return sorted[n-1], nil
}
