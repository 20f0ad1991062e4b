package devices

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/require"
)

func TestIsAudioOnlyCapability(t *testing.T) {
	tests := []struct {
		name      string
		caField   string
		audioOnly bool
	}{
		{"video capable", "4101", false},
		{"chromecast audio", "2052", true},
		{"zero capabilities", "0", true},
		{"bit zero set", "1", false},
		{"unparseable defaults to video", "not-a-number", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.audioOnly, isAudioOnlyCapability(tc.caField))
		})
	}
}

func TestUpsertFromMDNSEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:   "Chromecast-abc123._googlecast._tcp.local.",
		AddrV4: net.ParseIP("192.0.2.10"),
		Port:   8009,
		InfoFields: []string{
			"id=abc123",
			"fn=Living Room TV",
			"ca=4101",
		},
	}

	upsertFromMDNSEntry(entry)

	ccMu.Lock()
	dev, ok := castDevices["192.0.2.10:8009"]
	ccMu.Unlock()

	require.True(t, ok)
	require.Equal(t, "Living Room TV", dev.Name)
	require.Equal(t, "192.0.2.10", dev.Host)
	require.Equal(t, 8009, dev.Port)
	require.False(t, dev.IsAudioOnly)
}

func TestUpsertAudioOnlySpeaker(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:   "Google-Home-def456._googlecast._tcp.local.",
		AddrV4: net.ParseIP("192.0.2.11"),
		Port:   8009,
		InfoFields: []string{
			"fn=Kitchen Speaker",
			"ca=2052",
		},
	}

	upsertFromMDNSEntry(entry)

	ccMu.Lock()
	dev, ok := castDevices["192.0.2.11:8009"]
	ccMu.Unlock()

	require.True(t, ok)
	require.Equal(t, "Kitchen Speaker", dev.Name)
	require.True(t, dev.IsAudioOnly)
}

func TestUpsertIgnoresNonCastEntries(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:   "Printer._ipp._tcp.local.",
		AddrV4: net.ParseIP("192.0.2.12"),
		Port:   631,
	}

	upsertFromMDNSEntry(entry)

	ccMu.Lock()
	_, ok := castDevices["192.0.2.12:631"]
	ccMu.Unlock()
	require.False(t, ok)
}

func TestDevicePicker(t *testing.T) {
	devs := []Device{
		{Name: "Bedroom", Host: "192.0.2.2", Port: 8009},
		{Name: "Attic", Host: "192.0.2.1", Port: 8009},
		{Name: "Cellar", Host: "192.0.2.3", Port: 8009},
	}

	dev, err := DevicePicker(devs, 1)
	require.NoError(t, err)
	require.Equal(t, "Attic", dev.Name)

	dev, err = DevicePicker(devs, 3)
	require.NoError(t, err)
	require.Equal(t, "Cellar", dev.Name)

	_, err = DevicePicker(devs, 0)
	require.ErrorIs(t, err, ErrDeviceNotAvailable)

	_, err = DevicePicker(devs, 4)
	require.ErrorIs(t, err, ErrDeviceNotAvailable)

	_, err = DevicePicker(nil, 1)
	require.ErrorIs(t, err, ErrNoDeviceAvailable)
}

func TestDeviceAddr(t *testing.T) {
	dev := Device{Host: "192.0.2.20", Port: 8009}
	require.Equal(t, "192.0.2.20:8009", dev.Addr())
}
