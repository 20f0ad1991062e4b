package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"castbeam.app/castbeam/devices"
)

func TestResolveTarget(t *testing.T) {
	devs := []devices.Device{
		{Name: "Bedroom", Host: "192.0.2.2", Port: 8009},
		{Name: "Attic", Host: "192.0.2.1", Port: 8010},
	}

	tests := []struct {
		name    string
		target  string
		host    string
		port    int
		wantErr error
	}{
		{"bare host", "192.0.2.9", "192.0.2.9", 8009, nil},
		{"host with port", "192.0.2.9:9000", "192.0.2.9", 9000, nil},
		{"device number picks by sorted name", "1", "192.0.2.1", 8010, nil},
		{"second device", "2", "192.0.2.2", 8009, nil},
		{"number out of range", "3", "", 0, devices.ErrDeviceNotAvailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			host, port, err := resolveTarget(tc.target, devs)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.host, host)
			require.Equal(t, tc.port, port)
		})
	}
}

func TestResolveTargetNumberWithNoDevices(t *testing.T) {
	_, _, err := resolveTarget("1", nil)
	require.ErrorIs(t, err, devices.ErrNoDeviceAvailable)
}
