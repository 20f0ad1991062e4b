// Package utils holds small network and process helpers shared by the
// controller and the streaming server.
package utils

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
)

// DeviceListenAddr finds the local IP/interface that routes to the given
// receiver address and pairs it with a free TCP port. The streaming server
// must listen on the interface the receiver can reach, not whatever the OS
// default is.
func DeviceListenAddr(deviceAddr string) (string, error) {
	conn, err := net.Dial("udp", deviceAddr)
	if err != nil {
		return "", fmt.Errorf("DeviceListenAddr UDP call error: %w", err)
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("DeviceListenAddr: unexpected local address type")
	}
	ipToListen := localAddr.IP.String()

	portToListen, err := checkAndPickPort(ipToListen, 3500)
	if err != nil {
		return "", fmt.Errorf("DeviceListenAddr port error: %w", err)
	}

	return net.JoinHostPort(ipToListen, portToListen), nil
}

func checkAndPickPort(ip string, port int) (string, error) {
	const maxAttempts = 1000
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conn, err := net.Listen("tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
		if err != nil {
			if errors.Is(err, syscall.EADDRINUSE) {
				if attempt == maxAttempts {
					break
				}
				port++
				continue
			}

			return "", fmt.Errorf("port pick error: %w", err)
		}
		conn.Close()
		return strconv.Itoa(port), nil
	}

	return "", fmt.Errorf("port pick error. Exceeded maximum attempts")
}
