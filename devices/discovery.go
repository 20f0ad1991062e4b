package devices

import (
	"context"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	googlecastService = "_googlecast._tcp"

	// CapabilityVideoOut is the bitmask for video output capability (bit 0)
	// in the "ca" TXT field.
	CapabilityVideoOut = 1

	// mDNS query timeout per request
	queryTimeout = 750 * time.Millisecond
	// Faster polling while cache is empty for quick first discovery
	pollIntervalFast = 1 * time.Second
	// Slower polling once at least one device is known to reduce network load
	pollIntervalSlow = 4 * time.Second
	// Interface refresh cadence for add/remove changes
	ifaceRefreshInterval = 20 * time.Second
	// Liveness probe cadence for cached devices
	healthCheckInterval = 5 * time.Second
)

var (
	// castDevices caches discovered receivers, keyed by "host:port".
	castDevices = make(map[string]Device)
	ccMu        sync.Mutex
	warmupOnce  sync.Once
)

func upsertFromMDNSEntry(entry *mdns.ServiceEntry) {
	if entry == nil || entry.AddrV4 == nil {
		return
	}
	if !strings.Contains(entry.Name, "_googlecast") {
		return
	}

	friendlyName := entry.Name
	hadTXTName := false
	for _, txt := range entry.InfoFields {
		if after, ok := strings.CutPrefix(txt, "fn="); ok {
			friendlyName = after
			hadTXTName = true
			break
		}
	}
	if idx := strings.Index(friendlyName, "._googlecast"); idx > 0 {
		friendlyName = friendlyName[:idx]
	}

	isAudioOnly := false
	for _, txt := range entry.InfoFields {
		if after, ok := strings.CutPrefix(txt, "ca="); ok {
			isAudioOnly = isAudioOnlyCapability(after)
			break
		}
	}

	dev := Device{
		Name:        friendlyName,
		Host:        entry.AddrV4.String(),
		Port:        entry.Port,
		IsAudioOnly: isAudioOnly,
	}

	ccMu.Lock()
	_, known := castDevices[dev.Addr()]
	castDevices[dev.Addr()] = dev
	ccMu.Unlock()

	// Some receivers omit the fn= TXT record; ask their setup endpoint
	// once instead of showing the raw mDNS instance name.
	if !hadTXTName && !known {
		go enrichFriendlyName(dev)
	}
}

func enrichFriendlyName(dev Device) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	name, err := FetchFriendlyName(ctx, dev.Host)
	if err != nil {
		return
	}

	ccMu.Lock()
	if cached, ok := castDevices[dev.Addr()]; ok {
		cached.Name = name
		castDevices[dev.Addr()] = cached
	}
	ccMu.Unlock()
}

func warmupCache(timeout time.Duration) {
	interfaces := getActiveNetworkInterfaces()

	entriesCh := make(chan *mdns.ServiceEntry, 256)
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		for entry := range entriesCh {
			upsertFromMDNSEntry(entry)
		}
	}()

	queryIface := func(iface *net.Interface) {
		params := mdns.DefaultParams(googlecastService)
		params.Entries = entriesCh
		params.Timeout = timeout
		params.DisableIPv6 = true
		params.WantUnicastResponse = true
		params.Logger = log.New(io.Discard, "", 0)
		params.Interface = iface
		_ = mdns.Query(params)
	}

	if len(interfaces) > 0 {
		var wg sync.WaitGroup
		for _, iface := range interfaces {
			wg.Add(1)
			go func(iface net.Interface) {
				defer wg.Done()
				queryIface(&iface)
			}(iface)
		}
		wg.Wait()
	} else {
		queryIface(nil)
	}

	close(entriesCh)
	<-doneCh
}

func currentPollInterval() time.Duration {
	ccMu.Lock()
	hasDevices := len(castDevices) > 0
	ccMu.Unlock()
	if hasDevices {
		return pollIntervalSlow
	}
	return pollIntervalFast
}

// StartDiscoveryLoop continuously discovers cast receivers until ctx is
// cancelled, with adaptive polling and periodic liveness pruning of the
// cache.
func StartDiscoveryLoop(ctx context.Context) {
	go discoverDevices(ctx)
	go healthCheckDevices(ctx)
}

// discoverDevices browses on every active interface so hosts with multiple
// adapters (VPN, virtualization bridges) still reach the receiver's
// network.
func discoverDevices(ctx context.Context) {
	startPollingWorker := func(parent context.Context, iface *net.Interface) context.CancelFunc {
		entriesCh := make(chan *mdns.ServiceEntry, 256)
		workerCtx, cancel := context.WithCancel(parent)

		go func() {
			for {
				select {
				case <-workerCtx.Done():
					return
				case entry := <-entriesCh:
					upsertFromMDNSEntry(entry)
				}
			}
		}()

		go func() {
			pollTimer := time.NewTimer(0)
			defer pollTimer.Stop()

			for {
				select {
				case <-workerCtx.Done():
					return
				case <-pollTimer.C:
				}

				params := mdns.DefaultParams(googlecastService)
				params.Entries = entriesCh
				params.Timeout = queryTimeout
				params.DisableIPv6 = true
				params.WantUnicastResponse = true
				params.Logger = log.New(io.Discard, "", 0)
				if iface != nil {
					params.Interface = iface
				}
				_ = mdns.Query(params)

				pollTimer.Reset(currentPollInterval())
			}
		}()

		return cancel
	}

	pollWorkers := make(map[int]context.CancelFunc)
	refresh := func() {
		interfaces := getActiveNetworkInterfaces()

		active := make(map[int]net.Interface, len(interfaces))
		for _, iface := range interfaces {
			active[iface.Index] = iface

			if _, ok := pollWorkers[iface.Index]; ok {
				continue
			}

			pollIface := iface
			pollWorkers[iface.Index] = startPollingWorker(ctx, &pollIface)
		}

		for idx, cancel := range pollWorkers {
			if idx == -1 {
				continue
			}
			if _, ok := active[idx]; !ok {
				cancel()
				delete(pollWorkers, idx)
			}
		}

		// Index -1 is the default-interface fallback used when no usable
		// interface is found.
		if len(interfaces) == 0 {
			if _, ok := pollWorkers[-1]; !ok {
				pollWorkers[-1] = startPollingWorker(ctx, nil)
			}
		} else if cancel, ok := pollWorkers[-1]; ok {
			cancel()
			delete(pollWorkers, -1)
		}
	}

	warmupOnce.Do(func() {
		warmupCache(queryTimeout)
	})

	refresh()

	refreshTicker := time.NewTicker(ifaceRefreshInterval)
	defer refreshTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, cancel := range pollWorkers {
				cancel()
			}
			return
		case <-refreshTicker.C:
			refresh()
		}
	}
}

// getActiveNetworkInterfaces returns all interfaces that are up, multicast
// capable, not loopback, and carry an IPv4 address.
func getActiveNetworkInterfaces() []net.Interface {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var active []net.Interface
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 ||
			iface.Flags&net.FlagLoopback != 0 ||
			iface.Flags&net.FlagMulticast == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		hasIPv4 := false
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
					hasIPv4 = true
					break
				}
			}
		}

		if hasIPv4 {
			active = append(active, iface)
		}
	}

	return active
}

// healthCheckDevices drops cached devices that stop answering TCP.
func healthCheckDevices(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ccMu.Lock()
			for address := range castDevices {
				if !HostPortIsAlive(address) {
					delete(castDevices, address)
				}
			}
			ccMu.Unlock()
		}
	}
}

// Devices returns the current device cache, running a one-off warmup scan
// if the loop has not populated it yet.
func Devices() []Device {
	ccMu.Lock()
	cacheEmpty := len(castDevices) == 0
	ccMu.Unlock()
	if cacheEmpty {
		warmupOnce.Do(func() {
			warmupCache(queryTimeout)
		})
	}

	ccMu.Lock()
	defer ccMu.Unlock()

	result := make([]Device, 0, len(castDevices))
	for _, device := range castDevices {
		result = append(result, device)
	}
	return result
}

// HostPortIsAlive checks whether the device still accepts TCP connections
// at the given "host:port" address.
func HostPortIsAlive(address string) bool {
	conn, err := net.DialTimeout("tcp", address, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// isAudioOnlyCapability reads the "ca" TXT bitmask; a device without the
// video-out bit is audio only (Chromecast Audio, smart speakers).
func isAudioOnlyCapability(caField string) bool {
	ca, err := strconv.Atoi(caField)
	if err != nil {
		return false
	}
	return (ca & CapabilityVideoOut) == 0
}
