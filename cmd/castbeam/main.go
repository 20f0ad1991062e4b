package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"castbeam.app/castbeam/api"
	"castbeam.app/castbeam/controller"
	"castbeam.app/castbeam/devices"
	"castbeam.app/castbeam/internal/config"
	"castbeam.app/castbeam/internal/metrics"
	"castbeam.app/castbeam/utils"
)

var (
	version string
	build   string

	videoArg   = flag.String("v", "", "Path to the media file to cast immediately. (Requires -t)")
	targetPtr  = flag.String("t", "", "Cast to a device host[:port], or a device number from -l.")
	listPtr    = flag.Bool("l", false, "List all discovered cast devices.")
	versionPtr = flag.Bool("version", false, "Print version.")
)

func main() {
	flag.Parse()

	if *versionPtr {
		fmt.Printf("castbeam version %s, build %s\n", version, build)
		os.Exit(0)
	}

	cfg := config.Load()

	logWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	logger := zerolog.New(logWriter).With().Timestamp().Logger()

	if *listPtr {
		listDevices()
		os.Exit(0)
	}

	check(utils.CheckFFmpeg(cfg.FFmpegPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devices.StartDiscoveryLoop(ctx)

	m := metrics.New()
	ctrl := controller.New(cfg, m)
	if cfg.Debug {
		ctrl.LogOutput = logWriter
	}

	if *videoArg != "" {
		if *targetPtr == "" {
			check(fmt.Errorf("-v requires a target device (-t host[:port])"))
		}
		host, port, err := resolveTarget(*targetPtr, devices.Devices())
		check(err)

		check(ctrl.Connect(ctx, host, port))
		check(ctrl.Load(ctx, *videoArg))
		logger.Info().Str("Device", ctrl.DeviceAddr()).Str("File", *videoArg).Msg("casting")
	}

	apiServer := api.New(ctrl, devices.Devices)
	logger.Info().Str("Addr", cfg.APIAddr).Msg("control API listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return apiServer.Run(cfg.APIAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		ctrl.Disconnect()
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		check(err)
	}
}

func listDevices() {
	devs := devices.Devices()
	if len(devs) == 0 {
		fmt.Println("No cast devices found.")
		return
	}

	sort.Slice(devs, func(i, j int) bool { return devs[i].Name < devs[j].Name })
	fmt.Println("Discovered cast devices:")
	for i, dev := range devs {
		kind := ""
		if dev.IsAudioOnly {
			kind = " (audio only)"
		}
		fmt.Printf(" %d: %s%s at %s\n", i+1, dev.Name, kind, dev.Addr())
	}
}

// resolveTarget accepts a device number from the -l listing or a
// host[:port] address.
func resolveTarget(target string, devs []devices.Device) (string, int, error) {
	if n, err := strconv.Atoi(target); err == nil {
		dev, perr := devices.DevicePicker(devs, n)
		if perr != nil {
			return "", 0, perr
		}
		return dev.Host, dev.Port, nil
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		// Bare host, default receiver port.
		return target, 8009, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", target, err)
	}
	return host, port, nil
}

func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encountered error(s): %s\n", err)
		os.Exit(1)
	}
}
