// Package controller owns one receiver session end to end: it connects
// and launches the receiver app, publishes media on the local streaming
// server, and translates front-end commands into protocol operations.
package controller

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"castbeam.app/castbeam/castprotocol"
	"castbeam.app/castbeam/httphandlers"
	"castbeam.app/castbeam/internal/config"
	"castbeam.app/castbeam/internal/metrics"
	"castbeam.app/castbeam/media"
	"castbeam.app/castbeam/utils"
)

// ErrNotConnected is returned for operations that need a live session.
var ErrNotConnected = errors.New("controller: not connected to a receiver")

// castSession is the protocol surface the controller drives. Implemented
// by *castprotocol.Session; tests substitute a fake.
type castSession interface {
	Connect(ctx context.Context, addr string, port int) error
	Launch(ctx context.Context, appID string) error
	Load(ctx context.Context, m castprotocol.LoadMedia) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	StopMedia(ctx context.Context) error
	SetVolume(ctx context.Context, level float64) error
	RefreshStatus(ctx context.Context) (castprotocol.CastStatus, error)
	State() castprotocol.State
	OnDisconnect(fn func(error))
	Close(stopMedia bool) error
}

// mediaServer is the streaming-server surface the controller manages.
// Implemented by *httphandlers.HTTPserver.
type mediaServer interface {
	StartServer(serverStarted chan<- error)
	StopServer()
	Addr() string
	SetMediaItem(item *media.Item, offset float64) string
	ClearMedia()
}

// mediaResolver probes file paths into items. Implemented by
// *media.Resolver.
type mediaResolver interface {
	Resolve(path string) (*media.Item, error)
}

// Controller drives one receiver at a time. Reconnection after a lost
// session is an explicit Connect call, never automatic.
type Controller struct {
	cfg     *config.Config
	metrics *metrics.Metrics

	mu         sync.Mutex
	session    castSession
	server     mediaServer
	resolver   mediaResolver
	deviceAddr string
	baseURL    string
	current    *media.Item

	statusLimiter *rate.Limiter
	lastStatus    castprotocol.CastStatus

	Logger      zerolog.Logger
	LogOutput   io.Writer
	initLogOnce sync.Once
}

// New builds a controller from configuration. Metrics may be nil when
// observability is not wired up (tests).
func New(cfg *config.Config, m *metrics.Metrics) *Controller {
	c := &Controller{
		cfg:           cfg,
		metrics:       m,
		resolver:      media.NewResolver(cfg.FFmpegPath),
		statusLimiter: rate.NewLimiter(rate.Limit(cfg.StatusPollRate), 1),
	}
	return c
}

// Log returns the zerolog logger, initializing it lazily if LogOutput is
// set.
func (c *Controller) Log() *zerolog.Logger {
	if c.LogOutput != nil {
		c.initLogOnce.Do(func() {
			c.Logger = zerolog.New(c.LogOutput).With().Timestamp().Logger()
		})
	}
	return &c.Logger
}

// Connect dials the receiver, launches the default media receiver app and
// brings up the streaming server on the interface routing to the device.
// Calling it while connected tears the old session down first.
func (c *Controller) Connect(ctx context.Context, host string, port int) error {
	c.Disconnect()

	deviceAddr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	conn := castprotocol.NewConnection(
		castprotocol.WithHeartbeatInterval(c.cfg.HeartbeatInterval),
		castprotocol.WithHeartbeatTimeout(c.cfg.HeartbeatTimeout),
		castprotocol.WithConnLogOutput(c.LogOutput),
	)
	session := castprotocol.NewSession(conn,
		castprotocol.WithLaunchTimeout(c.cfg.LaunchTimeout),
		castprotocol.WithSessionLogOutput(c.LogOutput),
	)
	session.OnDisconnect(c.onSessionLost)

	if err := session.Connect(ctx, host, port); err != nil {
		return err
	}

	if err := session.Launch(ctx, castprotocol.DefaultMediaReceiverAppID); err != nil {
		_ = session.Close(false)
		return err
	}

	listenAddr, err := c.streamListenAddr(deviceAddr)
	if err != nil {
		_ = session.Close(false)
		return err
	}

	server := httphandlers.NewServer(listenAddr, c.cfg.FFmpegPath,
		httphandlers.WithStreamWait(c.cfg.StreamWait),
		httphandlers.WithBufferCap(c.cfg.BufferCapBytes),
		httphandlers.WithServerLogOutput(c.LogOutput),
		httphandlers.WithOnStall(c.onStreamStall),
		httphandlers.WithOnServed(c.onMediaServed),
	)

	serverStarted := make(chan error)
	go server.StartServer(serverStarted)
	if err := <-serverStarted; err != nil {
		_ = session.Close(false)
		return err
	}

	c.mu.Lock()
	c.session = session
	c.server = server
	c.deviceAddr = deviceAddr
	c.baseURL = "http://" + server.Addr()
	c.current = nil
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Connects.Inc()
	}
	c.Log().Debug().Str("Method", "Connect").Str("Device", deviceAddr).Str("BaseURL", c.baseURL).Msg("controller connected")
	return nil
}

// streamListenAddr picks where the media server binds. A configured fixed
// port wins; the host still defaults to the interface routing to the
// device, since that is the only one the receiver is known to reach.
func (c *Controller) streamListenAddr(deviceAddr string) (string, error) {
	host, port, err := net.SplitHostPort(c.cfg.StreamAddr)
	if err != nil || port == "" || port == "0" {
		return utils.DeviceListenAddr(deviceAddr)
	}

	if host == "" {
		routed, derr := utils.DeviceListenAddr(deviceAddr)
		if derr != nil {
			return "", derr
		}
		host, _, _ = net.SplitHostPort(routed)
	}
	return net.JoinHostPort(host, port), nil
}

func (c *Controller) onSessionLost(cause error) {
	if c.metrics != nil {
		c.metrics.Disconnects.Inc()
	}
	c.Log().Error().Str("Method", "onSessionLost").Err(cause).Msg("receiver session lost")

	c.mu.Lock()
	server := c.server
	c.mu.Unlock()
	if server != nil {
		server.ClearMedia()
	}
}

func (c *Controller) onMediaServed(status int, bytes int64) {
	if c.metrics == nil {
		return
	}
	c.metrics.BytesServed.Add(float64(bytes))
	c.metrics.RangeRequests.WithLabelValues(fmt.Sprintf("%dxx", status/100)).Inc()
}

func (c *Controller) onStreamStall() {
	if c.metrics != nil {
		c.metrics.StreamStalls.Inc()
	}
	c.Log().Warn().Str("Method", "onStreamStall").Msg("transcode output stalled")
}

// Disconnect closes the session and the streaming server, if any.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	session := c.session
	server := c.server
	c.session = nil
	c.server = nil
	c.current = nil
	c.mu.Unlock()

	if session != nil {
		_ = session.Close(true)
	}
	if server != nil {
		server.StopServer()
	}
}

func (c *Controller) live() (castSession, mediaServer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.server == nil {
		return nil, nil, ErrNotConnected
	}
	return c.session, c.server, nil
}

// Load resolves path and starts playing it on the receiver. When the
// receiver rejects a natively served file anyway, the load is retried once
// through the transcode pipeline.
func (c *Controller) Load(ctx context.Context, path string) error {
	session, server, err := c.live()
	if err != nil {
		return err
	}

	item, err := c.resolver.Resolve(path)
	if err != nil {
		return err
	}

	if err := c.loadItem(ctx, session, server, item, 0); err != nil {
		if errors.Is(err, castprotocol.ErrLoadFailed) && item.Castable {
			c.Log().Warn().Str("Method", "Load").Str("Path", path).Msg("receiver rejected native format, retrying with transcode")
			item.Castable = false
			item.ContentType = media.TranscodeContentType
			if c.metrics != nil {
				c.metrics.TranscodeRestarts.Inc()
			}
			err = c.loadItem(ctx, session, server, item, 0)
		}
		if err != nil {
			server.ClearMedia()
			return err
		}
	}

	c.mu.Lock()
	c.current = item
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.MediaLoads.Inc()
		if !item.Castable {
			c.metrics.TranscodeStarts.Inc()
		}
	}
	return nil
}

func (c *Controller) loadItem(ctx context.Context, session castSession, server mediaServer, item *media.Item, offset float64) error {
	urlPath := server.SetMediaItem(item, offset)

	c.mu.Lock()
	mediaURL := c.baseURL + urlPath
	c.mu.Unlock()

	return session.Load(ctx, castprotocol.LoadMedia{
		URL:         mediaURL,
		ContentType: item.ContentType,
		Duration:    item.Duration,
		StartTime:   offset,
		Autoplay:    true,
		Title:       item.Path,
	})
}

// Play resumes playback.
func (c *Controller) Play(ctx context.Context) error {
	session, _, err := c.live()
	if err != nil {
		return err
	}
	return c.counted("play", session.Play(ctx))
}

// Pause pauses playback.
func (c *Controller) Pause(ctx context.Context) error {
	session, _, err := c.live()
	if err != nil {
		return err
	}
	return c.counted("pause", session.Pause(ctx))
}

// Stop stops playback and unpublishes the media item.
func (c *Controller) Stop(ctx context.Context) error {
	session, server, err := c.live()
	if err != nil {
		return err
	}

	err = session.StopMedia(ctx)
	if err == nil {
		server.ClearMedia()
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
	}
	return c.counted("stop", err)
}

// SetVolume sets the receiver volume (0.0 to 1.0).
func (c *Controller) SetVolume(ctx context.Context, level float64) error {
	session, _, err := c.live()
	if err != nil {
		return err
	}
	return c.counted("volume", session.SetVolume(ctx, level))
}

// Seek jumps to a position in seconds. A natively served file seeks on the
// receiver; a transcoded stream cannot (the pipeline output is sequential),
// so the job is restarted at the offset and the receiver reloaded.
func (c *Controller) Seek(ctx context.Context, seconds float64) error {
	session, server, err := c.live()
	if err != nil {
		return err
	}

	c.mu.Lock()
	item := c.current
	c.mu.Unlock()

	if item != nil && !item.Castable {
		c.Log().Debug().Str("Method", "Seek").Float64("Seconds", seconds).Msg("restarting pipeline for seek")
		if c.metrics != nil {
			c.metrics.TranscodeRestarts.Inc()
		}
		return c.counted("seek", c.loadItem(ctx, session, server, item, seconds))
	}

	return c.counted("seek", session.Seek(ctx, seconds))
}

// Status returns the playback snapshot. Receiver round-trips are rate
// limited; between refreshes the cached snapshot is served.
func (c *Controller) Status(ctx context.Context) castprotocol.CastStatus {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return castprotocol.CastStatus{State: castprotocol.StateDisconnected}
	}

	if c.statusLimiter.Allow() {
		status, err := session.RefreshStatus(ctx)
		if err == nil {
			c.mu.Lock()
			c.lastStatus = status
			c.mu.Unlock()
			return status
		}
	}

	c.mu.Lock()
	cached := c.lastStatus
	c.mu.Unlock()
	cached.State = session.State()
	return cached
}

// DeviceAddr reports the connected receiver's address, empty when
// disconnected.
func (c *Controller) DeviceAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceAddr
}

func (c *Controller) counted(command string, err error) error {
	if c.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.metrics.Commands.WithLabelValues(command, outcome).Inc()
	}
	return err
}
