package castprotocol

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	pb "castbeam.app/castbeam/castprotocol/proto"
)

// State is the cast session lifecycle state.
type State string

const (
	StateDisconnected   State = "DISCONNECTED"
	StateConnecting     State = "CONNECTING"
	StateConnected      State = "CONNECTED"
	StateAuthenticating State = "AUTHENTICATING"
	StateReady          State = "READY"
	StateAppLaunching   State = "APP_LAUNCHING"
	StateAppReady       State = "APP_READY"
	StateMediaLoading   State = "MEDIA_LOADING"
	StateMediaActive    State = "MEDIA_ACTIVE"
)

var (
	// ErrLaunchFailed means the receiver did not confirm the application
	// launch in time.
	ErrLaunchFailed = errors.New("castprotocol: app launch failed")

	// ErrLoadFailed means the receiver rejected the LOAD, usually because
	// it cannot play the served format.
	ErrLoadFailed = errors.New("castprotocol: media load failed")

	// ErrInvalidState is returned for commands issued outside the state
	// they are valid in.
	ErrInvalidState = errors.New("castprotocol: command not valid in current state")
)

const defaultLaunchTimeout = 10 * time.Second

// LoadMedia describes what the receiver should fetch and play.
type LoadMedia struct {
	URL         string
	ContentType string
	Duration    float64
	StartTime   float64
	Autoplay    bool
	Title       string
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLaunchTimeout overrides the receiver-app launch window.
func WithLaunchTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.launchTimeout = d }
}

// WithSessionLogOutput enables structured logging for the session.
func WithSessionLogOutput(w io.Writer) SessionOption {
	return func(s *Session) { s.LogOutput = w }
}

// Session drives the high-level cast lifecycle over one connection:
// connect, authenticate, launch the receiver app, establish a media
// session, issue playback commands and observe status. All session state
// lives here, mutated only by transition logic under a single lock.
type Session struct {
	conn Conn
	mux  *Multiplexer

	mu          sync.Mutex
	state       State
	app         *ApplicationStatus
	mediaSessID int
	status      CastStatus

	launchTimeout time.Duration
	onDisconnect  func(error)
	disconnected  sync.Once

	Logger      zerolog.Logger
	LogOutput   io.Writer
	initLogOnce sync.Once
}

// NewSession wraps a Conn in a fresh, disconnected session.
func NewSession(conn Conn, opts ...SessionOption) *Session {
	s := &Session{
		conn:          conn,
		mux:           NewMultiplexer(conn),
		state:         StateDisconnected,
		launchTimeout: defaultLaunchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.LogOutput = s.LogOutput
	return s
}

// Log returns the zerolog logger, initializing it lazily if LogOutput is
// set.
func (s *Session) Log() *zerolog.Logger {
	if s.LogOutput != nil {
		s.initLogOnce.Do(func() {
			s.Logger = zerolog.New(s.LogOutput).With().Timestamp().Logger()
		})
	}
	return &s.Logger
}

// OnDisconnect registers the controller's teardown observer. Reconnection
// is the controller's call, never the session's.
func (s *Session) OnDisconnect(fn func(error)) {
	s.mu.Lock()
	s.onDisconnect = fn
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the last-known playback snapshot.
func (s *Session) Status() CastStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.State = s.state
	return st
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// transition moves from one expected state to the next, refusing to step
// on a concurrent disconnect.
func (s *Session) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return errors.Wrapf(ErrInvalidState, "expected %s, in %s", from, s.state)
	}
	s.state = to
	return nil
}

// Connect establishes the transport, authenticates, opens the virtual
// connection channel and confirms the receiver is talking to us.
func (s *Session) Connect(ctx context.Context, addr string, port int) error {
	if err := s.transition(StateDisconnected, StateConnecting); err != nil {
		return err
	}

	s.Log().Debug().Str("Method", "Connect").Str("Host", addr).Int("Port", port).Msg("connecting")

	if err := s.conn.Start(addr, port); err != nil {
		s.setState(StateDisconnected)
		if errors.Is(err, ErrAuthFailed) {
			return err
		}
		return errors.Wrap(err, "castprotocol: connect")
	}
	s.setState(StateConnected)

	s.mux.RegisterHandler(namespaceReceiver, s.handleReceiverMessage)
	s.mux.RegisterHandler(namespaceMedia, s.handleMediaMessage)
	go s.mux.Run()
	go s.watchDisconnect()

	// The CONNECT exchange is the application-layer handshake; a receiver
	// that answers the follow-up GET_STATUS has accepted us.
	s.setState(StateAuthenticating)

	connect := connectHeader
	if err := s.mux.Send(&connect, defaultSender, defaultRecv, namespaceConnection); err != nil {
		s.teardown(errors.Wrap(err, "castprotocol: virtual connect"))
		return errors.Wrap(ErrAuthFailed, err.Error())
	}

	getStatus := getStatusHeader
	if _, err := s.mux.SendRequest(ctx, &getStatus, defaultSender, defaultRecv, namespaceReceiver); err != nil {
		s.teardown(err)
		return errors.Wrap(ErrAuthFailed, err.Error())
	}

	s.setState(StateReady)
	s.Log().Debug().Str("Method", "Connect").Msg("session ready")
	return nil
}

func (s *Session) watchDisconnect() {
	<-s.conn.Done()
	s.markDisconnected(s.conn.Err())
}

// markDisconnected is the single path into the terminal state; it runs at
// most once per connection.
func (s *Session) markDisconnected(cause error) {
	s.disconnected.Do(func() {
		s.mu.Lock()
		s.state = StateDisconnected
		s.app = nil
		s.mediaSessID = 0
		fn := s.onDisconnect
		s.mu.Unlock()

		s.Log().Error().Str("Method", "markDisconnected").Err(cause).Msg("session lost")
		if fn != nil {
			fn(cause)
		}
	})
}

func (s *Session) teardown(cause error) {
	_ = s.conn.Close()
	s.markDisconnected(cause)
}

// Launch starts the given receiver application and connects to its
// transport. From Ready it moves through AppLaunching to AppReady.
func (s *Session) Launch(ctx context.Context, appID string) error {
	s.mu.Lock()
	if s.state == StateAppReady && s.app != nil && s.app.AppId == appID {
		s.mu.Unlock()
		return nil
	}
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalidState, "launch from %s", state)
	}
	s.state = StateAppLaunching
	s.mu.Unlock()

	s.Log().Debug().Str("Method", "Launch").Str("AppID", appID).Msg("launching receiver app")

	launchCtx, cancel := context.WithTimeout(ctx, s.launchTimeout)
	defer cancel()

	msg, err := s.mux.SendRequest(launchCtx, &LaunchRequest{
		PayloadHeader: launchHeader,
		AppId:         appID,
	}, defaultSender, defaultRecv, namespaceReceiver)
	if err != nil {
		return s.launchFailed(err)
	}

	app, perr := appFromReceiverStatus(msg, appID)
	if perr != nil {
		return s.launchFailed(perr)
	}

	// Open the virtual channel to the launched app before any media
	// command addresses it.
	connect := connectHeader
	if err := s.mux.Send(&connect, defaultSender, app.TransportId, namespaceConnection); err != nil {
		return s.launchFailed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAppLaunching {
		// Transport died while we were waiting; stay Disconnected.
		return ErrSessionLost
	}
	s.app = app
	s.status.AppID = app.AppId
	s.state = StateAppReady
	return nil
}

func (s *Session) launchFailed(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAppLaunching {
		s.state = StateReady
	}
	if errors.Is(cause, ErrSessionLost) {
		return cause
	}
	s.Log().Error().Str("Method", "Launch").Err(cause).Msg("launch failed")
	return errors.Wrap(ErrLaunchFailed, cause.Error())
}

func appFromReceiverStatus(msg *pb.CastMessage, appID string) (*ApplicationStatus, error) {
	payload := []byte(msg.GetPayloadUtf8())
	tag, _ := jsonparser.GetString(payload, "type")

	switch tag {
	case typeReceiverStatus:
		var resp ReceiverStatusResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			return nil, errors.Wrap(err, "unmarshal receiver status")
		}
		for i := range resp.Status.Applications {
			app := resp.Status.Applications[i]
			if app.AppId == appID && app.TransportId != "" {
				return &app, nil
			}
		}
		return nil, errors.New("launched app missing from receiver status")
	case typeLaunchError:
		return nil, errors.New("receiver rejected launch")
	default:
		return nil, errors.Errorf("unexpected response %q to LAUNCH", tag)
	}
}

// Load points the receiver at a media URL and waits for the media session
// to come up. From AppReady it moves through MediaLoading to MediaActive.
func (s *Session) Load(ctx context.Context, m LoadMedia) error {
	s.mu.Lock()
	if s.state != StateAppReady && s.state != StateMediaActive {
		state := s.state
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalidState, "load from %s", state)
	}
	app := s.app
	s.state = StateMediaLoading
	s.mu.Unlock()

	s.Log().Debug().Str("Method", "Load").Str("URL", m.URL).Str("ContentType", m.ContentType).Float64("StartTime", m.StartTime).Msg("loading media")

	load := &LoadRequest{
		PayloadHeader: loadHeader,
		Media: MediaItemPayload{
			ContentId:   m.URL,
			ContentType: m.ContentType,
			StreamType:  "BUFFERED",
			Duration:    m.Duration,
		},
		CurrentTime: m.StartTime,
		Autoplay:    m.Autoplay,
	}
	if m.Title != "" {
		load.Media.Metadata = &MediaMetadata{Title: m.Title}
	}

	msg, err := s.requestWithRetry(ctx, load, app.TransportId, namespaceMedia)
	if err != nil {
		return s.loadFailed(err)
	}

	status, perr := mediaStatusFromResponse(msg)
	if perr != nil {
		return s.loadFailed(perr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateMediaLoading {
		return ErrSessionLost
	}
	s.mediaSessID = status.MediaSessionId
	s.applyMediaStatusLocked(status)
	s.state = StateMediaActive
	return nil
}

func (s *Session) loadFailed(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateMediaLoading {
		s.state = StateAppReady
	}
	if errors.Is(cause, ErrSessionLost) {
		return cause
	}
	s.Log().Error().Str("Method", "Load").Err(cause).Msg("load failed")
	return errors.Wrap(ErrLoadFailed, cause.Error())
}

func mediaStatusFromResponse(msg *pb.CastMessage) (*MediaStatus, error) {
	payload := []byte(msg.GetPayloadUtf8())
	tag, _ := jsonparser.GetString(payload, "type")

	switch tag {
	case typeMediaStatus:
		var resp MediaStatusResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			return nil, errors.Wrap(err, "unmarshal media status")
		}
		if len(resp.Status) == 0 {
			return nil, errors.New("empty media status")
		}
		return &resp.Status[0], nil
	case typeLoadFailed, typeLoadCancelled, typeInvalidRequest:
		return nil, errors.Errorf("receiver answered %s", tag)
	default:
		return nil, errors.Errorf("unexpected response %q to LOAD", tag)
	}
}

// requestWithRetry retries a timed-out command exactly once before
// surfacing the failure.
func (s *Session) requestWithRetry(ctx context.Context, payload Payload, destination, namespace string) (*pb.CastMessage, error) {
	msg, err := s.mux.SendRequest(ctx, payload, defaultSender, destination, namespace)
	if errors.Is(err, ErrRequestTimeout) {
		s.Log().Warn().Str("Method", "requestWithRetry").Msg("retrying timed out request")
		msg, err = s.mux.SendRequest(ctx, payload, defaultSender, destination, namespace)
	}
	return msg, err
}

// mediaCommand sends one media-session command and applies the returned
// status.
func (s *Session) mediaCommand(ctx context.Context, header PayloadHeader, seekTo float64) error {
	s.mu.Lock()
	if s.state != StateMediaActive {
		state := s.state
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalidState, "%s from %s", header.Type, state)
	}
	app := s.app
	mediaSessID := s.mediaSessID
	s.mu.Unlock()

	cmd := &MediaHeader{
		PayloadHeader:  header,
		MediaSessionId: mediaSessID,
	}
	if header.Type == "SEEK" {
		cmd.CurrentTime = seekTo
		cmd.ResumeState = "PLAYBACK_START"
	}

	msg, err := s.requestWithRetry(ctx, cmd, app.TransportId, namespaceMedia)
	if err != nil {
		return err
	}

	if status, perr := mediaStatusFromResponse(msg); perr == nil {
		s.mu.Lock()
		s.applyMediaStatusLocked(status)
		s.mu.Unlock()
	}
	return nil
}

// Play resumes playback.
func (s *Session) Play(ctx context.Context) error {
	s.Log().Debug().Str("Method", "Play").Msg("resuming playback")
	return s.mediaCommand(ctx, playHeader, 0)
}

// Pause pauses playback.
func (s *Session) Pause(ctx context.Context) error {
	s.Log().Debug().Str("Method", "Pause").Msg("pausing playback")
	return s.mediaCommand(ctx, pauseHeader, 0)
}

// Seek jumps to a position in seconds from the start.
func (s *Session) Seek(ctx context.Context, seconds float64) error {
	s.Log().Debug().Str("Method", "Seek").Float64("Seconds", seconds).Msg("seeking")
	return s.mediaCommand(ctx, seekHeader, seconds)
}

// StopMedia stops playback and closes the media session, returning the
// session to AppReady.
func (s *Session) StopMedia(ctx context.Context) error {
	s.Log().Debug().Str("Method", "StopMedia").Msg("stopping playback")
	if err := s.mediaCommand(ctx, stopHeader, 0); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateMediaActive {
		s.state = StateAppReady
		s.mediaSessID = 0
	}
	s.mu.Unlock()
	return nil
}

// SetVolume sets the device volume (0.0 to 1.0). Volume lives on the
// receiver namespace, not the media session.
func (s *Session) SetVolume(ctx context.Context, level float64) error {
	s.mu.Lock()
	if s.state != StateMediaActive {
		state := s.state
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalidState, "SET_VOLUME from %s", state)
	}
	s.mu.Unlock()

	s.Log().Debug().Str("Method", "SetVolume").Float64("Level", level).Msg("setting volume")
	_, err := s.requestWithRetry(ctx, &SetVolumeRequest{
		PayloadHeader: volumeHeader,
		Volume:        Volume{Level: level},
	}, defaultRecv, namespaceReceiver)
	return err
}

// RefreshStatus asks the receiver for a fresh media status.
func (s *Session) RefreshStatus(ctx context.Context) (CastStatus, error) {
	s.mu.Lock()
	app := s.app
	state := s.state
	s.mu.Unlock()

	if state != StateMediaActive || app == nil {
		return s.Status(), nil
	}

	getStatus := getStatusHeader
	msg, err := s.requestWithRetry(ctx, &getStatus, app.TransportId, namespaceMedia)
	if err != nil {
		return s.Status(), err
	}
	if status, perr := mediaStatusFromResponse(msg); perr == nil {
		s.mu.Lock()
		s.applyMediaStatusLocked(status)
		s.mu.Unlock()
	}
	return s.Status(), nil
}

// Close tears the session down, optionally stopping playback first.
func (s *Session) Close(stopMedia bool) error {
	s.Log().Debug().Str("Method", "Close").Bool("StopMedia", stopMedia).Msg("closing session")

	if stopMedia {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.StopMedia(ctx)
		cancel()
	}
	s.teardown(ErrConnectionClosed)
	return nil
}

// handleReceiverMessage consumes unsolicited receiver-namespace pushes.
func (s *Session) handleReceiverMessage(msg *pb.CastMessage) {
	payload := []byte(msg.GetPayloadUtf8())
	tag, _ := jsonparser.GetString(payload, "type")
	if tag != typeReceiverStatus {
		return
	}

	var resp ReceiverStatusResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		s.Log().Warn().Str("Method", "handleReceiverMessage").Err(err).Msg("dropping malformed receiver status")
		return
	}

	s.mu.Lock()
	s.status.Volume = resp.Status.Volume.Level
	s.status.Muted = resp.Status.Volume.Muted
	s.mu.Unlock()
}

// handleMediaMessage consumes unsolicited media-status broadcasts, keeping
// the cached snapshot fresh while media is active.
func (s *Session) handleMediaMessage(msg *pb.CastMessage) {
	payload := []byte(msg.GetPayloadUtf8())
	tag, _ := jsonparser.GetString(payload, "type")
	if tag != typeMediaStatus {
		return
	}

	var resp MediaStatusResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		s.Log().Warn().Str("Method", "handleMediaMessage").Err(err).Msg("dropping malformed media status")
		return
	}
	if len(resp.Status) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateMediaActive && s.state != StateMediaLoading {
		return
	}

	status := &resp.Status[0]
	s.applyMediaStatusLocked(status)

	// The receiver reports FINISHED when it played the stream to the end;
	// the media session is gone at that point.
	if s.state == StateMediaActive && status.PlayerState == "IDLE" && status.IdleReason == "FINISHED" {
		s.state = StateAppReady
		s.mediaSessID = 0
	}
}

func (s *Session) applyMediaStatusLocked(status *MediaStatus) {
	if status.MediaSessionId != 0 {
		s.mediaSessID = status.MediaSessionId
	}
	s.status.PlayerState = status.PlayerState
	s.status.CurrentTime = status.CurrentTime
	s.status.MediaSessionID = s.mediaSessID
	if status.Media.Duration > 0 {
		s.status.Duration = status.Media.Duration
	}
	if status.Media.ContentType != "" {
		s.status.ContentType = status.Media.ContentType
	}
	if status.Media.Metadata != nil {
		s.status.MediaTitle = status.Media.Metadata.Title
	}
	if status.Volume.Level > 0 || status.Volume.Muted {
		s.status.Volume = status.Volume.Level
		s.status.Muted = status.Volume.Muted
	}
}
