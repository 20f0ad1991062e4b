package controller

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"castbeam.app/castbeam/castprotocol"
	"castbeam.app/castbeam/internal/config"
	"castbeam.app/castbeam/media"
)

// fakeSession records protocol calls and fails Loads on request.
type fakeSession struct {
	mu        sync.Mutex
	loads     []castprotocol.LoadMedia
	loadErrs  []error
	seeks     []float64
	stops     int
	refreshes int
	state     castprotocol.State
	status    castprotocol.CastStatus
}

func (s *fakeSession) Connect(ctx context.Context, addr string, port int) error { return nil }
func (s *fakeSession) Launch(ctx context.Context, appID string) error           { return nil }

func (s *fakeSession) Load(ctx context.Context, m castprotocol.LoadMedia) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads = append(s.loads, m)
	if len(s.loadErrs) > 0 {
		err := s.loadErrs[0]
		s.loadErrs = s.loadErrs[1:]
		return err
	}
	return nil
}

func (s *fakeSession) Play(ctx context.Context) error  { return nil }
func (s *fakeSession) Pause(ctx context.Context) error { return nil }

func (s *fakeSession) Seek(ctx context.Context, seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeks = append(s.seeks, seconds)
	return nil
}

func (s *fakeSession) StopMedia(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeSession) SetVolume(ctx context.Context, level float64) error { return nil }

func (s *fakeSession) RefreshStatus(ctx context.Context) (castprotocol.CastStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	return s.status, nil
}

func (s *fakeSession) State() castprotocol.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) OnDisconnect(fn func(error)) {}
func (s *fakeSession) Close(stopMedia bool) error  { return nil }

func (s *fakeSession) sentLoads() []castprotocol.LoadMedia {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]castprotocol.LoadMedia, len(s.loads))
	copy(out, s.loads)
	return out
}

type publishedItem struct {
	item   media.Item
	offset float64
}

// fakeServer records published items by value, since the controller
// mutates the item in place on a forced transcode retry.
type fakeServer struct {
	mu        sync.Mutex
	published []publishedItem
	cleared   int
}

func (f *fakeServer) StartServer(serverStarted chan<- error) { serverStarted <- nil }
func (f *fakeServer) StopServer()                            {}
func (f *fakeServer) Addr() string                           { return "127.0.0.1:9" }

func (f *fakeServer) SetMediaItem(item *media.Item, offset float64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedItem{item: *item, offset: offset})
	return "/media/test-token"
}

func (f *fakeServer) ClearMedia() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

func (f *fakeServer) publishedItems() []publishedItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedItem, len(f.published))
	copy(out, f.published)
	return out
}

type fakeResolver struct {
	item *media.Item
	err  error
}

func (f *fakeResolver) Resolve(path string) (*media.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	item := *f.item
	item.Path = path
	return &item, nil
}

func newTestController(sess *fakeSession, srv *fakeServer, res *fakeResolver) *Controller {
	c := New(&config.Config{StatusPollRate: 1}, nil)
	c.session = sess
	c.server = srv
	c.resolver = res
	c.baseURL = "http://127.0.0.1:9"
	c.deviceAddr = "192.0.2.5:8009"
	return c
}

func TestLoadForcesTranscodeAfterReceiverReject(t *testing.T) {
	sess := &fakeSession{
		loadErrs: []error{errors.Wrap(castprotocol.ErrLoadFailed, "LOAD_FAILED")},
	}
	srv := &fakeServer{}
	res := &fakeResolver{item: &media.Item{ContentType: "video/x-matroska", Castable: true}}
	c := newTestController(sess, srv, res)

	require.NoError(t, c.Load(context.Background(), "/videos/movie.mkv"))

	published := srv.publishedItems()
	require.Len(t, published, 2)
	require.True(t, published[0].item.Castable)
	require.False(t, published[1].item.Castable)
	require.Equal(t, media.TranscodeContentType, published[1].item.ContentType)

	loads := sess.sentLoads()
	require.Len(t, loads, 2)
	require.Equal(t, "video/x-matroska", loads[0].ContentType)
	require.Equal(t, media.TranscodeContentType, loads[1].ContentType)
	require.Equal(t, "http://127.0.0.1:9/media/test-token", loads[1].URL)
}

func TestLoadFailureUnpublishesMedia(t *testing.T) {
	sess := &fakeSession{
		loadErrs: []error{
			errors.Wrap(castprotocol.ErrLoadFailed, "LOAD_FAILED"),
			errors.Wrap(castprotocol.ErrLoadFailed, "LOAD_FAILED"),
		},
	}
	srv := &fakeServer{}
	res := &fakeResolver{item: &media.Item{ContentType: "video/mp4", Castable: true}}
	c := newTestController(sess, srv, res)

	err := c.Load(context.Background(), "/videos/movie.mp4")
	require.ErrorIs(t, err, castprotocol.ErrLoadFailed)
	require.GreaterOrEqual(t, srv.cleared, 1)
}

func TestSeekRestartsPipelineForTranscodedItem(t *testing.T) {
	sess := &fakeSession{}
	srv := &fakeServer{}
	res := &fakeResolver{}
	c := newTestController(sess, srv, res)
	c.current = &media.Item{Path: "/videos/movie.avi", ContentType: media.TranscodeContentType}

	require.NoError(t, c.Seek(context.Background(), 90))

	published := srv.publishedItems()
	require.Len(t, published, 1)
	require.InDelta(t, 90, published[0].offset, 0.001)

	loads := sess.sentLoads()
	require.Len(t, loads, 1)
	require.InDelta(t, 90, loads[0].StartTime, 0.001)
	require.Empty(t, sess.seeks, "transcoded seek must not go to the receiver seek command")
}

func TestSeekNativeGoesToReceiver(t *testing.T) {
	sess := &fakeSession{}
	srv := &fakeServer{}
	c := newTestController(sess, srv, &fakeResolver{})
	c.current = &media.Item{Path: "/videos/movie.mp4", ContentType: "video/mp4", Castable: true}

	require.NoError(t, c.Seek(context.Background(), 33))

	require.Equal(t, []float64{33}, sess.seeks)
	require.Empty(t, srv.publishedItems())
}

func TestSessionLossClearsServedMedia(t *testing.T) {
	sess := &fakeSession{}
	srv := &fakeServer{}
	c := newTestController(sess, srv, &fakeResolver{})

	c.onSessionLost(castprotocol.ErrHeartbeatTimeout)
	require.Equal(t, 1, srv.cleared)
}

func TestCommandsRequireConnection(t *testing.T) {
	c := New(&config.Config{StatusPollRate: 1}, nil)

	require.ErrorIs(t, c.Load(context.Background(), "/videos/movie.mp4"), ErrNotConnected)
	require.ErrorIs(t, c.Play(context.Background()), ErrNotConnected)
	require.ErrorIs(t, c.Pause(context.Background()), ErrNotConnected)
	require.ErrorIs(t, c.Stop(context.Background()), ErrNotConnected)
	require.ErrorIs(t, c.Seek(context.Background(), 10), ErrNotConnected)
	require.ErrorIs(t, c.SetVolume(context.Background(), 0.5), ErrNotConnected)
}

func TestStatusThrottlesReceiverPolls(t *testing.T) {
	sess := &fakeSession{
		state:  castprotocol.StateMediaActive,
		status: castprotocol.CastStatus{State: castprotocol.StateMediaActive, PlayerState: "PLAYING"},
	}
	c := newTestController(sess, &fakeServer{}, &fakeResolver{})

	first := c.Status(context.Background())
	second := c.Status(context.Background())

	require.Equal(t, "PLAYING", first.PlayerState)
	require.Equal(t, castprotocol.StateMediaActive, second.State)
	require.Equal(t, 1, sess.refreshes, "second status within the window must come from cache")
}

func TestStreamListenAddrHonorsConfiguredPort(t *testing.T) {
	c := New(&config.Config{StatusPollRate: 1, StreamAddr: ":9876"}, nil)

	addr, err := c.streamListenAddr("127.0.0.1:8009")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9876", addr)
}

func TestStreamListenAddrDerivesWhenUnset(t *testing.T) {
	c := New(&config.Config{StatusPollRate: 1, StreamAddr: ":0"}, nil)

	addr, err := c.streamListenAddr("127.0.0.1:8009")
	require.NoError(t, err)
	require.Contains(t, addr, "127.0.0.1:")
	require.NotEqual(t, "127.0.0.1:0", addr)
}
