package castprotocol

import (
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/gogo/protobuf/proto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	pb "castbeam.app/castbeam/castprotocol/proto"
)

var (
	// ErrHeartbeatTimeout is the teardown cause when the receiver stops
	// answering PINGs.
	ErrHeartbeatTimeout = errors.New("castprotocol: heartbeat timeout")

	// ErrAuthFailed is returned when the device-auth challenge is rejected.
	ErrAuthFailed = errors.New("castprotocol: device authentication failed")

	// ErrConnectionClosed is the teardown cause for a locally requested
	// close.
	ErrConnectionClosed = errors.New("castprotocol: connection closed")
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultHeartbeatTimeout  = 10 * time.Second
	defaultDialTimeout       = 5 * time.Second
	defaultAuthTimeout       = 5 * time.Second
	defaultWriteTimeout      = 5 * time.Second
)

// Conn is the transport session under a cast session. Implementations own
// one socket, its receive loop and its heartbeat timing. Heartbeat traffic
// is absorbed here; everything else is delivered on MsgChan in receipt
// order.
type Conn interface {
	Start(addr string, port int) error
	Send(requestID int, payload Payload, sourceID, destinationID, namespace string) error
	MsgChan() <-chan *pb.CastMessage
	Done() <-chan struct{}
	Err() error
	Close() error
}

// ConnOption configures a Connection.
type ConnOption func(*Connection)

// WithHeartbeatInterval overrides the PING cadence.
func WithHeartbeatInterval(d time.Duration) ConnOption {
	return func(c *Connection) { c.heartbeatInterval = d }
}

// WithHeartbeatTimeout overrides how long the receiver may stay silent
// before the session is torn down.
func WithHeartbeatTimeout(d time.Duration) ConnOption {
	return func(c *Connection) { c.heartbeatTimeout = d }
}

// WithConnLogOutput enables structured logging for the connection.
func WithConnLogOutput(w io.Writer) ConnOption {
	return func(c *Connection) { c.LogOutput = w }
}

// Connection is the production Conn over TLS. Receiver certificates are
// self-signed, so certificate trust is skipped; the device proves itself
// through the deviceauth challenge sent right after the TLS handshake.
type Connection struct {
	wmu  sync.Mutex // serializes frame writes
	conn net.Conn
	rbuf []byte

	recvCh    chan *pb.CastMessage
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error

	seenMu   sync.Mutex
	lastSeen time.Time

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	dialTimeout       time.Duration
	writeTimeout      time.Duration

	Logger      zerolog.Logger
	LogOutput   io.Writer
	initLogOnce sync.Once
}

// NewConnection returns an unconnected Connection.
func NewConnection(opts ...ConnOption) *Connection {
	c := &Connection{
		recvCh:            make(chan *pb.CastMessage, 64),
		done:              make(chan struct{}),
		heartbeatInterval: defaultHeartbeatInterval,
		heartbeatTimeout:  defaultHeartbeatTimeout,
		dialTimeout:       defaultDialTimeout,
		writeTimeout:      defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Log returns the zerolog logger, initializing it lazily if LogOutput is
// set.
func (c *Connection) Log() *zerolog.Logger {
	if c.LogOutput != nil {
		c.initLogOnce.Do(func() {
			c.Logger = zerolog.New(c.LogOutput).With().Timestamp().Logger()
		})
	}
	return &c.Logger
}

// Start dials the receiver, runs the device-auth challenge and starts the
// receive and heartbeat loops.
func (c *Connection) Start(addr string, port int) error {
	dialer := &net.Dialer{Timeout: c.dialTimeout}
	target := net.JoinHostPort(addr, strconv.Itoa(port))

	c.Log().Debug().Str("Method", "Start").Str("Addr", target).Msg("dialing receiver")

	conn, err := tls.DialWithDialer(dialer, "tcp", target, &tls.Config{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return errors.Wrap(err, "castprotocol: dial receiver")
	}
	c.conn = conn

	if err := c.authenticate(); err != nil {
		conn.Close()
		return err
	}

	c.startLoops()
	return nil
}

// startWithConn attaches an already established transport. Used by tests
// to run the connection over a pipe.
func (c *Connection) startWithConn(conn net.Conn) {
	c.conn = conn
	c.startLoops()
}

func (c *Connection) startLoops() {
	c.touch()
	go c.receiveLoop()
	go c.heartbeatLoop()
}

// authenticate performs the deviceauth challenge/response. The receiver's
// identity is established here, not by certificate trust.
func (c *Connection) authenticate() error {
	challenge, err := proto.Marshal(&pb.DeviceAuthMessage{Challenge: &pb.AuthChallenge{}})
	if err != nil {
		return errors.Wrap(err, "castprotocol: marshal auth challenge")
	}

	msg := &pb.CastMessage{
		ProtocolVersion: pb.CastMessage_CASTV2_1_0.Enum(),
		SourceId:        proto.String(defaultSender),
		DestinationId:   proto.String(defaultRecv),
		Namespace:       proto.String(namespaceDeviceAuth),
		PayloadType:     pb.CastMessage_BINARY.Enum(),
		PayloadBinary:   challenge,
	}

	if err := c.writeMsg(msg); err != nil {
		return errors.Wrap(err, "castprotocol: send auth challenge")
	}

	deadline := time.Now().Add(defaultAuthTimeout)
	_ = c.conn.SetReadDeadline(deadline)
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	for {
		reply, err := c.readFrame()
		if err != nil {
			return errors.Wrap(err, "castprotocol: await auth response")
		}
		if reply.GetNamespace() != namespaceDeviceAuth {
			// Nothing else should arrive before CONNECT; drop it.
			continue
		}

		auth := &pb.DeviceAuthMessage{}
		if err := proto.Unmarshal(reply.GetPayloadBinary(), auth); err != nil {
			return errors.Wrapf(ErrAuthFailed, "unparseable auth response: %v", err)
		}
		if auth.GetError() != nil {
			return errors.Wrapf(ErrAuthFailed, "receiver reported %s", auth.GetError().GetErrorType())
		}

		c.Log().Debug().Str("Method", "authenticate").Msg("device auth accepted")
		return nil
	}
}

// Send marshals a JSON payload into a CastMessage and writes the frame.
func (c *Connection) Send(requestID int, payload Payload, sourceID, destinationID, namespace string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "castprotocol: marshal payload")
	}
	payloadUtf8 := string(body)

	c.Log().Debug().
		Str("Method", "Send").
		Int("RequestID", requestID).
		Str("Namespace", namespace).
		Str("Destination", destinationID).
		RawJSON("Payload", body).
		Msg("sending message")

	msg := &pb.CastMessage{
		ProtocolVersion: pb.CastMessage_CASTV2_1_0.Enum(),
		SourceId:        proto.String(sourceID),
		DestinationId:   proto.String(destinationID),
		Namespace:       proto.String(namespace),
		PayloadType:     pb.CastMessage_STRING.Enum(),
		PayloadUtf8:     proto.String(payloadUtf8),
	}
	return c.writeMsg(msg)
}

func (c *Connection) writeMsg(msg *pb.CastMessage) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	// A receiver that stops reading must not stall the writer: the
	// heartbeat silence check and Close both sit behind this write.
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_, err = c.conn.Write(frame)
	return err
}

// readFrame reads one complete frame, buffering partial reads. Frames with
// unparseable payloads are logged and dropped; the stream stays in sync
// through the length prefix.
func (c *Connection) readFrame() (*pb.CastMessage, error) {
	tmp := make([]byte, 4096)
	for {
		msg, consumed, err := Decode(c.rbuf)
		switch {
		case err == nil:
			c.rbuf = c.rbuf[consumed:]
			return msg, nil
		case errors.Is(err, ErrMalformedMessage) && consumed > 0:
			c.Log().Warn().Str("Method", "readFrame").Err(err).Msg("dropping malformed frame")
			c.rbuf = c.rbuf[consumed:]
			continue
		case errors.Is(err, ErrNeedMoreData):
			n, rerr := c.conn.Read(tmp)
			if n > 0 {
				c.rbuf = append(c.rbuf, tmp[:n]...)
			}
			if rerr != nil {
				return nil, rerr
			}
		default:
			return nil, err
		}
	}
}

func (c *Connection) receiveLoop() {
	defer close(c.recvCh)

	for {
		msg, err := c.readFrame()
		if err != nil {
			c.closeWithError(errors.Wrap(err, "castprotocol: receive"))
			return
		}

		c.touch()

		if msg.GetNamespace() == namespaceHeartbeat {
			c.handleHeartbeat(msg)
			continue
		}

		select {
		case c.recvCh <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Connection) handleHeartbeat(msg *pb.CastMessage) {
	msgType, err := jsonparser.GetString([]byte(msg.GetPayloadUtf8()), "type")
	if err != nil {
		return
	}
	if msgType == typePing {
		pong := pongHeader
		_ = c.Send(0, &pong, defaultSender, msg.GetSourceId(), namespaceHeartbeat)
	}
	// PONGs only refresh liveness, which already happened in receiveLoop.
}

func (c *Connection) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		if time.Since(c.seen()) > c.heartbeatTimeout {
			c.Log().Error().Str("Method", "heartbeatLoop").Msg("receiver went silent")
			c.closeWithError(ErrHeartbeatTimeout)
			return
		}

		ping := pingHeader
		if err := c.Send(0, &ping, defaultSender, defaultRecv, namespaceHeartbeat); err != nil {
			c.closeWithError(errors.Wrap(err, "castprotocol: send ping"))
			return
		}
	}
}

func (c *Connection) touch() {
	c.seenMu.Lock()
	c.lastSeen = time.Now()
	c.seenMu.Unlock()
}

func (c *Connection) seen() time.Time {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	return c.lastSeen
}

// closeWithError tears the connection down exactly once and records the
// cause.
func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()

		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// MsgChan delivers inbound non-heartbeat messages in receipt order. It is
// closed on teardown.
func (c *Connection) MsgChan() <-chan *pb.CastMessage {
	return c.recvCh
}

// Done is closed when the connection has been torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err reports the teardown cause after Done is closed.
func (c *Connection) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close sends a polite CLOSE on the connection namespace and tears down.
// The CLOSE is best effort; a receiver that already went away gets none.
func (c *Connection) Close() error {
	select {
	case <-c.done:
	default:
		if c.conn != nil {
			closeMsg := closeHeader
			_ = c.Send(0, &closeMsg, defaultSender, defaultRecv, namespaceConnection)
		}
	}
	c.closeWithError(ErrConnectionClosed)
	return nil
}
