package castprotocol

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	pb "castbeam.app/castbeam/castprotocol/proto"
)

var (
	// ErrRequestTimeout is returned when a correlated response does not
	// arrive within the request window.
	ErrRequestTimeout = errors.New("castprotocol: request timed out")

	// ErrSessionLost fails every pending request when the transport goes
	// away underneath them.
	ErrSessionLost = errors.New("castprotocol: session lost")
)

const defaultRequestTimeout = 5 * time.Second

// Request ID counter for cast messages. IDs only need to be unique within
// a connection's lifetime.
var requestIDCounter int32

func nextRequestID() int {
	return int(atomic.AddInt32(&requestIDCounter, 1))
}

// Handler consumes inbound messages for one namespace.
type Handler func(msg *pb.CastMessage)

type correlation struct {
	ch chan *pb.CastMessage
}

// Multiplexer maps logical namespaces onto a single Conn. Outbound
// requests are tagged with request IDs and matched against inbound
// responses; unsolicited messages go to the namespace's registered
// handler. Correlated responses are also delivered to the handler, from
// the same dispatch goroutine, so handlers observe the full stream in
// receipt order.
type Multiplexer struct {
	conn Conn

	mu       sync.Mutex
	pending  map[int]*correlation
	handlers map[string]Handler

	requestTimeout time.Duration

	Logger      zerolog.Logger
	LogOutput   io.Writer
	initLogOnce sync.Once
}

// NewMultiplexer wires a multiplexer over conn. Run must be called to
// start dispatching.
func NewMultiplexer(conn Conn) *Multiplexer {
	return &Multiplexer{
		conn:           conn,
		pending:        make(map[int]*correlation),
		handlers:       make(map[string]Handler),
		requestTimeout: defaultRequestTimeout,
	}
}

// Log returns the zerolog logger, initializing it lazily if LogOutput is
// set.
func (m *Multiplexer) Log() *zerolog.Logger {
	if m.LogOutput != nil {
		m.initLogOnce.Do(func() {
			m.Logger = zerolog.New(m.LogOutput).With().Timestamp().Logger()
		})
	}
	return &m.Logger
}

// RegisterHandler attaches the general handler for a namespace.
func (m *Multiplexer) RegisterHandler(namespace string, h Handler) {
	m.mu.Lock()
	m.handlers[namespace] = h
	m.mu.Unlock()
}

// Run dispatches inbound messages until the connection closes, then fails
// every pending request with ErrSessionLost.
func (m *Multiplexer) Run() {
	for msg := range m.conn.MsgChan() {
		m.dispatch(msg)
	}
	m.failAll()
}

func (m *Multiplexer) dispatch(msg *pb.CastMessage) {
	payload := []byte(msg.GetPayloadUtf8())

	m.mu.Lock()
	handler := m.handlers[msg.GetNamespace()]
	m.mu.Unlock()

	// General-handler delivery happens before correlation resolution so a
	// status listener never sees a response after its requester acted on
	// it.
	if handler != nil {
		handler(msg)
	}

	requestID, err := jsonparser.GetInt(payload, "requestId")
	if err != nil || requestID == 0 {
		return
	}

	m.mu.Lock()
	corr, ok := m.pending[int(requestID)]
	if ok {
		delete(m.pending, int(requestID))
	}
	m.mu.Unlock()

	if ok {
		corr.ch <- msg
	}
}

func (m *Multiplexer) failAll() {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[int]*correlation)
	m.mu.Unlock()

	for _, corr := range pending {
		close(corr.ch)
	}
}

// Send fires a payload without expecting a correlated response.
func (m *Multiplexer) Send(payload Payload, sourceID, destinationID, namespace string) error {
	requestID := nextRequestID()
	payload.SetRequestId(requestID)
	return m.conn.Send(requestID, payload, sourceID, destinationID, namespace)
}

// SendRequest sends a payload and suspends the caller until the correlated
// response arrives, the context is done, or the request window elapses.
func (m *Multiplexer) SendRequest(ctx context.Context, payload Payload, sourceID, destinationID, namespace string) (*pb.CastMessage, error) {
	requestID := nextRequestID()
	payload.SetRequestId(requestID)

	corr := &correlation{ch: make(chan *pb.CastMessage, 1)}
	m.mu.Lock()
	m.pending[requestID] = corr
	m.mu.Unlock()

	abandon := func() {
		m.mu.Lock()
		delete(m.pending, requestID)
		m.mu.Unlock()
	}

	if err := m.conn.Send(requestID, payload, sourceID, destinationID, namespace); err != nil {
		abandon()
		return nil, err
	}

	timer := time.NewTimer(m.requestTimeout)
	defer timer.Stop()

	select {
	case msg, ok := <-corr.ch:
		if !ok {
			return nil, ErrSessionLost
		}
		return msg, nil
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	case <-timer.C:
		abandon()
		m.Log().Warn().Str("Method", "SendRequest").Int("RequestID", requestID).Str("Namespace", namespace).Msg("request timed out")
		return nil, ErrRequestTimeout
	case <-m.conn.Done():
		abandon()
		return nil, ErrSessionLost
	}
}
