package castprotocol

import (
	"encoding/json"
	"sync"

	"github.com/buger/jsonparser"
	"github.com/gogo/protobuf/proto"

	pb "castbeam.app/castbeam/castprotocol/proto"
)

type fakeSent struct {
	RequestID   int
	Type        string
	Namespace   string
	Destination string
	Raw         []byte
}

// fakeConn is a scripted Conn for driving the multiplexer and session
// without a socket. The script runs synchronously inside Send, so replies
// land on MsgChan before the request call starts waiting.
type fakeConn struct {
	mu   sync.Mutex
	sent []fakeSent

	msgCh     chan *pb.CastMessage
	done      chan struct{}
	closeOnce sync.Once
	err       error

	sendErr error
	script  func(c *fakeConn, sent fakeSent)
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgCh: make(chan *pb.CastMessage, 32),
		done:  make(chan struct{}),
	}
}

func (c *fakeConn) Start(addr string, port int) error { return nil }

func (c *fakeConn) Send(requestID int, payload Payload, sourceID, destinationID, namespace string) error {
	if c.sendErr != nil {
		return c.sendErr
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msgType, _ := jsonparser.GetString(raw, "type")

	sent := fakeSent{
		RequestID:   requestID,
		Type:        msgType,
		Namespace:   namespace,
		Destination: destinationID,
		Raw:         raw,
	}

	c.mu.Lock()
	c.sent = append(c.sent, sent)
	script := c.script
	c.mu.Unlock()

	if script != nil {
		script(c, sent)
	}
	return nil
}

// push injects an inbound message as if the receiver had sent it.
func (c *fakeConn) push(namespace, sourceID, payload string) {
	c.msgCh <- &pb.CastMessage{
		ProtocolVersion: pb.CastMessage_CASTV2_1_0.Enum(),
		SourceId:        proto.String(sourceID),
		DestinationId:   proto.String(defaultSender),
		Namespace:       proto.String(namespace),
		PayloadType:     pb.CastMessage_STRING.Enum(),
		PayloadUtf8:     proto.String(payload),
	}
}

func (c *fakeConn) sentMessages() []fakeSent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fakeSent, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) MsgChan() <-chan *pb.CastMessage { return c.msgCh }
func (c *fakeConn) Done() <-chan struct{}           { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) failWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		close(c.done)
		close(c.msgCh)
	})
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		close(c.msgCh)
	})
	return nil
}
