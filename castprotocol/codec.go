package castprotocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogo/protobuf/proto"

	pb "castbeam.app/castbeam/castprotocol/proto"
)

// MaxFrameSize is the largest payload a receiver will accept on a cast
// channel. Anything larger in the length prefix is treated as a hostile
// or corrupt frame.
const MaxFrameSize = 64 << 10

var (
	// ErrNeedMoreData is returned by Decode when the buffer does not yet
	// hold a complete frame. No bytes are consumed.
	ErrNeedMoreData = errors.New("castprotocol: need more data")

	// ErrMalformedMessage is returned for frames that violate the wire
	// schema or declare an implausible length.
	ErrMalformedMessage = errors.New("castprotocol: malformed message")
)

// Encode serializes a CastMessage into its wire frame: a 4-byte big-endian
// length prefix followed by the protobuf payload.
func Encode(msg *pb.CastMessage) ([]byte, error) {
	payload, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrMalformedMessage, len(payload))
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	return frame, nil
}

// Decode parses one frame from the head of buf. It returns the decoded
// message and the number of bytes consumed. When buf holds only part of a
// frame it returns ErrNeedMoreData with zero bytes consumed, so callers can
// retry after the next read. A frame with a sane length prefix but an
// invalid payload returns ErrMalformedMessage with consumed covering the
// whole frame, so callers can drop it and stay in sync on the stream.
func Decode(buf []byte) (*pb.CastMessage, int, error) {
	if len(buf) < 4 {
		return nil, 0, ErrNeedMoreData
	}

	length := binary.BigEndian.Uint32(buf)
	if length == 0 || length > MaxFrameSize {
		return nil, 0, fmt.Errorf("%w: declared length %d", ErrMalformedMessage, length)
	}

	total := 4 + int(length)
	if len(buf) < total {
		return nil, 0, ErrNeedMoreData
	}

	msg := &pb.CastMessage{}
	if err := proto.Unmarshal(buf[4:total], msg); err != nil {
		return nil, total, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	return msg, total, nil
}
