package centrifuge

import (
	"errors"
	"fmt"
	"io"

	"github.com/centrifugal/protocol"
	"google.golang.org/protobuf/encoding/protowire"
)

// maxRecordSize caps the length prefix accepted from the server (4MB).
const maxRecordSize = 4 * 1024 * 1024

var (
	errRecordTooLarge = errors.New("record exceeds size limit")
	errShortRecord    = errors.New("record truncated")
)

// Codec turns commands into transport messages and transport messages back into replies.
type Codec interface {
	// Name is used in logs and as the websocket subprotocol hint.
	Name() string

	// EncodeCommand returns one length-delimited record.
	EncodeCommand(cmd *Command) ([]byte, error)

	// NewReplyDecoder iterates the records packed into one transport message.
	NewReplyDecoder(data []byte) ReplyDecoder
}

// ReplyDecoder yields replies one at a time and returns io.EOF once the message is exhausted.
// Any other error means the rest of the message cannot be trusted.
type ReplyDecoder interface {
	Decode() (*Reply, error)
}

// ProtobufCodec speaks the protobuf flavour of the centrifuge client protocol: every record is
// prefixed with its uvarint length.
type ProtobufCodec struct{}

func NewProtobufCodec() *ProtobufCodec {
	return &ProtobufCodec{}
}

var commandEncoder = protocol.NewProtobufCommandEncoder()

func (c *ProtobufCodec) Name() string {
	return "protobuf"
}

func (c *ProtobufCodec) EncodeCommand(cmd *Command) ([]byte, error) {
	if len(cmd.Params) > maxRecordSize {
		return nil, fmt.Errorf("encode %s command: %w", cmd.Method, errRecordTooLarge)
	}
	data, err := commandEncoder.Encode(cmd.proto())
	if err != nil {
		return nil, fmt.Errorf("encode %s command: %w", cmd.Method, err)
	}
	return data, nil
}

// NewReplyDecoder checks the framing of data up front and hands the well formed prefix to the
// protocol decoder, which trusts every length prefix it reads. A framing error is reported once
// the records before it were decoded.
func (c *ProtobufCodec) NewReplyDecoder(data []byte) ReplyDecoder {
	end, err := framedPrefix(data)
	return &protobufReplyDecoder{
		records: protocol.NewProtobufReplyDecoder(data[:end]),
		tail:    err,
	}
}

type protoReplyDecoder interface {
	Decode() (*protocol.Reply, error)
}

type protobufReplyDecoder struct {
	records protoReplyDecoder
	tail    error
	done    bool
}

func (d *protobufReplyDecoder) Decode() (*Reply, error) {
	if d.done {
		return nil, d.end()
	}
	reply, err := d.records.Decode()
	switch {
	case err == nil:
		return replyFromProto(reply), nil
	case errors.Is(err, io.EOF):
		d.done = true
		if reply != nil {
			// the last record may come together with io.EOF
			return replyFromProto(reply), nil
		}
		return nil, d.end()
	}
	return nil, err
}

func (d *protobufReplyDecoder) end() error {
	if d.tail != nil {
		return d.tail
	}
	return io.EOF
}

// framedPrefix returns the length of the longest prefix of data made of complete records, and
// the framing error found after it.
func framedPrefix(data []byte) (int, error) {
	pos := 0
	for {
		_, err := nextRecord(data, &pos)
		if errors.Is(err, io.EOF) {
			return pos, nil
		}
		if err != nil {
			return pos, err
		}
	}
}

// nextRecord returns the next length-delimited record in data starting at *pos and advances
// *pos past it. It returns io.EOF at the end of data.
func nextRecord(data []byte, pos *int) ([]byte, error) {
	if *pos >= len(data) {
		return nil, io.EOF
	}
	length, n := protowire.ConsumeVarint(data[*pos:])
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	if length > maxRecordSize {
		return nil, errRecordTooLarge
	}
	start := *pos + n
	end := start + int(length)
	if end > len(data) {
		return nil, errShortRecord
	}
	*pos = end
	return data[start:end], nil
}
