package centrifuge

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/centrifugal/protocol"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestProtobufCodecEncodeCommand(t *testing.T) {
	codec := NewProtobufCodec()
	params, err := encodeParams(&protocol.SubscribeRequest{Channel: "news", Token: "t"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := codec.EncodeCommand(&Command{ID: 42, Method: MethodSubscribe, Params: params})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	length, n := protowire.ConsumeVarint(data)
	if n < 0 || int(length) != len(data)-n {
		t.Fatalf("unexpected length prefix %d for %d bytes", length, len(data))
	}

	var cmd protocol.Command
	if err := cmd.Unmarshal(data[n:]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Id != 42 || cmd.Method != protocol.Command_SUBSCRIBE || !bytes.Equal(cmd.Params, params) {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	var req protocol.SubscribeRequest
	if err := req.Unmarshal(cmd.Params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Channel != "news" || req.Token != "t" {
		t.Fatalf("unexpected params: %+v", req)
	}
}

func TestProtobufCodecEncodeTooLarge(t *testing.T) {
	cmd := &Command{ID: 1, Method: MethodRPC, Params: make([]byte, maxRecordSize+1)}
	if _, err := NewProtobufCodec().EncodeCommand(cmd); !errors.Is(err, errRecordTooLarge) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProtobufCodecConnectIsMethodZero(t *testing.T) {
	data, err := NewProtobufCodec().EncodeCommand(&Command{ID: 1, Method: MethodConnect})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// length 2, then field 1 varint 1; the zero method is omitted like any proto3 default
	if !bytes.Equal(data, []byte{0x02, 0x08, 0x01}) {
		t.Fatalf("unexpected encoding: %x", data)
	}
}

func TestProtobufCodecDecodeBatch(t *testing.T) {
	data := encodeReplies(
		resultReply(1, &protocol.RPCResult{Data: []byte("one")}),
		errorReply(2, 100, "internal"),
		pushReply(PushJoin, "news", infoRecord("alice")),
	)

	dec := NewProtobufCodec().NewReplyDecoder(data)
	var replies []*Reply
	for {
		reply, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		replies = append(replies, reply)
	}

	if len(replies) != 3 {
		t.Fatalf("unexpected reply count: %d", len(replies))
	}
	if replies[0].ID != 1 || replies[0].failed() {
		t.Fatalf("unexpected first reply: %+v", replies[0])
	}
	if !replies[1].failed() || replies[1].Error.Code != 100 || replies[1].Error.Message != "internal" {
		t.Fatalf("unexpected second reply: %+v", replies[1])
	}

	push, err := decodePush(replies[2].Result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	join, err := decodeJoin(push.Data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replies[2].ID != 0 || push.Type != PushJoin || push.Channel != "news" || join.User != "alice" || join.Client != "alice-conn" {
		t.Fatalf("unexpected push: %+v %+v", push, join)
	}
}

func TestProtobufCodecDecodeBeforeFramingError(t *testing.T) {
	data := encodeReplies(resultReply(1, &protocol.RPCResult{Data: []byte("one")}))
	data = append(data, 0x05, 0x08)

	dec := NewProtobufCodec().NewReplyDecoder(data)
	reply, err := dec.Decode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.ID != 1 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if _, err := dec.Decode(); !errors.Is(err, errShortRecord) {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := dec.Decode(); !errors.Is(err, errShortRecord) {
		t.Fatalf("unexpected error on repeat: %v", err)
	}
}

func TestProtobufCodecDecodeEmpty(t *testing.T) {
	if _, err := NewProtobufCodec().NewReplyDecoder(nil).Decode(); !errors.Is(err, io.EOF) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProtobufCodecDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"truncated", []byte{0x05, 0x08}, errShortRecord},
		{"too large", protowire.AppendVarint(nil, maxRecordSize+1), errRecordTooLarge},
		{"bad prefix", []byte{0xff}, nil},
		{"bad wire type", []byte{0x01, 0x0a}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProtobufCodec().NewReplyDecoder(tt.data).Decode()
			if err == nil || errors.Is(err, io.EOF) {
				t.Fatalf("expected an error, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestProtocolSkipsUnknownFields(t *testing.T) {
	body := protowire.AppendTag(nil, 1, protowire.VarintType)
	body = protowire.AppendVarint(body, 7)
	body = protowire.AppendTag(body, 15, protowire.BytesType)
	body = protowire.AppendString(body, "from a newer server")
	body = protowire.AppendTag(body, 3, protowire.BytesType)
	body = protowire.AppendBytes(body, []byte("result"))
	data := protowire.AppendVarint(nil, uint64(len(body)))
	data = append(data, body...)

	reply, err := NewProtobufCodec().NewReplyDecoder(data).Decode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.ID != 7 || string(reply.Result) != "result" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestProtocolSubscribeResult(t *testing.T) {
	in := &protocol.SubscribeResult{
		Expires:     true,
		Ttl:         60,
		Recoverable: true,
		Epoch:       "abc",
		Recovered:   true,
		Offset:      12,
		Publications: []*protocol.Publication{
			{Data: []byte("missed"), Offset: 11, Info: &protocol.ClientInfo{User: "bob", Client: "c2"}},
			{Data: []byte("again"), Offset: 12},
		},
	}

	out, err := decodeSubscribeResult(mustMarshal(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Expires || out.TTL != 60 || !out.Recoverable || out.Epoch != "abc" || !out.Recovered || out.Offset != 12 {
		t.Fatalf("unexpected result: %+v", out)
	}
	if len(out.Publications) != 2 || out.Publications[0].Info == nil || out.Publications[0].Info.User != "bob" {
		t.Fatalf("unexpected publications: %+v", out.Publications)
	}
	if string(out.Publications[1].Data) != "again" || out.Publications[1].Offset != 12 || out.Publications[1].Info != nil {
		t.Fatalf("unexpected publication: %+v", out.Publications[1])
	}
}

func TestMethodTypeString(t *testing.T) {
	tests := map[MethodType]string{
		MethodConnect:       "connect",
		MethodPresenceStats: "presence_stats",
		MethodRefresh:       "refresh",
		MethodType(99):      "unknown",
	}
	for m, want := range tests {
		if got := m.String(); got != want {
			t.Fatalf("unexpected name for %d: %q", m, got)
		}
	}
}
