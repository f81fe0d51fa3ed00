package centrifuge

import (
	"github.com/centrifugal/protocol"
)

// MethodType identifies the operation a Command carries.
type MethodType int32

const (
	MethodConnect       = MethodType(protocol.Command_CONNECT)
	MethodSubscribe     = MethodType(protocol.Command_SUBSCRIBE)
	MethodUnsubscribe   = MethodType(protocol.Command_UNSUBSCRIBE)
	MethodPublish       = MethodType(protocol.Command_PUBLISH)
	MethodPresence      = MethodType(protocol.Command_PRESENCE)
	MethodPresenceStats = MethodType(protocol.Command_PRESENCE_STATS)
	MethodHistory       = MethodType(protocol.Command_HISTORY)
	MethodPing          = MethodType(protocol.Command_PING)
	MethodSend          = MethodType(protocol.Command_SEND)
	MethodRPC           = MethodType(protocol.Command_RPC)
	MethodRefresh       = MethodType(protocol.Command_REFRESH)
)

func (m MethodType) String() string {
	switch m {
	case MethodConnect:
		return "connect"
	case MethodSubscribe:
		return "subscribe"
	case MethodUnsubscribe:
		return "unsubscribe"
	case MethodPublish:
		return "publish"
	case MethodPresence:
		return "presence"
	case MethodPresenceStats:
		return "presence_stats"
	case MethodHistory:
		return "history"
	case MethodPing:
		return "ping"
	case MethodSend:
		return "send"
	case MethodRPC:
		return "rpc"
	case MethodRefresh:
		return "refresh"
	}
	return "unknown"
}

// PushType identifies the kind of an asynchronous server push.
type PushType int32

const (
	PushPublication = PushType(protocol.Push_PUBLICATION)
	PushJoin        = PushType(protocol.Push_JOIN)
	PushLeave       = PushType(protocol.Push_LEAVE)
	PushUnsubscribe = PushType(protocol.Push_UNSUBSCRIBE)
	PushMessage     = PushType(protocol.Push_MESSAGE)
)

func (p PushType) String() string {
	switch p {
	case PushPublication:
		return "publication"
	case PushJoin:
		return "join"
	case PushLeave:
		return "leave"
	case PushUnsubscribe:
		return "unsubscribe"
	case PushMessage:
		return "message"
	}
	return "unknown"
}

// Command is a request sent to the server. Params holds the method specific encoded record.
type Command struct {
	ID     uint32
	Method MethodType
	Params []byte
}

func (c *Command) proto() *protocol.Command {
	return &protocol.Command{
		Id:     c.ID,
		Method: protocol.Command_MethodType(c.Method),
		Params: c.Params,
	}
}

// Reply is a record received from the server. ID is zero for pushes, in which case Result holds
// an encoded Push.
type Reply struct {
	ID     uint32
	Error  *Error
	Result []byte
}

func replyFromProto(r *protocol.Reply) *Reply {
	reply := &Reply{ID: r.Id, Result: r.Result}
	if r.Error != nil {
		reply.Error = &Error{Code: r.Error.Code, Message: r.Error.Message}
	}
	return reply
}

// failed reports whether the reply carries a server error. An error record with code 0 is not
// a failure.
func (r *Reply) failed() bool {
	return r.Error != nil && r.Error.Code != 0
}

// Push is an unsolicited server record. Data holds the type specific encoded record.
type Push struct {
	Type    PushType
	Channel string
	Data    []byte
}

// ClientInfo describes a connection as seen by presence, join and leave records.
type ClientInfo struct {
	User     string
	Client   string
	ConnInfo []byte
	ChanInfo []byte
}

// Publication is a message published into a channel.
type Publication struct {
	Offset uint64
	Data   []byte
	Info   *ClientInfo
}

// PublishResult is the (empty) result of Client.Publish.
type PublishResult struct{}

// RPCResult is the result of Client.RPC.
type RPCResult struct {
	Data []byte
}

// HistoryResult is the result of Client.History.
type HistoryResult struct {
	Publications []*Publication
	Epoch        string
	Offset       uint64
}

// PresenceResult is the result of Client.Presence, keyed by connection id.
type PresenceResult struct {
	Presence map[string]*ClientInfo
}

// PresenceStatsResult is the result of Client.PresenceStats.
type PresenceStatsResult struct {
	NumClients uint32
	NumUsers   uint32
}

// Payloads inside commands, replies and pushes are protobuf records of the centrifuge client
// protocol.
var (
	paramsEncoder = protocol.NewProtobufParamsEncoder()
	resultDecoder = protocol.NewProtobufResultDecoder()
	pushDecoder   = protocol.NewProtobufPushDecoder()
)

func encodeParams(params any) ([]byte, error) {
	return paramsEncoder.Encode(params)
}

type connectResult struct {
	Client  string
	Version string
	Expires bool
	TTL     uint32
	Data    []byte
}

func decodeConnectResult(data []byte) (connectResult, error) {
	res, err := resultDecoder.DecodeConnectResult(data)
	if err != nil {
		return connectResult{}, err
	}
	return connectResult{
		Client:  res.Client,
		Version: res.Version,
		Expires: res.Expires,
		TTL:     res.Ttl,
		Data:    res.Data,
	}, nil
}

type refreshResult struct {
	Expires bool
	TTL     uint32
}

func decodeRefreshResult(data []byte) (refreshResult, error) {
	res, err := resultDecoder.DecodeRefreshResult(data)
	if err != nil {
		return refreshResult{}, err
	}
	return refreshResult{Expires: res.Expires, TTL: res.Ttl}, nil
}

type subscribeResult struct {
	Expires      bool
	TTL          uint32
	Recoverable  bool
	Recovered    bool
	Epoch        string
	Offset       uint64
	Publications []*Publication
}

func decodeSubscribeResult(data []byte) (*subscribeResult, error) {
	res, err := resultDecoder.DecodeSubscribeResult(data)
	if err != nil {
		return nil, err
	}
	return &subscribeResult{
		Expires:      res.Expires,
		TTL:          res.Ttl,
		Recoverable:  res.Recoverable,
		Recovered:    res.Recovered,
		Epoch:        res.Epoch,
		Offset:       res.Offset,
		Publications: publicationsFromProto(res.Publications),
	}, nil
}

func decodeRPCResult(data []byte) (RPCResult, error) {
	res, err := resultDecoder.DecodeRPCResult(data)
	if err != nil {
		return RPCResult{}, err
	}
	return RPCResult{Data: res.Data}, nil
}

func decodeHistoryResult(data []byte) (HistoryResult, error) {
	res, err := resultDecoder.DecodeHistoryResult(data)
	if err != nil {
		return HistoryResult{}, err
	}
	return HistoryResult{
		Publications: publicationsFromProto(res.Publications),
		Epoch:        res.Epoch,
		Offset:       res.Offset,
	}, nil
}

func decodePresenceResult(data []byte) (PresenceResult, error) {
	res, err := resultDecoder.DecodePresenceResult(data)
	if err != nil {
		return PresenceResult{}, err
	}
	presence := make(map[string]*ClientInfo, len(res.Presence))
	for id, info := range res.Presence {
		presence[id] = clientInfoFromProto(info)
	}
	return PresenceResult{Presence: presence}, nil
}

func decodePresenceStatsResult(data []byte) (PresenceStatsResult, error) {
	res, err := resultDecoder.DecodePresenceStatsResult(data)
	if err != nil {
		return PresenceStatsResult{}, err
	}
	return PresenceStatsResult{NumClients: res.NumClients, NumUsers: res.NumUsers}, nil
}

func decodePush(data []byte) (*Push, error) {
	push, err := pushDecoder.Decode(data)
	if err != nil {
		return nil, err
	}
	return &Push{Type: PushType(push.Type), Channel: push.Channel, Data: push.Data}, nil
}

func decodePublication(data []byte) (*Publication, error) {
	pub, err := pushDecoder.DecodePublication(data)
	if err != nil {
		return nil, err
	}
	return publicationFromProto(pub), nil
}

func decodeMessage(data []byte) ([]byte, error) {
	msg, err := pushDecoder.DecodeMessage(data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

func decodeJoin(data []byte) (ClientInfo, error) {
	join, err := pushDecoder.DecodeJoin(data)
	if err != nil {
		return ClientInfo{}, err
	}
	return ClientInfo{
		User:     join.Info.User,
		Client:   join.Info.Client,
		ConnInfo: join.Info.ConnInfo,
		ChanInfo: join.Info.ChanInfo,
	}, nil
}

func decodeLeave(data []byte) (ClientInfo, error) {
	leave, err := pushDecoder.DecodeLeave(data)
	if err != nil {
		return ClientInfo{}, err
	}
	return ClientInfo{
		User:     leave.Info.User,
		Client:   leave.Info.Client,
		ConnInfo: leave.Info.ConnInfo,
		ChanInfo: leave.Info.ChanInfo,
	}, nil
}

func clientInfoFromProto(info *protocol.ClientInfo) *ClientInfo {
	if info == nil {
		return nil
	}
	return &ClientInfo{
		User:     info.User,
		Client:   info.Client,
		ConnInfo: info.ConnInfo,
		ChanInfo: info.ChanInfo,
	}
}

func publicationFromProto(pub *protocol.Publication) *Publication {
	return &Publication{
		Offset: pub.Offset,
		Data:   pub.Data,
		Info:   clientInfoFromProto(pub.Info),
	}
}

func publicationsFromProto(pubs []*protocol.Publication) []*Publication {
	if len(pubs) == 0 {
		return nil
	}
	out := make([]*Publication, 0, len(pubs))
	for _, pub := range pubs {
		out = append(out, publicationFromProto(pub))
	}
	return out
}
