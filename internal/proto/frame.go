package proto

import "encoding/json"

// Op is the small integer tag classifying a gateway frame's purpose.
type Op int

// Gateway opcodes. Opcode 0 and 11 are shared by several frame types;
// the Type string disambiguates.
const (
	// OpDispatch carries channel traffic: MESSAGE, CHANNEL_JOIN, CHANNEL_LEAVE.
	OpDispatch Op = 0
	// OpHeartbeat is a server keepalive ping, or a client status update.
	OpHeartbeat Op = 1
	// OpError reports a protocol or validation error to the client.
	OpError Op = 9
	// OpHello is sent immediately after the connection is accepted.
	OpHello Op = 10
	// OpIdentify starts the handshake, or acknowledges a heartbeat.
	OpIdentify Op = 11
	// OpReady confirms the handshake was accepted.
	OpReady Op = 12
)

// Canonical type strings paired with the opcodes above.
const (
	TypeMessage      = "MESSAGE"
	TypeChannelJoin  = "CHANNEL_JOIN"
	TypeChannelLeave = "CHANNEL_LEAVE"
	TypeHeartbeat    = "HEARTBEAT"
	TypeStatusUpdate = "STATUS_UPDATE"
	TypeError        = "ERROR"
	TypeHello        = "HELLO"
	TypeIdentify     = "IDENTIFY"
	TypeHeartbeatACK = "HEARTBEAT_ACK"
	TypeReady        = "READY"
)

// Inbound is the envelope for frames coming from the client. Data is kept
// raw until the opcode has been inspected.
type Inbound struct {
	Op   Op              `json:"op"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Outbound is the envelope for frames sent to the client.
type Outbound struct {
	Op   Op     `json:"op"`
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// IdentifyData starts the handshake. The heartbeat interval is
// client-supplied and therefore untrusted; the server clamps it.
type IdentifyData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

// StatusData is a client presence update rider on opcode 1.
type StatusData struct {
	Status *int `json:"status"`
}

// MessageData is inbound channel message content.
type MessageData struct {
	Channel *int64 `json:"channel"`
	Message string `json:"message"`
}

// HelloData greets a freshly accepted connection.
type HelloData struct {
	SessionID string `json:"session_id"`
}

// ReadyData confirms the handshake and carries the caller's own snapshot.
type ReadyData struct {
	User     UserInfo      `json:"user"`
	Channels []ChannelInfo `json:"channels"`
}

// ErrorData carries a human-readable protocol error.
type ErrorData struct {
	Message string `json:"message"`
}

// UserInfo is the wire projection of an identity.
type UserInfo struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Permissions uint32 `json:"permissions"`
}

// ChannelInfo is the wire projection of a channel.
type ChannelInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// MessageInfo is an outbound channel message.
type MessageInfo struct {
	ID        int64       `json:"id"`
	Channel   ChannelInfo `json:"channel"`
	Content   string      `json:"content"`
	Author    UserInfo    `json:"author"`
	CreatedAt int64       `json:"created_at"`
	Reply     bool        `json:"reply"` // reserved, always false
}

// ChannelNoticeData rides CHANNEL_JOIN and CHANNEL_LEAVE pushes.
type ChannelNoticeData struct {
	Channel ChannelInfo `json:"channel"`
}
