// Package protocol defines the tagged-variant wire message catalog
// exchanged between client and server after the handshake. Every variant
// is encoded as UTF-8 JSON of a single flat Envelope, the same
// flat-envelope idiom the corpus uses for its control-message types:
// one struct, a string discriminator, and `omitempty` fields so unused
// variant fields don't appear on the wire.
package protocol

import "encoding/json"

// Client → server message type discriminators.
const (
	TypeHandshake       = "handshake"
	TypeRegister        = "register"
	TypeLogin           = "login"
	TypeLogout          = "logout"
	TypeListRooms       = "list_rooms"
	TypeCreateRoom      = "create_room"
	TypeJoinRoom        = "join_room"
	TypeLeaveRoom       = "leave_room"
	TypeSendRoomMessage = "send_room_message"
	TypeSendDirect      = "send_direct"
	TypeFetchHistory    = "fetch_history"
	TypeListUsers       = "list_users"
	TypePing            = "ping"
)

// Server → client message type discriminators.
const (
	TypeHandshakeAck = "handshake_ack"
	TypeAuthOk       = "auth_ok"
	TypeAuthErr      = "auth_err"
	TypeRoomList     = "room_list"
	TypeRoomJoined   = "room_joined"
	TypeRoomLeft     = "room_left"
	TypeMessage      = "message"
	TypeHistoryPage  = "history_page"
	TypePresence     = "presence"
	TypeUserList     = "user_list"
	TypePong         = "pong"
	TypeError        = "error"
)

// Error codes from the taxonomy in the error handling design.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeOverloaded         = "OVERLOADED"
	CodeUnsupportedVersion = "UNSUPPORTED_VERSION"
	CodeInternal           = "INTERNAL"
	CodeShutdown           = "SHUTDOWN"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeUsernameTaken      = "USERNAME_TAKEN"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
)

// TargetKind distinguishes a room target from a direct-message target.
type TargetKind string

const (
	TargetRoom   TargetKind = "room"
	TargetDirect TargetKind = "direct"
)

// Target names a message destination: either a room (by name) or a DM peer
// (by username).
type Target struct {
	Kind TargetKind `json:"kind"`
	Name string     `json:"name"`
}

// UserSummary is the public-facing snapshot of a user.
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// RoomSummary is the public-facing snapshot of a room, used in RoomList.
type RoomSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	MembersCount  int    `json:"members_count"`
	Topic         string `json:"topic,omitempty"`
}

// RoomSettings controls room creation options.
type RoomSettings struct {
	Private    bool `json:"private,omitempty"`
	MaxMembers *int `json:"max_members,omitempty"`
}

// Envelope is the single flat struct carrying every post-handshake message
// variant. Type selects which fields are meaningful; unused fields are
// omitted on the wire via `omitempty`.
type Envelope struct {
	Type string `json:"type"`

	// Handshake / HandshakeAck
	Version    string `json:"version,omitempty"`
	ClientType string `json:"client_type,omitempty"`
	ServerTime int64  `json:"server_time,omitempty"`

	// Register / Login
	Username   string `json:"username,omitempty"`
	Email      string `json:"email,omitempty"`
	Password   string `json:"password,omitempty"`
	Identifier string `json:"identifier,omitempty"`

	// AuthOk / AuthErr
	SessionToken string       `json:"session_token,omitempty"`
	User         *UserSummary `json:"user,omitempty"`
	Code         string       `json:"code,omitempty"`
	Message      string       `json:"message,omitempty"`

	// CreateRoom / JoinRoom / LeaveRoom / RoomJoined / RoomLeft
	Room     string        `json:"room,omitempty"`
	Settings *RoomSettings `json:"settings,omitempty"`
	Members  []string      `json:"members,omitempty"`

	// RoomList
	Rooms []RoomSummary `json:"rooms,omitempty"`

	// SendRoomMessage / SendDirect
	To   string `json:"to,omitempty"`
	Body string `json:"body,omitempty"`

	// Message (server push)
	ID        uint64  `json:"id,omitempty"`
	Target    *Target `json:"target,omitempty"`
	Author    string  `json:"author,omitempty"`
	CreatedAt int64   `json:"created_at,omitempty"`

	// FetchHistory / HistoryPage
	Before   *uint64           `json:"before,omitempty"`
	Limit    int               `json:"limit,omitempty"`
	Messages []HistoryMessage  `json:"messages,omitempty"`
	HasMore  bool              `json:"has_more,omitempty"`

	// ListUsers / UserList
	Users []UserSummary `json:"users,omitempty"`

	// Presence
	PresenceUser  string `json:"presence_user,omitempty"`
	PresenceState string `json:"presence_state,omitempty"`

	// Ping / Pong
	Nonce uint64 `json:"nonce,omitempty"`

	// Error
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
}

// HistoryMessage is one entry in a HistoryPage.
type HistoryMessage struct {
	ID        uint64 `json:"id"`
	Target    Target `json:"target"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at"`
}

// Encode marshals the envelope to its wire JSON representation.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode unmarshals a wire payload into an Envelope. Unknown fields are
// silently discarded by encoding/json's default behavior; unknown `type`
// values decode successfully and are discarded by the caller's dispatcher.
func Decode(payload []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
