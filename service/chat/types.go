package chat

// EventKind is the closed set of inbound events the gateway accepts.
// Decode maps raw event names onto it; unknown names never reach a handler.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindLogin
	KindSendMessage
	KindJoinChat
	KindLeaveChat
	KindTypingStart
	KindTypingStop
	KindMessageRead
	KindUpdateLastRead
	KindStatusCheck
)

// Inbound event names.
const (
	EvtLogin          = "login"
	EvtSendMessage    = "send_message"
	EvtSendChat       = "send_chat" // legacy alias of send_message
	EvtJoinChat       = "join_chat"
	EvtLeaveChat      = "leave_chat"
	EvtTypingStart    = "typing_start"
	EvtTypingStop     = "typing_stop"
	EvtMessageRead    = "message_read"
	EvtUpdateLastRead = "update_last_read_time"
	EvtStatusCheck    = "status_check"
)

// Outbound event names. message_read and the typing pair double as
// broadcast names on the way out.
const (
	EvtConnectionAck       = "connection_ack"
	EvtLoginSuccess        = "login_success"
	EvtMessageSent         = "message_sent"
	EvtReceiveMessage      = "receive_message"
	EvtMessageStatusUpdate = "message_status_update"
	EvtMessageStatus       = "message_status"
	EvtReadConfirmed       = "read_confirmed"
	EvtChatJoined          = "chat_joined"
	EvtUserJoinedChat      = "user_joined_chat"
	EvtChatLeft            = "chat_left"
	EvtUserLeftChat        = "user_left_chat"
	EvtUserTyping          = "user_typing"
	EvtUserStatus          = "user_status"
	EvtUserStatusUpdate    = "user_status_update"
	EvtAdminBroadcast      = "admin_broadcast"
	EvtError               = "ERROR"
)

var kindByName = map[string]EventKind{
	EvtLogin:          KindLogin,
	EvtSendMessage:    KindSendMessage,
	EvtSendChat:       KindSendMessage,
	EvtJoinChat:       KindJoinChat,
	EvtLeaveChat:      KindLeaveChat,
	EvtTypingStart:    KindTypingStart,
	EvtTypingStop:     KindTypingStop,
	EvtMessageRead:    KindMessageRead,
	EvtUpdateLastRead: KindUpdateLastRead,
	EvtStatusCheck:    KindStatusCheck,
}

// KindOf resolves an event name, KindUnknown when the name is not part of
// the vocabulary.
func KindOf(name string) EventKind {
	return kindByName[name]
}

// Event is one decoded inbound frame.
type Event struct {
	Kind EventKind
	Name string         // raw event_name as received
	Data map[string]any // event_data, never nil after Decode
}

// Handler processes one kind of inbound event. Handlers convert domain
// failures into ERROR replies themselves or return a coded error for the
// dispatcher to convert; only transport failures may escape to the read
// loop.
type Handler interface {
	Kind() EventKind
	Handle(ctx *Context, evt *Event, c *Conn) error
}

// Context hands the server's collaborators to event handlers.
type Context struct {
	S *Server
}
