package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the client models.
const (
	KindSessionStatusChanged    = "session.status_changed"
	KindTranscriptRefreshed     = "transcript.refreshed"
	KindTranscriptRefreshFailed = "transcript.refresh_failed"
	KindMessageSendAck          = "message.send_ack"
	KindMessageSendFailed       = "message.send_failed"
	KindMessageDeleted          = "message.deleted"
	KindHomeRefreshed           = "home.refreshed"
	KindHomeRefreshFailed       = "home.refresh_failed"
)

// TranscriptPayload identifies the conversation an event belongs to.
type TranscriptPayload struct {
	SelfID  int64
	OtherID int64
	Count   int
	Err     string
}

// SendPayload describes the outcome of an outgoing message.
type SendPayload struct {
	OtherID  int64
	ClientID string
	ReplyTo  int64
	Err      string
}

// DeletePayload describes a deleted message.
type DeletePayload struct {
	OtherID   int64
	MessageID int64
}

// HomePayload describes a home list refresh.
type HomePayload struct {
	SelfID int64
	Count  int
	Err    string
}
