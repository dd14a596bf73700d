package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// User is the authenticated device owner as returned by the sign-in endpoint.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Mobile    string `json:"mobile"`
	Avatar    string `json:"avatar,omitempty"`
}

// DisplayName returns "First Last", trimmed.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Side tells which party sent a message, relative to the signed-in user.
type Side string

const (
	SideLeft  Side = "left"  // other party
	SideRight Side = "right" // self
)

// DeliveryStatus is the server-side delivery state of a message.
type DeliveryStatus int

const (
	StatusSent      DeliveryStatus = 0
	StatusDelivered DeliveryStatus = 1
)

// Local delivery states of optimistic drafts.
const (
	LocalSending = "sending"
	LocalSent    = "sent"
)

// ReplyRef is the denormalized quote attached to a reply.
type ReplyRef struct {
	ID         int64  `json:"id,omitempty"`
	SenderName string `json:"user_name"`
	Body       string `json:"message"`
}

// Message is one chat entry of a transcript.
type Message struct {
	ID       int64          `json:"id"`
	Side     Side           `json:"side"`
	Body     string         `json:"message"`
	DateTime string         `json:"dateTime"`
	Status   DeliveryStatus `json:"status"`
	ReplyTo  *ReplyRef      `json:"replyToMessage,omitempty"`

	// Set only on drafts created locally before the server assigned an id.
	ClientID   string `json:"client_id,omitempty"`
	Pending    bool   `json:"pending,omitempty"`
	LocalState string `json:"local_state,omitempty"`
}

// Time parses DateTime. ok is false when the timestamp is not recognised.
func (m Message) Time() (time.Time, bool) {
	return ParseTimestamp(m.DateTime)
}

// FromSelf reports whether the signed-in user sent the message.
func (m Message) FromSelf() bool {
	return m.Side == SideRight
}

// Clone returns a copy that shares no pointers with m.
func (m Message) Clone() Message {
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		m.ReplyTo = &r
	}
	return m
}

// ConversationSummary is one row of the home list.
type ConversationSummary struct {
	OtherUserID     int64    `json:"other_user_id"`
	OtherUserName   string   `json:"other_user_name"`
	OtherUserMobile string   `json:"other_user_mobile"`
	OtherUserStatus int      `json:"other_user_status"`
	AvatarFound     FlexBool `json:"avatar_image_found"`
	AvatarLetters   string   `json:"other_user_avatar_letters"`
	Message         string   `json:"message"`
	DateTime        string   `json:"dateTime"`
	ChatStatusID    int      `json:"chat_status_id"`

	// AvatarURL is derived by the client when AvatarFound is set.
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Time parses DateTime. ok is false when the timestamp is not recognised.
func (s ConversationSummary) Time() (time.Time, bool) {
	return ParseTimestamp(s.DateTime)
}

// Read reports whether the last message has been read.
func (s ConversationSummary) Read() bool { return s.ChatStatusID == 1 }

// Online reports whether the other party is online.
func (s ConversationSummary) Online() bool { return s.OtherUserStatus == 1 }

// Initials returns the server-provided avatar letters, or derives them from
// the display name.
func (s ConversationSummary) Initials() string {
	if s.AvatarLetters != "" {
		return s.AvatarLetters
	}
	var b strings.Builder
	for _, word := range strings.Fields(s.OtherUserName) {
		for _, r := range word {
			b.WriteRune(unicode.ToUpper(r))
			break
		}
		if b.Len() >= 2 {
			break
		}
	}
	return b.String()
}

// FlexBool decodes JSON booleans that the server sometimes sends as strings
// ("true"/"false") or numbers (1/0).
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true", `"true"`, "1", `"1"`:
		*b = true
	case "false", `"false"`, "0", `"0"`, "null", `""`:
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

func (b FlexBool) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(b))
}

// SendResult is the payload of the send endpoint.
type SendResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// DeleteResult reports the outcome of a delete.
type DeleteResult struct {
	Success bool
}

// SignInResult is the payload of the sign-in endpoint.
type SignInResult struct {
	Success bool   `json:"success"`
	User    *User  `json:"user,omitempty"`
	Message string `json:"message,omitempty"`
}

// Result is the generic {success, message} payload.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type homePayload struct {
	Success   bool                  `json:"success"`
	Message   string                `json:"message,omitempty"`
	ChatArray []ConversationSummary `json:"jsonChatArray"`
}
