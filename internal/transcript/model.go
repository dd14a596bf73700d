// Package transcript holds the in-memory state of one open conversation.
package transcript

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/bunnychat/internal/api"
	"github.com/matheus3301/bunnychat/internal/bus"
	"github.com/matheus3301/bunnychat/internal/logging"
	"github.com/matheus3301/bunnychat/internal/metrics"
)

// State is the load state of a Model.
type State string

const (
	Idle    State = "IDLE"
	Loading State = "LOADING"
)

// draftLayout is the dateTime format stamped on optimistic drafts.
const draftLayout = "2006-01-02 15:04:05"

// ChatAPI is the part of the chat API the model talks to. *api.Client
// implements it.
type ChatAPI interface {
	LoadTranscript(ctx context.Context, selfID, otherID int64) ([]api.Message, error)
	SendMessage(ctx context.Context, selfID, otherID int64, body string, replyToID int64) (api.SendResult, error)
	DeleteMessage(ctx context.Context, id int64) (api.DeleteResult, error)
}

// Identity yields the signed-in user.
type Identity interface {
	CurrentUser(ctx context.Context) (api.User, error)
}

// Recorder receives model outcomes. *metrics.Metrics implements it.
type Recorder interface {
	ObserveRefresh(model, result string)
	ObserveSend(result string)
	ObserveDelete(result string)
}

// Option configures a Model.
type Option func(*Model)

// WithKeepInputOnReply keeps the input draft when a reply is started.
func WithKeepInputOnReply() Option {
	return func(m *Model) { m.keepInput = true }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Model) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithBus(b *bus.Bus) Option {
	return func(m *Model) { m.bus = b }
}

func WithRecorder(r Recorder) Option {
	return func(m *Model) {
		if r != nil {
			m.recorder = r
		}
	}
}

type draft struct {
	msg    api.Message
	acked  bool
	ackSeq uint64
}

// Model is the transcript of the conversation between the signed-in user and
// one other party. It is safe for concurrent use.
type Model struct {
	client    ChatAPI
	identity  Identity
	otherID   int64
	otherName string
	keepInput bool
	logger    *zap.Logger
	bus       *bus.Bus
	recorder  Recorder

	mu       sync.RWMutex
	messages []api.Message
	pending  []*draft
	reply    *api.Message
	input    string
	loading  int
	issued   uint64
	applied  uint64
	loaded   bool
	// deleted maps ids deleted locally to the last refresh issued before
	// the delete; responses to those refreshes may still carry them.
	deleted map[int64]uint64

	changed chan struct{}
}

// New creates the model of the conversation with otherID. otherName is used
// as the quoted sender name when replying to the other party.
func New(client ChatAPI, identity Identity, otherID int64, otherName string, opts ...Option) *Model {
	m := &Model{
		client:    client,
		identity:  identity,
		otherID:   otherID,
		otherName: otherName,
		recorder:  nopRecorder{},
		changed:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrNop(m.logger).With(zap.Int64("other_id", otherID))
	return m
}

// OtherID returns the id of the other party.
func (m *Model) OtherID() int64 { return m.otherID }

// OtherName returns the display name of the other party.
func (m *Model) OtherName() string { return m.otherName }

// Changed returns a channel that receives a value after every state change.
// Signals coalesce: a reader sees at most one pending signal.
func (m *Model) Changed() <-chan struct{} {
	return m.changed
}

func (m *Model) signal() {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

// State returns Loading while at least one refresh is in flight.
func (m *Model) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.loading > 0 {
		return Loading
	}
	return Idle
}

// Loaded reports whether a refresh has succeeded at least once.
func (m *Model) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Snapshot returns the server messages in server order followed by the
// pending drafts. The result shares nothing with the model.
func (m *Model) Snapshot() []api.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]api.Message, 0, len(m.messages)+len(m.pending))
	for _, msg := range m.messages {
		out = append(out, msg.Clone())
	}
	for _, d := range m.pending {
		out = append(out, d.msg.Clone())
	}
	return out
}

// Refresh replaces the transcript with the server's. On failure the previous
// transcript is kept. A response that arrives after the response of a later
// Refresh has been applied is discarded.
func (m *Model) Refresh(ctx context.Context) error {
	self, err := m.identity.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("refresh transcript: %w", err)
	}

	m.mu.Lock()
	m.issued++
	seq := m.issued
	m.loading++
	m.mu.Unlock()
	m.signal()

	msgs, err := m.client.LoadTranscript(ctx, self.ID, m.otherID)

	m.mu.Lock()
	m.loading--
	if err != nil {
		m.mu.Unlock()
		m.signal()
		m.recorder.ObserveRefresh("transcript", metrics.ResultError)
		m.logger.Warn("transcript refresh failed", zap.Uint64("seq", seq), zap.Error(err))
		m.bus.Emit(bus.KindTranscriptRefreshFailed, bus.TranscriptPayload{
			SelfID: self.ID, OtherID: m.otherID, Err: err.Error(),
		})
		return fmt.Errorf("refresh transcript: %w", err)
	}
	if applied := m.applied; seq < applied {
		m.mu.Unlock()
		m.signal()
		m.recorder.ObserveRefresh("transcript", metrics.ResultStale)
		m.logger.Debug("discarding stale transcript", zap.Uint64("seq", seq), zap.Uint64("applied", applied))
		return nil
	}
	m.messages = m.dropDeletedLocked(dedupe(msgs), seq)
	m.applied = seq
	m.loaded = true
	m.reconcileLocked(seq)
	count := len(m.messages)
	m.mu.Unlock()
	m.signal()

	m.recorder.ObserveRefresh("transcript", metrics.ResultOK)
	m.logger.Debug("transcript refreshed", zap.Uint64("seq", seq), zap.Int("count", count))
	m.bus.Emit(bus.KindTranscriptRefreshed, bus.TranscriptPayload{
		SelfID: self.ID, OtherID: m.otherID, Count: count,
	})
	return nil
}

// reconcileLocked drops acknowledged drafts the refreshed list carries:
// those acknowledged before refresh seq was issued, and those matching an
// own server message by body that no other draft has claimed.
func (m *Model) reconcileLocked(seq uint64) {
	own := make(map[string]int)
	for _, msg := range m.messages {
		if msg.FromSelf() {
			own[msg.Body]++
		}
	}
	kept := m.pending[:0]
	for _, d := range m.pending {
		if d.acked && (d.ackSeq < seq || own[d.msg.Body] > 0) {
			if own[d.msg.Body] > 0 {
				own[d.msg.Body]--
			}
			continue
		}
		kept = append(kept, d)
	}
	clear(m.pending[len(kept):])
	m.pending = kept
}

// dropDeletedLocked filters messages deleted after refresh seq was issued
// and forgets deletes that refresh seq already reflects.
func (m *Model) dropDeletedLocked(msgs []api.Message, seq uint64) []api.Message {
	if len(m.deleted) == 0 {
		return msgs
	}
	out := msgs[:0]
	for _, msg := range msgs {
		if before, ok := m.deleted[msg.ID]; ok && seq <= before {
			continue
		}
		out = append(out, msg)
	}
	for id, before := range m.deleted {
		if seq > before {
			delete(m.deleted, id)
		}
	}
	return out
}

func dedupe(msgs []api.Message) []api.Message {
	out := make([]api.Message, 0, len(msgs))
	seen := make(map[int64]struct{}, len(msgs))
	for _, msg := range msgs {
		if msg.ID != 0 {
			if _, dup := seen[msg.ID]; dup {
				continue
			}
			seen[msg.ID] = struct{}{}
		}
		out = append(out, msg.Clone())
	}
	return out
}

// ReplyDraft returns the message being replied to.
func (m *Model) ReplyDraft() (api.Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.reply == nil {
		return api.Message{}, false
	}
	return m.reply.Clone(), true
}

// BeginReply makes msg the ReplyDraft, replacing any previous one. The input
// draft is cleared unless the model keeps input on reply.
func (m *Model) BeginReply(msg api.Message) error {
	if msg.Pending || msg.ID == 0 {
		return &api.ValidationError{Field: "reply_to", Reason: "message has not been delivered"}
	}
	r := msg.Clone()
	m.mu.Lock()
	m.reply = &r
	if !m.keepInput {
		m.input = ""
	}
	m.mu.Unlock()
	m.signal()
	return nil
}

// CancelReply clears the ReplyDraft.
func (m *Model) CancelReply() {
	m.mu.Lock()
	had := m.reply != nil
	m.reply = nil
	m.mu.Unlock()
	if had {
		m.signal()
	}
}

// SetInput replaces the input draft.
func (m *Model) SetInput(text string) {
	m.mu.Lock()
	m.input = text
	m.mu.Unlock()
	m.signal()
}

// Input returns the input draft.
func (m *Model) Input() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.input
}

// ResolveReply finds the message that msg quotes. Quotes carrying an id are
// matched by id, others by quoted body.
func (m *Model) ResolveReply(msg api.Message) (api.Message, bool) {
	if msg.ReplyTo == nil {
		return api.Message{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cand := range m.messages {
		if msg.ReplyTo.ID != 0 {
			if cand.ID == msg.ReplyTo.ID {
				return cand.Clone(), true
			}
			continue
		}
		if cand.Body == msg.ReplyTo.Body {
			return cand.Clone(), true
		}
	}
	return api.Message{}, false
}

// SendInput sends the input draft.
func (m *Model) SendInput(ctx context.Context) error {
	return m.Send(ctx, m.Input())
}

// Send posts body to the other party, quoting the ReplyDraft if one is set.
// The message shows up as a pending draft until the server answers. On
// success the ReplyDraft and input are cleared and the transcript is
// refreshed; a failing refresh is logged and published but does not fail
// the send. On failure the draft is removed and the ReplyDraft and input are
// left as they were.
func (m *Model) Send(ctx context.Context, body string) error {
	if err := api.ValidateBody(body); err != nil {
		return err
	}
	self, err := m.identity.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	m.mu.Lock()
	var reply *api.Message
	if m.reply != nil {
		r := m.reply.Clone()
		reply = &r
	}
	d := &draft{msg: api.Message{
		Side:       api.SideRight,
		Body:       body,
		DateTime:   time.Now().Format(draftLayout),
		Status:     api.StatusSent,
		ReplyTo:    m.quoteLocked(reply, self),
		ClientID:   uuid.NewString(),
		Pending:    true,
		LocalState: api.LocalSending,
	}}
	m.pending = append(m.pending, d)
	m.mu.Unlock()
	m.signal()

	var replyID int64
	if reply != nil {
		replyID = reply.ID
	}
	logger := m.logger.With(zap.String("client_id", d.msg.ClientID), zap.Int64("reply_to", replyID))

	res, err := m.client.SendMessage(ctx, self.ID, m.otherID, body, replyID)
	if err == nil && !res.Success {
		err = &api.ServerError{Op: "send_message", StatusCode: http.StatusOK, Message: rejectMessage(res.Message)}
	}
	m.recorder.ObserveSend(metrics.Result(err))
	if err != nil {
		m.mu.Lock()
		m.removeDraftLocked(d)
		m.mu.Unlock()
		m.signal()

		logger.Error("failed to send message", zap.Error(err))
		m.bus.Emit(bus.KindMessageSendFailed, bus.SendPayload{
			OtherID: m.otherID, ClientID: d.msg.ClientID, ReplyTo: replyID, Err: err.Error(),
		})
		return fmt.Errorf("send message: %w", err)
	}

	m.mu.Lock()
	d.msg.LocalState = api.LocalSent
	d.acked = true
	d.ackSeq = m.issued
	m.reply = nil
	m.input = ""
	m.mu.Unlock()
	m.signal()

	logger.Info("message sent")
	m.bus.Emit(bus.KindMessageSendAck, bus.SendPayload{
		OtherID: m.otherID, ClientID: d.msg.ClientID, ReplyTo: replyID,
	})

	if err := m.Refresh(ctx); err != nil {
		logger.Warn("refresh after send failed", zap.Error(err))
	}
	return nil
}

// quoteLocked builds the reply reference shown on a pending draft.
func (m *Model) quoteLocked(reply *api.Message, self api.User) *api.ReplyRef {
	if reply == nil {
		return nil
	}
	name := m.otherName
	if reply.FromSelf() {
		name = self.DisplayName()
	}
	return &api.ReplyRef{ID: reply.ID, SenderName: name, Body: reply.Body}
}

func (m *Model) removeDraftLocked(d *draft) {
	for i, p := range m.pending {
		if p == d {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

// Delete removes the message with the given id on the server. Callers
// confirm with the user beforehand. On success the message is dropped
// locally, a ReplyDraft quoting it is cleared and the transcript is
// refreshed. Failures are reported as *api.DeleteFailedError.
func (m *Model) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return &api.ValidationError{Field: "id", Reason: "message has not been delivered"}
	}

	res, err := m.client.DeleteMessage(ctx, id)
	if err == nil && !res.Success {
		err = &api.ServerError{Op: "delete_message", StatusCode: http.StatusOK, Message: "delete not confirmed"}
	}
	m.recorder.ObserveDelete(metrics.Result(err))
	if err != nil {
		m.logger.Error("failed to delete message", zap.Int64("message_id", id), zap.Error(err))
		return &api.DeleteFailedError{ID: id, Err: err}
	}

	m.mu.Lock()
	if m.deleted == nil {
		m.deleted = make(map[int64]uint64)
	}
	m.deleted[id] = m.issued
	for i, msg := range m.messages {
		if msg.ID == id {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			break
		}
	}
	if m.reply != nil && m.reply.ID == id {
		m.reply = nil
	}
	m.mu.Unlock()
	m.signal()

	m.logger.Info("message deleted", zap.Int64("message_id", id))
	m.bus.Emit(bus.KindMessageDeleted, bus.DeletePayload{OtherID: m.otherID, MessageID: id})

	if err := m.Refresh(ctx); err != nil {
		m.logger.Warn("refresh after delete failed", zap.Error(err))
	}
	return nil
}

func rejectMessage(msg string) string {
	if msg == "" {
		return "send rejected"
	}
	return msg
}

type nopRecorder struct{}

func (nopRecorder) ObserveRefresh(string, string) {}
func (nopRecorder) ObserveSend(string)            {}
func (nopRecorder) ObserveDelete(string)          {}
