// Package home holds the conversation list shown on the home screen.
package home

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/bunnychat/internal/api"
	"github.com/matheus3301/bunnychat/internal/bus"
	"github.com/matheus3301/bunnychat/internal/logging"
	"github.com/matheus3301/bunnychat/internal/metrics"
)

// SummaryAPI loads the home list. *api.Client implements it.
type SummaryAPI interface {
	LoadHomeSummaries(ctx context.Context, selfID int64) ([]api.ConversationSummary, error)
}

// Identity yields the signed-in user.
type Identity interface {
	CurrentUser(ctx context.Context) (api.User, error)
}

// Recorder receives refresh outcomes.
type Recorder interface {
	ObserveRefresh(model, result string)
}

// Model is the sorted conversation list plus the current name filter. It is
// safe for concurrent use.
type Model struct {
	client   SummaryAPI
	identity Identity
	logger   *zap.Logger
	bus      *bus.Bus
	recorder Recorder

	mu        sync.RWMutex
	summaries []api.ConversationSummary
	filter    string

	changed chan struct{}
}

// New creates an empty home model. logger, b and rec may be nil.
func New(client SummaryAPI, identity Identity, logger *zap.Logger, b *bus.Bus, rec Recorder) *Model {
	logger = logging.OrNop(logger)
	if rec == nil {
		rec = (*metrics.Metrics)(nil)
	}
	return &Model{
		client:   client,
		identity: identity,
		logger:   logger,
		bus:      b,
		recorder: rec,
		changed:  make(chan struct{}, 1),
	}
}

// Changed returns a channel that receives a value after every state change.
func (m *Model) Changed() <-chan struct{} {
	return m.changed
}

func (m *Model) signal() {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

// Refresh replaces the list with the server's, most recent first. On
// failure the previous list is kept.
func (m *Model) Refresh(ctx context.Context) error {
	self, err := m.identity.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("refresh home: %w", err)
	}

	rows, err := m.client.LoadHomeSummaries(ctx, self.ID)
	m.recorder.ObserveRefresh("home", metrics.Result(err))
	if err != nil {
		m.logger.Warn("home refresh failed", zap.Error(err))
		m.bus.Emit(bus.KindHomeRefreshFailed, bus.HomePayload{SelfID: self.ID, Err: err.Error()})
		return fmt.Errorf("refresh home: %w", err)
	}
	rows = Sort(Dedupe(rows))

	m.mu.Lock()
	m.summaries = rows
	m.mu.Unlock()
	m.signal()

	m.logger.Debug("home refreshed", zap.Int("count", len(rows)))
	m.bus.Emit(bus.KindHomeRefreshed, bus.HomePayload{SelfID: self.ID, Count: len(rows)})
	return nil
}

// SetFilter sets the name filter applied by Visible.
func (m *Model) SetFilter(query string) {
	m.mu.Lock()
	m.filter = query
	m.mu.Unlock()
	m.signal()
}

// Filter returns the current name filter.
func (m *Model) Filter() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter
}

// Visible returns the summaries whose display name contains the filter,
// ignoring case. An empty filter matches everything.
func (m *Model) Visible() []api.ConversationSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Match(m.summaries, m.filter)
}

// All returns the unfiltered list.
func (m *Model) All() []api.ConversationSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.summaries)
}

// Find returns the summary of the conversation with otherID.
func (m *Model) Find(otherID int64) (api.ConversationSummary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.summaries {
		if s.OtherUserID == otherID {
			return s, true
		}
	}
	return api.ConversationSummary{}, false
}

// Sort orders rows by timestamp, most recent first. Rows whose timestamp
// does not parse go last, keeping their relative order. rows is not modified.
func Sort(rows []api.ConversationSummary) []api.ConversationSummary {
	out := slices.Clone(rows)
	slices.SortStableFunc(out, func(a, b api.ConversationSummary) int {
		ta, okA := a.Time()
		tb, okB := b.Time()
		switch {
		case okA && okB:
			return tb.Compare(ta)
		case okA:
			return -1
		case okB:
			return 1
		}
		return 0
	})
	return out
}

// Dedupe keeps one row per other party: the one with the latest parsable
// timestamp, or the first when none parses.
func Dedupe(rows []api.ConversationSummary) []api.ConversationSummary {
	index := make(map[int64]int, len(rows))
	out := make([]api.ConversationSummary, 0, len(rows))
	for _, r := range rows {
		i, seen := index[r.OtherUserID]
		if !seen {
			index[r.OtherUserID] = len(out)
			out = append(out, r)
			continue
		}
		if newer(r, out[i]) {
			out[i] = r
		}
	}
	return out
}

func newer(a, b api.ConversationSummary) bool {
	ta, okA := a.Time()
	tb, okB := b.Time()
	if !okA {
		return false
	}
	return !okB || cmp.Compare(ta.UnixNano(), tb.UnixNano()) > 0
}

// Match returns the rows whose display name contains query, ignoring case.
func Match(rows []api.ConversationSummary, query string) []api.ConversationSummary {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return slices.Clone(rows)
	}
	out := make([]api.ConversationSummary, 0, len(rows))
	for _, r := range rows {
		if strings.Contains(strings.ToLower(r.OtherUserName), q) {
			out = append(out, r)
		}
	}
	return out
}
