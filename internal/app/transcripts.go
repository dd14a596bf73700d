package app

import (
	"go.uber.org/zap"

	"github.com/matheus3301/bunnychat/internal/api"
	"github.com/matheus3301/bunnychat/internal/auth"
	"github.com/matheus3301/bunnychat/internal/bus"
	"github.com/matheus3301/bunnychat/internal/metrics"
	"github.com/matheus3301/bunnychat/internal/transcript"
)

// Transcripts opens conversation models that share the client's API client,
// identity, bus and metrics.
type Transcripts struct {
	client  *api.Client
	auth    *auth.Service
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewTranscripts creates the transcript factory.
func NewTranscripts(client *api.Client, svc *auth.Service, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Transcripts {
	return &Transcripts{client: client, auth: svc, bus: b, metrics: m, logger: logger.Named("transcript")}
}

// Open returns a new model of the conversation with otherID.
func (t *Transcripts) Open(otherID int64, otherName string, opts ...transcript.Option) *transcript.Model {
	base := []transcript.Option{
		transcript.WithBus(t.bus),
		transcript.WithLogger(t.logger),
		transcript.WithRecorder(t.metrics),
	}
	return transcript.New(t.client, t.auth, otherID, otherName, append(base, opts...)...)
}
