package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value returns the counter or gauge value of the series of name whose
// labels include want.
func value(t *testing.T, m *Metrics, name string, want map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if matches(metric, want) {
				switch {
				case metric.GetCounter() != nil:
					return metric.GetCounter().GetValue()
				case metric.GetGauge() != nil:
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func matches(metric *dto.Metric, want map[string]string) bool {
	found := 0
	for _, lp := range metric.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
			found++
		}
	}
	return found == len(want)
}

func TestTransportCountsRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	m := New()
	hc := &http.Client{Transport: m.Transport(nil)}
	for _, path := range []string{"/a", "/b", "/missing"} {
		resp, err := hc.Get(srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
	}

	assert.Equal(t, 2.0, value(t, m, "chat_client_requests_total", map[string]string{"code": "200", "method": "get"}))
	assert.Equal(t, 1.0, value(t, m, "chat_client_requests_total", map[string]string{"code": "404", "method": "get"}))
	assert.Equal(t, 0.0, value(t, m, "chat_client_in_flight_requests", nil))
}

func TestObserveCounters(t *testing.T) {
	m := New()
	m.ObserveRefresh("transcript", ResultOK)
	m.ObserveRefresh("transcript", ResultStale)
	m.ObserveSend(Result(errors.New("x")))
	m.ObserveDelete(Result(nil))

	assert.Equal(t, 1.0, value(t, m, "chat_client_model_refreshes_total", map[string]string{"model": "transcript", "result": ResultOK}))
	assert.Equal(t, 1.0, value(t, m, "chat_client_model_refreshes_total", map[string]string{"model": "transcript", "result": ResultStale}))
	assert.Equal(t, 1.0, value(t, m, "chat_client_messages_sent_total", map[string]string{"result": ResultError}))
	assert.Equal(t, 1.0, value(t, m, "chat_client_messages_deleted_total", map[string]string{"result": ResultOK}))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRefresh("home", ResultOK)
	m.ObserveSend(ResultOK)
	m.ObserveDelete(ResultOK)
	assert.NoError(t, m.WriteTextfile("/nonexistent/file"))
	assert.Equal(t, http.DefaultTransport, m.Transport(nil))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveSend(ResultOK)

	path := filepath.Join(t.TempDir(), "bunnychat.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `chat_client_messages_sent_total{result="ok"} 1`))
}
