package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", len(r.URL.Query().Get("n")))))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	get := func(n int) ([]byte, error) {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/?n="+strings.Repeat("1", n), nil)
		require.NoError(t, err)
		return c.do(context.Background(), "fetch_avatar", req, 8)
	}

	body, err := get(8)
	require.NoError(t, err)
	assert.Len(t, body, 8)

	_, err = get(9)
	var serr *ServerError
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, http.StatusOK, serr.StatusCode)
	assert.Contains(t, serr.Message, "larger than 8 bytes")
}
