package opds

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggingTransport_DebugKeepsBodyReadable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello catalog")
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	client := &http.Client{Transport: &LoggingTransport{Logger: zap.New(core)}}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello catalog", string(body))

	bodyLogs := logs.FilterMessage("Outbound response body").All()
	require.Len(t, bodyLogs, 1)
	assert.Equal(t, "hello catalog", bodyLogs[0].ContextMap()["body"])
	assert.Equal(t, 1, logs.FilterMessage("Outbound request").Len())
}

func TestLoggingTransport_InfoSkipsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "quiet")
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.InfoLevel)
	client := &http.Client{Transport: &LoggingTransport{Logger: zap.New(core)}}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "quiet", string(body))
	assert.Zero(t, logs.Len())
}

type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
func (failingBody) Close() error             { return nil }

type stubTransport struct{ resp *http.Response }

func (s stubTransport) RoundTrip(*http.Request) (*http.Response, error) { return s.resp, nil }

func TestLoggingTransport_BodyReadErrorDropsResponse(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	tr := &LoggingTransport{
		Base:   stubTransport{resp: &http.Response{StatusCode: http.StatusOK, Body: failingBody{}}},
		Logger: zap.New(core),
	}

	req, err := http.NewRequest(http.MethodGet, "http://catalog.example/feed.xml", nil)
	require.NoError(t, err)

	resp, err := tr.RoundTrip(req)
	assert.ErrorContains(t, err, "connection reset")
	assert.Nil(t, resp)
}
