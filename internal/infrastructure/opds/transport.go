package opds

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// maxLoggedBody caps how much of a response body ends up in a debug line.
const maxLoggedBody = 4 << 10

// LoggingTransport is an http.RoundTripper that logs outbound requests, and
// at debug level the response bodies.
type LoggingTransport struct {
	Base   http.RoundTripper
	Logger *zap.Logger
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	if err != nil {
		logger.Warn("Outbound request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.Redacted()),
			zap.Error(err))
		return resp, err
	}

	logger.Debug("Outbound request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if ce := logger.Check(zap.DebugLevel, "Outbound response body"); ce != nil && resp.Body != nil {
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
		logged := body
		if len(logged) > maxLoggedBody {
			logged = logged[:maxLoggedBody]
		}
		ce.Write(zap.ByteString("body", logged), zap.Int("length", len(body)))
	}

	return resp, nil
}
