package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// maxLoggedBody limits how much of a request body goes into a curl line.
const maxLoggedBody = 4 * 1024

func logRequest(logger zerolog.Logger, req *http.Request) {
	logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int64("content_length", req.ContentLength).
		Str("curl", generateCurlCommand(req)).
		Msg("outbound request")
}

func logResponse(logger zerolog.Logger, req *http.Request, resp *Response, d time.Duration) {
	logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode).
		Int("bytes", len(resp.Body())).
		Dur("duration", d).
		Msg("outbound response")
}

func logFailure(logger zerolog.Logger, req *http.Request, err error, d time.Duration) {
	logger.Debug().
		Err(err).
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("error_type", ClassifyError(err)).
		Dur("duration", d).
		Msg("outbound request failed")
}

// generateCurlCommand renders req as a curl command. The body is read through
// GetBody so the request itself is left untouched; Authorization and
// Signature headers are masked.
func generateCurlCommand(req *http.Request) string {
	parts := []string{"curl"}
	if req.Method != http.MethodGet {
		parts = append(parts, "-X", req.Method)
	}
	parts = append(parts, fmt.Sprintf("'%s'", req.URL.String()))

	keys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range req.Header[k] {
			if k == "Authorization" || k == "Signature" {
				v = "***"
			}
			parts = append(parts, "-H", fmt.Sprintf("'%s: %s'", k, v))
		}
	}

	if body := peekBody(req); len(body) > 0 {
		escaped := strings.ReplaceAll(string(body), "'", "'\\''")
		parts = append(parts, "-d", fmt.Sprintf("'%s'", escaped))
	}

	return strings.Join(parts, " ")
}

func peekBody(req *http.Request) []byte {
	if req.GetBody == nil {
		return nil
	}
	rc, err := req.GetBody()
	if err != nil {
		return nil
	}
	defer rc.Close()

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, io.LimitReader(rc, maxLoggedBody))
	return buf.Bytes()
}
