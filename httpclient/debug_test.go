package httpclient

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func newDebugLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(zerolog.DebugLevel)
}

func TestGenerateCurlCommand(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		body    string
		headers map[string]string
		want    string
	}{
		{
			name:   "given GET without body, then omits method and data",
			method: http.MethodGet,
			want:   "curl 'https://remote.example/x'",
		},
		{
			name:    "given POST with body, then includes method, headers and data",
			method:  http.MethodPost,
			body:    `{"a":"it's"}`,
			headers: map[string]string{"Content-Type": "application/activity+json"},
			want:    `curl -X POST 'https://remote.example/x' -H 'Content-Type: application/activity+json' -d '{"a":"it'\''s"}'`,
		},
		{
			name:    "given signature headers, then masks them",
			method:  http.MethodGet,
			headers: map[string]string{"Signature": "keyId=...", "Authorization": "Bearer t"},
			want:    "curl 'https://remote.example/x' -H 'Authorization: ***' -H 'Signature: ***'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = bytes.NewReader([]byte(tt.body))
			}
			req, err := http.NewRequest(tt.method, "https://remote.example/x", body)
			require.NoError(t, err)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			assert.Equal(t, tt.want, generateCurlCommand(req))

			if tt.body != "" {
				rest, err := io.ReadAll(req.Body)
				require.NoError(t, err)
				assert.Equal(t, tt.body, string(rest), "request body must stay readable")
			}
		})
	}
}
