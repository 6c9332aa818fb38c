package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScreenshotClient(baseURL string) *ScreenshotClient {
	return NewScreenshotClient(ScreenshotClientConfig{
		BaseURL:         baseURL,
		Token:           "render-token",
		Timeout:         5 * time.Second,
		InitialInterval: 5 * time.Millisecond,
		MaxElapsedTime:  2 * time.Second,
	}, zap.NewNop())
}

func TestScreenshotClientRender(t *testing.T) {
	var pdfCalls, pngCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer render-token", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "https://app.dormup.test/print?token=abc", payload["url"])

		switch r.URL.Path {
		case "/pdf":
			// first attempt fails with a retryable status
			if pdfCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			opts := payload["options"].(map[string]any)
			assert.Equal(t, "A4", opts["format"])
			_, _ = w.Write([]byte("%PDF-1.7"))
		case "/screenshot":
			pngCalls.Add(1)
			_, _ = w.Write([]byte("\x89PNG"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := newTestScreenshotClient(srv.URL + "/")
	out, err := client.Render(context.Background(), RenderRequest{PrintURL: "https://app.dormup.test/print?token=abc"})
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), out.PDF)
	assert.Equal(t, []byte("\x89PNG"), out.PNG)
	assert.Equal(t, int32(2), pdfCalls.Load())
	assert.Equal(t, int32(1), pngCalls.Load())
}

func TestScreenshotClientPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad url"))
	}))
	defer srv.Close()

	_, err := newTestScreenshotClient(srv.URL).Render(context.Background(), RenderRequest{PrintURL: "https://app.dormup.test/print"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestScreenshotClientNotConfigured(t *testing.T) {
	client := NewScreenshotClient(ScreenshotClientConfig{}, zap.NewNop())
	_, err := client.Render(context.Background(), RenderRequest{PrintURL: "https://app.dormup.test/print"})
	assert.ErrorIs(t, err, ErrRendererNotConfigured)
}
