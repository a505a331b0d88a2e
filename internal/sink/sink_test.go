package sink

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPostsJSON(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "ofertas", time.Second)
	err := wh.Send(context.Background(), Message{
		ProductID: "42",
		Caption:   "🔥 Caneca",
		ImageURL:  "https://img/42.jpg",
		Image:     []byte{0xff, 0xd8},
	})
	require.NoError(t, err)
	assert.Equal(t, "ofertas", got.Chat)
	assert.Equal(t, "42", got.ProductID)
	assert.Equal(t, "🔥 Caneca", got.Caption)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8}), got.ImageBase64)
}

func TestWebhookNon2xxIsSinkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chat not found", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, "", time.Second).Send(context.Background(), Message{ProductID: "7"})
	require.Error(t, err)
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.Equal(t, "7", se.ProductID)
	assert.Contains(t, se.Error(), "chat not found")
}

func TestWebhookUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewWebhook(url, "", time.Second).Send(context.Background(), Message{ProductID: "1"})
	var se *Error
	assert.True(t, errors.As(err, &se))
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriter(&buf)
	require.NoError(t, s.Send(context.Background(), Message{ProductID: "9", Caption: "hello", ImageURL: "https://i/9"}))
	assert.Contains(t, buf.String(), "----- 9 -----\nhello\n[image] https://i/9")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, Message{}), context.Canceled)
}
