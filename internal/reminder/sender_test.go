package reminder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSender(t *testing.T) {
	var got webhookPayload
	status := http.StatusAccepted

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	s := WebhookSender{URL: srv.URL, Client: srv.Client()}

	require.NoError(t, s.Send(context.Background(), "+34600000001", "hello"))
	assert.Equal(t, webhookPayload{To: "+34600000001", Message: "hello"}, got)

	status = http.StatusBadGateway
	err := s.Send(context.Background(), "+34600000001", "hello")
	assert.ErrorIs(t, err, ErrDeliveryFailure)
}

func TestRouter(t *testing.T) {
	var chat, email []string
	r := Router{
		Chat: SenderFunc(func(_ context.Context, to, _ string) error {
			chat = append(chat, to)
			return nil
		}),
		Email: SenderFunc(func(_ context.Context, to, _ string) error {
			email = append(email, to)
			return nil
		}),
	}

	require.NoError(t, r.Send(context.Background(), "+34600000001", "m"))
	require.NoError(t, r.Send(context.Background(), "luis@example.com", "m"))
	assert.Equal(t, []string{"+34600000001"}, chat)
	assert.Equal(t, []string{"luis@example.com"}, email)

	err := Router{}.Send(context.Background(), "+34600000001", "m")
	assert.ErrorIs(t, err, ErrDeliveryFailure)
}
