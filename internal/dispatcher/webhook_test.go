package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/orbitops/internal/render"
)

func testEnvelope() Envelope {
	return Envelope{
		RunID:        uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		AutomationID: uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		Automation:   "Weekly kickoff",
		ScheduledFor: time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC),
		Recipients:   []Recipient{{ID: "a1", Name: "Ada", Email: "ada@example.com", Role: "platform"}},
		Package: render.Package{
			Subject: "Kickoff 2024-01-04",
			Tasks:   []render.Task{{Title: "Review board"}},
			Links:   []render.Link{{Label: "Board", URL: "https://board.example.com"}},
		},
	}
}

func TestHTTPWebhookSender_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	res := NewHTTPWebhookSender(server.URL, "secret").Send(context.Background(), testEnvelope())

	require.NoError(t, res.Error)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.True(t, res.IsSuccess())
	assert.Positive(t, res.Duration)
}

func TestHTTPWebhookSender_RequestHeaders(t *testing.T) {
	var got *http.Request
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	NewHTTPWebhookSender(server.URL, "my-secret").Send(context.Background(), testEnvelope())

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", got.Header.Get(HeaderRunID))
	assert.Equal(t, "22222222-2222-2222-2222-222222222222", got.Header.Get(HeaderAutomationID))
	assert.True(t, VerifySignature("my-secret", body, got.Header.Get(HeaderSignature)))
}

func TestHTTPWebhookSender_PayloadBody(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	NewHTTPWebhookSender(server.URL, "s").Send(context.Background(), testEnvelope())

	var p Payload
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, "Weekly kickoff", p.Automation)
	assert.Equal(t, "2024-01-04T09:00:00Z", p.ScheduledFor)
	assert.Equal(t, "Kickoff 2024-01-04", p.Package.Subject)
	require.Len(t, p.Recipients, 1)
	assert.Equal(t, "ada@example.com", p.Recipients[0].Email)
	require.Len(t, p.Package.Links, 1)
	assert.Equal(t, "https://board.example.com", p.Package.Links[0].URL)
}

func TestHTTPWebhookSender_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	res := NewHTTPWebhookSender(server.URL, "s").Send(context.Background(), testEnvelope())

	require.NoError(t, res.Error)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.False(t, res.IsSuccess())
}

func TestHTTPWebhookSender_ContextTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := NewHTTPWebhookSender(server.URL, "s").Send(ctx, testEnvelope())
	assert.Error(t, res.Error)
	assert.False(t, res.IsSuccess())
}

func TestHTTPWebhookSender_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	res := NewHTTPWebhookSender(url, "s").Send(context.Background(), testEnvelope())
	assert.Error(t, res.Error)
}

func TestNewPayload_NilRecipientsEncodeAsEmptyList(t *testing.T) {
	env := testEnvelope()
	env.Recipients = nil

	data, err := json.Marshal(NewPayload(env))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"recipients":[]`)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"run_id":"x"}`)
	sig := computeSignature("k", body)

	assert.True(t, VerifySignature("k", body, sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("k", []byte(`{}`), sig))
	assert.False(t, VerifySignature("k", body, ""))
}
