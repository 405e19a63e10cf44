package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/djlord-it/orbitops/internal/render"
)

const (
	HeaderSignature    = "X-OrbitOps-Signature"
	HeaderRunID        = "X-OrbitOps-Run-ID"
	HeaderAutomationID = "X-OrbitOps-Automation-ID"
)

// Payload is the JSON body posted to the webhook.
type Payload struct {
	RunID        string         `json:"run_id"`
	AutomationID string         `json:"automation_id"`
	Automation   string         `json:"automation"`
	ScheduledFor string         `json:"scheduled_for"`
	Recipients   []Recipient    `json:"recipients"`
	Package      render.Package `json:"package"`
}

func NewPayload(env Envelope) Payload {
	recipients := env.Recipients
	if recipients == nil {
		recipients = []Recipient{}
	}
	return Payload{
		RunID:        env.RunID.String(),
		AutomationID: env.AutomationID.String(),
		Automation:   env.Automation,
		ScheduledFor: env.ScheduledFor.UTC().Format(time.RFC3339),
		Recipients:   recipients,
		Package:      env.Package,
	}
}

type HTTPWebhookSender struct {
	url    string
	secret string
	client *http.Client
}

func NewHTTPWebhookSender(url, secret string) *HTTPWebhookSender {
	return &HTTPWebhookSender{
		url:    url,
		secret: secret,
		client: &http.Client{},
	}
}

func (s *HTTPWebhookSender) Name() string { return "webhook" }

// Send posts the payload with an HMAC-SHA256 signature of the body.
// The caller's context bounds the request.
func (s *HTTPWebhookSender) Send(ctx context.Context, env Envelope) Result {
	start := time.Now()

	body, err := json.Marshal(NewPayload(env))
	if err != nil {
		return Result{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRunID, env.RunID.String())
	req.Header.Set(HeaderAutomationID, env.AutomationID.String())
	req.Header.Set(HeaderSignature, computeSignature(s.secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return Result{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature lets receivers check an incoming webhook body.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
