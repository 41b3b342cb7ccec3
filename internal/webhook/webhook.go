package webhook

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

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// Config selects where and which events are delivered
type Config struct {
	URL    string
	Secret string
	// Events limits delivery to these kinds; empty delivers every event
	Events []string
}

// Payload is the JSON body posted for each event
type Payload struct {
	Event     string       `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
	Data      models.Event `json:"data"`
}

// Service posts session events to a remote endpoint
type Service struct {
	client *http.Client
	cfg    Config
	events map[models.EventKind]bool
}

// NewService creates a new webhook service
func NewService(cfg Config) *Service {
	events := make(map[models.EventKind]bool, len(cfg.Events))
	for _, e := range cfg.Events {
		events[models.EventKind(e)] = true
	}
	return &Service{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		cfg:    cfg,
		events: events,
	}
}

// Wants reports whether kind is delivered
func (s *Service) Wants(kind models.EventKind) bool {
	return len(s.events) == 0 || s.events[kind]
}

// Handle delivers ev when it is subscribed. It implements notify.Sink.
func (s *Service) Handle(ctx context.Context, ev models.Event) error {
	if !s.Wants(ev.Kind) {
		return nil
	}

	payload := Payload{
		Event:     string(ev.Kind),
		Timestamp: ev.At,
		Data:      ev,
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return s.deliver(ctx, string(ev.Kind), payloadBytes)
}

// deliver attempts to deliver a webhook
func (s *Service) deliver(ctx context.Context, event string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Panocam-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Delivery", uuid.New().String())

	// Add HMAC signature if secret is configured
	if s.cfg.Secret != "" {
		req.Header.Set("X-Webhook-Signature", GenerateSignature(payload, s.cfg.Secret))
	}

	// Send request
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, body)
	}
	return nil
}

// GenerateSignature generates HMAC-SHA256 signature for webhook payload
func GenerateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
