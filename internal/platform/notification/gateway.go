package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// GatewayEmailSender delivers email through an HTTP messaging gateway. The
// gateway accepts a JSON payload and handles provider failover itself.
type GatewayEmailSender struct {
	url    string
	client *http.Client
}

func NewGatewayEmailSender(url string) *GatewayEmailSender {
	return &GatewayEmailSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *GatewayEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	return postJSON(ctx, s.client, s.url, map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
}

// GatewaySMSSender delivers SMS through an HTTP messaging gateway.
type GatewaySMSSender struct {
	url    string
	client *http.Client
}

func NewGatewaySMSSender(url string) *GatewaySMSSender {
	return &GatewaySMSSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *GatewaySMSSender) SendSMS(ctx context.Context, to, body string) error {
	return postJSON(ctx, s.client, s.url, map[string]string{
		"to":   to,
		"body": body,
	})
}

func postJSON(ctx context.Context, client *http.Client, url string, payload map[string]string) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode gateway payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	return nil
}
