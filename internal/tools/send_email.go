package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/hive/internal/config"
)

const brevoAPIBase = "https://api.brevo.com/v3"

// Mailer sends transactional email through the Brevo REST API.
type Mailer struct {
	apiKey    string
	fromEmail string
	fromName  string
	baseURL   string
	client    *http.Client
}

// NewMailer returns nil when no API key is configured; callers treat a nil
// mailer as "email disabled".
func NewMailer(cfg config.EmailConfig) *Mailer {
	if cfg.BrevoAPIKey == "" {
		return nil
	}
	return &Mailer{
		apiKey:    cfg.BrevoAPIKey,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		baseURL:   brevoAPIBase,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

// WithBaseURL points the mailer at a different endpoint. For tests.
func (m *Mailer) WithBaseURL(base string) *Mailer {
	m.baseURL = strings.TrimRight(base, "/")
	return m
}

// Send delivers one message and returns the provider message id.
func (m *Mailer) Send(ctx context.Context, to, subject, body string, html bool) (string, error) {
	payload := map[string]any{
		"sender":  map[string]any{"email": m.fromEmail, "name": m.fromName},
		"to":      []map[string]any{{"email": to}},
		"subject": subject,
	}
	if html {
		payload["htmlContent"] = body
	} else {
		payload["textContent"] = body
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/smtp/email", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("api-key", m.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("brevo: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		MessageID string `json:"messageId"`
	}
	_ = json.Unmarshal(raw, &out)
	return out.MessageID, nil
}

// SendEmailTool exposes the mailer to the model.
type SendEmailTool struct {
	mailer *Mailer
}

func NewSendEmailTool(m *Mailer) *SendEmailTool { return &SendEmailTool{mailer: m} }

func (t *SendEmailTool) Name() string { return "send_email" }

func (t *SendEmailTool) Description() string {
	return "Send an email to a recipient address with a subject and plain-text or HTML body."
}

func (t *SendEmailTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to": map[string]any{
				"type":        "string",
				"description": "Recipient email address.",
			},
			"subject": map[string]any{
				"type":        "string",
				"description": "Subject line.",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Message body.",
			},
			"html": map[string]any{
				"type":        "boolean",
				"description": "Treat body as HTML. Default plain text.",
			},
		},
		"required": []string{"to", "subject", "body"},
	}
}

func (t *SendEmailTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	to, _ := args["to"].(string)
	subject, _ := args["subject"].(string)
	body, _ := args["body"].(string)
	if to == "" || subject == "" || body == "" {
		return ErrorResult("to, subject and body are required"), nil
	}
	html, _ := args["html"].(bool)

	id, err := t.mailer.Send(ctx, to, subject, body, html)
	if err != nil {
		return ErrorResult(fmt.Sprintf("send failed: %v", err)), nil
	}
	return JSONResult(map[string]any{"sent": true, "messageId": id}), nil
}
