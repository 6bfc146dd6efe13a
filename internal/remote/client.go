package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"harmonyshield/internal/config"
	"harmonyshield/internal/metrics"
)

// Error is returned when an edge function reports failure
type Error struct {
	Procedure  string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (status %d): %s", e.Procedure, e.StatusCode, e.Message)
}

// envelope is the response contract shared by every edge function
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client invokes the edge functions
type Client struct {
	config config.RemoteConfig
	logger *zap.Logger
	client *http.Client
}

// NewClient creates a new edge function client
func NewClient(cfg config.RemoteConfig, logger *zap.Logger) *Client {
	return &Client{
		config: cfg,
		logger: logger.Named("remote"),
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

// ScanRequest is the AI scanner input; one of URL or Text is set
type ScanRequest struct {
	URL  string `json:"url,omitempty"`
	Text string `json:"text,omitempty"`
}

// ScanResult is the AI scanner verdict
type ScanResult struct {
	RiskScore       float64  `json:"risk_score"`
	RiskLevel       string   `json:"risk_level"`
	Recommendations []string `json:"recommendations"`
	Indicators      []string `json:"indicators,omitempty"`
}

// ScanContent runs the AI scanner on a URL or text
func (c *Client) ScanContent(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if strings.TrimSpace(req.URL) == "" && strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("url or text is required")
	}
	var out ScanResult
	if err := c.call(ctx, "ai_scanner", c.config.ScannerPath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Article is one item returned by the news fetcher
type Article struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	PublishedAt time.Time `json:"published_at"`
}

// FetchNews asks the aggregator for the current article list
func (c *Client) FetchNews(ctx context.Context) ([]Article, error) {
	var out struct {
		Articles []Article `json:"articles"`
	}
	if err := c.call(ctx, "fetch_news", c.config.NewsPath, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Articles, nil
}

// RecoveryEmail is the template data for the recovery confirmation email
type RecoveryEmail struct {
	To           string `json:"to"`
	RequestID    string `json:"request_id"`
	RecoveryType string `json:"recovery_type"`
	Title        string `json:"title"`
	AmountLost   string `json:"amount_lost"`
	Currency     string `json:"currency"`
	Template     string `json:"template"`
}

// SendRecoveryEmail sends the templated confirmation email
func (c *Client) SendRecoveryEmail(ctx context.Context, email RecoveryEmail) error {
	if email.Template == "" {
		email.Template = "recovery_confirmation"
	}
	return c.call(ctx, "send_recovery_email", c.config.EmailPath, email, nil)
}

// AdminAction is the payload for the external audit trail
type AdminAction struct {
	AdminID    string      `json:"admin_id"`
	Action     string      `json:"action"`
	Resource   string      `json:"resource"`
	ResourceID string      `json:"resource_id,omitempty"`
	Details    interface{} `json:"details,omitempty"`
}

// LogAdminAction appends to the external audit trail
func (c *Client) LogAdminAction(ctx context.Context, action AdminAction) error {
	return c.call(ctx, "log_admin_action", c.config.AuditPath, action, nil)
}

// call posts payload to the procedure and decodes the result into out
func (c *Client) call(ctx context.Context, procedure, path string, payload, out interface{}) (err error) {
	defer func() {
		metrics.RemoteCalls.WithLabelValues(procedure, metrics.Outcome(err)).Inc()
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", procedure, err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", procedure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", procedure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", procedure, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &Error{Procedure: procedure, StatusCode: resp.StatusCode, Message: "invalid response body"}
	}

	if resp.StatusCode >= 300 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{Procedure: procedure, StatusCode: resp.StatusCode, Message: msg}
	}

	c.logger.Debug("Edge function call succeeded", zap.String("procedure", procedure))

	if out == nil {
		return nil
	}
	result := env.Result
	if len(result) == 0 {
		result = env.Data
	}
	if len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", procedure, err)
	}
	return nil
}
